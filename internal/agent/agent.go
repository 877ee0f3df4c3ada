package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/knowledge"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/llm"
	"github.com/NVibeAI/cfo-fpa-crew-ai/pkg/logger"
)

// ContextEntry 是一段上游产出，Name 取产出方智能体的展示名。
// 条目顺序即注入提示词的顺序。
type ContextEntry struct {
	Name   string `json:"name"`
	Output string `json:"output"`
}

// TaskRequest 描述一次智能体调用。
type TaskRequest struct {
	ID       string         `json:"id,omitempty"`
	AgentKey string         `json:"agent_key"`
	Task     string         `json:"task"`
	Context  []ContextEntry `json:"context,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskResult 汇总一次调用的产出。
type TaskResult struct {
	AgentKey  string `json:"agent_key"`
	AgentName string `json:"agent_name"`
	Task      string `json:"task"`
	Output    string `json:"output"`
	CreatedAt int64  `json:"created_at"`
}

// Orchestrator 负责组装提示词并调用大模型，是系统的业务核心。
type Orchestrator struct {
	llmClient  llm.Client
	registry   *Registry
	knowledge  knowledge.Provider
	llmTimeout time.Duration
}

// Option 定义可选的 Orchestrator 配置。
type Option func(*Orchestrator)

// WithKnowledgeProvider 配置参考资料库，用于在推理前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(o *Orchestrator) {
		o.knowledge = provider
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout <= 0 {
			o.llmTimeout = 0
			return
		}
		o.llmTimeout = timeout
	}
}

// New 创建一个 Orchestrator。registry 为空时使用内置注册表。
func New(llmClient llm.Client, registry *Registry, opts ...Option) *Orchestrator {
	if registry == nil {
		registry = NewRegistry()
	}
	orch := &Orchestrator{
		llmClient: llmClient,
		registry:  registry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(orch)
		}
	}
	return orch
}

// Registry 返回当前使用的注册表。
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Run 执行指定智能体的一次任务，返回模型产出的纯文本。
// entries 携带上游智能体的产出，为空时用户消息只包含任务正文。
func (o *Orchestrator) Run(ctx context.Context, agentKey, task string, entries []ContextEntry) (string, error) {
	result, err := o.Execute(ctx, TaskRequest{AgentKey: agentKey, Task: task, Context: entries})
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// Execute 是 Run 的结构化版本，供任务处理器使用。
func (o *Orchestrator) Execute(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	if o.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "任务内容不能为空")
	}

	def, err := o.registry.Get(req.AgentKey)
	if err != nil {
		return nil, err
	}

	userContent := buildUserMessage(req.Task, req.Context)
	if snippets := o.collectKnowledge(def.Key, req.Task); snippets != "" {
		userContent = userContent + "\n\n" + snippets
	}

	llmCtx := ctx
	if o.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, o.llmTimeout)
		defer cancel()
	}

	started := time.Now()
	completion, err := o.llmClient.Complete(llmCtx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: def.SystemPrompt},
			{Role: llm.RoleUser, Content: userContent},
		},
		Model:       def.Model,
		Temperature: def.Temperature,
	})
	if err != nil {
		logger.L().Error("智能体调用失败",
			"agent", def.Key,
			"code", string(xerrors.CodeOf(err)),
			"err", err,
		)
		return nil, err
	}

	logger.L().Info("智能体调用完成",
		"agent", def.Key,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return &TaskResult{
		AgentKey:  def.Key,
		AgentName: def.Name,
		Task:      req.Task,
		Output:    completion.Text,
		CreatedAt: time.Now().Unix(),
	}, nil
}

// buildUserMessage 按固定模板拼接上游产出与任务正文。
func buildUserMessage(task string, entries []ContextEntry) string {
	if len(entries) == 0 {
		return task
	}

	blocks := make([]string, 0, len(entries))
	for _, entry := range entries {
		blocks = append(blocks, fmt.Sprintf("=== Output from %s ===\n%s", entry.Name, entry.Output))
	}
	return "Previous Analysis Context:\n\n" +
		strings.Join(blocks, "\n\n") +
		"\n\n---\n\nYour Task:\n" + task
}

func (o *Orchestrator) collectKnowledge(agentKey, task string) string {
	if o.knowledge == nil {
		return ""
	}
	snippets := o.knowledge.Query(agentKey, task)
	if len(snippets) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Reference Material:\n")
	for _, snippet := range snippets {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", snippet.Title, snippet.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}
