package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/agent"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/auth"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/config"
	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/llm"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/llm/openaicompat"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/observability/metrics"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/task"
)

// Server 负责暴露 REST 接口，供外部驱动智能体执行。
type Server struct {
	addr         string
	tasks        *task.Service
	registry     *agent.Registry
	orchestrator *agent.Orchestrator
	auth         *auth.Service
}

// ServerOption 定义可选的服务端配置。
type ServerOption func(*Server)

// WithRegistry 注入智能体注册表，供 /api/v1/agents 查询。
func WithRegistry(registry *agent.Registry) ServerOption {
	return func(s *Server) { s.registry = registry }
}

// WithOrchestrator 注入编排器，供同步工作流接口使用。
func WithOrchestrator(o *agent.Orchestrator) ServerOption {
	return func(s *Server) { s.orchestrator = o }
}

// WithAuthService 注入认证服务。未注入时所有接口保持开放。
func WithAuthService(svc *auth.Service) ServerOption {
	return func(s *Server) { s.auth = svc }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, tasks *task.Service, opts ...ServerOption) *Server {
	s := &Server{addr: addr, tasks: tasks}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.registry == nil {
		s.registry = agent.NewRegistry()
	}
	return s
}

// Handler 组装全部路由，便于测试时直接挂到 httptest。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/llm/test", s.instrument("llm_test", http.HandlerFunc(s.handleLLMTest)))
	mux.Handle("/llm/config", s.instrument("llm_config", http.HandlerFunc(s.handleLLMConfig)))
	mux.Handle("/api/v1/auth/token", s.instrument("auth_token", http.HandlerFunc(s.handleToken)))

	guard := s.guard(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {"tasks:read"},
			http.MethodPost: {"tasks:write"},
		},
		AuditEvent: "api_access",
	})
	mux.Handle("/api/v1/agents", s.instrument("agents", guard(http.HandlerFunc(s.handleAgents))))
	mux.Handle("/api/v1/tasks", s.instrument("tasks", guard(http.HandlerFunc(s.handleTasks))))
	mux.Handle("/api/v1/tasks/", s.instrument("task_detail", guard(http.HandlerFunc(s.handleTaskSubroutes))))
	mux.Handle("/api/v1/workflow", s.instrument("workflow", guard(http.HandlerFunc(s.handleWorkflow))))

	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) guard(cfg auth.MiddlewareConfig) func(http.Handler) http.Handler {
	if s.auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.auth.Middleware(cfg)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "cfo-fpa-crew-ai",
		"routes": []string{
			"GET /healthz",
			"GET /metrics",
			"GET /llm/test",
			"GET /llm/config",
			"POST /api/v1/auth/token",
			"GET /api/v1/agents",
			"POST /api/v1/tasks",
			"GET /api/v1/tasks",
			"GET /api/v1/tasks/{id}",
			"GET /api/v1/tasks/stats",
			"POST /api/v1/workflow",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLLMTest 每次请求都重新解析 provider 配置并发起一次真实补全，
// 用于部署后的连通性冒烟测试。
func (s *Server) handleLLMTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	cfg, err := config.ResolveProvider(r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, err)
		return
	}
	client, err := openaicompat.NewClient(cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	completion, err := client.Complete(r.Context(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a helpful assistant."},
			{Role: llm.RoleUser, Content: "Reply with a one-sentence confirmation that the connection works."},
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(completion.Text))
}

// handleLLMConfig 返回当前解析到的 provider 配置，密钥只透出布尔标记。
func (s *Server) handleLLMConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	cfg, err := config.ResolveProvider(r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":    cfg.Provider,
		"base_url":    cfg.BaseURL,
		"model":       cfg.Model,
		"temperature": cfg.Temperature,
		"max_tokens":  cfg.MaxTokens,
		"api_key_set": cfg.APIKey != "" && cfg.APIKey != config.DefaultLocalAPIKey,
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.auth == nil {
		http.Error(w, "认证未启用", http.StatusNotFound)
		return
	}
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDisabled):
			http.Error(w, "认证未启用", http.StatusNotFound)
		case errors.Is(err, auth.ErrUnsupportedGrant):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrSubjectRevoked):
			http.Error(w, "用户名或密码错误", http.StatusUnauthorized)
		default:
			http.Error(w, "认证失败", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.registry.List()})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleCreateTask 入队一个异步智能体任务，返回 202 与任务快照。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req agent.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleTaskSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if rest == "stats" {
		s.handleTaskStats(w, r)
		return
	}
	s.handleTaskDetail(w, r)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "缺少任务 ID", http.StatusBadRequest)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	detail, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			http.Error(w, "任务不存在", http.StatusNotFound)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type workflowRequest struct {
	Tasks map[string]string `json:"tasks,omitempty"`
}

// handleWorkflow 同步执行月度复盘流水线并返回各步骤输出。
// 耗时取决于模型推理速度，调用方需要设置充裕的超时。
func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.orchestrator == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req workflowRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
	}

	steps := agent.DefaultWorkflow()
	if len(req.Tasks) > 0 {
		steps = agent.CustomWorkflow(req.Tasks)
	}
	results, err := s.orchestrator.RunWorkflow(r.Context(), steps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func listOptionsFromQuery(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(strings.ToLower(part)))
			if status == "" {
				continue
			}
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+string(status))
			}
			statuses = append(statuses, status)
		}
		if len(statuses) > 0 {
			opts = append(opts, task.WithStatuses(statuses...))
		}
	}
	if agentKey := strings.TrimSpace(query.Get("agent")); agentKey != "" {
		opts = append(opts, task.WithAgentKey(agentKey))
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 参数非法")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 参数非法")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result 参数非法")
		}
		opts = append(opts, task.WithResultPresence(hasResult))
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	return opts, nil
}

// writeError 将错误码映射为 HTTP 状态码并输出 JSON 错误体。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeConfiguration, xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		status = http.StatusBadRequest
	case xerrors.CodeAuth:
		status = http.StatusUnauthorized
	case xerrors.CodeAgentNotFound, task.CodeTaskNotFound:
		status = http.StatusNotFound
	case xerrors.CodeTransport, xerrors.CodeProvider, xerrors.CodeEmptyResponse:
		status = http.StatusBadGateway
	case xerrors.CodeTimeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
