package llm

import "context"

// Role 表示对话消息的角色。
type Role string

const (
	// RoleSystem 用于承载智能体的系统提示词。
	RoleSystem Role = "system"
	// RoleUser 用于承载任务正文。
	RoleUser Role = "user"
	// RoleAssistant 用于模型返回的内容。
	RoleAssistant Role = "assistant"
)

// Message 是一条对话消息。
type Message struct {
	Role    Role
	Content string
}

// Request 描述一次补全调用。Model、Temperature、MaxTokens 为可选覆盖，
// 零值（Temperature 为 nil）表示沿用 provider 配置中的取值。
type Request struct {
	Messages    []Message
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Completion 是模型返回的纯文本结果，保证非空。
type Completion struct {
	Text string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}
