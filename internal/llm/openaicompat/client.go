package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/config"
	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/llm"
)

const defaultTimeout = 120 * time.Second

// Client 通过 OpenAI 兼容的 Chat Completions 接口调用大模型。
// openai、nim、local 三种 provider 共用同一条请求路径，
// 差异全部体现在 config.ProviderConfig 中。
type Client struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
}

// Option 调整客户端的可选行为。
type Option func(*Client)

// WithTimeout 设置单次请求的超时时间。
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient 替换底层 HTTP 客户端，主要用于测试。
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient 根据已解析的 provider 配置创建客户端。
// 配置的完整性校验发生在 config.ResolveProvider，这里只做兜底检查。
func NewClient(cfg config.ProviderConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "provider 配置缺少 BaseURL")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "provider 配置缺少 Model")
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Provider 返回客户端绑定的 provider。
func (c *Client) Provider() config.Provider {
	return c.cfg.Provider
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete 发起一次补全调用。请求级覆盖优先于 provider 配置，
// Temperature 为 nil 时沿用配置值，这样显式的 0 也能够生效。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if len(req.Messages) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "补全请求没有携带任何消息")
	}

	payload := wireRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if model := strings.TrimSpace(req.Model); model != "" {
		payload.Model = model
	}
	if req.Temperature != nil {
		payload.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	for _, msg := range req.Messages {
		payload.Messages = append(payload.Messages, wireMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "序列化补全请求失败")
	}

	endpoint := c.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "构建补全请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "补全请求被取消")
		}
		return nil, xerrors.Wrap(xerrors.CodeTransport, err,
			fmt.Sprintf("请求 %s 端点失败", c.cfg.Provider),
			xerrors.WithMetadata("endpoint", endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		snippet := readSnippet(resp.Body)
		return nil, xerrors.New(xerrors.CodeAuth,
			fmt.Sprintf("%s 端点拒绝了凭证（状态码 %d）: %s", c.cfg.Provider, resp.StatusCode, snippet),
			xerrors.WithMetadata("status", fmt.Sprintf("%d", resp.StatusCode)))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := readSnippet(resp.Body)
		return nil, xerrors.New(xerrors.CodeProvider,
			fmt.Sprintf("%s 端点返回错误状态 %d: %s", c.cfg.Provider, resp.StatusCode, snippet),
			xerrors.WithMetadata("status", fmt.Sprintf("%d", resp.StatusCode)))
	}

	var decoded wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProvider, err, "解析补全响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeEmptyResponse,
			fmt.Sprintf("%s 响应中没有任何 choices", c.cfg.Provider))
	}

	text := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if text == "" {
		return nil, xerrors.New(xerrors.CodeEmptyResponse,
			fmt.Sprintf("%s 响应内容为空", c.cfg.Provider))
	}

	return &llm.Completion{Text: text}, nil
}

func readSnippet(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(body))
}
