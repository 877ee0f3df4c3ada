package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
)

// Provider 表示可选择的大模型后端。三个取值构成封闭集合，
// 新增 provider 时必须同时扩展 requiredVars 与 Resolve 的分支。
type Provider string

const (
	// ProviderOpenAI 指 OpenAI 兼容的聚合服务（默认 OpenRouter）。
	ProviderOpenAI Provider = "openai"
	// ProviderNIM 指 NVIDIA 托管的推理端点。
	ProviderNIM Provider = "nim"
	// ProviderLocal 指本地部署的 OpenAI 兼容服务（如 Ollama）。
	ProviderLocal Provider = "local"
)

// EnvProvider 是选择后端的环境变量名。
const EnvProvider = "LLM_PROVIDER"

const (
	defaultOpenAIBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenAIModel   = "meta-llama/llama-3.1-70b-instruct"
	// DefaultLocalAPIKey 表示本地服务无需鉴权时使用的占位凭证。
	DefaultLocalAPIKey = "not-needed"
	defaultTemperature = 0.2
	defaultMaxTokens   = 2000
)

// ProviderConfig 是调用某个具体 provider 所需的全部参数，
// 构造后只读，不会在请求之间被修改。
type ProviderConfig struct {
	Provider    Provider
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Providers 返回全部合法的 provider 取值，顺序固定。
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderNIM, ProviderLocal}
}

// ParseProvider 校验 provider 名称。空值回落到默认的 openai，
// 无法识别的取值立即报配置错误，绝不静默回落。
func ParseProvider(name string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case "":
		return ProviderOpenAI, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderNIM:
		return ProviderNIM, nil
	case ProviderLocal:
		return ProviderLocal, nil
	default:
		return "", xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("未知的 %s 取值 %q，合法取值为 openai、nim、local", EnvProvider, strings.TrimSpace(name)))
	}
}

// ResolveProvider 从环境变量解析指定 provider 的完整配置。
// override 非空时优先于 LLM_PROVIDER。所有必填项在任何网络调用
// 之前校验完毕，缺失项会在同一个错误中全部列出。
func ResolveProvider(override string) (ProviderConfig, error) {
	selection := override
	if strings.TrimSpace(selection) == "" {
		selection = os.Getenv(EnvProvider)
	}
	provider, err := ParseProvider(selection)
	if err != nil {
		return ProviderConfig{}, err
	}

	resolver := newEnvResolver()
	cfg := ProviderConfig{Provider: provider}

	switch provider {
	case ProviderOpenAI:
		cfg.APIKey = resolver.required("OPENAI_API_KEY")
		cfg.BaseURL = resolver.optional("OPENAI_API_BASE", defaultOpenAIBaseURL)
		cfg.Model = resolver.optional("OPENAI_MODEL_NAME", defaultOpenAIModel)
		cfg.Temperature = resolver.float("OPENAI_TEMPERATURE", defaultTemperature)
		cfg.MaxTokens = resolver.integer("OPENAI_MAX_TOKENS", defaultMaxTokens)
	case ProviderNIM:
		cfg.BaseURL = resolver.required("NIM_BASE_URL")
		cfg.APIKey = resolver.required("NIM_API_KEY")
		cfg.Model = resolver.required("NIM_MODEL")
		cfg.Temperature = resolver.float("NIM_TEMPERATURE", defaultTemperature)
		cfg.MaxTokens = resolver.integer("NIM_MAX_TOKENS", defaultMaxTokens)
	case ProviderLocal:
		cfg.BaseURL = resolver.required("LOCAL_BASE_URL")
		cfg.Model = resolver.required("LOCAL_MODEL")
		cfg.APIKey = resolver.optional("LOCAL_API_KEY", DefaultLocalAPIKey)
		cfg.Temperature = resolver.float("LOCAL_TEMPERATURE", defaultTemperature)
		cfg.MaxTokens = resolver.integer("LOCAL_MAX_TOKENS", defaultMaxTokens)
	}

	if err := resolver.err(provider); err != nil {
		return ProviderConfig{}, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

// envResolver 聚合一次解析过程中的全部缺失与非法项。
type envResolver struct {
	missing []string
	invalid []string
}

func newEnvResolver() *envResolver {
	return &envResolver{}
}

func (r *envResolver) required(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		r.missing = append(r.missing, key)
	}
	return value
}

func (r *envResolver) optional(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func (r *envResolver) float(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return value
}

func (r *envResolver) integer(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		r.invalid = append(r.invalid, key)
		return fallback
	}
	return value
}

func (r *envResolver) err(provider Provider) error {
	if len(r.missing) == 0 && len(r.invalid) == 0 {
		return nil
	}
	parts := make([]string, 0, 2)
	if len(r.missing) > 0 {
		sort.Strings(r.missing)
		parts = append(parts, fmt.Sprintf("缺少必填环境变量: %s", strings.Join(r.missing, ", ")))
	}
	if len(r.invalid) > 0 {
		sort.Strings(r.invalid)
		parts = append(parts, fmt.Sprintf("取值非法: %s", strings.Join(r.invalid, ", ")))
	}
	return xerrors.New(xerrors.CodeConfiguration,
		fmt.Sprintf("provider %s 配置不完整: %s", provider, strings.Join(parts, "; ")),
		xerrors.WithMetadata("provider", string(provider)))
}
