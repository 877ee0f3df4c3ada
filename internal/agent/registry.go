package agent

import (
	"fmt"
	"sort"

	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
)

// Definition 描述一个 FP&A 智能体的静态配置。
// Model 与 Temperature 为可选覆盖，零值表示沿用 provider 配置。
type Definition struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Goal         string   `json:"goal"`
	Backstory    string   `json:"backstory"`
	SystemPrompt string   `json:"-"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// 内置的四个智能体 key。
const (
	KeyDataConnector = "data_connector"
	KeyFPnAAnalyst   = "fpna_analyst"
	KeyProfitTwin    = "profit_twin"
	KeyCFOCopilot    = "cfo_copilot"
)

func builtinDefinitions() map[string]Definition {
	return map[string]Definition{
		KeyDataConnector: {
			Key:       KeyDataConnector,
			Name:      "Data Connector",
			Role:      "Integrates ERP, CRM, and BI data",
			Goal:      "Provide unified, AI-ready financial data in real time",
			Backstory: "Expert in SAP, Salesforce, and Snowflake integrations with 10+ years experience.",
			SystemPrompt: "You are a Data Connector agent specialized in ERP, CRM, and BI integrations.\n" +
				"Your expertise includes SAP, Salesforce, and Snowflake.\n" +
				"Your task is to analyze data integration requirements and provide detailed summaries of data sources.",
		},
		KeyFPnAAnalyst: {
			Key:       KeyFPnAAnalyst,
			Name:      "FP&A Analyst",
			Role:      "Analyzes financial data, trends, and variances",
			Goal:      "Deliver clear insights and variance analysis for CFO decisions",
			Backstory: "Senior financial analyst specializing in FP&A with expertise in variance analysis and forecasting.",
			SystemPrompt: "You are an FP&A Analyst with deep expertise in financial planning and analysis.\n" +
				"You excel at variance analysis, trend identification, and financial forecasting.\n" +
				"Provide detailed, data-driven insights with clear explanations.",
		},
		KeyProfitTwin: {
			Key:       KeyProfitTwin,
			Name:      "Profit Twin",
			Role:      "Runs what-if simulations for pricing and cost scenarios",
			Goal:      "Model profit impact and optimize gross margin",
			Backstory: "Financial modeling expert focused on scenario planning and profitability optimization.",
			SystemPrompt: "You are a Profit Twin agent specialized in scenario modeling and profitability analysis.\n" +
				"You create detailed what-if simulations for pricing and cost scenarios.\n" +
				"Always provide quantitative analysis with clear assumptions.",
		},
		KeyCFOCopilot: {
			Key:       KeyCFOCopilot,
			Name:      "CFO Copilot",
			Role:      "Synthesizes insights into executive summaries",
			Goal:      "Provide strategic recommendations to leadership",
			Backstory: "Strategic financial advisor with C-suite experience, skilled at distilling complex data into actionable insights.",
			SystemPrompt: "You are a CFO Copilot, a strategic financial advisor for C-suite executives.\n" +
				"You synthesize complex financial analyses into clear, actionable executive summaries.\n" +
				"Focus on strategic implications and concrete recommendations.",
		},
	}
}

// Registry 维护可用的智能体定义，查询按 key 进行。
type Registry struct {
	definitions map[string]Definition
}

// NewRegistry 创建包含内置智能体的注册表。
func NewRegistry() *Registry {
	return &Registry{definitions: builtinDefinitions()}
}

// Register 注册或覆盖一个智能体定义。
func (r *Registry) Register(def Definition) error {
	if def.Key == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体 key 不能为空")
	}
	if def.SystemPrompt == "" {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("智能体 %s 缺少系统提示词", def.Key))
	}
	if def.Name == "" {
		def.Name = def.Key
	}
	r.definitions[def.Key] = def
	return nil
}

// Get 按 key 返回智能体定义，未注册时报 AGENT_NOT_FOUND。
func (r *Registry) Get(key string) (Definition, error) {
	def, ok := r.definitions[key]
	if !ok {
		return Definition{}, xerrors.New(xerrors.CodeAgentNotFound,
			fmt.Sprintf("未注册的智能体: %s", key),
			xerrors.WithMetadata("agent", key))
	}
	return def, nil
}

// List 返回全部定义，按 key 排序以保持稳定输出。
func (r *Registry) List() []Definition {
	keys := make([]string, 0, len(r.definitions))
	for key := range r.definitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]Definition, 0, len(keys))
	for _, key := range keys {
		out = append(out, r.definitions[key])
	}
	return out
}
