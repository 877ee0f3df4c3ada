package agent

import (
	"context"
	"fmt"

	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
	"github.com/NVibeAI/cfo-fpa-crew-ai/pkg/logger"
)

// Step 描述工作流中的一步：由哪个智能体执行什么任务，
// 以及它依赖哪些上游步骤的产出。
type Step struct {
	AgentKey  string   `json:"agent"`
	Task      string   `json:"task"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// StepResult 是工作流单步的执行结果。
type StepResult struct {
	AgentKey  string `json:"agent_key"`
	AgentName string `json:"agent_name"`
	Output    string `json:"output"`
}

// DefaultWorkflow 返回内置的月度复盘流程：
// 数据接入、差异分析、情景模拟、高管摘要依次执行。
func DefaultWorkflow() []Step {
	return []Step{
		{
			AgentKey: KeyDataConnector,
			Task: "Pull and integrate ERP, CRM, and BI data for a mid-sized manufacturing company.\n\n" +
				"Provide a comprehensive summary including:\n" +
				"1. List of data sources and their integration status\n" +
				"2. Data quality assessment\n" +
				"3. Any identified gaps or issues\n" +
				"4. Recommendations for data improvement\n\n" +
				"Be specific and detailed in your analysis.",
		},
		{
			AgentKey: KeyFPnAAnalyst,
			Task: "Analyze the integrated financial data from the Data Connector.\n\n" +
				"Perform variance analysis on:\n" +
				"1. Monthly revenue trends (last 6 months)\n" +
				"2. Expense categories and cost drivers\n" +
				"3. Profit margins and profitability trends\n" +
				"4. Key variances (>5%) and their root causes\n\n" +
				"Provide actionable insights with supporting data.",
			DependsOn: []string{KeyDataConnector},
		},
		{
			AgentKey: KeyProfitTwin,
			Task: "Based on the FP&A analysis, run three what-if scenarios:\n\n" +
				"Scenario 1: 10% price increase across all products\n" +
				"Scenario 2: 15% cost reduction in operating expenses\n" +
				"Scenario 3: Combined scenario (5% price increase + 10% cost reduction)\n\n" +
				"For each scenario, calculate:\n" +
				"- Revenue impact\n" +
				"- Cost impact\n" +
				"- Net profit impact\n" +
				"- Gross margin change\n" +
				"- Break-even analysis\n\n" +
				"Provide clear recommendations on which scenario to pursue.",
			DependsOn: []string{KeyFPnAAnalyst},
		},
		{
			AgentKey: KeyCFOCopilot,
			Task: "Synthesize all previous analyses into an executive summary for the CFO.\n\n" +
				"Your summary must include:\n" +
				"1. **Financial Health Score** (1-10 with justification)\n" +
				"2. **Top 3 Risks** (with mitigation strategies)\n" +
				"3. **Top 3 Opportunities** (with execution recommendations)\n" +
				"4. **Strategic Recommendations** (prioritized action items)\n" +
				"5. **Key Metrics Dashboard** (critical KPIs to monitor)\n\n" +
				"Keep it concise but comprehensive - suitable for a 5-minute executive briefing.",
			DependsOn: []string{KeyFPnAAnalyst, KeyProfitTwin},
		},
	}
}

// CustomWorkflow 根据用户给出的任务正文构建工作流，
// 只保留提供了任务的智能体，依赖关系按默认顺序收敛到实际存在的步骤。
func CustomWorkflow(tasks map[string]string) []Step {
	steps := make([]Step, 0, 4)
	for _, tpl := range DefaultWorkflow() {
		task, ok := tasks[tpl.AgentKey]
		if !ok || task == "" {
			continue
		}
		deps := make([]string, 0, len(tpl.DependsOn))
		for _, dep := range tpl.DependsOn {
			if provided, ok := tasks[dep]; ok && provided != "" {
				deps = append(deps, dep)
			}
		}
		steps = append(steps, Step{AgentKey: tpl.AgentKey, Task: task, DependsOn: deps})
	}
	if len(steps) == 0 {
		return DefaultWorkflow()
	}
	return steps
}

// RunWorkflow 顺序执行工作流：每一步把依赖步骤的产出注入上下文后调用智能体。
// 任何一步失败都会中止整个流程并返回该步骤的错误。
func (o *Orchestrator) RunWorkflow(ctx context.Context, steps []Step) ([]StepResult, error) {
	if len(steps) == 0 {
		steps = DefaultWorkflow()
	}

	results := make([]StepResult, 0, len(steps))
	outputs := make(map[string]StepResult, len(steps))

	for _, step := range steps {
		entries := make([]ContextEntry, 0, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			prior, ok := outputs[dep]
			if !ok {
				continue
			}
			entries = append(entries, ContextEntry{Name: prior.AgentName, Output: prior.Output})
		}

		result, err := o.Execute(ctx, TaskRequest{
			AgentKey: step.AgentKey,
			Task:     step.Task,
			Context:  entries,
		})
		if err != nil {
			return results, xerrors.Wrap(xerrors.CodeOf(err), err,
				fmt.Sprintf("工作流在 %s 步骤失败", step.AgentKey))
		}

		logger.L().Info("工作流步骤完成", "agent", step.AgentKey)
		stepResult := StepResult{
			AgentKey:  result.AgentKey,
			AgentName: result.AgentName,
			Output:    result.Output,
		}
		results = append(results, stepResult)
		outputs[step.AgentKey] = stepResult
	}
	return results, nil
}
