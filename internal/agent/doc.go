// Package agent 实现 FP&A 智能体的注册、提示词组装与顺序工作流。
// 四个内置智能体（数据接入、差异分析、情景模拟、CFO 摘要）共享同一个
// 大模型客户端，上游产出通过标记好的上下文块串联到下游任务中。
package agent
