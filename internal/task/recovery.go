package task

import "context"

// RecoveryHandler 在智能体执行失败时给出补偿结果。
// 返回非 nil 的 ExecutionResult 会作为降级输出落库，任务视为成功；
// 返回 (nil, nil) 表示放弃补偿，任务继续走失败与重试流程。
type RecoveryHandler interface {
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}
