package task

import "context"

// Handler 消费队列中的任务 ID。返回错误表示本次处理失败，
// 是否重投由具体队列实现或处理器决定。
type Handler func(ctx context.Context, taskID string) error

// Producer 向队列投递待执行的任务 ID。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以 workerCount 个并发协程消费队列，直到上下文取消。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 是生产与消费能力的组合，三种队列实现（内存、Redis、RabbitMQ）
// 都同时满足两端。
type Queue interface {
	Producer
	Consumer
}
