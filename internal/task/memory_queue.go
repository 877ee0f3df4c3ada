package task

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue 是纯进程内的任务队列，承载单机部署与测试场景。
// 投递与消费共用一个带缓冲的 channel。
type MemoryQueue struct {
	tasks  chan string
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{tasks: make(chan string, size)}
}

// Publish 投递任务 ID，队列已满时阻塞直到有空位或上下文取消。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("内存队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.tasks <- taskID:
		return nil
	}
}

// Consume 启动 workerCount 个协程消费，直到上下文取消或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			q.work(ctx, handler)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) work(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID, ok := <-q.tasks:
			if !ok {
				return
			}
			// 失败重投由处理器负责，这里只负责搬运。
			_ = handler(ctx, taskID)
		}
	}
}

// Close 关闭队列，之后的 Publish 会立即报错。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.tasks)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
