package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 以 Redis list 为底座：Publish 对应 LPUSH，
// 消费端用 BRPOP 阻塞拉取，处理失败时 RPUSH 回列尾。
type RedisQueue struct {
	client    *redis.Client
	queue     string
	blockWait time.Duration
}

// NewRedisQueue 建立连接并校验可达性。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "fpna:tasks"
	}
	blockWait := cfg.BlockWait
	if blockWait <= 0 {
		blockWait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisQueue{client: client, queue: queue, blockWait: blockWait}, nil
}

// Publish 将任务 ID 压入列头。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.queue, taskID).Err(); err != nil {
		return fmt.Errorf("Redis 投递任务失败: %w", err)
	}
	return nil
}

// Consume 启动 workerCount 个 BRPOP 循环，首个不可恢复的错误会终止消费。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			errCh <- q.consumeLoop(ctx, handler)
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) consumeLoop(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		values, err := q.client.BRPop(ctx, q.blockWait, q.queue).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return err
			}
			if errors.Is(err, redis.Nil) {
				// 阻塞窗口内无任务，继续等待。
				continue
			}
			return fmt.Errorf("Redis 拉取任务失败: %w", err)
		}
		if len(values) != 2 {
			continue
		}
		taskID := values[1]
		if handlerErr := handler(ctx, taskID); handlerErr != nil {
			// 处理失败回插列尾，留给下一轮消费。
			_ = q.client.RPush(ctx, q.queue, taskID).Err()
		}
	}
}

// Close 断开 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
