package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/agent"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.TaskRequest) (*agent.TaskResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	return &agent.TaskResult{AgentKey: req.AgentKey, AgentName: "Fake", Output: "ok"}, nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		prompt := fmt.Sprintf("analyze batch %d", i)
		if _, err := service.Submit(ctx, agent.TaskRequest{AgentKey: "fpna_analyst", Task: prompt}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

type failingExecutor struct {
	err error
}

func (f *failingExecutor) Execute(context.Context, agent.TaskRequest) (*agent.TaskResult, error) {
	return nil, f.err
}

func TestProcessorMarksFailureWithCode(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)

	if err := store.Create(ctx, &Task{ID: "f1", AgentKey: "profit_twin", Prompt: "p", Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}

	cause := errors.New("model gateway unreachable")
	processor := NewProcessor(&failingExecutor{err: cause}, store, queue, queue)

	if err := processor.handle(ctx, "f1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	stored, err := store.Get(ctx, "f1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if stored.LastError == "" || stored.ErrorCode == "" {
		t.Fatalf("failure details not recorded: %+v", stored)
	}
}
