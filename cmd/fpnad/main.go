package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/agent"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/api"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/auth"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/config"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/knowledge"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/llm/openaicompat"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/observability/alerting"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/storage/mysql"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/task"
	"github.com/NVibeAI/cfo-fpa-crew-ai/pkg/logger"
)

// main 是 FP&A 智能体守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("fpnad 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时静默跳过，保持与原始部署脚本一致的加载顺序。
	_ = godotenv.Load()

	configPath := os.Getenv("FPNA_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "fpna.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// 启动阶段就解析 provider 配置，缺失的环境变量在这里一次性暴露。
	providerCfg, err := config.ResolveProvider("")
	if err != nil {
		return err
	}
	llmClient, err := openaicompat.NewClient(providerCfg,
		openaicompat.WithTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second))
	if err != nil {
		return err
	}

	registry := agent.NewRegistry()

	agentOpts := []agent.Option{
		agent.WithLLMTimeout(time.Duration(cfg.LLM.TimeoutSeconds) * time.Second),
	}
	if cfg.Knowledge.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return err
		}
		agentOpts = append(agentOpts, agent.WithKnowledgeProvider(provider))
	}
	orchestrator := agent.New(llmClient, registry, agentOpts...)

	var taskStore task.Store
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		taskStore = task.NewMemoryStore()
	case "mysql":
		store, err := task.NewMySQLStore(task.MySQLStoreConfig{
			DSN:             cfg.Storage.TaskStore.DSN,
			MaxOpenConns:    cfg.Storage.TaskStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.TaskStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.TaskStore.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		taskStore = store
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
	defer func() {
		if taskStore != nil {
			_ = taskStore.Close()
		}
	}()

	var taskQueue task.Queue
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		taskQueue = task.NewMemoryQueue(1024)
	case "redis":
		queue, err := task.NewRedisQueue(task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		taskQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
	defer func() {
		if taskQueue != nil {
			if err := taskQueue.Close(); err != nil {
				logger.L().Warn("关闭任务队列失败", "error", err)
			}
		}
	}()

	authService, authCloser, err := buildAuthService(ctx, cfg)
	if err != nil {
		return err
	}
	if authCloser != nil {
		defer func() { _ = authCloser() }()
	}

	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries)
	processor := task.NewProcessor(orchestrator, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Worker),
		task.WithProcessorLogger(logger.Named("processor")),
		task.WithAlertDispatcher(alerting.NewFanout(&alerting.LogNotifier{})),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", "error", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, taskService,
		api.WithRegistry(registry),
		api.WithOrchestrator(orchestrator),
		api.WithAuthService(authService),
	)

	logger.L().Info("fpnad 启动",
		"address", cfg.Server.Address,
		"provider", string(providerCfg.Provider),
		"store", cfg.Storage.TaskStore.Driver,
		"queue", cfg.TaskQueue.Driver,
		"auth", cfg.Auth.Mode,
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAuthService 根据配置组装认证服务。mode 为 disabled 时返回的服务
// 会在中间件中直接放行。
func buildAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, func() error, error) {
	seeds := make([]auth.Seed, 0, len(cfg.Auth.Seeds))
	for _, seed := range cfg.Auth.Seeds {
		seeds = append(seeds, auth.Seed{
			Username:    seed.Username,
			Password:    seed.Password,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
			Disabled:    seed.Disabled,
		})
	}

	var store auth.Store
	var closer func() error
	switch cfg.Auth.Store {
	case "", "memory":
		memStore, err := auth.NewMemoryStore(seeds)
		if err != nil {
			return nil, nil, err
		}
		store = memStore
	case "mysql":
		sqlStore, err := mysql.NewSQLAuthStore(ctx, mysql.Config{DSN: cfg.Auth.DSN})
		if err != nil {
			return nil, nil, err
		}
		store = sqlStore
		closer = sqlStore.Close
	default:
		return nil, nil, fmt.Errorf("未知的认证存储驱动: %s", cfg.Auth.Store)
	}

	svc, err := auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:     cfg.Auth.JWT.Secret,
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
			AccessTTL:  int64(cfg.Auth.JWT.AccessTTL),
			RefreshTTL: int64(cfg.Auth.JWT.RefreshTTL),
		},
		Seeds: seeds,
	}, store)
	if err != nil {
		return nil, nil, err
	}
	return svc, closer, nil
}
