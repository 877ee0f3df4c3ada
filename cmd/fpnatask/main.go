package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/agent"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/config"
	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/llm/openaicompat"
)

// fpnatask 是一次性命令行入口：从环境变量解析 provider 配置，
// 执行单个智能体任务或完整的月度复盘工作流，并把结果打印到标准输出。
func main() {
	_ = godotenv.Load()

	var (
		agentKey = flag.String("agent", "", "执行任务的智能体 key（data_connector/fpna_analyst/profit_twin/cfo_copilot）")
		taskText = flag.String("task", "", "交给智能体的任务描述")
		workflow = flag.Bool("workflow", false, "执行内置的四步工作流而非单个任务")
		provider = flag.String("provider", "", "覆盖 LLM_PROVIDER 环境变量")
		timeout  = flag.Duration("timeout", 10*time.Minute, "整体执行超时")
		list     = flag.Bool("list", false, "列出可用的智能体后退出")
	)
	flag.Parse()

	registry := agent.NewRegistry()

	if *list {
		for _, def := range registry.List() {
			fmt.Printf("%-16s %s\n", def.Key, def.Role)
		}
		return
	}

	if !*workflow && (*agentKey == "" || *taskText == "") {
		fmt.Fprintln(os.Stderr, "用法: fpnatask -agent <key> -task <描述>，或 fpnatask -workflow")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	if err := run(ctx, registry, *provider, *agentKey, *taskText, *workflow); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", xerrors.CodeOf(err), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, registry *agent.Registry, provider, agentKey, taskText string, workflow bool) error {
	providerCfg, err := config.ResolveProvider(provider)
	if err != nil {
		return err
	}
	client, err := openaicompat.NewClient(providerCfg)
	if err != nil {
		return err
	}
	orchestrator := agent.New(client, registry)

	if workflow {
		results, err := orchestrator.RunWorkflow(ctx, agent.DefaultWorkflow())
		if err != nil {
			return err
		}
		for _, step := range results {
			fmt.Printf("=== %s ===\n%s\n\n", step.AgentName, step.Output)
		}
		return nil
	}

	result, err := orchestrator.Execute(ctx, agent.TaskRequest{AgentKey: agentKey, Task: taskText})
	if err != nil {
		return err
	}
	fmt.Println(result.Output)
	return nil
}
