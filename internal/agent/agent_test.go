package agent

import (
	"context"
	"strings"
	"testing"

	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/knowledge"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/llm"
)

// stubClient 记录收到的请求并返回固定文本。
type stubClient struct {
	requests []llm.Request
	reply    func(req llm.Request) (*llm.Completion, error)
}

func (s *stubClient) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	s.requests = append(s.requests, req)
	if s.reply != nil {
		return s.reply(req)
	}
	return &llm.Completion{Text: "stub output"}, nil
}

func TestRunAssemblesTwoMessages(t *testing.T) {
	client := &stubClient{}
	orch := New(client, nil)

	output, err := orch.Run(context.Background(), KeyFPnAAnalyst, "Analyze Q2 variances.", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if output != "stub output" {
		t.Fatalf("output = %q", output)
	}

	if len(client.requests) != 1 {
		t.Fatalf("got %d requests", len(client.requests))
	}
	msgs := client.requests[0].Messages
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || !strings.Contains(msgs[0].Content, "FP&A Analyst") {
		t.Fatalf("system message = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleUser || msgs[1].Content != "Analyze Q2 variances." {
		t.Fatalf("user message = %+v", msgs[1])
	}
}

func TestRunInjectsContextBlock(t *testing.T) {
	client := &stubClient{}
	orch := New(client, nil)

	_, err := orch.Run(context.Background(), KeyCFOCopilot, "Write the summary.", []ContextEntry{
		{Name: "FP&A Analyst", Output: "Revenue fell 3%."},
		{Name: "Profit Twin", Output: "Scenario 2 wins."},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	content := client.requests[0].Messages[1].Content
	if !strings.HasPrefix(content, "Previous Analysis Context:\n\n") {
		t.Fatalf("missing context header: %q", content)
	}
	if !strings.Contains(content, "=== Output from FP&A Analyst ===\nRevenue fell 3%.") {
		t.Fatalf("missing first context block: %q", content)
	}
	if !strings.Contains(content, "=== Output from Profit Twin ===\nScenario 2 wins.") {
		t.Fatalf("missing second context block: %q", content)
	}
	if !strings.Contains(content, "\n\n---\n\nYour Task:\nWrite the summary.") {
		t.Fatalf("missing task section: %q", content)
	}
}

func TestRunUnknownAgent(t *testing.T) {
	orch := New(&stubClient{}, nil)
	_, err := orch.Run(context.Background(), "treasury_bot", "anything", nil)
	if xerrors.CodeOf(err) != xerrors.CodeAgentNotFound {
		t.Fatalf("code = %s, want AGENT_NOT_FOUND", xerrors.CodeOf(err))
	}
}

func TestRunEmptyTask(t *testing.T) {
	orch := New(&stubClient{}, nil)
	_, err := orch.Run(context.Background(), KeyDataConnector, "   ", nil)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("code = %s, want INVALID_ARGUMENT", xerrors.CodeOf(err))
	}
}

func TestExecutePassesAgentOverrides(t *testing.T) {
	client := &stubClient{}
	registry := NewRegistry()
	temp := 0.0
	if err := registry.Register(Definition{
		Key:          "auditor",
		Name:         "Auditor",
		SystemPrompt: "You audit numbers.",
		Model:        "strict-model",
		Temperature:  &temp,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	orch := New(client, registry)

	if _, err := orch.Run(context.Background(), "auditor", "Audit this.", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	req := client.requests[0]
	if req.Model != "strict-model" {
		t.Fatalf("model override = %q", req.Model)
	}
	if req.Temperature == nil || *req.Temperature != 0 {
		t.Fatalf("temperature override = %v", req.Temperature)
	}
}

func TestExecuteAppendsKnowledge(t *testing.T) {
	client := &stubClient{}
	provider := knowledge.NewStaticProvider([]knowledge.Snippet{
		{Title: "Margin definitions", Content: "Gross margin excludes OPEX.", Keywords: []string{"margin"}},
	}, 3)
	orch := New(client, nil, WithKnowledgeProvider(provider))

	if _, err := orch.Run(context.Background(), KeyProfitTwin, "Model the margin impact.", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	content := client.requests[0].Messages[1].Content
	if !strings.Contains(content, "Reference Material:") || !strings.Contains(content, "Margin definitions") {
		t.Fatalf("knowledge not appended: %q", content)
	}
}

func TestRegistryListIsSorted(t *testing.T) {
	defs := NewRegistry().List()
	if len(defs) != 4 {
		t.Fatalf("got %d builtin agents", len(defs))
	}
	want := []string{KeyCFOCopilot, KeyDataConnector, KeyFPnAAnalyst, KeyProfitTwin}
	for i, def := range defs {
		if def.Key != want[i] {
			t.Fatalf("defs[%d] = %s, want %s", i, def.Key, want[i])
		}
	}
}
