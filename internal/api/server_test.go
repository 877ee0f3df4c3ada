package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/agent"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/llm"
	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/task"
)

type stubLLM struct {
	reply string
}

func (s *stubLLM) Complete(_ context.Context, _ llm.Request) (*llm.Completion, error) {
	return &llm.Completion{Text: s.reply}, nil
}

func newTestServer(t *testing.T) (*Server, *task.Service) {
	t.Helper()
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(16)
	svc := task.NewService(store, queue, 3)
	t.Cleanup(func() { _ = svc.Close() })
	server := NewServer(":0",
		svc,
		WithOrchestrator(agent.New(&stubLLM{reply: "ok"}, agent.NewRegistry())),
	)
	return server, svc
}

func TestHandleTaskDetailSuccess(t *testing.T) {
	store := task.NewMemoryStore()
	svc := task.NewService(store, task.NewMemoryQueue(1), 3)
	server := NewServer(":0", svc)

	sample := &task.Task{
		ID:         "task-success",
		AgentKey:   agent.KeyFPnAAnalyst,
		Prompt:     "analyze revenue variance",
		Status:     task.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		CreatedAt:  1700000000,
		UpdatedAt:  1700000001,
		Result: &task.ExecutionResult{
			AgentKey:  agent.KeyFPnAAnalyst,
			AgentName: "FP&A Analyst",
			Output:    "ok",
		},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample task: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/task-success", nil)
	rec := httptest.NewRecorder()

	server.handleTaskDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected task id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || got.Result.Output != "ok" {
		t.Fatalf("unexpected task result: %+v", got.Result)
	}
}

func TestHandleTaskDetailErrors(t *testing.T) {
	server := NewServer(":0", task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(1), 3))

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/task-1", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil)
		rec := httptest.NewRecorder()

		server.handleTaskDetail(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestHandleCreateTaskAccepted(t *testing.T) {
	server, _ := newTestServer(t)

	body := strings.NewReader(`{"agent_key":"cfo_copilot","task":"prepare the board brief"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", body)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d, body %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated task id")
	}
	if created.Status != task.StatusPending {
		t.Fatalf("unexpected status: %s", created.Status)
	}
}

func TestHandleCreateTaskValidation(t *testing.T) {
	server, _ := newTestServer(t)

	body := strings.NewReader(`{"agent_key":"cfo_copilot"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", body)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHandleListTasksWithFilters(t *testing.T) {
	server, svc := newTestServer(t)

	for _, tc := range []struct {
		agentKey string
		prompt   string
	}{
		{agent.KeyDataConnector, "pull ERP data"},
		{agent.KeyProfitTwin, "simulate price increase"},
	} {
		if _, err := svc.Submit(context.Background(), agent.TaskRequest{AgentKey: tc.agentKey, Task: tc.prompt}); err != nil {
			t.Fatalf("submit task: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?agent=profit_twin&status=pending", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Tasks []task.Task `json:"tasks"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Count != 1 || len(payload.Tasks) != 1 {
		t.Fatalf("expected exactly one task, got %d", payload.Count)
	}
	if payload.Tasks[0].AgentKey != agent.KeyProfitTwin {
		t.Fatalf("unexpected agent: %s", payload.Tasks[0].AgentKey)
	}
}

func TestHandleListTasksRejectsBadStatus(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=meditating", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestHandleAgentsListsBuiltins(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var payload struct {
		Agents []agent.Definition `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Agents) != 4 {
		t.Fatalf("expected 4 builtin agents, got %d", len(payload.Agents))
	}
	if payload.Agents[0].Key != agent.KeyCFOCopilot {
		t.Fatalf("expected sorted listing, first agent %q", payload.Agents[0].Key)
	}
}

func TestHandleWorkflowRunsDefaultPipeline(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflow", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Results []agent.StepResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Results) != 4 {
		t.Fatalf("expected 4 workflow steps, got %d", len(payload.Results))
	}
}

func TestHandleLLMConfigRedactsCredential(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-super-secret")
	t.Setenv("OPENAI_API_BASE", "")
	t.Setenv("OPENAI_MODEL_NAME", "")
	t.Setenv("OPENAI_TEMPERATURE", "")
	t.Setenv("OPENAI_MAX_TOKENS", "")

	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/llm/config", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "sk-super-secret") {
		t.Fatalf("credential leaked into response: %s", rec.Body.String())
	}
	var payload struct {
		Provider  string `json:"provider"`
		APIKeySet bool   `json:"api_key_set"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Provider != "openai" || !payload.APIKeySet {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleLLMConfigUnknownProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "bedrock")
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/llm/config", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "CONFIGURATION") {
		t.Fatalf("expected CONFIGURATION error code, body %s", rec.Body.String())
	}
}

func TestHandleTokenWithoutAuthService(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(`{"username":"a","password":"b"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}
