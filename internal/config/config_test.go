package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fpna.yaml")
	content := []byte("server:\n  address: \":9090\"\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("address = %s", cfg.Server.Address)
	}
	if cfg.Storage.TaskStore.Driver != "memory" {
		t.Fatalf("task store driver = %s, want memory", cfg.Storage.TaskStore.Driver)
	}
	if cfg.TaskQueue.Driver != "memory" || cfg.TaskQueue.Worker != 2 {
		t.Fatalf("queue defaults not applied: %+v", cfg.TaskQueue)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("auth mode = %s, want disabled", cfg.Auth.Mode)
	}
	if cfg.LLM.TimeoutSeconds != 120 {
		t.Fatalf("llm timeout = %d", cfg.LLM.TimeoutSeconds)
	}
}

func TestLoadResolvesKnowledgePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fpna.yaml")
	content := []byte("knowledge:\n  source: knowledge.json\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(dir, "knowledge.json")
	if cfg.Knowledge.Source != want {
		t.Fatalf("knowledge source = %s, want %s", cfg.Knowledge.Source, want)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
