package config

import (
	"strings"
	"testing"

	xerrors "github.com/NVibeAI/cfo-fpa-crew-ai/internal/errors"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvProvider,
		"OPENAI_API_KEY", "OPENAI_API_BASE", "OPENAI_MODEL_NAME", "OPENAI_TEMPERATURE", "OPENAI_MAX_TOKENS",
		"NIM_BASE_URL", "NIM_API_KEY", "NIM_MODEL", "NIM_TEMPERATURE", "NIM_MAX_TOKENS",
		"LOCAL_BASE_URL", "LOCAL_API_KEY", "LOCAL_MODEL", "LOCAL_TEMPERATURE", "LOCAL_MAX_TOKENS",
	} {
		t.Setenv(key, "")
	}
}

func TestResolveProviderOpenAIDefaults(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := ResolveProvider("")
	if err != nil {
		t.Fatalf("ResolveProvider: %v", err)
	}
	if cfg.Provider != ProviderOpenAI {
		t.Fatalf("provider = %s, want openai", cfg.Provider)
	}
	if cfg.BaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("base url = %s", cfg.BaseURL)
	}
	if cfg.Model != "meta-llama/llama-3.1-70b-instruct" {
		t.Fatalf("model = %s", cfg.Model)
	}
	if cfg.Temperature != 0.2 || cfg.MaxTokens != 2000 {
		t.Fatalf("defaults not applied: temp=%v tokens=%d", cfg.Temperature, cfg.MaxTokens)
	}
}

func TestResolveProviderNIM(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv(EnvProvider, "nim")
	t.Setenv("NIM_BASE_URL", "https://integrate.api.nvidia.com/v1/")
	t.Setenv("NIM_API_KEY", "nvapi-test")
	t.Setenv("NIM_MODEL", "meta/llama-3.1-70b-instruct")
	t.Setenv("NIM_TEMPERATURE", "0.5")
	t.Setenv("NIM_MAX_TOKENS", "1024")

	cfg, err := ResolveProvider("")
	if err != nil {
		t.Fatalf("ResolveProvider: %v", err)
	}
	if cfg.BaseURL != "https://integrate.api.nvidia.com/v1" {
		t.Fatalf("trailing slash not trimmed: %s", cfg.BaseURL)
	}
	if cfg.Temperature != 0.5 || cfg.MaxTokens != 1024 {
		t.Fatalf("overrides not applied: temp=%v tokens=%d", cfg.Temperature, cfg.MaxTokens)
	}
}

func TestResolveProviderLocalSentinelKey(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv(EnvProvider, "local")
	t.Setenv("LOCAL_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("LOCAL_MODEL", "llama3.1")

	cfg, err := ResolveProvider("")
	if err != nil {
		t.Fatalf("ResolveProvider: %v", err)
	}
	if cfg.APIKey != DefaultLocalAPIKey {
		t.Fatalf("api key = %q, want %q", cfg.APIKey, DefaultLocalAPIKey)
	}
}

func TestResolveProviderMissingVarsListedTogether(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv(EnvProvider, "nim")

	_, err := ResolveProvider("")
	if err == nil {
		t.Fatal("expected error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("code = %s, want CONFIGURATION", xerrors.CodeOf(err))
	}
	for _, key := range []string{"NIM_API_KEY", "NIM_BASE_URL", "NIM_MODEL"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not name %s", err.Error(), key)
		}
	}
}

func TestResolveProviderUnknown(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv(EnvProvider, "bedrock")

	_, err := ResolveProvider("")
	if err == nil {
		t.Fatal("expected error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("code = %s, want CONFIGURATION", xerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "bedrock") {
		t.Fatalf("error %q does not name the bad value", err.Error())
	}
}

func TestResolveProviderOverrideWinsOverEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv(EnvProvider, "openai")
	t.Setenv("LOCAL_BASE_URL", "http://localhost:8000/v1")
	t.Setenv("LOCAL_MODEL", "qwen2.5")

	cfg, err := ResolveProvider("local")
	if err != nil {
		t.Fatalf("ResolveProvider: %v", err)
	}
	if cfg.Provider != ProviderLocal {
		t.Fatalf("provider = %s, want local", cfg.Provider)
	}
}

func TestResolveProviderIdempotent(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	first, err := ResolveProvider("")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := ResolveProvider("")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first != second {
		t.Fatalf("resolutions differ: %+v vs %+v", first, second)
	}
}

func TestResolveProviderInvalidNumbers(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_TEMPERATURE", "warm")
	t.Setenv("OPENAI_MAX_TOKENS", "-5")

	_, err := ResolveProvider("")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "OPENAI_TEMPERATURE") || !strings.Contains(err.Error(), "OPENAI_MAX_TOKENS") {
		t.Fatalf("error %q does not name the invalid vars", err.Error())
	}
}

func TestParseProviderEmptyDefaultsToOpenAI(t *testing.T) {
	provider, err := ParseProvider("")
	if err != nil {
		t.Fatalf("ParseProvider: %v", err)
	}
	if provider != ProviderOpenAI {
		t.Fatalf("provider = %s, want openai", provider)
	}
}
