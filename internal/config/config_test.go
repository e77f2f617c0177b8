package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("LLM_RETRY_ATTEMPTS", "")
	t.Setenv("MAX_WORKERS", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("expected anthropic provider, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "sk-ant-test" {
		t.Fatalf("expected provider key fallback, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.RetryAttempts != 3 || cfg.LLM.RetryDelay != 5*time.Second {
		t.Fatalf("unexpected retry defaults: %d %s", cfg.LLM.RetryAttempts, cfg.LLM.RetryDelay)
	}
	if cfg.LLM.MaxInputLength != 100000 || cfg.LLM.MaxOutputLength != 2000000 {
		t.Fatalf("unexpected length limits: %d %d", cfg.LLM.MaxInputLength, cfg.LLM.MaxOutputLength)
	}
	if cfg.MaxWorkers != 3 || cfg.TaskRetention != 24*time.Hour || cfg.TaskSweepInterval != time.Hour {
		t.Fatalf("unexpected task defaults: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("LLM_TIMEOUT", "90")
	t.Setenv("LLM_RETRY_DELAY", "250ms")
	t.Setenv("MAX_WORKERS", "5")
	t.Setenv("CHAT_LOG_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o" || cfg.LLM.APIKey != "sk-openai" {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.LLM.Timeout != 90*time.Second {
		t.Fatalf("expected bare seconds to parse, got %s", cfg.LLM.Timeout)
	}
	if cfg.LLM.RetryDelay != 250*time.Millisecond {
		t.Fatalf("expected duration to parse, got %s", cfg.LLM.RetryDelay)
	}
	if cfg.MaxWorkers != 5 || cfg.ChatLogEnabled {
		t.Fatalf("unexpected overrides: workers=%d chatlog=%v", cfg.MaxWorkers, cfg.ChatLogEnabled)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MAX_WORKERS", "0")
	t.Setenv("RENDER_FORMAT", "docx")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" claude, ,codex ,")
	if len(got) != 2 || got[0] != "claude" || got[1] != "codex" {
		t.Fatalf("unexpected: %#v", got)
	}
}
