package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPromptsCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	promptFile := filepath.Join(dir, "writer.txt")
	if err := os.WriteFile(promptFile, []byte("自定义写作提示 <previous_output>"), 0o644); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	if _, err := run("prompts", "set", "writer", promptFile); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := run("prompts", "show", "writer")
	if err != nil || !strings.Contains(out, "自定义写作提示") {
		t.Fatalf("show: %q %v", out, err)
	}
	if _, err := run("prompts", "clear", "writer"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	out, _ = run("prompts", "show")
	if !strings.Contains(out, "== writer: (default)") || !strings.Contains(out, "== reviewer: (default)") {
		t.Fatalf("show after clear: %q", out)
	}
	if _, err := run("prompts", "set", "editor", promptFile); err == nil {
		t.Fatalf("unknown role should fail")
	}
}

func TestGenerateRequiresOneInput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"generate"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Fatalf("expected input error, got %v", err)
	}
}
