package prompts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const testEntry = `
prompt:
  role: 角色说明
  requirements:
    - 要求一
  output_format: 输出格式
iteration_phases:
  first: 第 {{iteration}}/{{total_iterations}} 轮首稿
  subsequent: 第 {{iteration}}/{{total_iterations}} 轮修订
context_sections:
  - title: 【上下文】
    content: "{{context}}"
  - title: 【上一版】
    content: "{{previous_draft}}"
    requires: previous_draft
`

func TestCatalogLookup(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "patent", "writer", "base_prompt.yaml"), testEntry)
	c, err := LoadCatalog(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "patent.writer.base_prompt" {
		t.Fatalf("unexpected keys %v", keys)
	}

	first, err := c.Lookup("patent.writer.base_prompt", map[string]string{"context": "CTX", "iteration": "1", "total_iterations": "2"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	for _, want := range []string{"角色说明", "整体要求：\n- 要求一", "第 1/2 轮首稿", "【上下文】\nCTX", "输出格式"} {
		if !strings.Contains(first, want) {
			t.Fatalf("missing %q in %q", want, first)
		}
	}
	if strings.Contains(first, "【上一版】") {
		t.Fatalf("section with empty requirement should be skipped: %q", first)
	}

	second, err := c.Lookup("patent.writer.base_prompt", map[string]string{"context": "CTX", "previous_draft": "OLD", "iteration": "2", "total_iterations": "2"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !strings.Contains(second, "第 2/2 轮修订") || !strings.Contains(second, "【上一版】\nOLD") {
		t.Fatalf("unexpected subsequent prompt %q", second)
	}
}

func TestCatalogMissingKeyAndDir(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	if err != nil {
		t.Fatalf("missing dir should load empty: %v", err)
	}
	if _, err := c.Lookup("patent.writer.base_prompt", nil); !errors.Is(err, ErrPromptNotFound) {
		t.Fatalf("expected ErrPromptNotFound, got %v", err)
	}
}

func TestCatalogBadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.yaml"), "prompt: [unclosed")
	if _, err := LoadCatalog(dir, zerolog.Nop()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestShippedCatalogHasEveryRole(t *testing.T) {
	c, err := LoadCatalog(filepath.Join("..", "..", "prompts"), zerolog.Nop())
	if err != nil {
		t.Fatalf("load shipped catalog: %v", err)
	}
	for _, role := range Roles {
		out, err := c.Lookup(CatalogKey(role), map[string]string{"context": "CTX", "current_draft": "CUR", "iteration": "1", "total_iterations": "1"})
		if err != nil {
			t.Fatalf("%s: %v", role, err)
		}
		if !strings.Contains(out, "CTX") {
			t.Fatalf("%s prompt does not include context: %q", role, out)
		}
	}
}

func TestCatalogWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patent", "writer", "base_prompt.yaml")
	writeFile(t, path, testEntry)
	c, err := LoadCatalog(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "patent", "writer", "extra.yaml"), testEntry)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.Keys()) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("catalog did not pick up new entry, keys=%v", c.Keys())
}
