package chatlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/patent-drafter/internal/llm"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad json line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestRecordWritesDailyJSONLines(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l, err := New(Config{Dir: dir, MaxChars: 20, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	if err := l.Record(llm.AuditRecord{Time: now, Backend: "fake", Attempt: 1, Prompt: "api_key=abc123 写一份专利", Response: "ok", Success: true}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.Record(llm.AuditRecord{Time: now, Backend: "fake", Attempt: 2, Prompt: strings.Repeat("长", 50), Class: llm.ClassTimeout, Error: "timeout"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries := readEntries(t, filepath.Join(dir, "chat_prompt_20260301.log"))
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if p := entries[0]["prompt"].(string); strings.Contains(p, "abc123") || !strings.Contains(p, "***MASKED***") {
		t.Fatalf("secret not masked: %q", p)
	}
	if entries[1]["error_class"] != "timeout" || entries[1]["success"] != false {
		t.Fatalf("unexpected failure entry: %v", entries[1])
	}
	if p := entries[1]["prompt"].(string); !strings.Contains(p, "truncated, 50 chars total") {
		t.Fatalf("expected clipped prompt, got %q", p)
	}
}

func TestRotationPrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l, err := New(Config{Dir: dir, MaxFiles: 2, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()
	for i := 0; i < 4; i++ {
		if err := l.Record(llm.AuditRecord{Time: now, Success: true, Response: "x"}); err != nil {
			t.Fatalf("record: %v", err)
		}
		now = now.Add(24 * time.Hour)
	}
	files, err := l.Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 || files[0].Name != "chat_prompt_20260304" || files[1].Name != "chat_prompt_20260303" {
		t.Fatalf("unexpected retained files: %v", files)
	}
}

func TestPreview(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l, err := New(Config{Dir: dir, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()
	for i := 0; i < 3; i++ {
		if err := l.Record(llm.AuditRecord{Time: now, Attempt: i + 1, Success: true, Response: "ok"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	p, err := l.Preview("chat_prompt_20260301.log", 2)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(p.Lines) != 2 || p.TotalLines != 3 || !p.Truncated {
		t.Fatalf("unexpected preview: %+v", p)
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(p.Lines[0]), &first); err != nil || first["attempt"] != float64(1) {
		t.Fatalf("first line = %q, err %v", p.Lines[0], err)
	}

	if _, err := l.Preview("chat_prompt_20260302", 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for _, name := range []string{"../secret", "chat_prompt_2026", "other_20260301"} {
		if _, err := l.Preview(name, 10); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Preview(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestMask(t *testing.T) {
	for _, tc := range []struct{ in, leak string }{
		{in: `{"api_key": "secret-value"}`, leak: "secret-value"},
		{in: "Authorization: Bearer abc.def.ghi", leak: "abc.def.ghi"},
		{in: "key sk-ant-0123456789abcdef used", leak: "0123456789abcdef"},
		{in: "password=hunter2", leak: "hunter2"},
	} {
		got := Mask(tc.in)
		if strings.Contains(got, tc.leak) {
			t.Fatalf("Mask(%q) = %q leaks %q", tc.in, got, tc.leak)
		}
	}
	if Mask("nothing to hide") != "nothing to hide" {
		t.Fatal("plain text must pass through")
	}
}
