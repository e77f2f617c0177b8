package templates

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joelkehle/patent-drafter/internal/prompts"
)

func newShippedRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(filepath.Join("..", "..", "templates"), 8)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestRegistryListsShippedTemplates(t *testing.T) {
	r := newShippedRegistry(t)
	list, err := r.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "invention" || list[1].ID != "plain" {
		t.Fatalf("unexpected templates: %+v", list)
	}
	if list[0].Name != "发明专利申请文件" {
		t.Fatalf("expected name from <title>, got %q", list[0].Name)
	}
}

func TestRegistryRejectsTraversal(t *testing.T) {
	r := newShippedRegistry(t)
	for _, id := range []string{"", "..", "../go", "a/b", "missing"} {
		if _, err := r.Get(id); !errors.Is(err, ErrTemplateNotFound) {
			t.Fatalf("Get(%q) expected ErrTemplateNotFound, got %v", id, err)
		}
	}
}

func TestAnalyzeInventionTemplate(t *testing.T) {
	a, err := newShippedRegistry(t).Analyze("invention")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.Completeness < 0.8 {
		t.Fatalf("expected a complete template, got %.2f (%+v)", a.Completeness, a.Sections)
	}
	if a.MaxHeadingLevel != 2 {
		t.Fatalf("unexpected max heading level %d", a.MaxHeadingLevel)
	}
	joined := strings.Join(a.Placeholders, ",")
	if !strings.Contains(joined, "title") || !strings.Contains(joined, "section:权利要求书") {
		t.Fatalf("unexpected placeholders %v", a.Placeholders)
	}
	if a.TemplateType != "发明专利模板" {
		t.Fatalf("unexpected type %q", a.TemplateType)
	}
	if a.Complexity <= 0 || a.Complexity > 1 {
		t.Fatalf("complexity out of range: %f", a.Complexity)
	}
}

func TestAnalysisIsCachedUntilFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.html")
	if err := os.WriteFile(path, []byte("<h2>技术领域</h2><p>软件</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := NewRegistry(dir, 4)
	if err != nil {
		t.Fatal(err)
	}
	first, err := r.Analyze("t")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if r.cache.Len() != 1 {
		t.Fatalf("expected cached analysis, len=%d", r.cache.Len())
	}
	again, _ := r.Analyze("t")
	if len(again.Sections) != len(first.Sections) || r.cache.Len() != 1 {
		t.Fatal("expected cache hit")
	}
	if len(first.Domains) != 1 || first.Domains[0] != "计算机软件" {
		t.Fatalf("unexpected domains %v", first.Domains)
	}
}

func TestGuidanceByRole(t *testing.T) {
	r := newShippedRegistry(t)
	writer, err := r.Guidance("invention", prompts.RoleWriter)
	if err != nil {
		t.Fatalf("guidance: %v", err)
	}
	if !strings.Contains(writer, "【模板格式要求】") || !strings.Contains(writer, "- 权利要求书") {
		t.Fatalf("unexpected writer guidance %q", writer)
	}
	reviewer, err := r.Guidance("invention", prompts.RoleReviewer)
	if err != nil {
		t.Fatalf("guidance: %v", err)
	}
	if !strings.Contains(reviewer, "问题清单") {
		t.Fatalf("reviewer guidance should ask to check sections: %q", reviewer)
	}
	if _, err := r.Guidance("missing", prompts.RoleWriter); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestSectionType(t *testing.T) {
	for title, want := range map[string]string{
		"一、技术领域": "技术领域",
		"现有技术": "背景技术",
		"权利要求": "权利要求书",
		"实施例1": "具体实施方式",
		"致谢": otherSection,
	} {
		if got := SectionType(title); got != want {
			t.Fatalf("SectionType(%q)=%q want %q", title, got, want)
		}
	}
}
