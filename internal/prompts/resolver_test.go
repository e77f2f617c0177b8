package prompts

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type mapOverrides map[Role]string

func (m mapOverrides) Get(role Role) string { return m[role] }

type failingCatalog struct{ err error }

func (f failingCatalog) Lookup(string, map[string]string) (string, error) { return "", f.err }

type stubGuidance struct {
	text  string
	err   error
	panic bool
}

func (g stubGuidance) Guidance(string, Role) (string, error) {
	if g.panic {
		panic("analysis blew up")
	}
	return g.text, g.err
}

func shippedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := LoadCatalog(filepath.Join("..", "..", "prompts"), zerolog.Nop())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func TestModifierPromptCarriesPreviousRound(t *testing.T) {
	draft := "# 一种数据同步方法\n\n## 技术领域\n本发明涉及……\n"
	review := "## 问题清单\n1. 权利要求1过宽，建议限定同步窗口。\n"
	resolvers := map[string]*Resolver{
		"fallback": NewResolver(nil, nil, nil, 0, zerolog.Nop()),
		"catalog":  NewResolver(mapOverrides{}, shippedCatalog(t), nil, 0, zerolog.Nop()),
	}
	for name, r := range resolvers {
		for round := 2; round <= 4; round++ {
			res, err := r.Resolve(Request{Role: RoleModifier, Context: "CTX", PriorDraft: draft, PriorReview: review, Round: round, TotalRounds: 4})
			if err != nil {
				t.Fatalf("%s round %d: %v", name, round, err)
			}
			if !strings.Contains(res.Prompt, draft) || !strings.Contains(res.Prompt, review) {
				t.Fatalf("%s round %d prompt misses previous draft or review:\n%s", name, round, res.Prompt)
			}
			if res.Source != name {
				t.Fatalf("expected source %s, got %s", name, res.Source)
			}
		}
	}
}

func TestOverrideWithoutMarkersWinsVerbatim(t *testing.T) {
	override := "## 完全自定义\n请写一份专利。  "
	r := NewResolver(mapOverrides{RoleWriter: override, RoleReviewer: override}, shippedCatalog(t), stubGuidance{text: "EXTRA"}, 0, zerolog.Nop())
	for _, req := range []Request{
		{Role: RoleWriter, Context: "anything", Round: 1, TotalRounds: 3, TemplateID: "t1"},
		{Role: RoleReviewer, Context: "other", CurrentDraft: "draft", Round: 3, TotalRounds: 3},
	} {
		res, err := r.Resolve(req)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res.Prompt != override || res.Source != "override" {
			t.Fatalf("expected verbatim override, got %q from %s", res.Prompt, res.Source)
		}
	}
}

func TestOverrideMarkersSubstituted(t *testing.T) {
	r := NewResolver(mapOverrides{RoleModifier: "改进 <previous_output> 依据 <previous_review>"}, nil, nil, 0, zerolog.Nop())
	res, err := r.Resolve(Request{Role: RoleModifier, PriorDraft: "D", PriorReview: "R", Round: 2, TotalRounds: 2})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Prompt != "改进 D 依据 R" {
		t.Fatalf("unexpected prompt %q", res.Prompt)
	}
}

func TestReviewerLegacyMarker(t *testing.T) {
	r := NewResolver(mapOverrides{RoleReviewer: "## 审查\n</text>"}, nil, nil, 0, zerolog.Nop())
	res, err := r.Resolve(Request{Role: RoleReviewer, CurrentDraft: "当前草案", Round: 1, TotalRounds: 1})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Prompt != "## 审查\n当前草案" {
		t.Fatalf("unexpected prompt %q", res.Prompt)
	}
}

func TestCatalogFailureFallsBack(t *testing.T) {
	for _, err := range []error{ErrPromptNotFound, errors.New("catalog corrupted")} {
		r := NewResolver(mapOverrides{}, failingCatalog{err: err}, nil, 0, zerolog.Nop())
		res, rerr := r.Resolve(Request{Role: RoleReviewer, Context: "CTX", CurrentDraft: "CUR", Round: 1, TotalRounds: 1})
		if rerr != nil {
			t.Fatalf("resolve: %v", rerr)
		}
		if res.Source != "fallback" || !strings.Contains(res.Prompt, "CUR") || !strings.Contains(res.Prompt, "不要重写专利全文") {
			t.Fatalf("unexpected fallback %s: %q", res.Source, res.Prompt)
		}
	}
}

func TestTemplateGuidanceAppendedOrSkipped(t *testing.T) {
	req := Request{Role: RoleWriter, Context: "CTX", Round: 1, TotalRounds: 1, TemplateID: "invention"}
	base, err := NewResolver(nil, shippedCatalog(t), nil, 0, zerolog.Nop()).Resolve(req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	withGuidance, err := NewResolver(nil, shippedCatalog(t), stubGuidance{text: "【模板要求】"}, 0, zerolog.Nop()).Resolve(req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if withGuidance.Prompt != base.Prompt+"\n\n【模板要求】" {
		t.Fatalf("guidance not appended: %q", withGuidance.Prompt)
	}

	for _, g := range []stubGuidance{{err: errors.New("no analysis")}, {panic: true}} {
		res, err := NewResolver(nil, shippedCatalog(t), g, 0, zerolog.Nop()).Resolve(req)
		if err != nil {
			t.Fatalf("guidance failure must degrade silently: %v", err)
		}
		if res.Prompt != base.Prompt {
			t.Fatalf("expected base prompt on guidance failure, got %q", res.Prompt)
		}
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	r := NewResolver(nil, nil, nil, 0, zerolog.Nop())
	for _, role := range []Role{"editor", "Writer"} {
		if _, err := r.Resolve(Request{Role: role, Round: 1, TotalRounds: 1}); !errors.Is(err, ErrInvalidRole) {
			t.Fatalf("Resolve(%q): expected ErrInvalidRole, got %v", role, err)
		}
	}
	if _, err := r.Resolve(Request{Role: RoleWriter, Round: 3, TotalRounds: 2}); err == nil {
		t.Fatal("expected round range error")
	}
}

func TestOversizedPromptIsCompressed(t *testing.T) {
	var draft strings.Builder
	for i := 0; i < 6; i++ {
		draft.WriteString("## 章节\n")
		draft.WriteString(strings.Repeat("内容", 3000))
		draft.WriteString("\n")
	}
	r := NewResolver(nil, nil, nil, 20000, zerolog.Nop())
	res, err := r.Resolve(Request{Role: RoleModifier, Context: "CTX", PriorDraft: draft.String(), PriorReview: "R", Round: 2, TotalRounds: 2})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Compressed {
		t.Fatal("expected compression")
	}
	if n := len([]rune(res.Prompt)); n > 20000 {
		t.Fatalf("prompt still too long: %d", n)
	}
	if strings.Count(res.Prompt, "## 章节") != 6 {
		t.Fatalf("headings should survive compression")
	}
	if !strings.Contains(res.Prompt, "characters omitted") {
		t.Fatal("expected omission note")
	}
}

func TestOversizedVerbatimOverrideRejected(t *testing.T) {
	r := NewResolver(mapOverrides{RoleWriter: strings.Repeat("x", 50)}, nil, nil, 10, zerolog.Nop())
	_, err := r.Resolve(Request{Role: RoleWriter, Context: strings.Repeat("c", 100), Round: 1, TotalRounds: 1})
	if !errors.Is(err, ErrPromptTooLarge) {
		t.Fatalf("expected ErrPromptTooLarge, got %v", err)
	}
}

func TestCompactKeepsHeadings(t *testing.T) {
	text := "# 标题\n" + strings.Repeat("a", 500) + "\n## 权利要求书\n" + strings.Repeat("b", 500)
	got := Compact(text, 300)
	if !strings.Contains(got, "# 标题") || !strings.Contains(got, "## 权利要求书") {
		t.Fatalf("headings lost: %q", got)
	}
	if len([]rune(got)) > 300 {
		t.Fatalf("compacted text too long: %d", len([]rune(got)))
	}
}
