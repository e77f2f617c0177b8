package prompts

import (
	"strings"
	"testing"
)

func TestTemplateWithoutMarkersIsVerbatim(t *testing.T) {
	text := "  ## 我的提示词\n不要改动 { } <b>  \n"
	tpl := ParseTemplate(RoleWriter, text)
	if tpl.HasMarkers() {
		t.Fatalf("unexpected markers: %v", tpl.Markers())
	}
	if got := tpl.Render(map[Marker]string{MarkerPreviousOutput: "D"}); got != text {
		t.Fatalf("expected verbatim text, got %q", got)
	}
}

func TestTemplateSubstitutesMarkers(t *testing.T) {
	tpl := ParseTemplate(RoleModifier, "草案:<previous_output>\n评审:<previous_review>\n再次:<previous_output>")
	got := tpl.Render(map[Marker]string{MarkerPreviousOutput: "D", MarkerPreviousReview: "R"})
	if got != "草案:D\n评审:R\n再次:D" {
		t.Fatalf("unexpected render %q", got)
	}
	if strings.Contains(got, "<previous_output>") || strings.Contains(got, "<previous_review>") {
		t.Fatalf("literal markers left behind: %q", got)
	}
}

func TestTemplateMissingValueGetsPlaceholder(t *testing.T) {
	tpl := ParseTemplate(RoleReviewer, "审查以下内容：</text> 以及 <previous_review>")
	got := tpl.Render(map[Marker]string{MarkerCurrentDraft: "  "})
	want := "审查以下内容：[no draft available] 以及 [no previous review available]"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestTemplateDoesNotRescanInsertedValues(t *testing.T) {
	tpl := ParseTemplate(RoleModifier, "<previous_output>|<previous_review>")
	got := tpl.Render(map[Marker]string{MarkerPreviousOutput: "draft mentions <previous_review>", MarkerPreviousReview: "R"})
	if got != "draft mentions <previous_review>|R" {
		t.Fatalf("unexpected render %q", got)
	}
}
