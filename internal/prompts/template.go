package prompts

import "strings"

type Marker string

const (
	MarkerPreviousOutput Marker = "<previous_output>"
	MarkerPreviousReview Marker = "<previous_review>"
	// MarkerCurrentDraft is the legacy reviewer marker for the draft under review.
	MarkerCurrentDraft Marker = "</text>"
)

var knownMarkers = []Marker{MarkerPreviousOutput, MarkerPreviousReview, MarkerCurrentDraft}

var markerPlaceholders = map[Marker]string{
	MarkerPreviousOutput: "[no previous draft available]",
	MarkerPreviousReview: "[no previous review available]",
	MarkerCurrentDraft:   "[no draft available]",
}

// Template is a user override parsed once for the markers it contains.
type Template struct {
	Role    Role
	Text    string
	markers []Marker
}

func ParseTemplate(role Role, text string) Template {
	t := Template{Role: role, Text: text}
	for _, m := range knownMarkers {
		if strings.Contains(text, string(m)) {
			t.markers = append(t.markers, m)
		}
	}
	return t
}

func (t Template) Markers() []Marker {
	return append([]Marker(nil), t.markers...)
}

func (t Template) HasMarkers() bool { return len(t.markers) > 0 }

// Render substitutes the markers present in one pass, so marker text inside
// the inserted values is left alone. Markers without a value get a bracketed
// placeholder. With no markers the text is returned untouched.
func (t Template) Render(values map[Marker]string) string {
	if !t.HasMarkers() {
		return t.Text
	}
	pairs := make([]string, 0, len(t.markers)*2)
	for _, m := range t.markers {
		v := values[m]
		if strings.TrimSpace(v) == "" {
			v = markerPlaceholders[m]
		}
		pairs = append(pairs, string(m), v)
	}
	return strings.NewReplacer(pairs...).Replace(t.Text)
}

func markerValues(req Request) map[Marker]string {
	return map[Marker]string{
		MarkerPreviousOutput: req.PriorDraft,
		MarkerPreviousReview: req.PriorReview,
		MarkerCurrentDraft:   req.CurrentDraft,
	}
}
