package prompts

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const maxCompressPasses = 16

// sampleSteps are the per-section body budgets tried from generous to bare.
var sampleSteps = []int{2000, 1000, 500, 200, 80, 0}

type field struct {
	name string
	get  func(*Request) *string
}

var compressibleFields = []field{
	{name: "context", get: func(r *Request) *string { return &r.Context }},
	{name: "prior_draft", get: func(r *Request) *string { return &r.PriorDraft }},
	{name: "prior_review", get: func(r *Request) *string { return &r.PriorReview }},
	{name: "current_draft", get: func(r *Request) *string { return &r.CurrentDraft }},
}

// shrinkLargest compacts the largest text the request carries, aiming to
// remove excess characters. It falls through to smaller fields when the
// largest cannot be reduced any further.
func shrinkLargest(req Request, excess int) (Request, bool) {
	fields := append([]field(nil), compressibleFields...)
	sort.SliceStable(fields, func(i, j int) bool {
		return utf8.RuneCountInString(*fields[i].get(&req)) > utf8.RuneCountInString(*fields[j].get(&req))
	})
	for _, f := range fields {
		p := f.get(&req)
		n := utf8.RuneCountInString(*p)
		if n == 0 {
			continue
		}
		target := n - excess
		if target < 0 {
			target = 0
		}
		compacted := Compact(*p, target)
		if utf8.RuneCountInString(compacted) < n {
			*p = compacted
			return req, true
		}
	}
	return req, false
}

type section struct {
	heading string
	body    []string
}

// Compact keeps every markdown heading and a bounded sample of each section
// body, choosing the largest sample that fits target characters. When none
// fits, only headings and omission notes remain.
func Compact(text string, target int) string {
	sections := splitSections(text)
	var out string
	for _, step := range sampleSteps {
		out = renderSections(sections, step)
		if utf8.RuneCountInString(out) <= target {
			return out
		}
	}
	return out
}

func splitSections(text string) []section {
	var sections []section
	cur := section{}
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(trimmed, "#") {
			if cur.heading != "" || len(cur.body) > 0 {
				sections = append(sections, cur)
			}
			cur = section{heading: line}
			continue
		}
		cur.body = append(cur.body, line)
	}
	if cur.heading != "" || len(cur.body) > 0 {
		sections = append(sections, cur)
	}
	return sections
}

func renderSections(sections []section, sample int) string {
	var b strings.Builder
	for i, sec := range sections {
		if i > 0 {
			b.WriteString("\n")
		}
		if sec.heading != "" {
			b.WriteString(sec.heading)
			b.WriteString("\n")
		}
		body := strings.TrimSpace(strings.Join(sec.body, "\n"))
		n := utf8.RuneCountInString(body)
		if n == 0 {
			continue
		}
		if n <= sample {
			b.WriteString(body)
			b.WriteString("\n")
			continue
		}
		if sample > 0 {
			b.WriteString(truncate(body, sample))
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[... %d characters omitted ...]\n", n-sample)
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
