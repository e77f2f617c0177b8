package workflow

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	headerOpen  = "<!--"
	headerClose = "-->\n"
)

func renderHeader(iterations int, at time.Time) string {
	return strings.Join([]string{
		headerOpen,
		"  Generated by multi-round patent generator",
		fmt.Sprintf("  Iterations: %d", iterations),
		"  Generated at: " + at.Format(time.RFC3339Nano),
		headerClose,
	}, "\n")
}

// OutputPath is <dir>/<base>-<UTC timestamp>.md with ':' and '.' replaced so
// the name is portable.
func OutputPath(dir, baseName string, at time.Time) string {
	ts := at.UTC().Format("2006-01-02T15:04:05.000000")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return filepath.Join(dir, SafeBaseName(baseName)+"-"+ts+".md")
}

func SafeBaseName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '<', '>', ':', '"', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(name, ". _")
	if name == "" {
		return "patent"
	}
	return name
}

func conversationTitle(context, fallback string) string {
	for _, line := range strings.Split(context, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > 80 {
			line = string([]rune(line)[:80])
		}
		return line
	}
	return fallback
}
