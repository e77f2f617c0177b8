package app

import "strings"

// BuildIdeaContext wraps free-form idea text into the technical context
// document fed to every round.
func BuildIdeaContext(idea string) string {
	return strings.Join([]string{
		"# Idea Based Context",
		"",
		"User provided idea / requirement:",
		"",
		strings.TrimSpace(idea),
		"",
		"Goal: Extract key technical innovations and write a full Chinese invention patent based on this idea.",
	}, "\n")
}
