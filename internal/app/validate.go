package app

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// InputError is a request rejected before any LLM call.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

func inputErr(field, format string, args ...any) *InputError {
	return &InputError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var (
	unsafeIdeaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)data:[^;]*;base64`),
	}
	reservedNames = regexp.MustCompile(`(?i)^(CON|PRN|AUX|NUL|COM[1-9]|LPT[1-9])$`)
)

const maxOutputNameChars = 100

type limits struct {
	minIdea, maxIdea, maxIterations int
}

func (l limits) idea(text string) (string, error) {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	switch {
	case n == 0:
		return "", inputErr("idea", "idea text must not be empty")
	case n < l.minIdea:
		return "", inputErr("idea", "idea text is too short, at least %d characters are required", l.minIdea)
	case n > l.maxIdea:
		return "", inputErr("idea", "idea text exceeds %d characters", l.maxIdea)
	}
	for _, re := range unsafeIdeaPatterns {
		if re.MatchString(text) {
			return "", inputErr("idea", "idea text contains unsafe content")
		}
	}
	return text, nil
}

// iterations maps 0 to a single round.
func (l limits) iterations(n int) (int, error) {
	if n == 0 {
		return 1, nil
	}
	if n < 1 {
		return 0, inputErr("iterations", "must be at least 1")
	}
	if n > l.maxIterations {
		return 0, inputErr("iterations", "must not exceed %d", l.maxIterations)
	}
	return n, nil
}

func outputName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	if utf8.RuneCountInString(name) > maxOutputNameChars {
		return "", inputErr("outputName", "must not exceed %d characters", maxOutputNameChars)
	}
	if i := strings.IndexAny(name, `<>:"|?*/\`); i >= 0 {
		return "", inputErr("outputName", "contains unsafe character %q", name[i])
	}
	if reservedNames.MatchString(name) {
		return "", inputErr("outputName", "%q is a reserved system name", name)
	}
	return name, nil
}
