package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	ollama "github.com/ollama/ollama/api"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

type Class string

const (
	ClassTimeout   Class = "timeout"
	ClassRateLimit Class = "rate_limit"
	ClassAuth      Class = "auth"
	ClassQuota     Class = "quota"
	ClassEmpty     Class = "empty"
	ClassGeneric   Class = "generic"
	ClassInput     Class = "input"
	ClassCancelled Class = "cancelled"
)

// Retryable reports whether the gateway should spend another attempt on this class.
func (c Class) Retryable() bool {
	switch c {
	case ClassTimeout, ClassRateLimit, ClassEmpty, ClassGeneric:
		return true
	default:
		return false
	}
}

type Error struct {
	Class    Class
	Message  string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("llm %s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newInputError(format string, args ...any) *Error {
	return &Error{Class: ClassInput, Message: fmt.Sprintf(format, args...)}
}

// ClassOf returns the class of a gateway error, or ClassGeneric for anything else.
func ClassOf(err error) Class {
	var le *Error
	if errors.As(err, &le) {
		return le.Class
	}
	return ClassGeneric
}

func IsInputError(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Class == ClassInput
}

// Classify maps a backend failure onto an error class. Status codes from the
// provider SDKs win over message matching.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTimeout
	}
	if code, ok := statusCode(err); ok {
		switch {
		case code == 401 || code == 403:
			return ClassAuth
		case code == 402:
			return ClassQuota
		case code == 429:
			if quotaMessage(strings.ToLower(err.Error())) {
				return ClassQuota
			}
			return ClassRateLimit
		case code == 408 || code == 504:
			return ClassTimeout
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "超时"):
		return ClassTimeout
	case strings.Contains(msg, "rate") && strings.Contains(msg, "limit"), strings.Contains(msg, "too many requests"):
		return ClassRateLimit
	case strings.Contains(msg, "authentication") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "invalid x-api-key"):
		return ClassAuth
	case quotaMessage(msg):
		return ClassQuota
	default:
		return ClassGeneric
	}
}

func quotaMessage(msg string) bool {
	return strings.Contains(msg, "quota") || strings.Contains(msg, "credit") ||
		strings.Contains(msg, "insufficient_balance") || strings.Contains(msg, "billing")
}

func statusCode(err error) (int, bool) {
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode, true
	}
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode, true
	}
	var ge genai.APIError
	if errors.As(err, &ge) {
		return ge.Code, true
	}
	var se ollama.StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}
