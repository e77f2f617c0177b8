package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/patent-drafter/internal/telemetry"
)

// Backend performs one completion against a provider. It must honour ctx.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

type AuditRecord struct {
	Time      time.Time
	Backend   string
	Model     string
	Attempt   int
	Prompt    string
	Response  string
	Success   bool
	Truncated bool
	Class     Class
	Error     string
	Duration  time.Duration
}

type AuditLogger interface {
	Record(rec AuditRecord) error
}

type Config struct {
	Model           string
	MaxTokens       int
	Timeout         time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	MaxInputLength  int
	MaxOutputLength int
	Clock           func() time.Time
	Sleep           func(ctx context.Context, d time.Duration) error
}

type Response struct {
	Text           string
	Truncated      bool
	OriginalLength int
	Attempts       int
}

type Gateway struct {
	backend Backend
	cfg     Config
	audit   AuditLogger
	logger  zerolog.Logger
	tracer  trace.Tracer
}

func NewGateway(backend Backend, cfg Config, audit AuditLogger, logger zerolog.Logger) *Gateway {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = 100000
	}
	if cfg.MaxOutputLength <= 0 {
		cfg.MaxOutputLength = 2000000
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Gateway{
		backend: backend,
		cfg:     cfg,
		audit:   audit,
		logger:  logger.With().Str("component", "llm").Str("backend", backend.Name()).Logger(),
		tracer:  telemetry.Tracer("llm"),
	}
}

func (g *Gateway) MaxInputLength() int { return g.cfg.MaxInputLength }

// Complete sends prompt to the backend with retries. Cancelling ctx stops
// further attempts and the backoff sleep but never aborts an attempt that is
// already in flight; each attempt is bounded by the configured timeout instead.
func (g *Gateway) Complete(ctx context.Context, prompt string) (Response, error) {
	if strings.TrimSpace(prompt) == "" {
		return Response{}, newInputError("prompt is empty")
	}
	if n := utf8.RuneCountInString(prompt); n > g.cfg.MaxInputLength {
		return Response{}, newInputError("prompt length %d exceeds limit %d", n, g.cfg.MaxInputLength)
	}

	var lastErr error
	lastClass := ClassGeneric
	for attempt := 1; attempt <= g.cfg.RetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{Attempts: attempt - 1}, &Error{Class: ClassCancelled, Message: "cancelled before attempt", Attempts: attempt - 1, Err: err}
		}

		text, class, err := g.attempt(ctx, prompt, attempt)
		if err == nil {
			resp := Response{Text: text, OriginalLength: utf8.RuneCountInString(text), Attempts: attempt}
			if resp.OriginalLength > g.cfg.MaxOutputLength {
				resp.Text = truncateRunes(text, g.cfg.MaxOutputLength)
				resp.Truncated = true
				g.logger.Warn().Int("length", resp.OriginalLength).Int("limit", g.cfg.MaxOutputLength).Msg("response truncated")
			}
			return resp, nil
		}

		lastErr, lastClass = err, class
		if !class.Retryable() {
			return Response{Attempts: attempt}, &Error{Class: class, Message: err.Error(), Attempts: attempt, Err: err}
		}
		g.logger.Warn().Err(err).Int("attempt", attempt).Str("class", string(class)).Msg("llm attempt failed")
		if attempt < g.cfg.RetryAttempts {
			if err := g.cfg.Sleep(ctx, g.cfg.RetryDelay); err != nil {
				return Response{Attempts: attempt}, &Error{Class: ClassCancelled, Message: "cancelled during retry backoff", Attempts: attempt, Err: err}
			}
		}
	}
	return Response{Attempts: g.cfg.RetryAttempts}, &Error{
		Class:    lastClass,
		Message:  fmt.Sprintf("failed after %d attempts: %v", g.cfg.RetryAttempts, lastErr),
		Attempts: g.cfg.RetryAttempts,
		Err:      lastErr,
	}
}

func (g *Gateway) attempt(ctx context.Context, prompt string, attempt int) (string, Class, error) {
	spanCtx, span := g.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.backend", g.backend.Name()),
		attribute.String("llm.model", g.cfg.Model),
		attribute.Int("llm.attempt", attempt),
		attribute.Int("llm.prompt_chars", len(prompt)),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), g.cfg.Timeout)
	defer cancel()

	started := g.cfg.Clock()
	text, err := g.backend.Complete(callCtx, prompt, g.cfg.MaxTokens)
	if err == nil && strings.TrimSpace(text) == "" {
		err = &Error{Class: ClassEmpty, Message: "empty response"}
	}
	rec := AuditRecord{
		Time:     started,
		Backend:  g.backend.Name(),
		Model:    g.cfg.Model,
		Attempt:  attempt,
		Prompt:   prompt,
		Duration: g.cfg.Clock().Sub(started),
	}
	if err != nil {
		class := Classify(err)
		rec.Class = class
		rec.Error = err.Error()
		g.record(rec)
		span.SetAttributes(attribute.String("llm.error_class", string(class)))
		span.SetStatus(codes.Error, err.Error())
		return "", class, err
	}
	rec.Success = true
	rec.Response = text
	rec.Truncated = utf8.RuneCountInString(text) > g.cfg.MaxOutputLength
	g.record(rec)
	span.SetAttributes(attribute.Bool("llm.truncated", rec.Truncated), attribute.Int("llm.response_chars", len(text)))
	return text, "", nil
}

func (g *Gateway) record(rec AuditRecord) {
	if g.audit == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn().Interface("panic", r).Msg("audit log panicked")
		}
	}()
	if err := g.audit.Record(rec); err != nil {
		g.logger.Warn().Err(err).Msg("audit log write failed")
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
