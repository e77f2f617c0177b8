package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/patent-drafter/internal/conversation"
	"github.com/joelkehle/patent-drafter/internal/llm"
	"github.com/joelkehle/patent-drafter/internal/prompts"
	"github.com/joelkehle/patent-drafter/internal/telemetry"
)

var (
	ErrEmptyContext = errors.New("technical context is empty")
	ErrCancelled    = errors.New("generation cancelled")
)

type Completer interface {
	Complete(ctx context.Context, prompt string) (llm.Response, error)
}

type PromptResolver interface {
	Resolve(req prompts.Request) (prompts.Resolution, error)
}

type ConversationStore interface {
	CreateTask(ctx context.Context, title, taskContext string, totalRounds int, baseName string) (string, error)
	AppendRound(ctx context.Context, taskID string, roundNumber int, role, prompt, response string) error
	SetTaskStatus(ctx context.Context, taskID string, status conversation.Status) error
}

type DocumentRenderer interface {
	Render(ctx context.Context, markdown, templatePath, outputPath string) error
	Extension() string
}

type TemplateLocator interface {
	Path(id string) (string, error)
}

type Request struct {
	Context    string
	Iterations int
	BaseName   string
	TemplateID string
}

type Result struct {
	OutputPath     string `json:"outputPath"`
	FinalMarkdown  string `json:"finalMarkdown"`
	LastReview     string `json:"lastReview"`
	Iterations     int    `json:"iterations"`
	RenderedPath   string `json:"renderedPath,omitempty"`
	TemplateID     string `json:"templateId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ProgressFunc receives non-decreasing percentages in [0,100].
type ProgressFunc func(percent int, message string)

type RoundError struct {
	Round int
	Role  prompts.Role
	Err   error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("round %d %s: %v", e.Round, e.Role, e.Err)
}

func (e *RoundError) Unwrap() error { return e.Err }

type Options struct {
	LLM       Completer
	Prompts   PromptResolver
	Store     ConversationStore
	Renderer  DocumentRenderer
	Templates TemplateLocator
	OutputDir string
	Logger    zerolog.Logger
	Clock     func() time.Time
}

// Engine runs the writer/modifier/reviewer rounds for one request.
type Engine struct {
	llm       Completer
	prompts   PromptResolver
	store     ConversationStore
	renderer  DocumentRenderer
	templates TemplateLocator
	outputDir string
	logger    zerolog.Logger
	clock     func() time.Time
	tracer    trace.Tracer
}

func NewEngine(opts Options) *Engine {
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		llm:       opts.LLM,
		prompts:   opts.Prompts,
		store:     opts.Store,
		renderer:  opts.Renderer,
		templates: opts.Templates,
		outputDir: opts.OutputDir,
		logger:    opts.Logger.With().Str("component", "workflow").Logger(),
		clock:     opts.Clock,
		tracer:    telemetry.Tracer("workflow"),
	}
}

type runState struct {
	req            Request
	total          int
	progress       *progressTracker
	conversationID string
	templatePath   string
	draft          string
	review         string
}

func (e *Engine) Run(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	if strings.TrimSpace(req.Context) == "" {
		return Result{}, ErrEmptyContext
	}
	st := &runState{req: req, total: max(1, req.Iterations), progress: &progressTracker{fn: progress}}
	st.req.BaseName = SafeBaseName(req.BaseName)

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.Int("workflow.rounds", st.total),
		attribute.String("workflow.template_id", req.TemplateID),
	))
	defer span.End()
	log := e.logger.With().Str("base_name", st.req.BaseName).Int("rounds", st.total).Logger()

	st.progress.emit(5, fmt.Sprintf("Starting patent generation: %d round(s)", st.total))
	e.selectTemplate(st, log)
	st.conversationID = e.openConversation(ctx, st, log)

	for round := 1; round <= st.total; round++ {
		if err := e.runRound(ctx, st, round); err != nil {
			e.finishConversation(ctx, st, err, log)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
	}

	st.progress.emit(95, "Writing final document")
	res, err := e.writeResult(ctx, st, log)
	if err != nil {
		st.progress.emit(95, fmt.Sprintf("Failed to save output: %v", err))
		e.finishConversation(ctx, st, err, log)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	e.finishConversation(ctx, st, nil, log)
	st.progress.emit(100, "Patent generation complete: "+res.OutputPath)
	log.Info().Str("output_path", res.OutputPath).Str("rendered_path", res.RenderedPath).Msg("generation complete")
	return res, nil
}

func (e *Engine) selectTemplate(st *runState, log zerolog.Logger) {
	id := strings.TrimSpace(st.req.TemplateID)
	if id == "" || e.templates == nil || e.renderer == nil {
		st.progress.emit(6, "No document template selected, producing markdown only")
		return
	}
	path, err := e.templates.Path(id)
	if err != nil {
		log.Warn().Err(err).Str("template_id", id).Msg("template unavailable, continuing without rendering")
		st.progress.emit(7, fmt.Sprintf("Template %q unavailable, producing markdown only", id))
		return
	}
	st.templatePath = path
	st.progress.emit(7, fmt.Sprintf("Using document template %q", id))
}

func (e *Engine) openConversation(ctx context.Context, st *runState, log zerolog.Logger) string {
	if e.store == nil {
		return ""
	}
	id, err := e.store.CreateTask(ctx, conversationTitle(st.req.Context, st.req.BaseName), st.req.Context, st.total, st.req.BaseName)
	if err != nil {
		log.Warn().Err(err).Msg("conversation store unavailable, rounds will not be recorded")
		return ""
	}
	return id
}

func (e *Engine) runRound(ctx context.Context, st *runState, round int) error {
	ctx, span := e.tracer.Start(ctx, "workflow.round", trace.WithAttributes(attribute.Int("workflow.round", round)))
	defer span.End()

	width := float64(80) / float64(st.total)
	base := 10 + float64(round-1)*width
	at := func(frac float64) int { return int(base + frac*width) }
	prefix := fmt.Sprintf("Round %d/%d", round, st.total)

	role := prompts.RoleWriter
	if round > 1 {
		role = prompts.RoleModifier
	}
	st.progress.emit(at(0), prefix+": preparing "+string(role)+" prompt")
	draft, err := e.step(ctx, st, round, prompts.Request{
		Role:        role,
		Context:     st.req.Context,
		PriorDraft:  st.draft,
		PriorReview: st.review,
		Round:       round,
		TotalRounds: st.total,
		TemplateID:  st.req.TemplateID,
	}, func() { st.progress.emit(at(0.05), prefix+": calling LLM ("+string(role)+")") })
	if err != nil {
		st.progress.emit(at(0), fmt.Sprintf("%s failed during %s: %v", prefix, role, err))
		return err
	}
	st.progress.emit(at(0.45), prefix+": draft complete")

	review, err := e.step(ctx, st, round, prompts.Request{
		Role:         prompts.RoleReviewer,
		Context:      st.req.Context,
		CurrentDraft: draft,
		Round:        round,
		TotalRounds:  st.total,
		TemplateID:   st.req.TemplateID,
	}, func() { st.progress.emit(at(0.5), prefix+": calling LLM (reviewer)") })
	if err != nil {
		st.progress.emit(at(0.45), fmt.Sprintf("%s failed during reviewer: %v", prefix, err))
		return err
	}
	st.draft, st.review = draft, review
	st.progress.emit(at(1), prefix+": review complete")
	return nil
}

// step resolves and runs one role. A cancelled context stops the run before
// the LLM is called; a call already in flight is left to finish.
func (e *Engine) step(ctx context.Context, st *runState, round int, req prompts.Request, calling func()) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &RoundError{Round: round, Role: req.Role, Err: fmt.Errorf("%w: %v", ErrCancelled, err)}
	}
	res, err := e.prompts.Resolve(req)
	if err != nil {
		return "", &RoundError{Round: round, Role: req.Role, Err: err}
	}
	e.logger.Debug().Int("round", round).Str("role", string(req.Role)).Str("source", res.Source).
		Bool("compressed", res.Compressed).Int("prompt_chars", utf8.RuneCountInString(res.Prompt)).Msg("prompt resolved")
	calling()
	resp, err := e.llm.Complete(ctx, res.Prompt)
	if err != nil {
		if llm.ClassOf(err) == llm.ClassCancelled {
			err = fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return "", &RoundError{Round: round, Role: req.Role, Err: err}
	}
	if resp.Truncated {
		e.logger.Warn().Int("round", round).Str("role", string(req.Role)).Int("original_chars", resp.OriginalLength).Msg("llm response truncated")
	}
	e.recordRound(ctx, st, round, req.Role, res.Prompt, resp.Text)
	return resp.Text, nil
}

func (e *Engine) recordRound(ctx context.Context, st *runState, round int, role prompts.Role, prompt, response string) {
	if e.store == nil || st.conversationID == "" {
		return
	}
	if err := e.store.AppendRound(context.WithoutCancel(ctx), st.conversationID, round, string(role), prompt, response); err != nil {
		e.logger.Warn().Err(err).Str("conversation_id", st.conversationID).Int("round", round).Str("role", string(role)).Msg("failed to record round")
	}
}

func (e *Engine) finishConversation(ctx context.Context, st *runState, runErr error, log zerolog.Logger) {
	if e.store == nil || st.conversationID == "" {
		return
	}
	status := conversation.StatusCompleted
	switch {
	case errors.Is(runErr, ErrCancelled):
		status = conversation.StatusCancelled
	case runErr != nil:
		status = conversation.StatusFailed
	}
	if err := e.store.SetTaskStatus(context.WithoutCancel(ctx), st.conversationID, status); err != nil {
		log.Warn().Err(err).Str("conversation_id", st.conversationID).Msg("failed to update conversation status")
	}
}

func (e *Engine) writeResult(ctx context.Context, st *runState, log zerolog.Logger) (Result, error) {
	now := e.clock().UTC()
	markdown := renderHeader(st.total, now) + st.draft
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	path := OutputPath(e.outputDir, st.req.BaseName, now)
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return Result{}, fmt.Errorf("write output: %w", err)
	}
	res := Result{
		OutputPath:     path,
		FinalMarkdown:  markdown,
		LastReview:     st.review,
		Iterations:     st.total,
		ConversationID: st.conversationID,
	}
	if st.templatePath == "" {
		return res, nil
	}
	res.TemplateID = st.req.TemplateID
	rendered := strings.TrimSuffix(path, filepath.Ext(path)) + e.renderer.Extension()
	if err := e.renderer.Render(context.WithoutCancel(ctx), markdown, st.templatePath, rendered); err != nil {
		log.Warn().Err(err).Str("template_id", st.req.TemplateID).Msg("document rendering failed, markdown remains the result")
		return res, nil
	}
	res.RenderedPath = rendered
	return res, nil
}
