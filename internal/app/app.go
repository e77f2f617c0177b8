package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/joelkehle/patent-drafter/internal/chatlog"
	"github.com/joelkehle/patent-drafter/internal/config"
	"github.com/joelkehle/patent-drafter/internal/conversation"
	"github.com/joelkehle/patent-drafter/internal/llm"
	"github.com/joelkehle/patent-drafter/internal/prompts"
	"github.com/joelkehle/patent-drafter/internal/render"
	"github.com/joelkehle/patent-drafter/internal/tasks"
	"github.com/joelkehle/patent-drafter/internal/templates"
	"github.com/joelkehle/patent-drafter/internal/workflow"
)

const templateCacheSize = 64

// App owns every long-lived service. Build one with New and release it
// with Close.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	Gateway       *llm.Gateway
	Overrides     *prompts.OverrideStore
	Catalog       *prompts.Catalog
	Templates     *templates.Registry
	Conversations *conversation.Store
	Tasks         *tasks.Manager

	// ChatLog is nil when chat logging is disabled.
	ChatLog *chatlog.Logger

	engine *workflow.Engine
}

// GenerateRequest is the outer request shape. Idea is wrapped with
// BuildIdeaContext; Context is used as given. Exactly one must be set.
type GenerateRequest struct {
	Idea       string `json:"idea,omitempty"`
	Context    string `json:"context,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	OutputName string `json:"outputName,omitempty"`
	TemplateID string `json:"templateId,omitempty"`
	Async      bool   `json:"async,omitempty"`
}

func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	backend, err := llm.NewBackend(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(cfg, backend, logger)
}

// NewWithBackend wires the services around an already constructed backend.
func NewWithBackend(cfg config.Config, backend llm.Backend, logger zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger.With().Str("component", "app").Logger()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var audit llm.AuditLogger
	if cfg.ChatLogEnabled {
		cl, err := chatlog.New(chatlog.Config{Dir: cfg.ChatLogDir, MaxFiles: cfg.ChatLogMaxFiles, MaxChars: cfg.ChatLogMaxChars})
		if err != nil {
			return nil, fmt.Errorf("chat log: %w", err)
		}
		a.ChatLog = cl
		audit = cl
	}
	a.Gateway = llm.NewGateway(backend, llm.GatewayConfig(cfg.LLM), audit, logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	var err error
	if a.Overrides, err = prompts.OpenOverrideStore(filepath.Join(cfg.DataDir, "user_prompts.json")); err != nil {
		return nil, err
	}
	if a.Catalog, err = prompts.LoadCatalog(cfg.PromptsDir, logger); err != nil {
		logger.Warn().Err(err).Str("dir", cfg.PromptsDir).Msg("prompt catalog unavailable, using fallback prompts")
		a.Catalog = nil
	}
	if a.Templates, err = templates.NewRegistry(cfg.TemplatesDir, templateCacheSize); err != nil {
		return nil, err
	}
	if a.Conversations, err = conversation.Open(filepath.Join(cfg.DataDir, "conversations.db")); err != nil {
		return nil, err
	}

	var catalog prompts.Lookuper
	if a.Catalog != nil {
		catalog = a.Catalog
	}
	resolver := prompts.NewResolver(a.Overrides, catalog, a.Templates, cfg.LLM.MaxInputLength, logger)
	a.engine = workflow.NewEngine(workflow.Options{
		LLM:       a.Gateway,
		Prompts:   resolver,
		Store:     a.Conversations,
		Renderer:  render.New(render.Format(cfg.RenderFormat), cfg.ChromePath),
		Templates: a.Templates,
		OutputDir: cfg.OutputDir,
		Logger:    logger,
	})
	a.Tasks = tasks.NewManager(tasks.Config{
		MaxWorkers:    cfg.MaxWorkers,
		Retention:     cfg.TaskRetention,
		SweepInterval: cfg.TaskSweepInterval,
		Logger:        logger,
	})
	ok = true
	return a, nil
}

func (a *App) Config() config.Config { return a.cfg }

// Close stops the task manager and releases stores.
func (a *App) Close() error {
	var errs []error
	if a.Tasks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.LLM.Timeout+5*time.Second)
		errs = append(errs, a.Tasks.Stop(ctx))
		cancel()
	}
	if a.Conversations != nil {
		errs = append(errs, a.Conversations.Close())
	}
	if a.ChatLog != nil {
		errs = append(errs, a.ChatLog.Close())
	}
	return errors.Join(errs...)
}

func (a *App) prepare(req GenerateRequest) (workflow.Request, error) {
	lim := limits{minIdea: a.cfg.MinIdeaLength, maxIdea: a.cfg.MaxIdeaLength, maxIterations: a.cfg.MaxIterations}
	idea, ctxText := strings.TrimSpace(req.Idea), strings.TrimSpace(req.Context)
	var technical string
	switch {
	case idea != "" && ctxText != "":
		return workflow.Request{}, inputErr("idea", "provide either idea or context, not both")
	case idea != "":
		text, err := lim.idea(idea)
		if err != nil {
			return workflow.Request{}, err
		}
		technical = BuildIdeaContext(text)
	case ctxText != "":
		technical = ctxText
	default:
		return workflow.Request{}, inputErr("idea", "idea or context is required")
	}
	iterations, err := lim.iterations(req.Iterations)
	if err != nil {
		return workflow.Request{}, err
	}
	name, err := outputName(req.OutputName)
	if err != nil {
		return workflow.Request{}, err
	}
	templateID := strings.TrimSpace(req.TemplateID)
	if templateID != "" {
		if _, err := a.Templates.Path(templateID); err != nil {
			return workflow.Request{}, inputErr("templateId", "unknown template %q", templateID)
		}
	}
	return workflow.Request{Context: technical, Iterations: iterations, BaseName: name, TemplateID: templateID}, nil
}

// Generate blocks until every round completes.
func (a *App) Generate(ctx context.Context, req GenerateRequest, progress workflow.ProgressFunc) (workflow.Result, error) {
	wreq, err := a.prepare(req)
	if err != nil {
		return workflow.Result{}, err
	}
	return a.engine.Run(ctx, wreq, progress)
}

// Submit validates the request and queues it on the task manager.
func (a *App) Submit(req GenerateRequest) (string, error) {
	wreq, err := a.prepare(req)
	if err != nil {
		return "", err
	}
	return a.Tasks.Submit(func(ctx context.Context, progress tasks.ProgressFunc) (any, error) {
		res, err := a.engine.Run(ctx, wreq, workflow.ProgressFunc(progress))
		if err != nil {
			return nil, err
		}
		return res, nil
	})
}

func (a *App) TaskStatus(id string) (tasks.View, bool) { return a.Tasks.Status(id) }

func (a *App) CancelTask(id string) bool { return a.Tasks.Cancel(id) }

func (a *App) Statistics() tasks.Stats { return a.Tasks.Statistics() }
