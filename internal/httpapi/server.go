package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/joelkehle/patent-drafter/internal/app"
	"github.com/joelkehle/patent-drafter/internal/chatlog"
	"github.com/joelkehle/patent-drafter/internal/conversation"
	"github.com/joelkehle/patent-drafter/internal/llm"
	"github.com/joelkehle/patent-drafter/internal/prompts"
	"github.com/joelkehle/patent-drafter/internal/tasks"
	"github.com/joelkehle/patent-drafter/internal/templates"
	"github.com/joelkehle/patent-drafter/internal/workflow"
)

const (
	maxBodyBytes  = 1 << 20
	reviewPreview = 2000
	chatLogLines  = 100
)

type Generator interface {
	Generate(ctx context.Context, req app.GenerateRequest, progress workflow.ProgressFunc) (workflow.Result, error)
	Submit(req app.GenerateRequest) (string, error)
	TaskStatus(id string) (tasks.View, bool)
	CancelTask(id string) bool
	Statistics() tasks.Stats
}

type PromptStore interface {
	All() map[prompts.Role]prompts.StoredOverride
	Set(role prompts.Role, text string) error
	Clear(role prompts.Role) error
}

type TemplateLister interface {
	List() ([]templates.Template, error)
	Analyze(id string) (templates.Analysis, error)
}

type ConversationReader interface {
	ListTasks(ctx context.Context, limit int) ([]conversation.Task, error)
	GetTask(ctx context.Context, id string) (conversation.Task, error)
	Rounds(ctx context.Context, id string) ([]conversation.Round, error)
	Round(ctx context.Context, id string, roundNumber int, role string) (conversation.Round, error)
	DeleteTask(ctx context.Context, id string) error
}

type ChatLogReader interface {
	Files() ([]chatlog.FileInfo, error)
	Preview(name string, maxLines int) (chatlog.Preview, error)
}

type Deps struct {
	Generator     Generator
	Prompts       PromptStore
	Templates     TemplateLister
	Conversations ConversationReader
	ChatLogs      ChatLogReader // nil when chat logging is off
	Provider      string
	Model         string
	Logger        zerolog.Logger
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	start  time.Time
}

// NewFromApp exposes every service held by a.
func NewFromApp(a *app.App, logger zerolog.Logger) http.Handler {
	cfg := a.Config()
	deps := Deps{
		Generator:     a,
		Prompts:       a.Overrides,
		Templates:     a.Templates,
		Conversations: a.Conversations,
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		Logger:        logger,
	}
	if a.ChatLog != nil {
		deps.ChatLogs = a.ChatLog
	}
	return NewServer(deps)
}

func NewServer(deps Deps) http.Handler {
	s := &Server{deps: deps, logger: deps.Logger.With().Str("component", "httpapi").Logger(), start: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/generate", s.handleGenerate)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/stats", s.handleTaskStats)
			r.Get("/{id}", s.handleTaskStatus)
			r.Post("/{id}/cancel", s.handleTaskCancel)
		})

		r.Route("/user-prompts", func(r chi.Router) {
			r.Get("/", s.handleListPrompts)
			r.Get("/{role}", s.handleGetPrompt)
			r.Put("/{role}", s.handleSetPrompt)
			r.Delete("/{role}", s.handleClearPrompt)
		})

		r.Get("/templates", s.handleListTemplates)
		r.Get("/templates/{id}", s.handleTemplateAnalysis)

		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
		r.Get("/conversations/{id}/rounds/{n}/{role}", s.handleGetRound)

		r.Get("/chat-logs", s.handleListChatLogs)
		r.Get("/chat-logs/{name}", s.handlePreviewChatLog)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(blob) > maxBodyBytes {
		return errors.New("request body too large")
	}
	if len(strings.TrimSpace(string(blob))) == 0 {
		return errors.New("request body is empty")
	}
	return json.Unmarshal(blob, dst)
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"status":   "healthy",
		"provider": s.deps.Provider,
		"model":    s.deps.Model,
		"uptime":   time.Since(s.start).Round(time.Second).String(),
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req app.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object: "+err.Error())
		return
	}
	if req.Async {
		id, err := s.deps.Generator.Submit(req)
		if err != nil {
			s.writeGenerateError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "taskId": id, "status": tasks.StatusPending})
		return
	}

	res, err := s.deps.Generator.Generate(r.Context(), req, nil)
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"outputPath":        relativePath(res.OutputPath),
		"iterations":        res.Iterations,
		"lastReviewPreview": preview(res.LastReview, reviewPreview),
		"renderedPath":      relativePath(res.RenderedPath),
		"templateId":        res.TemplateID,
		"taskId":            res.ConversationID,
	})
}

func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	switch {
	case app.IsInputError(err), llm.IsInputError(err), errors.Is(err, workflow.ErrEmptyContext), errors.Is(err, prompts.ErrPromptTooLarge):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, tasks.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		s.logger.Error().Err(err).Msg("generation failed")
		writeError(w, http.StatusInternalServerError, "generation_failed", tasks.SanitizeError(err))
	}
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	view, ok := s.deps.Generator.TaskStatus(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Generator.TaskStatus(id); !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if !s.deps.Generator.CancelTask(id) {
		writeError(w, http.StatusConflict, "not_cancellable", "task already finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "taskId": id, "status": tasks.StatusCancelled})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Generator.Statistics())
}

type promptView struct {
	Role      prompts.Role `json:"role"`
	Text      string       `json:"text"`
	Active    bool         `json:"active"`
	UpdatedAt *time.Time   `json:"updatedAt,omitempty"`
}

func viewPrompt(role prompts.Role, all map[prompts.Role]prompts.StoredOverride) promptView {
	v := promptView{Role: role}
	if o, ok := all[role]; ok && o.Text != "" {
		v.Text, v.Active = o.Text, true
		at := o.UpdatedAt
		v.UpdatedAt = &at
	}
	return v
}

func (s *Server) roleParam(w http.ResponseWriter, r *http.Request) (prompts.Role, bool) {
	role, err := prompts.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_role", err.Error())
		return "", false
	}
	return role, true
}

func (s *Server) handleListPrompts(w http.ResponseWriter, _ *http.Request) {
	all := s.deps.Prompts.All()
	out := make([]promptView, 0, len(prompts.Roles))
	for _, role := range prompts.Roles {
		out = append(out, viewPrompt(role, all))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "prompts": out})
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	role, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewPrompt(role, s.deps.Prompts.All()))
}

func (s *Server) handleSetPrompt(w http.ResponseWriter, r *http.Request) {
	role, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.deps.Prompts.Set(role, body.Text); err != nil {
		s.logger.Error().Err(err).Str("role", string(role)).Msg("save prompt override")
		writeError(w, http.StatusInternalServerError, "internal", "failed to save prompt")
		return
	}
	writeJSON(w, http.StatusOK, viewPrompt(role, s.deps.Prompts.All()))
}

func (s *Server) handleClearPrompt(w http.ResponseWriter, r *http.Request) {
	role, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	if err := s.deps.Prompts.Clear(role); err != nil {
		s.logger.Error().Err(err).Str("role", string(role)).Msg("clear prompt override")
		writeError(w, http.StatusInternalServerError, "internal", "failed to clear prompt")
		return
	}
	writeJSON(w, http.StatusOK, viewPrompt(role, nil))
}

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	list, err := s.deps.Templates.List()
	if err != nil {
		s.logger.Error().Err(err).Msg("list templates")
		writeError(w, http.StatusInternalServerError, "internal", "failed to list templates")
		return
	}
	if list == nil {
		list = []templates.Template{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "templates": list})
}

func (s *Server) handleTemplateAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Templates.Analyze(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, templates.ErrTemplateNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "template not found")
			return
		}
		s.logger.Error().Err(err).Msg("analyze template")
		writeError(w, http.StatusInternalServerError, "internal", "failed to analyze template")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Conversations.ListTasks(r.Context(), parseInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		s.logger.Error().Err(err).Msg("list conversations")
		writeError(w, http.StatusInternalServerError, "internal", "failed to list conversations")
		return
	}
	if list == nil {
		list = []conversation.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversations": list})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := s.deps.Conversations.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		s.logger.Error().Err(err).Msg("get conversation")
		writeError(w, http.StatusInternalServerError, "internal", "failed to load conversation")
		return
	}
	rounds, err := s.deps.Conversations.Rounds(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Msg("load conversation rounds")
		writeError(w, http.StatusInternalServerError, "internal", "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversation": task, "rounds": rounds})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Conversations.DeleteTask(r.Context(), id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		s.logger.Error().Err(err).Str("conversation", id).Msg("delete conversation")
		writeError(w, http.StatusInternalServerError, "internal", "failed to delete conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": id})
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "invalid_round", "round number must be a positive integer")
		return
	}
	role, ok := s.roleParam(w, r)
	if !ok {
		return
	}
	round, err := s.deps.Conversations.Round(r.Context(), chi.URLParam(r, "id"), n, string(role))
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "round not found")
			return
		}
		s.logger.Error().Err(err).Msg("load conversation round")
		writeError(w, http.StatusInternalServerError, "internal", "failed to load round")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "round": round})
}

func (s *Server) handleListChatLogs(w http.ResponseWriter, _ *http.Request) {
	if s.deps.ChatLogs == nil {
		writeError(w, http.StatusNotFound, "disabled", "chat logging is disabled")
		return
	}
	files, err := s.deps.ChatLogs.Files()
	if err != nil {
		s.logger.Error().Err(err).Msg("list chat logs")
		writeError(w, http.StatusInternalServerError, "internal", "failed to list chat logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "files": files})
}

func (s *Server) handlePreviewChatLog(w http.ResponseWriter, r *http.Request) {
	if s.deps.ChatLogs == nil {
		writeError(w, http.StatusNotFound, "disabled", "chat logging is disabled")
		return
	}
	lines := parseInt(r.URL.Query().Get("lines"), chatLogLines)
	if lines < 1 || lines > 1000 {
		lines = chatLogLines
	}
	p, err := s.deps.ChatLogs.Preview(chi.URLParam(r, "name"), lines)
	switch {
	case errors.Is(err, chatlog.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid_name", err.Error())
	case errors.Is(err, chatlog.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "chat log not found")
	case err != nil:
		s.logger.Error().Err(err).Msg("preview chat log")
		writeError(w, http.StatusInternalServerError, "internal", "failed to read chat log")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "preview": p})
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// relativePath reports paths relative to the working directory when possible.
func relativePath(p string) string {
	if p == "" {
		return ""
	}
	wd, err := os.Getwd()
	if err != nil {
		return p
	}
	rel, err := filepath.Rel(wd, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return rel
}
