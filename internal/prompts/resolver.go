package prompts

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

var ErrPromptTooLarge = errors.New("prompt exceeds input limit")

type Request struct {
	Role         Role
	Context      string
	PriorDraft   string
	PriorReview  string
	CurrentDraft string
	Round        int
	TotalRounds  int
	TemplateID   string
}

type Resolution struct {
	Prompt     string
	Source     string
	Compressed bool
}

// Source is one link of the resolution chain. ok=false passes to the next link.
type Source interface {
	Name() string
	Resolve(req Request) (prompt string, ok bool, err error)
}

type OverrideGetter interface {
	Get(role Role) string
}

type Lookuper interface {
	Lookup(key string, vars map[string]string) (string, error)
}

// GuidanceProvider supplies template-aware additions for catalog prompts.
type GuidanceProvider interface {
	Guidance(templateID string, role Role) (string, error)
}

type Resolver struct {
	sources  []Source
	maxChars int
	logger   zerolog.Logger
}

// NewResolver builds the chain override -> catalog -> fallback. Nil
// collaborators drop their link; the fallback link is always present.
func NewResolver(overrides OverrideGetter, catalog Lookuper, guidance GuidanceProvider, maxChars int, logger zerolog.Logger) *Resolver {
	var sources []Source
	if overrides != nil {
		sources = append(sources, overrideSource{store: overrides})
	}
	if catalog != nil {
		sources = append(sources, catalogSource{catalog: catalog, guidance: guidance, logger: logger})
	}
	return NewChain(maxChars, logger, sources...)
}

func NewChain(maxChars int, logger zerolog.Logger, sources ...Source) *Resolver {
	sources = append(sources, fallbackSource{})
	return &Resolver{
		sources:  sources,
		maxChars: maxChars,
		logger:   logger.With().Str("component", "prompt_resolver").Logger(),
	}
}

func (r *Resolver) Resolve(req Request) (Resolution, error) {
	if !req.Role.Valid() {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidRole, req.Role)
	}
	if req.TotalRounds < 1 {
		req.TotalRounds = 1
	}
	if req.Round < 1 || req.Round > req.TotalRounds {
		return Resolution{}, fmt.Errorf("round %d out of range 1..%d", req.Round, req.TotalRounds)
	}
	for _, src := range r.sources {
		prompt, ok, err := src.Resolve(req)
		if err != nil {
			r.logger.Warn().Err(err).Str("source", src.Name()).Str("role", string(req.Role)).Msg("prompt source failed, falling through")
			continue
		}
		if !ok {
			continue
		}
		return r.fit(src, req, Resolution{Prompt: prompt, Source: src.Name()})
	}
	return Resolution{}, errors.New("no prompt source produced a prompt")
}

func (r *Resolver) fit(src Source, req Request, res Resolution) (Resolution, error) {
	if r.maxChars <= 0 || utf8.RuneCountInString(res.Prompt) <= r.maxChars {
		return res, nil
	}
	cur := req
	for pass := 0; pass < maxCompressPasses; pass++ {
		excess := utf8.RuneCountInString(res.Prompt) - r.maxChars
		next, changed := shrinkLargest(cur, excess)
		if !changed {
			break
		}
		cur = next
		prompt, ok, err := src.Resolve(cur)
		if err != nil || !ok {
			break
		}
		res.Prompt = prompt
		res.Compressed = true
		if utf8.RuneCountInString(prompt) <= r.maxChars {
			r.logger.Info().Str("role", string(req.Role)).Int("passes", pass+1).Msg("prompt compressed to fit input limit")
			return res, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %d > %d characters for %s", ErrPromptTooLarge, utf8.RuneCountInString(res.Prompt), r.maxChars, req.Role)
}

type overrideSource struct {
	store OverrideGetter
}

func (overrideSource) Name() string { return "override" }

func (s overrideSource) Resolve(req Request) (string, bool, error) {
	text := s.store.Get(req.Role)
	if text == "" {
		return "", false, nil
	}
	return ParseTemplate(req.Role, text).Render(markerValues(req)), true, nil
}

type catalogSource struct {
	catalog  Lookuper
	guidance GuidanceProvider
	logger   zerolog.Logger
}

func (catalogSource) Name() string { return "catalog" }

func CatalogKey(role Role) string {
	return "patent." + string(role) + ".base_prompt"
}

func (s catalogSource) Resolve(req Request) (string, bool, error) {
	prompt, err := s.catalog.Lookup(CatalogKey(req.Role), catalogVars(req))
	if err != nil {
		if errors.Is(err, ErrPromptNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if prompt == "" {
		return "", false, nil
	}
	if extra := s.templateGuidance(req); extra != "" {
		prompt += "\n\n" + extra
	}
	return prompt, true, nil
}

func (s catalogSource) templateGuidance(req Request) (out string) {
	if s.guidance == nil || req.TemplateID == "" {
		return ""
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Debug().Interface("panic", rec).Msg("template guidance panicked")
			out = ""
		}
	}()
	g, err := s.guidance.Guidance(req.TemplateID, req.Role)
	if err != nil {
		s.logger.Debug().Err(err).Str("template_id", req.TemplateID).Msg("template guidance unavailable")
		return ""
	}
	return g
}

func catalogVars(req Request) map[string]string {
	return map[string]string{
		"context":          req.Context,
		"previous_draft":   req.PriorDraft,
		"previous_review":  req.PriorReview,
		"current_draft":    req.CurrentDraft,
		"iteration":        strconv.Itoa(req.Round),
		"total_iterations": strconv.Itoa(req.TotalRounds),
	}
}

type fallbackSource struct{}

func (fallbackSource) Name() string { return "fallback" }

func (fallbackSource) Resolve(req Request) (string, bool, error) {
	return fallbackPrompt(req), true, nil
}
