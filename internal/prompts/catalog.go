package prompts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var ErrPromptNotFound = errors.New("prompt not found")

var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

type CatalogEntry struct {
	Metadata struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
	} `yaml:"metadata"`
	Prompt struct {
		Role             string   `yaml:"role"`
		Objective        string   `yaml:"objective"`
		RequirementsHead string   `yaml:"requirements_title"`
		Requirements     []string `yaml:"requirements"`
		OutputFormat     string   `yaml:"output_format"`
	} `yaml:"prompt"`
	IterationPhases struct {
		First      string `yaml:"first"`
		Subsequent string `yaml:"subsequent"`
	} `yaml:"iteration_phases"`
	ContextSections []ContextSection `yaml:"context_sections"`
}

type ContextSection struct {
	Title    string `yaml:"title"`
	Content  string `yaml:"content"`
	Requires string `yaml:"requires"`
}

// Catalog holds prompt entries loaded from YAML files under a directory.
// Keys are the dotted relative path without extension, e.g.
// patent/writer/base_prompt.yaml -> patent.writer.base_prompt.
type Catalog struct {
	dir    string
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]CatalogEntry
}

func LoadCatalog(dir string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{dir: dir, logger: logger.With().Str("component", "prompt_catalog").Logger()}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Reload() error {
	entries := map[string]CatalogEntry{}
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		blob, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var entry CatalogEntry
		if err := yaml.Unmarshal(blob, &entry); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		key := strings.ReplaceAll(filepath.ToSlash(strings.TrimSuffix(rel, ext)), "/", ".")
		entries[key] = entry
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup renders the entry for key. Sections whose required variable is
// empty are skipped, and "iteration" selects the first or subsequent phase.
func (c *Catalog) Lookup(key string, vars map[string]string) (string, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPromptNotFound, key)
	}

	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(interpolate(s, vars)); s != "" {
			parts = append(parts, s)
		}
	}
	add(entry.Prompt.Role)
	add(entry.Prompt.Objective)
	if len(entry.Prompt.Requirements) > 0 {
		var b strings.Builder
		head := entry.Prompt.RequirementsHead
		if head == "" {
			head = "整体要求："
		}
		b.WriteString(head)
		for _, r := range entry.Prompt.Requirements {
			b.WriteString("\n- ")
			b.WriteString(interpolate(r, vars))
		}
		parts = append(parts, b.String())
	}
	phase := entry.IterationPhases.First
	if vars["iteration"] != "" && vars["iteration"] != "1" && entry.IterationPhases.Subsequent != "" {
		phase = entry.IterationPhases.Subsequent
	}
	add(phase)
	for _, sec := range entry.ContextSections {
		if sec.Requires != "" && strings.TrimSpace(vars[sec.Requires]) == "" {
			continue
		}
		content := interpolate(sec.Content, vars)
		if sec.Title == "" {
			parts = append(parts, content)
			continue
		}
		parts = append(parts, sec.Title+"\n"+content)
	}
	add(entry.Prompt.OutputFormat)
	return strings.Join(parts, "\n\n"), nil
}

func interpolate(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		return vars[name]
	})
}

// Watch reloads the catalog whenever a file under dir changes. A failed
// reload keeps the previous entries. It returns when ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := addDirs(w, c.dir); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addDirs(w, ev.Name)
				}
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				if err := c.Reload(); err != nil {
					c.logger.Warn().Err(err).Str("path", ev.Name).Msg("prompt catalog reload failed")
					continue
				}
				c.logger.Info().Str("path", ev.Name).Int("entries", len(c.Keys())).Msg("prompt catalog reloaded")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn().Err(err).Msg("prompt catalog watcher error")
		}
	}
}

func addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
