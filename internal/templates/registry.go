package templates

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrTemplateNotFound = errors.New("template not found")

type Template struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Path    string    `json:"-"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modifiedAt"`
}

// Registry exposes the HTML document templates found in a directory. The
// template id is the file name without extension.
type Registry struct {
	dir   string
	cache *lru.Cache[string, Analysis]
}

func NewRegistry(dir string, cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New[string, Analysis](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{dir: dir, cache: cache}, nil
}

func (r *Registry) List() ([]Template, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Template
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		t, err := r.Get(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) Get(id string) (Template, error) {
	if !validID(id) {
		return Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}
	for _, ext := range []string{".html", ".htm"} {
		path := filepath.Join(r.dir, id+ext)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		t := Template{ID: id, Name: id, Path: path, Size: info.Size(), ModTime: info.ModTime()}
		if a, err := r.analyze(t); err == nil && a.Title != "" {
			t.Name = a.Title
		}
		return t, nil
	}
	return Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
}

func (r *Registry) Path(id string) (string, error) {
	t, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return t.Path, nil
}

func (r *Registry) Analyze(id string) (Analysis, error) {
	t, err := r.Get(id)
	if err != nil {
		return Analysis{}, err
	}
	return r.analyze(t)
}

func (r *Registry) analyze(t Template) (Analysis, error) {
	key := fmt.Sprintf("%s@%d", t.Path, t.ModTime.UnixNano())
	if a, ok := r.cache.Get(key); ok {
		return a, nil
	}
	f, err := os.Open(t.Path)
	if err != nil {
		return Analysis{}, err
	}
	defer f.Close()
	a, err := analyzeHTML(f)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze %s: %w", t.ID, err)
	}
	a.TemplateID = t.ID
	r.cache.Add(key, a)
	return a, nil
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
