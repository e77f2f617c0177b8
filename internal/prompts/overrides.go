package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type StoredOverride struct {
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

type overrideState struct {
	Prompts map[Role]StoredOverride `json:"prompts"`
}

// OverrideStore keeps per-role user prompts in a JSON file.
type OverrideStore struct {
	mu    sync.RWMutex
	path  string
	state overrideState
	clock func() time.Time
}

func OpenOverrideStore(path string) (*OverrideStore, error) {
	s := &OverrideStore{path: path, clock: time.Now}
	state, err := loadOverrides(path)
	if err != nil {
		return nil, err
	}
	s.state = state
	return s, nil
}

// Get returns the trimmed override for role, or "" when none is set.
func (s *OverrideStore) Get(role Role) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Prompts[role].Text
}

func (s *OverrideStore) Set(role Role, text string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return s.Clear(role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.copyState()
	next.Prompts[role] = StoredOverride{Text: text, UpdatedAt: s.clock().UTC()}
	if err := saveOverrides(s.path, next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *OverrideStore) Clear(role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.Prompts[role]; !ok {
		return nil
	}
	next := s.copyState()
	delete(next.Prompts, role)
	if err := saveOverrides(s.path, next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *OverrideStore) All() map[Role]StoredOverride {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyState().Prompts
}

func (s *OverrideStore) copyState() overrideState {
	out := overrideState{Prompts: make(map[Role]StoredOverride, len(s.state.Prompts))}
	for k, v := range s.state.Prompts {
		out.Prompts[k] = v
	}
	return out
}

func loadOverrides(path string) (overrideState, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return overrideState{Prompts: map[Role]StoredOverride{}}, nil
		}
		return overrideState{}, err
	}
	var state overrideState
	if err := json.Unmarshal(blob, &state); err != nil {
		return overrideState{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if state.Prompts == nil {
		state.Prompts = map[Role]StoredOverride{}
	}
	return state, nil
}

func saveOverrides(path string, state overrideState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
