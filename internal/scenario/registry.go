package scenario

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// ErrUnknown is returned for a scenario ID that is not registered.
var ErrUnknown = errors.New("unknown scenario")

// Registry holds the scenarios available to the engine.
type Registry struct {
	mu        sync.RWMutex
	scenarios map[string]*Scenario
	fallback  string
}

// NewRegistry returns an empty registry whose default is defaultID.
func NewRegistry(defaultID string) *Registry {
	return &Registry{
		scenarios: make(map[string]*Scenario),
		fallback:  defaultID,
	}
}

// LoadBuiltin returns a registry holding the embedded scenarios.
func LoadBuiltin(defaultID string) (*Registry, error) {
	r := NewRegistry(defaultID)
	if err := r.loadFS(builtinFS, "builtin"); err != nil {
		return nil, fmt.Errorf("load builtin scenarios: %w", err)
	}
	return r, nil
}

// LoadDir adds every *.yaml / *.yml file in dir, replacing scenarios with the
// same ID.
func (r *Registry) LoadDir(dir string) error {
	return r.loadFS(os.DirFS(dir), ".")
}

func (r *Registry) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("read scenario dir: %w", err)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, e.Name())))
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		s, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := r.Register(s); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		slog.Debug("Scenario loaded", "scenario", s.ID, "file", e.Name())
	}
	return nil
}

// Parse decodes and validates one YAML scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Register adds or replaces a scenario.
func (r *Registry) Register(s *Scenario) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[s.ID] = s
	return nil
}

// Get resolves an ID. An empty ID selects the default scenario.
func (r *Registry) Get(id string) (*Scenario, error) {
	if id == "" {
		id = r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, id)
	}
	return s, nil
}

// Default returns the ID used when none is requested.
func (r *Registry) Default() string {
	return r.fallback
}

// List returns all scenarios sorted by ID.
func (r *Registry) List() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Scenario) int { return strings.Compare(a.ID, b.ID) })
	return out
}
