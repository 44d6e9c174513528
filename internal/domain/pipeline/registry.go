package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrUnknownPipeline   = errors.New("unknown pipeline")
	ErrDuplicatePipeline = errors.New("pipeline already registered")
)

// Meta describes a pipeline kind without constructing it
type Meta struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	AvailableSignals []string `json:"available_signals"`
	AvailableStates  []string `json:"available_states"`
	AvailableQueues  []string `json:"available_queues"`
}

// QueuePublisher publishes pipeline data to named queues for live
// viewers. Implementations must be safe for concurrent use.
type QueuePublisher interface {
	Publish(ctx context.Context, queue string, data map[string]any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, map[string]any) error { return nil }

// NopPublisher discards everything
func NopPublisher() QueuePublisher { return nopPublisher{} }

// Env is handed to a pipeline constructor
type Env struct {
	Name      string
	Config    Config
	Publisher QueuePublisher
	Logger    *zap.Logger
}

// Factory constructs a pipeline. Returned errors are construction errors.
type Factory func(env Env) (Pipeline, error)

// Entry is a registered pipeline kind
type Entry struct {
	Meta     Meta
	Defaults Config
	New      Factory
}

// Registry maps pipeline names to their constructors. It is an explicit
// value owned by whoever builds the process, never package state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry // Protected by mu
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a pipeline kind
func (r *Registry) Register(e Entry) error {
	if e.Meta.Name == "" {
		return errors.New("pipeline name is required")
	}
	if e.New == nil {
		return fmt.Errorf("pipeline %s: constructor is required", e.Meta.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.Meta.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePipeline, e.Meta.Name)
	}
	r.entries[e.Meta.Name] = e
	return nil
}

// Lookup returns the entry for name
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
	}
	return e, nil
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// List returns metadata for every kind, sorted by name
func (r *Registry) List() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metas := make([]Meta, 0, len(r.entries))
	for _, e := range r.entries {
		metas = append(metas, e.Meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas
}

// Names returns the registered names, sorted
func (r *Registry) Names() []string {
	metas := r.List()
	names := make([]string, len(metas))
	for i, m := range metas {
		names[i] = m.Name
	}
	return names
}

// Clear removes every entry
func (r *Registry) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]Entry)
	r.mu.Unlock()
}

// Build constructs the named pipeline with its defaults merged under
// override. env.Name and env.Config are filled in.
func (r *Registry) Build(name string, override Config, env Env) (Pipeline, error) {
	e, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	env.Name = name
	env.Config = Merge(e.Defaults, override)
	if env.Publisher == nil {
		env.Publisher = NopPublisher()
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}

	p, err := e.New(env)
	if err != nil {
		return nil, fmt.Errorf("construct pipeline %s: %w", name, err)
	}
	return p, nil
}
