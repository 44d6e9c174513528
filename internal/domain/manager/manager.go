package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/process"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/monitoring"
)

// ErrNotRunning is returned when signalling a pipeline that is not managed
var ErrNotRunning = process.ErrNotRunning

// overrideExts are tried in order when loading per-pipeline config files
var overrideExts = []string{".yaml", ".yml", ".toml", ".json"}

// Settings configures how pipelines are supervised
type Settings struct {
	StartTimeout   time.Duration
	StopTimeout    time.Duration
	StatusInterval time.Duration
	// ConfigDir holds optional <name>.yaml|yml|toml|json overrides
	ConfigDir string
}

// Hooks let the transport layer observe pipeline activity
type Hooks struct {
	// OnStatus receives every status snapshot reported by a child
	OnStatus func(name string, status pipeline.Status)
	// OnStopped fires after a pipeline has been stopped and forgotten
	OnStopped func(name string)
}

type managed struct {
	proc   *process.Process
	config pipeline.Config
}

// Manager owns the set of running pipelines, keyed by name
type Manager struct {
	lifecycle sync.Mutex // serializes create/stop
	mu        sync.RWMutex
	pipelines map[string]*managed // Protected by mu

	registry *pipeline.Registry
	launcher process.Launcher
	settings Settings
	hooks    Hooks
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewManager creates a manager
func NewManager(registry *pipeline.Registry, launcher process.Launcher, settings Settings) *Manager {
	if settings.StopTimeout <= 0 {
		settings.StopTimeout = 5 * time.Second
	}
	return &Manager{
		pipelines: make(map[string]*managed),
		registry:  registry,
		launcher:  launcher,
		settings:  settings,
		logger:    zap.NewNop(),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithLogger sets the logger
func (m *Manager) WithLogger(logger *zap.Logger) *Manager {
	m.logger = logger
	return m
}

// WithHooks installs lifecycle hooks
func (m *Manager) WithHooks(hooks Hooks) *Manager {
	m.hooks = hooks
	return m
}

// Registry returns the pipeline registry
func (m *Manager) Registry() *pipeline.Registry {
	return m.registry
}

// Create starts the named pipeline, replacing any running instance of the
// same name. An unknown name fails with pipeline.ErrUnknownPipeline and
// leaves existing pipelines untouched.
func (m *Manager) Create(ctx context.Context, name string, override pipeline.Config) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if _, err := m.registry.Lookup(name); err != nil {
		m.recordCreate(name, err)
		return err
	}

	fileCfg, err := m.loadOverride(name)
	if err != nil {
		m.recordCreate(name, err)
		return err
	}
	cfg := pipeline.Merge(fileCfg, override)

	if m.has(name) {
		m.logger.Info("Replacing running pipeline", zap.String("pipeline", name))
		m.stopLocked(name)
	}

	proc := process.New(name, cfg, m.launcher, process.Options{
		StartTimeout:   m.settings.StartTimeout,
		StatusInterval: m.settings.StatusInterval,
		OnStatus:       m.onStatus,
		Logger:         m.logger,
	})
	if err := proc.Start(ctx); err != nil {
		m.logger.Error("Failed to create pipeline", zap.String("pipeline", name), zap.Error(err))
		m.recordCreate(name, err)
		return err
	}

	m.mu.Lock()
	m.pipelines[name] = &managed{proc: proc, config: cfg}
	count := len(m.pipelines)
	m.mu.Unlock()

	m.recordCreate(name, nil)
	if m.metrics != nil {
		m.metrics.SetPipelinesActive(count)
	}
	m.logger.Info("Pipeline created", zap.String("pipeline", name), zap.String("run_id", proc.RunID()))
	return nil
}

// Stop stops and forgets the named pipeline. Stopping an absent pipeline
// succeeds. The result is false only when the pipeline had to be killed.
func (m *Manager) Stop(name string) bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	return m.stopLocked(name)
}

func (m *Manager) stopLocked(name string) bool {
	m.mu.Lock()
	entry, ok := m.pipelines[name]
	delete(m.pipelines, name)
	count := len(m.pipelines)
	m.mu.Unlock()

	if !ok {
		return true
	}

	graceful := entry.proc.Stop(m.settings.StopTimeout)
	if m.metrics != nil {
		m.metrics.RecordStop(name, graceful)
		m.metrics.SetPipelinesActive(count)
	}
	if m.hooks.OnStopped != nil {
		m.hooks.OnStopped(name)
	}
	m.logger.Info("Pipeline stopped", zap.String("pipeline", name), zap.Bool("graceful", graceful))
	return graceful
}

// Signal forwards a signal to the named pipeline
func (m *Manager) Signal(name, signal string, priority pipeline.Priority) error {
	entry, ok := m.get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	if err := entry.proc.Signal(signal, priority); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordSignal(name, priority.String())
	}
	m.logger.Debug("Signal sent",
		zap.String("pipeline", name),
		zap.String("signal", signal),
		zap.Stringer("priority", priority),
	)
	return nil
}

// Status returns the named pipeline's latest status. An unmanaged name
// yields a not-running snapshot with a null state. Never blocks on the
// pipeline itself.
func (m *Manager) Status(name string) Snapshot {
	meta := m.meta(name)
	entry, ok := m.get(name)
	if !ok {
		return newSnapshot(name, "", pipeline.Status{Timestamp: pipeline.Timestamp(time.Now())}, meta, nil)
	}
	return newSnapshot(name, entry.proc.RunID(), entry.proc.Status(), meta, entry.config)
}

// StatusAll returns the status of every managed pipeline, sorted by name
func (m *Manager) StatusAll() []Snapshot {
	names := m.Running()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		out = append(out, m.Status(name))
	}
	return out
}

// Running returns the managed pipeline names, sorted
func (m *Manager) Running() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.pipelines))
	for name := range m.pipelines {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// IsRunning reports whether name is managed and its child is alive
func (m *Manager) IsRunning(name string) bool {
	entry, ok := m.get(name)
	return ok && entry.proc.Alive()
}

// Available lists the registered pipeline kinds
func (m *Manager) Available() []pipeline.Meta {
	return m.registry.List()
}

// Cleanup stops every pipeline concurrently and clears the registry
func (m *Manager) Cleanup() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	var wg sync.WaitGroup
	for _, name := range m.Running() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.stopLocked(name)
		}(name)
	}
	wg.Wait()

	m.registry.Clear()
	m.logger.Info("Pipeline manager cleaned up")
}

func (m *Manager) onStatus(name string, status pipeline.Status) {
	if m.metrics != nil {
		m.metrics.RecordStatus(name)
	}
	if m.hooks.OnStatus != nil {
		m.hooks.OnStatus(name, status)
	}
}

func (m *Manager) get(name string) (*managed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.pipelines[name]
	return entry, ok
}

func (m *Manager) has(name string) bool {
	_, ok := m.get(name)
	return ok
}

func (m *Manager) meta(name string) pipeline.Meta {
	entry, err := m.registry.Lookup(name)
	if err != nil {
		return pipeline.Meta{Name: name}
	}
	return entry.Meta
}

// loadOverride reads <ConfigDir>/<name>.<ext> if present
func (m *Manager) loadOverride(name string) (pipeline.Config, error) {
	if m.settings.ConfigDir == "" {
		return nil, nil
	}
	for _, ext := range overrideExts {
		path := filepath.Join(m.settings.ConfigDir, name+ext)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		cfg, err := pipeline.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", name, err)
		}
		m.logger.Info("Loaded pipeline config override", zap.String("pipeline", name), zap.String("path", path))
		return cfg, nil
	}
	return nil, nil
}

func (m *Manager) recordCreate(name string, err error) {
	if m.metrics != nil {
		m.metrics.RecordCreate(name, err)
	}
}
