package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/shared/codec"
)

var (
	ErrNotRunning     = errors.New("pipeline is not running")
	ErrStartTimeout   = errors.New("pipeline did not report status in time")
	ErrAlreadyStarted = errors.New("process already started")
)

// ExitedUnexpectedly is reported when a child dies while claiming to run
const ExitedUnexpectedly = "pipeline process exited unexpectedly"

// Options configures a Process
type Options struct {
	// StartTimeout bounds the wait for the child's first status
	StartTimeout time.Duration
	// StatusInterval is how often the child reports on its own
	StatusInterval time.Duration
	// Backlog bounds undrained status snapshots; older ones are dropped
	Backlog int
	// OnStatus observes every snapshot as it arrives
	OnStatus func(name string, status pipeline.Status)
	Logger   *zap.Logger
}

// Process is the parent-side handle of an isolated pipeline
type Process struct {
	name   string
	runID  string
	spec   ChildSpec
	opts   Options
	launch Launcher
	logger *zap.Logger

	sendMu sync.Mutex
	child  Child
	enc    *codec.Encoder

	updates    chan pipeline.Status
	statusMu   sync.Mutex
	last       pipeline.Status // Protected by statusMu
	haveStatus bool            // Protected by statusMu

	readerDone chan struct{}
	started    atomic.Bool
	stopping   atomic.Bool
	stopOnce   sync.Once
	graceful   bool
}

// New creates a process handle; nothing runs until Start
func New(name string, cfg pipeline.Config, launcher Launcher, opts Options) *Process {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 5 * time.Second
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	if opts.Backlog <= 0 {
		opts.Backlog = 32
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	runID := uuid.New().String()
	return &Process{
		name:       name,
		runID:      runID,
		spec:       ChildSpec{Name: name, Config: cfg, StatusInterval: opts.StatusInterval},
		opts:       opts,
		launch:     launcher,
		logger:     opts.Logger.With(zap.String("pipeline", name), zap.String("run_id", runID)),
		updates:    make(chan pipeline.Status, opts.Backlog),
		readerDone: make(chan struct{}),
	}
}

// Name returns the pipeline name
func (p *Process) Name() string { return p.name }

// RunID identifies this particular run of the pipeline
func (p *Process) RunID() string { return p.runID }

// Start launches the child and waits for its first status. A child that
// fails to build its pipeline reports ErrConstruction here.
func (p *Process) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	child, err := p.launch.Launch(ctx, p.spec)
	if err != nil {
		close(p.readerDone)
		return err
	}
	p.child = child
	p.enc = codec.NewEncoder(child.Inbound())
	p.logger = p.logger.With(zap.String("child", child.ID()))

	first := make(chan pipeline.Status, 1)
	go p.readLoop(first)

	// A child that never reads must not hold up the start timeout
	configSent := make(chan error, 1)
	go func() { configSent <- p.send(ConfigMessage(p.spec.Config)) }()

	timer := time.NewTimer(p.opts.StartTimeout)
	defer timer.Stop()

	for {
		select {
		case err := <-configSent:
			if err != nil {
				p.abort()
				return fmt.Errorf("%w: send config: %v", ErrConstruction, err)
			}
			configSent = nil
		case s := <-first:
			if !s.Running && s.Error != "" {
				p.abort()
				return fmt.Errorf("%w: %s", ErrConstruction, s.Error)
			}
			p.logger.Info("Pipeline process ready", zap.String("state", s.State))
			return nil
		case <-p.readerDone:
			p.abort()
			return fmt.Errorf("%w: process exited before reporting status", ErrConstruction)
		case <-timer.C:
			p.abort()
			return ErrStartTimeout
		case <-ctx.Done():
			p.abort()
			return ctx.Err()
		}
	}
}

// abort tears down a child that never became healthy
func (p *Process) abort() {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		_ = p.child.Kill()
		_ = p.child.Inbound().Close()
		p.waitDone(time.Second)
	})
}

func (p *Process) readLoop(first chan<- pipeline.Status) {
	defer close(p.readerDone)

	dec := codec.NewDecoder(p.child.Outbound())
	reported := false
	for {
		var s pipeline.Status
		if err := dec.Decode(&s); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.logger.Warn("Status stream failed", zap.Error(err))
			}
			return
		}

		p.push(s)
		if p.opts.OnStatus != nil {
			p.opts.OnStatus(p.name, s)
		}
		if !reported {
			first <- s
			reported = true
		}
	}
}

// push enqueues a snapshot, evicting the oldest when the backlog is full
func (p *Process) push(s pipeline.Status) {
	for {
		select {
		case p.updates <- s:
			return
		default:
		}
		select {
		case <-p.updates:
		default:
		}
	}
}

// Alive reports whether the child is running and not being stopped
func (p *Process) Alive() bool {
	if p.child == nil || p.stopping.Load() {
		return false
	}
	select {
	case <-p.child.Done():
		return false
	default:
		return true
	}
}

// Signal forwards a signal to the child's queue
func (p *Process) Signal(signal string, priority pipeline.Priority) error {
	if !p.Alive() {
		return ErrNotRunning
	}
	if err := p.send(SignalMessage(signal, priority)); err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	return nil
}

func (p *Process) send(msg Inbound) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.enc.Encode(msg)
}

// Status drains pending snapshots without blocking and returns the most
// recent one. If the child died while its last report still claimed to
// be running, the result says so.
func (p *Process) Status() pipeline.Status {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()

drain:
	for {
		select {
		case s := <-p.updates:
			p.last = s
			p.haveStatus = true
		default:
			break drain
		}
	}

	if !p.haveStatus {
		return pipeline.Status{Timestamp: pipeline.Timestamp(time.Now())}
	}

	s := p.last.Clone()
	if s.Running && p.exited() {
		s.Running = false
		if s.Error == "" && !p.stopping.Load() {
			s.Error = ExitedUnexpectedly
		}
	}
	return s
}

func (p *Process) exited() bool {
	if p.child == nil {
		return false
	}
	select {
	case <-p.child.Done():
		return true
	default:
		return false
	}
}

// Stop asks the child to stop and waits up to timeout for it to exit.
// On timeout the child is killed. Returns false when the shutdown was
// forced; it never fails. Repeated calls return the first result.
func (p *Process) Stop(timeout time.Duration) bool {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		if p.child == nil {
			p.graceful = true
			return
		}

		// A frozen child may never drain its input; don't let that block us
		go func() {
			if err := p.send(StopMessage()); err != nil {
				p.logger.Debug("Stop message not delivered", zap.Error(err))
			}
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-p.child.Done():
			p.graceful = true
		case <-timer.C:
			p.logger.Warn("Pipeline did not stop in time, killing", zap.Duration("timeout", timeout))
			if err := p.child.Kill(); err != nil {
				p.logger.Error("Kill failed", zap.Error(err))
			}
			p.graceful = false
		}

		_ = p.child.Inbound().Close()
		p.waitDone(time.Second)
		p.logger.Info("Pipeline process stopped", zap.Bool("graceful", p.graceful))
	})
	return p.graceful
}

// waitDone waits for the child to exit and its last frames to be read
func (p *Process) waitDone(bound time.Duration) {
	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case <-p.child.Done():
	case <-timer.C:
		return
	}
	select {
	case <-p.readerDone:
	case <-timer.C:
	}
}
