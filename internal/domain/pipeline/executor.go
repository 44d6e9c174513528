package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted = errors.New("executor already started")
	ErrJoinTimeout    = errors.New("executor loops did not exit in time")
)

// Lifecycle is the executor's coarse state
type Lifecycle int32

const (
	LifecycleCreated Lifecycle = iota
	LifecycleRunning
	LifecycleStopping
	LifecycleExited
)

// String returns the string representation of the lifecycle
func (l Lifecycle) String() string {
	switch l {
	case LifecycleCreated:
		return "created"
	case LifecycleRunning:
		return "running"
	case LifecycleStopping:
		return "stopping"
	case LifecycleExited:
		return "exited"
	default:
		return "unknown"
	}
}

// ExitFunc is invoked once when the executor has fully exited
type ExitFunc func(success bool, errMsg string)

// ExecutorConfig configures the executor loops
type ExecutorConfig struct {
	// PollInterval bounds how long the signal loop waits for new work
	PollInterval time.Duration
	// StepInterval is the pause between successful steps
	StepInterval time.Duration
	// ErrorBackoff is the pause after a failed step
	ErrorBackoff time.Duration
	// JoinTimeout bounds Stop's wait for each loop
	JoinTimeout time.Duration

	Logger *zap.Logger

	// OnExit fires exactly once, after the last loop has returned
	OnExit ExitFunc
	// OnSignal fires on the signal loop after each handled signal
	OnSignal func(Signal)
}

// Executor drives a Pipeline with two concurrent loops: one dispatching
// queued signals and one calling Step repeatedly. Both observe the same
// stop flag.
type Executor struct {
	pipeline Pipeline
	queue    *Queue
	cfg      ExecutorConfig

	state atomic.Int32
	live  atomic.Int32

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	mu       sync.Mutex
	fatalErr string // Protected by mu

	signalDone chan struct{}
	stepDone   chan struct{}
	done       chan struct{}
	exitOnce   sync.Once
}

// NewExecutor creates an executor for p. Zero config values get defaults.
func NewExecutor(p Pipeline, cfg ExecutorConfig) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 100 * time.Millisecond
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		pipeline:   p,
		queue:      NewQueue(),
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		signalDone: make(chan struct{}),
		stepDone:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches both loops
func (e *Executor) Start() error {
	if !e.state.CompareAndSwap(int32(LifecycleCreated), int32(LifecycleRunning)) {
		return ErrAlreadyStarted
	}

	e.live.Store(2)
	go e.signalLoop()
	go e.stepLoop()
	return nil
}

// Signal enqueues a signal for the signal loop. It never blocks.
func (e *Executor) Signal(body string, priority Priority) {
	e.queue.Push(body, priority)
}

// RequestStop sets the stop flag without waiting for the loops
func (e *Executor) RequestStop() {
	e.stopOnce.Do(func() {
		e.state.CompareAndSwap(int32(LifecycleRunning), int32(LifecycleStopping))
		e.cancel()
	})
}

// Stop sets the stop flag and joins each loop for at most timeout. A
// non-positive timeout uses the configured JoinTimeout. Returns
// ErrJoinTimeout when a loop is still busy, typically inside a slow Step.
// Stopping an executor that never started exits it with success, and
// further calls return nil immediately.
func (e *Executor) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = e.cfg.JoinTimeout
	}

	if e.state.CompareAndSwap(int32(LifecycleCreated), int32(LifecycleExited)) {
		e.stopOnce.Do(e.cancel)
		// No loop will ever close these
		close(e.signalDone)
		close(e.stepDone)
		e.exit()
		return nil
	}

	e.RequestStop()

	var err error
	for _, loop := range []chan struct{}{e.signalDone, e.stepDone} {
		timer := time.NewTimer(timeout)
		select {
		case <-loop:
		case <-timer.C:
			err = ErrJoinTimeout
		}
		timer.Stop()
	}
	return err
}

// Done is closed once both loops have exited and OnExit has returned
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Lifecycle returns the current lifecycle state
func (e *Executor) Lifecycle() Lifecycle {
	return Lifecycle(e.state.Load())
}

// Running reports whether the loops are active and no stop was requested
func (e *Executor) Running() bool {
	return e.Lifecycle() == LifecycleRunning
}

// Err returns the loop-fatal error message, if any
func (e *Executor) Err() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatalErr
}

// Status snapshots the pipeline together with the executor state
func (e *Executor) Status() Status {
	return Snapshot(e.pipeline, e.Running(), e.Err())
}

func (e *Executor) stopping() bool {
	return e.ctx.Err() != nil
}

func (e *Executor) signalLoop() {
	defer e.loopExited()
	defer close(e.signalDone)
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Sprintf("signal loop: %v", r))
		}
	}()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for !e.stopping() {
		if sig, ok := e.queue.TryPop(); ok {
			e.cfg.Logger.Debug("Handling signal",
				zap.String("signal", sig.Body),
				zap.Stringer("priority", sig.Priority),
			)
			e.pipeline.HandleSignal(sig.Body)
			if e.cfg.OnSignal != nil {
				e.cfg.OnSignal(sig)
			}
			continue
		}

		select {
		case <-e.ctx.Done():
		case <-e.queue.Ready():
		case <-ticker.C:
		}
	}
}

func (e *Executor) stepLoop() {
	defer e.loopExited()
	defer close(e.stepDone)

	for !e.stopping() {
		pause := e.cfg.StepInterval

		if err := e.step(); err != nil {
			if errors.Is(err, ErrFatal) {
				e.fail(err.Error())
				return
			}
			e.cfg.Logger.Warn("Pipeline step failed", zap.Error(err))
			pause = e.cfg.ErrorBackoff
		}

		if pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-e.ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

// step runs one Step, converting panics into ordinary step errors
func (e *Executor) step() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panic: %v", r)
		}
	}()
	return e.pipeline.Step(e.ctx)
}

func (e *Executor) fail(msg string) {
	e.cfg.Logger.Error("Pipeline loop failed", zap.String("error", msg))

	e.mu.Lock()
	if e.fatalErr == "" {
		e.fatalErr = msg
	}
	e.mu.Unlock()

	e.RequestStop()
}

func (e *Executor) loopExited() {
	if e.live.Add(-1) != 0 {
		return
	}

	e.state.Store(int32(LifecycleExited))
	e.exit()
}

// exit runs OnExit once and then closes done
func (e *Executor) exit() {
	e.exitOnce.Do(func() {
		defer close(e.done)
		if e.cfg.OnExit == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				e.cfg.Logger.Error("Exit callback panicked", zap.Any("panic", r))
			}
		}()
		errMsg := e.Err()
		e.cfg.OnExit(errMsg == "", errMsg)
	})
}
