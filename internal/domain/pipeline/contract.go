package pipeline

import (
	"context"
	"errors"
)

// ErrFatal marks a step error that must end the pipeline. Wrap it with
// fmt.Errorf("...: %w", ErrFatal) to stop both loops.
var ErrFatal = errors.New("fatal pipeline error")

// Pipeline is a signal-driven state machine driven by the executor.
//
// Step and HandleSignal run on different goroutines and may overlap.
// Implementations guard their own shared state.
type Pipeline interface {
	// Step performs one unit of work. ctx is cancelled once the executor
	// is stopping. Errors are logged and the loop continues unless the
	// error wraps ErrFatal.
	Step(ctx context.Context) error

	// HandleSignal reacts to a control signal. Unknown signals are ignored.
	HandleSignal(signal string)

	CurrentState() string
	AvailableSignals() []string
	AvailableStates() []string
}

// Closer is implemented by pipelines holding resources that must be
// released after both loops have exited.
type Closer interface {
	Close() error
}
