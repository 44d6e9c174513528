package process

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
)

var goroutineSeq atomic.Uint64

// GoroutineLauncher runs children in-process. Panics are contained, but
// a pipeline that blocks forever inside Step cannot be reclaimed; use
// ExecLauncher where that matters.
type GoroutineLauncher struct {
	Registry *pipeline.Registry
	// PublisherFor supplies the queue publisher for a pipeline; nil disables publishing
	PublisherFor func(name string) pipeline.QueuePublisher
	Logger       *zap.Logger
}

// Launch starts RunChild on a new goroutine
func (l *GoroutineLauncher) Launch(ctx context.Context, spec ChildSpec) (Child, error) {
	if l.Registry == nil {
		return nil, fmt.Errorf("goroutine launcher: registry is required")
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	childCtx, cancel := context.WithCancel(context.Background())

	c := &goroutineChild{
		id:     fmt.Sprintf("g%d", goroutineSeq.Add(1)),
		in:     inW,
		inR:    inR,
		out:    outR,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var publisher pipeline.QueuePublisher
	if l.PublisherFor != nil {
		publisher = l.PublisherFor(spec.Name)
	}

	opts := ChildOptions{
		Registry:       l.Registry,
		Name:           spec.Name,
		In:             inR,
		Out:            outW,
		StatusInterval: spec.StatusInterval,
		Publisher:      publisher,
		Logger:         logger.With(zap.String("child", c.id)),
	}

	go func() {
		defer close(c.done)
		defer outW.Close()
		// Unblocks a parent still writing after the child is gone
		defer inR.CloseWithError(io.ErrClosedPipe)
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("pipeline child panicked: %v", r)
			}
		}()
		c.err = RunChild(childCtx, opts)
	}()

	return c, nil
}

type goroutineChild struct {
	id     string
	in     *io.PipeWriter
	inR    *io.PipeReader
	out    *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (c *goroutineChild) ID() string              { return c.id }
func (c *goroutineChild) Inbound() io.WriteCloser { return c.in }
func (c *goroutineChild) Outbound() io.Reader     { return c.out }
func (c *goroutineChild) Done() <-chan struct{}   { return c.done }

func (c *goroutineChild) Err() error {
	<-c.done
	return c.err
}

// Kill cancels the child's context and severs its input
func (c *goroutineChild) Kill() error {
	c.cancel()
	c.inR.CloseWithError(io.ErrClosedPipe)
	return nil
}
