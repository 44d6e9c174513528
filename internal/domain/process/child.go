package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/shared/codec"
)

var ErrConstruction = errors.New("pipeline construction failed")

// StateError is the state reported when a pipeline cannot be built
const StateError = "error"

// ChildOptions configures RunChild
type ChildOptions struct {
	Registry *pipeline.Registry
	Name     string

	// In carries the config message first, then signals and stop
	In  io.Reader
	Out io.Writer

	StatusInterval time.Duration
	Publisher      pipeline.QueuePublisher
	Logger         *zap.Logger
}

// RunChild is the child-side entry point. It reads the configuration
// message, builds the pipeline, starts the executor, relays inbound messages and writes status snapshots
// until the pipeline exits or ctx is cancelled. Closing In (the parent
// went away) is treated like a stop message.
func RunChild(ctx context.Context, opts ChildOptions) error {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("pipeline", opts.Name))

	out := &statusWriter{enc: codec.NewEncoder(opts.Out), logger: logger}
	in := codec.NewDecoder(opts.In)

	cfg, err := readConfig(in)
	var p pipeline.Pipeline
	if err == nil {
		p, err = opts.Registry.Build(opts.Name, cfg, pipeline.Env{
			Publisher: opts.Publisher,
			Logger:    logger,
		})
	}
	if err != nil {
		logger.Error("Pipeline construction failed", zap.Error(err))
		out.write(pipeline.Status{
			State:     StateError,
			Running:   false,
			Timestamp: pipeline.Timestamp(time.Now()),
			Error:     err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrConstruction, err)
	}

	var exec *pipeline.Executor
	exec = pipeline.NewExecutor(p, pipeline.ExecutorConfig{
		Logger: logger,
		OnSignal: func(pipeline.Signal) {
			out.write(exec.Status())
		},
		OnExit: func(success bool, errMsg string) {
			if success {
				logger.Info("Pipeline exited")
			} else {
				logger.Error("Pipeline exited with error", zap.String("error", errMsg))
			}
		},
	})

	if err := exec.Start(); err != nil {
		return err
	}
	logger.Info("Pipeline started")
	out.write(exec.Status())

	go relayInbound(in, exec, logger)

	ticker := time.NewTicker(opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			out.write(exec.Status())
		case <-exec.Done():
			if closer, ok := p.(pipeline.Closer); ok {
				if err := closer.Close(); err != nil {
					logger.Warn("Pipeline cleanup failed", zap.Error(err))
				}
			}
			out.write(exec.Status())
			if msg := exec.Err(); msg != "" {
				return errors.New(msg)
			}
			return nil
		case <-ctx.Done():
			exec.RequestStop()
			return ctx.Err()
		}
	}
}

// readConfig decodes the message that opens every run
func readConfig(dec *codec.Decoder) (pipeline.Config, error) {
	var msg Inbound
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("read config message: %w", err)
	}
	if msg.Type != MessageConfig {
		return nil, fmt.Errorf("expected %s message, got %q", MessageConfig, msg.Type)
	}
	return msg.Config, nil
}

// relayInbound decodes control messages until the stream ends. Signals
// go to the executor's queue; stop sets the stop flag directly.
func relayInbound(dec *codec.Decoder, exec *pipeline.Executor, logger *zap.Logger) {
	for {
		var msg Inbound
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				logger.Warn("Inbound stream failed", zap.Error(err))
			}
			exec.RequestStop()
			return
		}

		switch msg.Type {
		case MessageStop:
			logger.Info("Stop requested")
			exec.RequestStop()
		case MessageSignal:
			exec.Signal(msg.Signal, msg.SignalPriority())
		default:
			logger.Warn("Ignoring unknown inbound message", zap.String("type", string(msg.Type)))
		}
	}
}

// statusWriter serializes status frames from the ticker and signal loop
type statusWriter struct {
	mu     sync.Mutex
	enc    *codec.Encoder
	logger *zap.Logger
	failed bool
}

func (w *statusWriter) write(s pipeline.Status) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed {
		return
	}
	if err := w.enc.Encode(s); err != nil {
		// The parent is gone; nobody is left to read further frames
		w.failed = true
		w.logger.Debug("Status write failed", zap.Error(err))
	}
}
