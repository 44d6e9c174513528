package broker

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/resilience"
)

// Publisher publishes one pipeline's queue data. It satisfies
// pipeline.QueuePublisher.
type Publisher struct {
	broker   Broker
	pipeline string
	breaker  *resilience.Breaker
	logger   *zap.Logger
}

// NewPublisher creates a publisher for the named pipeline. A nil broker
// disables publishing.
func NewPublisher(b Broker, pipelineName string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("pipeline", pipelineName))

	return &Publisher{
		broker:   b,
		pipeline: pipelineName,
		logger:   logger,
		breaker: resilience.New("publish:"+pipelineName, resilience.Settings{
			Cooldown: 5 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("Publish breaker changed state",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
}

// Enabled reports whether publishes go anywhere
func (p *Publisher) Enabled() bool {
	return p != nil && p.broker != nil
}

// Publish encodes data as JSON and sends it to the queue's channel. A
// timestamp is added when data has none; data itself is not modified.
// While the breaker is open, publishes are dropped and nil is returned.
func (p *Publisher) Publish(ctx context.Context, queue string, data map[string]any) error {
	if !p.Enabled() {
		return nil
	}

	msg := make(map[string]any, len(data)+1)
	for k, v := range data {
		msg[k] = v
	}
	if _, ok := msg["timestamp"]; !ok {
		msg["timestamp"] = pipeline.Timestamp(time.Now())
	}

	payload, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}

	channel := QueueChannel(p.pipeline, queue)
	err = p.breaker.Execute(func() error {
		return p.broker.Publish(ctx, channel, payload)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return nil
	}
	return err
}
