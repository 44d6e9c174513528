package telemetry

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/broker"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/resilience"
)

func (h *Hub) startBridgeLocked(key queueKey) {
	if h.broker == nil || h.closed || h.bridges[key] != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &bridge{cancel: cancel, done: make(chan struct{})}
	h.bridges[key] = b
	if h.metrics != nil {
		h.metrics.IncBridges()
	}
	go h.runBridge(ctx, key, b)
}

// stopBridgeLocked cancels the bridge without waiting for it, since the
// bridge itself may be blocked on h.mu inside a broadcast.
func (h *Hub) stopBridgeLocked(key queueKey) {
	b := h.bridges[key]
	if b == nil {
		return
	}
	delete(h.bridges, key)
	b.cancel()
}

// runBridge keeps a broker subscription open for one queue until
// cancelled, resubscribing with backoff whenever it fails or drops.
func (h *Hub) runBridge(ctx context.Context, key queueKey, b *bridge) {
	defer close(b.done)
	if h.metrics != nil {
		defer h.metrics.DecBridges()
	}

	channel := broker.QueueChannel(key.pipeline, key.queue)
	log := h.logger.With(zap.String("channel", channel))
	retry := backoff.WithContext(h.retryPolicy(), ctx)

	for {
		sub, err := h.broker.Subscribe(ctx, channel)
		if err == nil {
			log.Debug("Queue bridge subscribed")
			retry.Reset()
			h.pump(ctx, key, sub)
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			log.Warn("Queue bridge lost its subscription")
		} else if ctx.Err() != nil {
			return
		} else {
			log.Warn("Queue bridge subscribe failed", zap.Error(err))
		}

		if h.metrics != nil {
			h.metrics.RecordBridgeRetry()
		}
		wait := retry.NextBackOff()
		if wait == backoff.Stop || resilience.Sleep(ctx, wait) != nil {
			return
		}
	}
}

// retryPolicy backs off exponentially up to RetryMax and never gives up
func (h *Hub) retryPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	if h.cfg.RetryInitial > 0 {
		policy.InitialInterval = h.cfg.RetryInitial
	}
	if h.cfg.RetryMax > 0 {
		policy.MaxInterval = h.cfg.RetryMax
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// pump forwards messages until ctx ends or the subscription drops
func (h *Hub) pump(ctx context.Context, key queueKey, sub broker.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			// A cancelled bridge may still win the select against a
			// buffered payload; its subscribers are already gone.
			if ctx.Err() != nil {
				return
			}
			msg, err := decodeQueuePayload(payload, key.pipeline, key.queue)
			if err != nil {
				h.logger.Warn("Discarding malformed queue payload",
					zap.String("pipeline", key.pipeline),
					zap.String("queue", key.queue),
					zap.Error(err))
				continue
			}
			h.BroadcastQueueUpdate(key.pipeline, key.queue, msg)
		}
	}
}
