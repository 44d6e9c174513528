package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/broker"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/monitoring"
)

// ErrHubClosed is returned when connecting to a closed hub
var ErrHubClosed = errors.New("telemetry hub closed")

// Metric scopes
const (
	ScopePipeline = "pipeline"
	ScopeQueue    = "queue"
)

// Subscriber is one live viewer connection
type Subscriber interface {
	ID() string
	Send(msg Message) error
	Close(reason string) error
}

// Config tunes the broker bridges
type Config struct {
	RetryInitial time.Duration
	RetryMax     time.Duration
}

type queueKey struct {
	pipeline string
	queue    string
}

type subscriberSet map[string]Subscriber

type bridge struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Hub tracks subscribers and bridges broker queues to them
type Hub struct {
	mu        sync.Mutex
	pipelines map[string]subscriberSet // Protected by mu
	queues    map[queueKey]subscriberSet
	bridges   map[queueKey]*bridge
	closed    bool

	broker  broker.Broker
	cfg     Config
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHub creates a hub. A nil broker disables queue bridging; queue
// subscribers then only receive what is broadcast to them directly.
func NewHub(b broker.Broker, cfg Config) *Hub {
	return &Hub{
		pipelines: make(map[string]subscriberSet),
		queues:    make(map[queueKey]subscriberSet),
		bridges:   make(map[queueKey]*bridge),
		broker:    b,
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
}

// WithMetrics adds metrics tracking to the hub
func (h *Hub) WithMetrics(metrics *monitoring.Metrics) *Hub {
	h.metrics = metrics
	return h
}

// WithLogger sets the logger
func (h *Hub) WithLogger(logger *zap.Logger) *Hub {
	h.logger = logger
	return h
}

// ConnectPipeline acknowledges sub and adds it to the pipeline's status feed
func (h *Hub) ConnectPipeline(name string, sub Subscriber) error {
	if h.isClosed() {
		return ErrHubClosed
	}
	if err := sub.Send(connectAck(name, "")); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if h.pipelines[name] == nil {
		h.pipelines[name] = make(subscriberSet)
	}
	h.pipelines[name][sub.ID()] = sub
	h.updateGaugesLocked()

	h.logger.Info("Subscriber connected",
		zap.String("pipeline", name),
		zap.String("subscriber", sub.ID()))
	return nil
}

// DisconnectPipeline removes sub from the pipeline's status feed
func (h *Hub) DisconnectPipeline(name string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if removeLocked(h, h.pipelines, name, sub.ID()) {
		h.logger.Info("Subscriber disconnected",
			zap.String("pipeline", name),
			zap.String("subscriber", sub.ID()))
	}
}

// ConnectQueue acknowledges sub and adds it to a queue feed, opening the
// broker bridge for that queue if it is the first subscriber.
func (h *Hub) ConnectQueue(name, queue string, sub Subscriber) error {
	if h.isClosed() {
		return ErrHubClosed
	}
	if err := sub.Send(connectAck(name, queue)); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	key := queueKey{pipeline: name, queue: queue}
	if h.queues[key] == nil {
		h.queues[key] = make(subscriberSet)
	}
	h.queues[key][sub.ID()] = sub
	h.startBridgeLocked(key)
	h.updateGaugesLocked()

	h.logger.Info("Subscriber connected",
		zap.String("pipeline", name),
		zap.String("queue", queue),
		zap.String("subscriber", sub.ID()))
	return nil
}

// DisconnectQueue removes sub from a queue feed and closes the bridge
// when nobody is left watching.
func (h *Hub) DisconnectQueue(name, queue string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := queueKey{pipeline: name, queue: queue}
	if removeLocked(h, h.queues, key, sub.ID()) {
		h.logger.Info("Subscriber disconnected",
			zap.String("pipeline", name),
			zap.String("queue", queue),
			zap.String("subscriber", sub.ID()))
	}
	if len(h.queues[key]) == 0 {
		h.stopBridgeLocked(key)
	}
}

// BroadcastPipelineUpdate sends msg to every status subscriber of the
// pipeline and returns how many received it.
func (h *Hub) BroadcastPipelineUpdate(name string, msg Message) int {
	h.mu.Lock()
	subs := snapshot(h.pipelines[name])
	h.mu.Unlock()

	failed := h.deliver(ScopePipeline, subs, stamped(msg))
	if len(failed) > 0 {
		h.mu.Lock()
		for _, sub := range failed {
			removeLocked(h, h.pipelines, name, sub.ID())
		}
		h.mu.Unlock()
		closeAll(failed, "send failed")
	}
	return len(subs) - len(failed)
}

// BroadcastQueueUpdate sends msg to every subscriber of one queue feed
func (h *Hub) BroadcastQueueUpdate(name, queue string, msg Message) int {
	key := queueKey{pipeline: name, queue: queue}

	h.mu.Lock()
	subs := snapshot(h.queues[key])
	h.mu.Unlock()

	failed := h.deliver(ScopeQueue, subs, stamped(msg))
	if len(failed) > 0 {
		h.mu.Lock()
		for _, sub := range failed {
			removeLocked(h, h.queues, key, sub.ID())
		}
		if len(h.queues[key]) == 0 {
			h.stopBridgeLocked(key)
		}
		h.mu.Unlock()
		closeAll(failed, "send failed")
	}
	return len(subs) - len(failed)
}

// ClosePipelineConnections tells every subscriber of the pipeline, on
// any feed, that it stopped, then closes them. Each subscriber gets the
// notice exactly once.
func (h *Hub) ClosePipelineConnections(name string) {
	type pending struct {
		sub   Subscriber
		queue string
	}
	var targets []pending

	h.mu.Lock()
	for _, sub := range h.pipelines[name] {
		targets = append(targets, pending{sub: sub})
	}
	delete(h.pipelines, name)
	for key, set := range h.queues {
		if key.pipeline != name {
			continue
		}
		for _, sub := range set {
			targets = append(targets, pending{sub: sub, queue: key.queue})
		}
		delete(h.queues, key)
		h.stopBridgeLocked(key)
	}
	h.updateGaugesLocked()
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	h.logger.Info("Closing subscribers of stopped pipeline",
		zap.String("pipeline", name),
		zap.Int("subscribers", len(targets)))

	for _, t := range targets {
		if err := t.sub.Send(stoppedNotice(name, t.queue)); err != nil {
			h.logger.Debug("Stop notice not delivered",
				zap.String("subscriber", t.sub.ID()),
				zap.Error(err))
		}
		_ = t.sub.Close("Pipeline stopped")
	}
}

// Subscribers returns the number of status and queue subscribers of a pipeline
func (h *Hub) Subscribers(name string) (status, queues int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status = len(h.pipelines[name])
	for key, set := range h.queues {
		if key.pipeline == name {
			queues += len(set)
		}
	}
	return status, queues
}

// Close stops every bridge and closes every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true

	var subs []Subscriber
	for _, set := range h.pipelines {
		subs = append(subs, snapshot(set)...)
	}
	for _, set := range h.queues {
		subs = append(subs, snapshot(set)...)
	}
	bridges := make([]*bridge, 0, len(h.bridges))
	for key, b := range h.bridges {
		bridges = append(bridges, b)
		h.stopBridgeLocked(key)
	}
	h.pipelines = make(map[string]subscriberSet)
	h.queues = make(map[queueKey]subscriberSet)
	h.updateGaugesLocked()
	h.mu.Unlock()

	for _, b := range bridges {
		<-b.done
	}
	closeAll(subs, "server shutting down")
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) deliver(scope string, subs []Subscriber, msg Message) []Subscriber {
	var failed []Subscriber
	for _, sub := range subs {
		if err := sub.Send(msg); err != nil {
			h.logger.Warn("Dropping subscriber after failed send",
				zap.String("scope", scope),
				zap.String("subscriber", sub.ID()),
				zap.Error(err))
			if h.metrics != nil {
				h.metrics.RecordSendFailure(scope)
			}
			failed = append(failed, sub)
		}
	}
	return failed
}

// removeLocked deletes id from sets[key], dropping the set once empty
func removeLocked[K comparable](h *Hub, sets map[K]subscriberSet, key K, id string) bool {
	set := sets[key]
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(sets, key)
	}
	h.updateGaugesLocked()
	return true
}

func (h *Hub) updateGaugesLocked() {
	if h.metrics == nil {
		return
	}
	var pipelines, queues int
	for _, set := range h.pipelines {
		pipelines += len(set)
	}
	for _, set := range h.queues {
		queues += len(set)
	}
	h.metrics.SetSubscribers(ScopePipeline, pipelines)
	h.metrics.SetSubscribers(ScopeQueue, queues)
}

func snapshot(set subscriberSet) []Subscriber {
	subs := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		subs = append(subs, sub)
	}
	return subs
}

func closeAll(subs []Subscriber, reason string) {
	for _, sub := range subs {
		_ = sub.Close(reason)
	}
}
