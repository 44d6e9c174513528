package pipeline

import (
	"container/heap"
	"fmt"
	"strings"
	"sync"
)

// Priority orders pending signals. Lower values are more urgent.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
)

// String returns the wire name of the priority
func (p Priority) String() string {
	if p.Normalize() == PriorityHigh {
		return "HIGH"
	}
	return "NORMAL"
}

// Normalize folds arbitrary integers onto the two tiers. Anything at or
// below zero is HIGH, everything else is NORMAL.
func (p Priority) Normalize() Priority {
	if p <= PriorityHigh {
		return PriorityHigh
	}
	return PriorityNormal
}

// ParsePriority parses "HIGH" or "NORMAL" (case-insensitive). An empty
// string means NORMAL.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NORMAL":
		return PriorityNormal, nil
	case "HIGH":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("invalid priority %q", s)
	}
}

// Signal is a pending control message
type Signal struct {
	Body     string
	Priority Priority
	seq      uint64
}

// Queue is an unbounded priority queue of signals. HIGH signals are
// delivered before NORMAL ones; within a tier delivery is FIFO.
// Safe for concurrent producers and consumers.
type Queue struct {
	mu    sync.Mutex
	items signalHeap
	seq   uint64
	ready chan struct{}
}

// NewQueue creates an empty signal queue
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push enqueues a signal. It never blocks.
func (q *Queue) Push(body string, priority Priority) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, Signal{Body: body, Priority: priority.Normalize(), seq: q.seq})
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryPop removes the most urgent signal without blocking.
func (q *Queue) TryPop() (Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return Signal{}, false
	}
	return heap.Pop(&q.items).(Signal), true
}

// Len returns the number of pending signals
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Ready is signalled after a Push. Consumers use it to wait for work
// instead of sleeping between polls; a wake-up does not guarantee the
// queue is still non-empty.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

type signalHeap []Signal

func (h signalHeap) Len() int { return len(h) }

func (h signalHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h signalHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *signalHeap) Push(x any) { *h = append(*h, x.(Signal)) }

func (h *signalHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
