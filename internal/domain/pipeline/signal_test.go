package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrdering(t *testing.T) {
	q := NewQueue()
	q.Push("a", PriorityNormal)
	q.Push("b", PriorityHigh)
	q.Push("c", PriorityNormal)
	q.Push("d", PriorityHigh)

	var got []string
	for {
		sig, ok := q.TryPop()
		if !ok {
			break
		}
		got = append(got, sig.Body)
	}

	assert.Equal(t, []string{"b", "d", "a", "c"}, got)
}

func TestQueueTryPopEmpty(t *testing.T) {
	q := NewQueue()

	_, ok := q.TryPop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestQueueNormalizesPriorities(t *testing.T) {
	q := NewQueue()
	q.Push("seven", Priority(7))
	q.Push("minus", Priority(-3))
	q.Push("one", PriorityNormal)

	first, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, "minus", first.Body)
	assert.Equal(t, PriorityHigh, first.Priority)

	second, _ := q.TryPop()
	third, _ := q.TryPop()
	assert.Equal(t, "seven", second.Body, "tier ties break by arrival")
	assert.Equal(t, "one", third.Body)
}

func TestQueueReadyWakesConsumer(t *testing.T) {
	q := NewQueue()
	q.Push("x", PriorityNormal)
	q.Push("y", PriorityNormal)

	select {
	case <-q.Ready():
	default:
		t.Fatal("expected a pending wake-up after push")
	}
	assert.Equal(t, 2, q.Len())
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push("s", PriorityNormal)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, q.Len())
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"HIGH", PriorityHigh, false},
		{"high", PriorityHigh, false},
		{"NORMAL", PriorityNormal, false},
		{"", PriorityNormal, false},
		{"urgent", PriorityNormal, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
