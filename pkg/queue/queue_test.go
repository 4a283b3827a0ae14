package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observerStub struct {
	mu      sync.Mutex
	depth   int
	dropped int
}

func (o *observerStub) SetQueueDepth(depth int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depth = depth
}

func (o *observerStub) IncQueueDropped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func drain[T any](q *Queue[T]) []T {
	var out []T
	for item := range q.Items() {
		out = append(out, item)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		cfg         Config
		errContains string
	}{
		{name: "ok", cfg: Config{Capacity: 1, Policy: PolicyBlock}},
		{name: "ok drop oldest", cfg: Config{Capacity: 1, Policy: PolicyDropOldest}},
		{name: "zero capacity", cfg: Config{Capacity: 0, Policy: PolicyBlock}, errContains: "invalid capacity"},
		{name: "unknown policy", cfg: Config{Capacity: 1, Policy: "spill"}, errContains: "invalid queue policy"},
		{name: "negative timeout", cfg: Config{Capacity: 1, Policy: PolicyBlock, PushTimeout: -time.Second}, errContains: "invalid push timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q, err := New[int](tt.cfg, nil)
			if tt.errContains != "" {
				require.ErrorContains(t, err, tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Capacity, q.Cap())
		})
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()
	p, err := ParsePolicy("drop-oldest")
	require.NoError(t, err)
	assert.Equal(t, PolicyDropOldest, p)

	_, err = ParsePolicy("")
	require.Error(t, err)
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()
	obs := &observerStub{}
	q, err := New[int](Config{Capacity: 8, Policy: PolicyBlock}, obs)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, q.Push(t.Context(), i))
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, 5, obs.depth)

	q.Close()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, drain(q))
}

func TestQueue_FIFOWithConcurrentConsumer(t *testing.T) {
	t.Parallel()
	q, err := New[int](Config{Capacity: 2, Policy: PolicyBlock}, nil)
	require.NoError(t, err)

	var got []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		got = drain(q)
	}()

	want := make([]int, 0, 100)
	for i := range 100 {
		want = append(want, i)
		require.NoError(t, q.Push(t.Context(), i))
	}
	q.Close()
	<-done
	assert.Equal(t, want, got)
}

func TestQueue_PushAfterDetach(t *testing.T) {
	t.Parallel()
	q, err := New[string](Config{Capacity: 4, Policy: PolicyBlock}, nil)
	require.NoError(t, err)

	require.NoError(t, q.Push(t.Context(), "a"))
	q.Detach()
	q.Detach()

	require.ErrorIs(t, q.Push(t.Context(), "b"), ErrConsumerGone)
	select {
	case <-q.Detached():
	default:
		t.Fatal("detached channel should be closed")
	}
}

func TestQueue_DetachUnblocksPush(t *testing.T) {
	t.Parallel()
	q, err := New[int](Config{Capacity: 1, Policy: PolicyBlock}, nil)
	require.NoError(t, err)
	require.NoError(t, q.Push(t.Context(), 1))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Push(t.Context(), 2) }()

	time.Sleep(20 * time.Millisecond)
	q.Detach()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrConsumerGone)
	case <-time.After(time.Second):
		t.Fatal("push did not return after detach")
	}
}

func TestQueue_PushTimeout(t *testing.T) {
	t.Parallel()
	q, err := New[int](Config{Capacity: 1, Policy: PolicyBlock, PushTimeout: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	require.NoError(t, q.Push(t.Context(), 1))
	require.ErrorIs(t, q.Push(t.Context(), 2), ErrPushTimeout)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_PushContextCancelled(t *testing.T) {
	t.Parallel()
	q, err := New[int](Config{Capacity: 1, Policy: PolicyBlock}, nil)
	require.NoError(t, err)
	require.NoError(t, q.Push(t.Context(), 1))

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Push(ctx, 2), context.DeadlineExceeded)
}

func TestQueue_DropOldest(t *testing.T) {
	t.Parallel()
	obs := &observerStub{}
	q, err := New[int](Config{Capacity: 3, Policy: PolicyDropOldest}, obs)
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, q.Push(t.Context(), i))
	}
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, 2, obs.dropped)

	q.Close()
	assert.Equal(t, []int{2, 3, 4}, drain(q))
}

func TestQueue_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	q, err := New[int](Config{Capacity: 1, Policy: PolicyBlock}, nil)
	require.NoError(t, err)
	q.Close()
	q.Close()
	_, ok := <-q.Items()
	assert.False(t, ok)
}
