package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(context.Background(), nil)
	t.Cleanup(s.Stop)
	return s
}

func TestScheduler_FiresOnce(t *testing.T) {
	s := newScheduler(t)
	fired := make(chan struct{}, 4)

	s.Schedule("g1", 10*time.Millisecond, func(context.Context) { fired <- struct{}{} })
	assert.True(t, s.Pending("g1"))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("action did not fire")
	}
	assert.Eventually(t, func() bool { return !s.Pending("g1") }, time.Second, 5*time.Millisecond)
}

func TestScheduler_DebounceLastWins(t *testing.T) {
	s := newScheduler(t)

	var calls atomic.Int32
	var winner atomic.Int32
	start := time.Now()
	var firedAt atomic.Int64

	for i := 1; i <= 10; i++ {
		i := i
		s.Schedule("g1", 50*time.Millisecond, func(context.Context) {
			calls.Add(1)
			winner.Store(int32(i))
			firedAt.Store(int64(time.Since(start)))
		})
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "exactly one action fires")
	assert.Equal(t, int32(10), winner.Load(), "most recent schedule wins")
	assert.GreaterOrEqual(t, time.Duration(firedAt.Load()), 50*time.Millisecond)
}

func TestScheduler_LastDelayIsUsed(t *testing.T) {
	s := newScheduler(t)
	fired := make(chan time.Time, 2)

	start := time.Now()
	s.Schedule("g1", 10*time.Millisecond, func(context.Context) { fired <- time.Now() })
	s.Schedule("g1", 120*time.Millisecond, func(context.Context) { fired <- time.Now() })

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), 120*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("action did not fire")
	}
}

func TestScheduler_CancelPreventsFire(t *testing.T) {
	s := newScheduler(t)
	var calls atomic.Int32

	s.Schedule("g1", 30*time.Millisecond, func(context.Context) { calls.Add(1) })
	require.True(t, s.Cancel("g1"))
	assert.False(t, s.Cancel("g1"))

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestScheduler_KeysIndependent(t *testing.T) {
	s := newScheduler(t)
	var mu sync.Mutex
	got := map[string]int{}

	for _, key := range []string{"a", "b", "c"} {
		key := key
		s.Schedule(key, 10*time.Millisecond, func(context.Context) {
			mu.Lock()
			got[key]++
			mu.Unlock()
		})
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, got)
}

func TestScheduler_StopCancelsAll(t *testing.T) {
	s := New(context.Background(), nil)
	var calls atomic.Int32

	s.Schedule("a", 20*time.Millisecond, func(context.Context) { calls.Add(1) })
	s.Stop()
	s.Schedule("b", time.Millisecond, func(context.Context) { calls.Add(1) })

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.False(t, s.Pending("b"))
}

func TestScheduler_PanicDoesNotEscape(t *testing.T) {
	s := newScheduler(t)
	done := make(chan struct{})

	s.Schedule("g1", time.Millisecond, func(context.Context) {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("action did not run")
	}
	s.Schedule("g1", time.Millisecond, func(context.Context) {})
	assert.Eventually(t, func() bool { return !s.Pending("g1") }, time.Second, 5*time.Millisecond)
}
