// Package reconnect provides a debounced, cancellable delayed action per key.
//
// Scheduling a key cancels whatever was pending for it and arms a fresh
// timer, so rapid repeated disconnect signals collapse into one attempt that
// uses the delay and action of the most recent call.
package reconnect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Action runs when a pending reconnect fires.
type Action func(ctx context.Context)

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler owns one pending timer per key.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*pending
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *zap.Logger
}

// New returns a scheduler whose actions receive a context derived from
// parent; Stop cancels it.
func New(parent context.Context, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		pending: make(map[string]*pending),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
	}
}

// Schedule cancels any pending timer for key and arms a new one.
func (s *Scheduler) Schedule(key string, delay time.Duration, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		s.log.Debug("superseded pending reconnect", zap.String("key", key))
	}

	s.gen++
	gen := s.gen
	p := &pending{gen: gen}
	p.timer = time.AfterFunc(delay, func() { s.fire(key, gen, action) })
	s.pending[key] = p

	s.log.Debug("reconnect scheduled", zap.String("key", key), zap.Duration("delay", delay))
}

// Cancel stops the pending timer for key without firing it.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.pending, key)
	return true
}

// Pending reports whether key has an armed timer.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Stop cancels every pending timer and the actions' context, then waits
// for running actions to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) fire(key string, gen uint64, action Action) {
	s.mu.Lock()
	p, ok := s.pending[key]
	// A timer can fire after timer.Stop lost the race with a newer Schedule;
	// only the current generation may run.
	if !ok || p.gen != gen || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("reconnect action panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	action(s.ctx)
}
