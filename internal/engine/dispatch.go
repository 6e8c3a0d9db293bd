package engine

import (
	"sync"

	"go.uber.org/zap"
)

// dispatcher runs submitted work in order per key, with one goroutine per
// key that has pending work. Different keys run concurrently.
type dispatcher struct {
	mu     sync.Mutex
	queues map[string][]func()
	active map[string]bool
	wg     sync.WaitGroup
	log    *zap.Logger
}

func newDispatcher(log *zap.Logger) *dispatcher {
	return &dispatcher{
		queues: make(map[string][]func()),
		active: make(map[string]bool),
		log:    log,
	}
}

// Submit appends fn to key's queue.
func (d *dispatcher) Submit(key string, fn func()) {
	d.mu.Lock()
	d.queues[key] = append(d.queues[key], fn)
	if d.active[key] {
		d.mu.Unlock()
		return
	}
	d.active[key] = true
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(key)
}

// Wait blocks until every queue is empty.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}

func (d *dispatcher) drain(key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			delete(d.active, key)
			d.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		d.queues[key] = q[1:]
		d.mu.Unlock()

		d.run(key, fn)
	}
}

func (d *dispatcher) run(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked", zap.String("guild", key), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}
