// Package guildlock provides guild-keyed exclusion.
//
// Serializer is the non-blocking "processing" flag used by playback
// commands: a second command for a busy guild is rejected, not queued.
// Mutex is a blocking keyed mutex for short critical sections.
package guildlock

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// PanicError is returned by Do when fn panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

// Serializer holds at most one processing flag per guild.
type Serializer struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewSerializer() *Serializer {
	return &Serializer{held: make(map[string]struct{})}
}

// TryAcquire reports false if the guild is already processing.
func (s *Serializer) TryAcquire(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.held[guildID]; busy {
		return false
	}
	s.held[guildID] = struct{}{}
	return true
}

// Release clears the flag. Releasing a free guild is a no-op.
func (s *Serializer) Release(guildID string) {
	s.mu.Lock()
	delete(s.held, guildID)
	s.mu.Unlock()
}

// Held reports whether the guild is processing.
func (s *Serializer) Held(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.held[guildID]
	return busy
}

// Do runs fn while holding the guild's flag. acquired is false when the
// guild was busy and fn did not run. The flag is released on every exit,
// and a panic in fn comes back as a *PanicError.
func (s *Serializer) Do(guildID string, fn func() error) (acquired bool, err error) {
	if !s.TryAcquire(guildID) {
		return false, nil
	}
	acquired = true
	defer s.Release(guildID)
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return acquired, fn()
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Mutex is a blocking mutex per key. Entries are dropped once nobody holds
// or waits on them.
type Mutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewMutex() *Mutex {
	return &Mutex{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock func.
func (m *Mutex) Lock(key string) (unlock func()) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &keyedEntry{}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.entries, key)
			}
			m.mu.Unlock()
		})
	}
}

func (m *Mutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
