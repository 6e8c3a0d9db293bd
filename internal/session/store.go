// Package session holds the in-memory, guild-keyed playback sessions.
package session

import (
	"sort"
	"sync"
)

type entry struct {
	mu      sync.Mutex
	session *Session
	removed bool
}

// Store maps guild IDs to sessions. Reads return snapshots; writes go
// through mutation callbacks run under the guild's own lock, so concurrent
// handlers for one guild never interleave a read-modify-write.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Get returns a snapshot of the guild's session.
func (s *Store) Get(guildID string) (Session, bool) {
	s.mu.RLock()
	e, ok := s.entries[guildID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, false
	}
	return e.session.Clone(), true
}

// Upsert creates the session if needed and applies mutate to it.
func (s *Store) Upsert(guildID string, mutate func(*Session)) Session {
	for {
		e := s.entryFor(guildID, true)

		e.mu.Lock()
		if e.removed {
			// lost a race with Remove; retry against the fresh entry
			e.mu.Unlock()
			continue
		}
		if mutate != nil {
			mutate(e.session)
		}
		out := e.session.Clone()
		e.mu.Unlock()
		return out
	}
}

// Update applies mutate only when the session exists.
func (s *Store) Update(guildID string, mutate func(*Session)) (Session, bool) {
	e := s.entryFor(guildID, false)
	if e == nil {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return Session{}, false
	}
	if mutate != nil {
		mutate(e.session)
	}
	return e.session.Clone(), true
}

// Remove deletes the guild's session. It reports whether one existed.
func (s *Store) Remove(guildID string) bool {
	s.mu.Lock()
	e, ok := s.entries[guildID]
	if ok {
		delete(s.entries, guildID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return true
}

// Guilds lists the guilds that currently have a session, sorted.
func (s *Store) Guilds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StayConnectedGuilds lists guilds whose session has StayConnected set.
func (s *Store) StayConnectedGuilds() []string {
	var out []string
	for _, id := range s.Guilds() {
		if sess, ok := s.Get(id); ok && sess.StayConnected {
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) entryFor(guildID string, create bool) *entry {
	s.mu.RLock()
	e, ok := s.entries[guildID]
	s.mu.RUnlock()
	if ok || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[guildID]; ok {
		return e
	}
	e = &entry{session: newSession(guildID)}
	s.entries[guildID] = e
	return e
}
