package session

import (
	"slices"
	"time"
)

// Status is the playback status shown on the panel.
type Status string

const (
	StatusPlaying Status = "Playing"
	StatusPaused  Status = "Paused"
	StatusIdle    Status = "Idle"
)

// State is the lifecycle state of a guild's session.
type State int

const (
	StateConnecting State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

const DefaultVolume = 100

// Track is an opaque, immutable item resolved by the audio node.
type Track struct {
	Encoded    string
	Identifier string
	Title      string
	Author     string
	Length     time.Duration
	ArtworkURL string
	URI        string
	Requester  string
}

// Session is one guild's playback state and target destinations.
type Session struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	StayConnected  bool
	State          State
	Playing        bool
	Paused         bool
	Queue          []Track
	Current        *Track
	Volume         int
}

func newSession(guildID string) *Session {
	return &Session{
		GuildID: guildID,
		State:   StateConnecting,
		Volume:  DefaultVolume,
	}
}

// Status derives the panel status label. Paused wins over playing.
func (s *Session) Status() Status {
	switch {
	case s.Paused:
		return StatusPaused
	case s.Playing:
		return StatusPlaying
	default:
		return StatusIdle
	}
}

// Enqueue appends tracks to the end of the queue.
func (s *Session) Enqueue(tracks ...Track) {
	s.Queue = append(s.Queue, tracks...)
}

// PopNext removes the queue head and makes it current. It reports false and
// leaves the session untouched when the queue is empty.
func (s *Session) PopNext() (Track, bool) {
	if len(s.Queue) == 0 {
		return Track{}, false
	}
	next := s.Queue[0]
	s.Queue = slices.Clone(s.Queue[1:])
	s.Current = &next
	return next, true
}

// Requeue puts t back at the queue head and clears Current. It undoes a
// PopNext whose track never started.
func (s *Session) Requeue(t Track) {
	s.Queue = append([]Track{t}, s.Queue...)
	s.Current = nil
}

// MarkPlaying sets the flags for an actively rendering track.
func (s *Session) MarkPlaying() {
	s.State = StateActive
	s.Playing = true
	s.Paused = false
}

// MarkPaused sets the flags for a paused track.
func (s *Session) MarkPaused() {
	s.Playing = false
	s.Paused = true
}

// MarkIdle resets both flags. Current is kept so a reconnect can resume it.
func (s *Session) MarkIdle() {
	s.Playing = false
	s.Paused = false
}

// Clone returns a deep copy.
func (s *Session) Clone() Session {
	out := *s
	out.Queue = slices.Clone(s.Queue)
	if s.Current != nil {
		cur := *s.Current
		out.Current = &cur
	}
	return out
}
