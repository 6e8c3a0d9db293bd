// Package node defines the audio-node boundary types shared by the engine
// and the Lavalink client.
package node

import "github.com/keshon/tammy/internal/session"

// LoadType is the kind of result a resolve returned.
type LoadType string

const (
	LoadTrack    LoadType = "track"
	LoadPlaylist LoadType = "playlist"
	LoadSearch   LoadType = "search"
	LoadEmpty    LoadType = "empty"
	LoadError    LoadType = "error"
)

// LoadResult is the outcome of resolving a query.
type LoadResult struct {
	LoadType     LoadType
	Tracks       []session.Track
	PlaylistName string
	ErrorMessage string
}

// EventType names an audio-node lifecycle event.
type EventType string

const (
	EventNodeConnect      EventType = "nodeConnect"
	EventNodeError        EventType = "nodeError"
	EventNodeDisconnect   EventType = "nodeDisconnect"
	EventTrackStart       EventType = "trackStart"
	EventTrackEnd         EventType = "trackEnd"
	EventQueueEnd         EventType = "queueEnd"
	EventPlayerDisconnect EventType = "playerDisconnect"
)

// EndReason is why a track stopped.
type EndReason string

const (
	EndFinished   EndReason = "finished"
	EndLoadFailed EndReason = "loadFailed"
	EndStopped    EndReason = "stopped"
	EndReplaced   EndReason = "replaced"
	EndCleanup    EndReason = "cleanup"
)

// MayStartNext reports whether the queue should advance after this reason.
func (r EndReason) MayStartNext() bool {
	return r == EndFinished || r == EndLoadFailed
}

// Event is one lifecycle notification from the node. GuildID is empty for
// node-wide events.
type Event struct {
	Type    EventType
	GuildID string
	Track   *session.Track
	Reason  EndReason
	Code    int
	Err     error
}
