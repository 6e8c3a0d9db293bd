package lavalink

import (
	"fmt"

	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/node"
)

func (c *Client) onTrackStart(_ disgolink.Player, e lavalink.TrackStartEvent) {
	t := toSessionTrack(e.Track, "")
	c.emit(node.Event{Type: node.EventTrackStart, GuildID: e.GuildID().String(), Track: &t})
}

func (c *Client) onTrackEnd(_ disgolink.Player, e lavalink.TrackEndEvent) {
	c.emit(node.Event{Type: node.EventTrackEnd, GuildID: e.GuildID().String(), Reason: node.EndReason(e.Reason)})
}

// onTrackException only logs; the node follows up with a loadFailed end.
func (c *Client) onTrackException(_ disgolink.Player, e lavalink.TrackExceptionEvent) {
	c.log.Warn("track exception",
		zap.String("guild", e.GuildID().String()),
		zap.String("title", e.Track.Info.Title),
		zap.String("message", e.Exception.Message),
		zap.Any("severity", e.Exception.Severity))
}

func (c *Client) onTrackStuck(_ disgolink.Player, e lavalink.TrackStuckEvent) {
	guildID := e.GuildID().String()
	c.log.Warn("track stuck", zap.String("guild", guildID), zap.String("title", e.Track.Info.Title))
	c.emit(node.Event{Type: node.EventTrackEnd, GuildID: guildID, Reason: node.EndLoadFailed})
}

func (c *Client) onWebSocketClosed(_ disgolink.Player, e lavalink.WebSocketClosedEvent) {
	guildID := e.GuildID().String()
	c.markDisconnected(guildID)
	c.emit(node.Event{
		Type:    node.EventPlayerDisconnect,
		GuildID: guildID,
		Code:    e.Code,
		Err:     fmt.Errorf("voice websocket closed: %d %s (remote=%t)", e.Code, e.Reason, e.ByRemote),
	})
}

// emit hands ev to the engine, giving up once Run's context ends.
func (c *Client) emit(ev node.Event) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
