package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/node"
	"github.com/keshon/tammy/internal/session"
	"github.com/keshon/tammy/pkg/retrylimit"
	"github.com/keshon/tammy/pkg/util"
)

// reassertWorkers bounds the reassert sweep fan-out.
const reassertWorkers = 4

// VoiceStateChange is a voice-state update as seen by the gateway.
type VoiceStateChange struct {
	GuildID      string
	UserID       string
	OldChannelID string
	NewChannelID string // "" means the user left voice
}

// HandleVoiceState queues the bot's own voice-state changes. Other users are
// ignored.
func (e *Engine) HandleVoiceState(ch VoiceStateChange) {
	if ch.GuildID == "" || ch.UserID == "" || ch.UserID != e.self() {
		return
	}
	e.queue.Submit(ch.GuildID, func() { e.onVoiceState(e.ctx, ch) })
}

func (e *Engine) onVoiceState(ctx context.Context, ch VoiceStateChange) {
	if ch.NewChannelID == "" {
		e.handleDisconnect(ctx, ch.GuildID, "voice state")
		return
	}

	_, ok := e.store.Update(ch.GuildID, func(s *session.Session) {
		s.VoiceChannelID = ch.NewChannelID
		s.State = session.StateActive
	})
	if !ok {
		return
	}
	e.sched.Cancel(ch.GuildID)
	if ch.OldChannelID != "" && ch.OldChannelID != ch.NewChannelID {
		e.log.Info("moved between voice channels",
			zap.String("guild", ch.GuildID), zap.String("from", ch.OldChannelID), zap.String("to", ch.NewChannelID))
	}
}

// HandleNodeEvent queues an audio-node event. Node-wide disconnects fan out
// to every session.
func (e *Engine) HandleNodeEvent(ev node.Event) {
	switch ev.Type {
	case node.EventNodeConnect:
		e.log.Info("audio node connected")
		return
	case node.EventNodeError:
		e.log.Warn("audio node error", zap.Error(ev.Err))
		return
	case node.EventNodeDisconnect:
		e.log.Warn("audio node disconnected", zap.Int("code", ev.Code), zap.Error(ev.Err))
		for _, guildID := range e.store.Guilds() {
			guildID := guildID
			e.queue.Submit(guildID, func() { e.handleDisconnect(e.ctx, guildID, "node disconnect") })
		}
		return
	}

	if ev.GuildID == "" {
		return
	}
	e.queue.Submit(ev.GuildID, func() { e.onNodeEvent(e.ctx, ev) })
}

func (e *Engine) onNodeEvent(ctx context.Context, ev node.Event) {
	log := e.log.With(zap.String("guild", ev.GuildID), zap.String("event", string(ev.Type)))

	switch ev.Type {
	case node.EventTrackStart:
		_, ok := e.store.Update(ev.GuildID, func(s *session.Session) {
			if ev.Track != nil {
				t := *ev.Track
				s.Current = &t
			}
			s.MarkPlaying()
		})
		if ok {
			e.reconcile(ctx, ev.GuildID)
		}

	case node.EventTrackEnd:
		if !ev.Reason.MayStartNext() {
			log.Debug("track ended without advancing", zap.String("reason", string(ev.Reason)))
			return
		}
		if _, ok := e.store.Update(ev.GuildID, func(s *session.Session) {
			s.MarkIdle()
			s.Current = nil
		}); !ok {
			return
		}
		e.playNext(ctx, ev.GuildID)

	case node.EventQueueEnd:
		e.queueEnd(ctx, ev.GuildID)

	case node.EventPlayerDisconnect:
		log.Info("voice socket closed", zap.Int("code", ev.Code))
		e.handleDisconnect(ctx, ev.GuildID, "player disconnect")

	default:
		log.Debug("unhandled node event")
	}
}

// handleDisconnect keeps a 24/7 session alive and reconnects it later; any
// other session is torn down. Repeated calls collapse into one reconnect.
func (e *Engine) handleDisconnect(ctx context.Context, guildID, cause string) {
	snap, ok := e.store.Get(guildID)
	if !ok {
		return
	}
	log := e.log.With(zap.String("guild", guildID), zap.String("cause", cause))

	if !snap.StayConnected {
		log.Info("disconnected, ending session")
		e.teardown(ctx, guildID, false)
		return
	}

	e.store.Update(guildID, func(s *session.Session) {
		s.MarkIdle()
		s.State = session.StateConnecting
	})
	e.reconcile(ctx, guildID)
	e.scheduleReconnect(guildID, 0)
}

// scheduleReconnect arms the guild's reconnect timer. attempt counts
// consecutive failures and stretches the delay.
func (e *Engine) scheduleReconnect(guildID string, attempt int) {
	delay := e.backoff(attempt)
	id := uuid.NewString()
	e.log.Info("reconnect scheduled",
		zap.String("guild", guildID), zap.String("attempt_id", id), zap.Int("attempt", attempt), zap.Duration("delay", delay))

	e.sched.Schedule(guildID, delay, func(ctx context.Context) {
		e.queue.Submit(guildID, func() { e.reconnect(ctx, guildID, attempt, id) })
	})
}

// reconnect rejoins the session's voice channel unless the bot is already
// there with a live player, then resumes the kept track.
func (e *Engine) reconnect(ctx context.Context, guildID string, attempt int, id string) {
	if ctx.Err() != nil {
		return
	}
	log := e.log.With(zap.String("guild", guildID), zap.String("attempt_id", id))

	snap, ok := e.store.Get(guildID)
	if !ok || !snap.StayConnected {
		log.Debug("reconnect dropped, session no longer stays connected")
		return
	}
	target := snap.VoiceChannelID
	if target == "" {
		target = e.opts.AutoReconnectChannelID
	}
	if target == "" {
		log.Warn("reconnect dropped, no voice channel to rejoin")
		return
	}

	if e.transport.BotVoiceChannel(guildID) == target && e.node.HasPlayer(guildID) {
		log.Debug("already connected")
		snap, _ = e.store.Update(guildID, func(s *session.Session) { s.State = session.StateActive })
		if !snap.Playing && !snap.Paused && len(snap.Queue) > 0 {
			e.advance(ctx, guildID, attempt+1)
			return
		}
		e.reconcile(ctx, guildID)
		return
	}

	callCtx, cancel := e.callCtx(ctx)
	err := e.node.CreateConnection(callCtx, guildID, target, true)
	cancel()
	if err != nil {
		log.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		e.scheduleReconnect(guildID, attempt+1)
		return
	}
	log.Info("reconnected", zap.String("voice", target))

	var resume *session.Track
	snap, ok = e.store.Update(guildID, func(s *session.Session) {
		s.VoiceChannelID = target
		if s.Current != nil {
			t := *s.Current
			resume = &t
		}
	})
	if !ok {
		return
	}

	if resume == nil {
		if len(snap.Queue) > 0 {
			e.advance(ctx, guildID, attempt+1)
			return
		}
		e.reconcile(ctx, guildID)
		return
	}

	callCtx, cancel = e.callCtx(ctx)
	err = e.node.Play(callCtx, guildID, *resume)
	cancel()
	if err != nil {
		var rejected *retrylimit.FatalError
		if !errors.As(err, &rejected) {
			e.holdTrack(ctx, guildID, *resume, attempt+1, err)
			return
		}
		log.Warn("could not resume track", zap.String("title", resume.Title), zap.Error(err))
		e.store.Update(guildID, func(s *session.Session) { s.Current = nil })
		e.playNext(ctx, guildID)
		return
	}
	e.store.Update(guildID, func(s *session.Session) { s.MarkPlaying() })
	e.reconcile(ctx, guildID)
}

// Bootstrap joins the always-on voice channel of guildID as a 24/7
// session. The panel goes to the same channel. It is a no-op without a
// configured channel or when the bot is already there.
func (e *Engine) Bootstrap(guildID string) {
	channelID := e.opts.AutoReconnectChannelID
	if channelID == "" || guildID == "" {
		return
	}

	e.queue.Submit(guildID, func() {
		e.store.Upsert(guildID, func(s *session.Session) {
			s.StayConnected = true
			if s.VoiceChannelID == "" {
				s.VoiceChannelID = channelID
			}
			if s.TextChannelID == "" {
				s.TextChannelID = channelID
			}
		})

		stay := true
		if err := e.connect(e.ctx, guildID, channelID, channelID, &stay); err != nil {
			e.log.Warn("auto-connect failed", zap.String("guild", guildID), zap.String("voice", channelID), zap.Error(err))
			e.scheduleReconnect(guildID, 0)
			return
		}
		e.log.Info("auto-connected", zap.String("guild", guildID), zap.String("voice", channelID))
		e.reconcile(e.ctx, guildID)
	})
}

// Reassert schedules a reconnect for every 24/7 session whose bot voice
// channel drifted from its target. Sessions with a pending reconnect are
// left alone.
func (e *Engine) Reassert(ctx context.Context) error {
	guilds := e.store.StayConnectedGuilds()
	return util.Parallel(ctx, guilds, reassertWorkers, func(ctx context.Context, guildID string) error {
		snap, ok := e.store.Get(guildID)
		if !ok || e.sched.Pending(guildID) {
			return nil
		}
		target := snap.VoiceChannelID
		if target == "" {
			target = e.opts.AutoReconnectChannelID
		}
		if target == "" {
			return nil
		}
		if e.transport.BotVoiceChannel(guildID) == target && e.node.HasPlayer(guildID) {
			return nil
		}
		e.log.Info("voice connection drifted", zap.String("guild", guildID), zap.String("target", target))
		e.scheduleReconnect(guildID, 0)
		return ctx.Err()
	})
}
