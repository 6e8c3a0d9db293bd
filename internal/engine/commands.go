package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/node"
	"github.com/keshon/tammy/internal/session"
	"github.com/keshon/tammy/pkg/retrylimit"
)

// PlayRequest is a play command, explicit or typed into the official channel.
type PlayRequest struct {
	GuildID        string
	ChannelID      string
	MessageID      string
	UserID         string
	VoiceChannelID string // the requesting member's voice channel
	Query          string
	Implicit       bool
}

// DesignateRequest makes the message's channel the official music channel.
type DesignateRequest struct {
	GuildID        string
	ChannelID      string
	MessageID      string
	CanManageGuild bool
}

// StayRequest toggles 24/7 mode.
type StayRequest struct {
	GuildID        string
	ChannelID      string
	MessageID      string
	VoiceChannelID string
}

var (
	errNoVoiceChannel = errors.New("no voice channel")
	errInterrupted    = errors.New("guild work did not finish")
)

// Play resolves the query, enqueues the result and starts playback when
// idle. User-facing failures are replied to, never returned.
func (e *Engine) Play(ctx context.Context, req PlayRequest) {
	log := e.log.With(zap.String("guild", req.GuildID), zap.String("invocation", uuid.NewString()))

	query := strings.TrimSpace(req.Query)
	if query == "" {
		if req.Implicit {
			e.deleteLater(req.ChannelID, req.MessageID)
		}
		e.reply(ctx, req.ChannelID, req.MessageID, MsgEmptyQuery)
		return
	}

	acquired, err := e.locks.Do(req.GuildID, func() error {
		return e.play(ctx, log, req, query)
	})
	if !acquired {
		log.Info("play rejected, guild busy")
		e.reply(ctx, req.ChannelID, req.MessageID, MsgAlreadyProcessing)
		return
	}
	if err != nil {
		log.Error("play command failed", zap.Error(err))
		e.reply(ctx, req.ChannelID, req.MessageID, MsgPlayFailed)
	}
}

func (e *Engine) play(ctx context.Context, log *zap.Logger, req PlayRequest, query string) error {
	if req.VoiceChannelID == "" {
		e.reply(ctx, req.ChannelID, req.MessageID, MsgNoVoiceChannel)
		return nil
	}

	resolveCtx, cancel := e.callCtx(ctx)
	res, err := e.node.Resolve(resolveCtx, query, req.UserID)
	cancel()
	if err != nil || res.LoadType == node.LoadError {
		log.Warn("resolve failed", zap.String("query", query), zap.String("node_error", res.ErrorMessage), zap.Error(err))
		e.reply(ctx, req.ChannelID, req.MessageID, MsgSearchFailed)
		return nil
	}
	if res.LoadType == node.LoadEmpty || len(res.Tracks) == 0 {
		e.reply(ctx, req.ChannelID, req.MessageID, MsgNoResults)
		return nil
	}
	log.Info("resolved", zap.String("load_type", string(res.LoadType)), zap.Int("tracks", len(res.Tracks)))

	tracks := res.Tracks
	confirm := fmt.Sprintf(MsgAddedToQueue, tracks[0].Title)
	if res.LoadType == node.LoadPlaylist && len(tracks) > 1 {
		confirm = fmt.Sprintf(MsgAddedPlaylist, len(tracks), res.PlaylistName)
	} else {
		tracks = tracks[:1]
	}

	return e.inOrder(ctx, req.GuildID, func(ctx context.Context) error {
		if err := e.connect(ctx, req.GuildID, req.VoiceChannelID, req.ChannelID, nil); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		snap, _ := e.store.Update(req.GuildID, func(s *session.Session) {
			s.Enqueue(tracks...)
		})

		e.reply(ctx, req.ChannelID, req.MessageID, confirm)
		e.deleteLater(req.ChannelID, req.MessageID)
		e.reconcile(ctx, req.GuildID)

		if !snap.Playing && !snap.Paused {
			e.playNext(ctx, req.GuildID)
		}
		return nil
	})
}

// inOrder runs fn in the guild's event order, so no node or voice event for
// the guild interleaves with it, and waits for it or for ctx to end.
func (e *Engine) inOrder(ctx context.Context, guildID string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	e.queue.Submit(guildID, func() {
		err := errInterrupted
		defer func() { done <- err }()
		err = fn(e.ctx)
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Designate records the official music channel.
func (e *Engine) Designate(ctx context.Context, req DesignateRequest) {
	if !req.CanManageGuild {
		e.reply(ctx, req.ChannelID, req.MessageID, MsgNeedManageGuild)
		return
	}
	e.designate(req.GuildID, req.ChannelID)
	e.log.Info("official channel set", zap.String("guild", req.GuildID), zap.String("channel", req.ChannelID))

	e.reply(ctx, req.ChannelID, req.MessageID, MsgDesignated)
	e.deleteLater(req.ChannelID, req.MessageID)
}

// ToggleStayConnected switches 24/7 mode. Enabling joins the member's
// voice channel; disabling leaves right away when nothing is queued.
func (e *Engine) ToggleStayConnected(ctx context.Context, req StayRequest) {
	if req.VoiceChannelID == "" {
		e.reply(ctx, req.ChannelID, req.MessageID, MsgNeedVoiceFor247)
		return
	}

	acquired, err := e.locks.Do(req.GuildID, func() error {
		return e.inOrder(ctx, req.GuildID, func(ctx context.Context) error {
			return e.toggleStay(ctx, req)
		})
	})
	if !acquired {
		e.reply(ctx, req.ChannelID, req.MessageID, MsgAlreadyProcessing)
		return
	}
	if err != nil {
		e.log.Error("24/7 toggle failed", zap.String("guild", req.GuildID), zap.Error(err))
		e.reply(ctx, req.ChannelID, req.MessageID, Msg247Failed)
	}
}

func (e *Engine) toggleStay(ctx context.Context, req StayRequest) error {
	if cur, ok := e.store.Get(req.GuildID); ok && cur.StayConnected {
		snap, _ := e.store.Update(req.GuildID, func(s *session.Session) { s.StayConnected = false })
		e.sched.Cancel(req.GuildID)
		e.reply(ctx, req.ChannelID, req.MessageID, Msg247Disabled)
		e.deleteLater(req.ChannelID, req.MessageID)

		if !snap.Playing && !snap.Paused && len(snap.Queue) == 0 {
			e.teardown(ctx, req.GuildID, false)
			return nil
		}
		e.reconcile(ctx, req.GuildID)
		return nil
	}

	stay := true
	if err := e.connect(ctx, req.GuildID, req.VoiceChannelID, req.ChannelID, &stay); err != nil {
		return err
	}
	e.reply(ctx, req.ChannelID, req.MessageID, Msg247Enabled)
	e.deleteLater(req.ChannelID, req.MessageID)
	e.reconcile(ctx, req.GuildID)
	return nil
}

// connect makes sure the guild has a session joined to a voice channel.
// A new session takes the given voice and text channels; an existing one
// that is still connected keeps its destinations. A session created here is
// removed again when the join fails.
func (e *Engine) connect(ctx context.Context, guildID, voiceChannelID, textChannelID string, stay *bool) error {
	if voiceChannelID == "" {
		return errNoVoiceChannel
	}
	_, existed := e.store.Get(guildID)

	connected := existed && e.node.HasPlayer(guildID) && e.transport.BotVoiceChannel(guildID) != ""
	snap := e.store.Upsert(guildID, func(s *session.Session) {
		if !connected {
			s.VoiceChannelID = voiceChannelID
			s.State = session.StateConnecting
		}
		if s.TextChannelID == "" {
			s.TextChannelID = textChannelID
		}
		if stay != nil {
			s.StayConnected = *stay
		}
	})
	if connected {
		return nil
	}

	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.node.CreateConnection(callCtx, guildID, snap.VoiceChannelID, true); err != nil {
		if !existed {
			e.store.Remove(guildID)
		}
		return err
	}
	e.sched.Cancel(guildID)
	e.log.Info("voice connection requested",
		zap.String("guild", guildID), zap.String("voice", snap.VoiceChannelID), zap.Bool("stay", snap.StayConnected))
	return nil
}

// playNext starts the queue head. Tracks the node rejects are skipped; an
// exhausted queue ends up in queueEnd.
func (e *Engine) playNext(ctx context.Context, guildID string) {
	e.advance(ctx, guildID, 0)
}

// advance is playNext for a session whose reconnects have failed attempt
// times in a row. A node that is unreachable keeps the track queued.
func (e *Engine) advance(ctx context.Context, guildID string, attempt int) {
	for {
		var next session.Track
		var ok bool
		if _, exists := e.store.Update(guildID, func(s *session.Session) {
			next, ok = s.PopNext()
		}); !exists {
			return
		}
		if !ok {
			e.queueEnd(ctx, guildID)
			return
		}

		callCtx, cancel := e.callCtx(ctx)
		err := e.node.Play(callCtx, guildID, next)
		cancel()
		if err != nil {
			var rejected *retrylimit.FatalError
			if errors.As(err, &rejected) {
				e.log.Warn("skipping track the node rejected",
					zap.String("guild", guildID), zap.String("title", next.Title), zap.Error(err))
				continue
			}
			e.holdTrack(ctx, guildID, next, attempt, err)
			return
		}

		e.store.Update(guildID, func(s *session.Session) { s.MarkPlaying() })
		e.reconcile(ctx, guildID)
		return
	}
}

// holdTrack puts t back at the queue head after the node failed to start it
// and leaves the session idle. A 24/7 session retries through a reconnect;
// any other waits for the next play command.
func (e *Engine) holdTrack(ctx context.Context, guildID string, t session.Track, attempt int, cause error) {
	snap, ok := e.store.Update(guildID, func(s *session.Session) {
		s.Requeue(t)
		s.MarkIdle()
	})
	if !ok {
		return
	}
	e.log.Warn("node unavailable, track kept queued",
		zap.String("guild", guildID), zap.String("title", t.Title), zap.Int("queued", len(snap.Queue)), zap.Error(cause))
	e.reconcile(ctx, guildID)
	if snap.StayConnected {
		e.scheduleReconnect(guildID, attempt)
	}
}

// queueEnd idles a 24/7 session and tears down any other.
func (e *Engine) queueEnd(ctx context.Context, guildID string) {
	snap, ok := e.store.Update(guildID, func(s *session.Session) {
		s.MarkIdle()
		s.Current = nil
	})
	if !ok {
		return
	}
	if snap.StayConnected {
		e.reconcile(ctx, guildID)
		return
	}
	e.teardown(ctx, guildID, false)
}

// teardown removes the session and the node player. The panel is either
// cleared (explicit leave) or switched to the idle view.
func (e *Engine) teardown(ctx context.Context, guildID string, clearPanel bool) {
	e.store.Remove(guildID)
	e.sched.Cancel(guildID)

	callCtx, cancel := e.callCtx(ctx)
	if err := e.node.Destroy(callCtx, guildID); err != nil {
		e.log.Warn("destroy player failed", zap.String("guild", guildID), zap.Error(err))
	}
	cancel()

	if clearPanel {
		e.panel.Clear(ctx, guildID)
	} else {
		e.reconcile(ctx, guildID)
	}
	e.log.Info("session torn down", zap.String("guild", guildID), zap.Bool("panel_cleared", clearPanel))
}
