package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/panel"
	"github.com/keshon/tammy/internal/session"
)

// ButtonRequest is a panel button press.
type ButtonRequest struct {
	GuildID  string
	CustomID string
	UserID   string
}

// ButtonResult tells the transport how to answer the interaction.
type ButtonResult int

const (
	// ButtonAck acknowledges silently; the panel shows the outcome.
	ButtonAck ButtonResult = iota
	// ButtonNothingPlaying asks for an ephemeral "Nothing is playing." reply.
	ButtonNothingPlaying
	// ButtonUnknown means the custom ID is not a panel button.
	ButtonUnknown
)

// Button applies a panel button press in the guild's event order and waits
// for it to finish or for ctx to end.
func (e *Engine) Button(ctx context.Context, req ButtonRequest) ButtonResult {
	switch req.CustomID {
	case panel.ButtonPause, panel.ButtonResume, panel.ButtonSkip, panel.ButtonLeave:
	default:
		return ButtonUnknown
	}

	done := make(chan ButtonResult, 1)
	e.queue.Submit(req.GuildID, func() {
		res := ButtonAck
		defer func() { done <- res }()
		res = e.button(e.ctx, req)
	})

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return ButtonAck
	}
}

func (e *Engine) button(ctx context.Context, req ButtonRequest) ButtonResult {
	snap, ok := e.store.Get(req.GuildID)
	if !ok {
		return ButtonNothingPlaying
	}
	log := e.log.With(zap.String("guild", req.GuildID), zap.String("button", req.CustomID), zap.String("user", req.UserID))

	switch req.CustomID {
	case panel.ButtonPause:
		if !snap.Playing || snap.Paused {
			log.Debug("pause ignored, not playing")
			return ButtonAck
		}
		if !e.setPaused(ctx, log, req.GuildID, true) {
			return ButtonAck
		}
		e.store.Update(req.GuildID, func(s *session.Session) { s.MarkPaused() })

	case panel.ButtonResume:
		if !snap.Paused {
			log.Debug("resume ignored, not paused")
			return ButtonAck
		}
		if !e.setPaused(ctx, log, req.GuildID, false) {
			return ButtonAck
		}
		e.store.Update(req.GuildID, func(s *session.Session) { s.MarkPlaying() })

	case panel.ButtonSkip:
		if !snap.Playing && !snap.Paused {
			log.Debug("skip ignored, nothing playing")
			return ButtonAck
		}
		if len(snap.Queue) > 0 {
			e.playNext(ctx, req.GuildID)
			return ButtonAck
		}
		callCtx, cancel := e.callCtx(ctx)
		err := e.node.Stop(callCtx, req.GuildID)
		cancel()
		if err != nil {
			log.Warn("stop failed", zap.Error(err))
			return ButtonAck
		}
		e.store.Update(req.GuildID, func(s *session.Session) {
			s.MarkIdle()
			s.Current = nil
		})

	case panel.ButtonLeave:
		log.Info("leave requested")
		e.teardown(ctx, req.GuildID, true)
		return ButtonAck
	}

	e.reconcile(ctx, req.GuildID)
	return ButtonAck
}

func (e *Engine) setPaused(ctx context.Context, log *zap.Logger, guildID string, paused bool) bool {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.node.Pause(callCtx, guildID, paused); err != nil {
		log.Warn("pause toggle failed", zap.Bool("paused", paused), zap.Error(err))
		return false
	}
	return true
}
