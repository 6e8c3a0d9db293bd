// Package panel keeps exactly one status message per guild in sync with the
// guild's session, recreating it when it disappears.
//
// Every call to the messaging collaborator is best effort: failures leave
// the panel stale and are logged, never returned to the caller.
package panel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/guildlock"
	"github.com/keshon/tammy/internal/session"
)

// ErrMessageNotFound means the message or its channel is confirmed gone.
// Messenger implementations must return it (possibly wrapped) for that case
// so the reconciler can tell it apart from a transient failure.
var ErrMessageNotFound = errors.New("panel message not found")

// Messenger is the message API of the chat transport.
type Messenger interface {
	Send(ctx context.Context, channelID string, p Payload) (messageID string, err error)
	Fetch(ctx context.Context, channelID, messageID string) error
	Edit(ctx context.Context, channelID, messageID string, p Payload) error
	Delete(ctx context.Context, channelID, messageID string) error
	Pin(ctx context.Context, channelID, messageID string) error
}

// SessionSource supplies session snapshots.
type SessionSource interface {
	Get(guildID string) (session.Session, bool)
}

// Designations reports the guild's official music channel, or "".
type Designations interface {
	Designated(guildID string) string
}

// Record identifies the tracked panel message of a guild.
type Record struct {
	ChannelID string
	MessageID string
}

// Reconciler owns the panel records.
type Reconciler struct {
	msg     Messenger
	source  SessionSource
	desig   Designations
	timeout time.Duration
	log     *zap.Logger

	locks   *guildlock.Mutex
	mu      sync.Mutex
	records map[string]Record
}

func NewReconciler(msg Messenger, source SessionSource, desig Designations, timeout time.Duration, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reconciler{
		msg:     msg,
		source:  source,
		desig:   desig,
		timeout: timeout,
		log:     log,
		locks:   guildlock.NewMutex(),
		records: make(map[string]Record),
	}
}

// Record returns the tracked panel of a guild.
func (r *Reconciler) Record(guildID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[guildID]
	return rec, ok
}

// Reconcile brings the guild's panel in line with its current session.
// With no session, an existing panel is switched to the idle view.
func (r *Reconciler) Reconcile(ctx context.Context, guildID string) {
	unlock := r.locks.Lock(guildID)
	defer unlock()

	log := r.log.With(zap.String("guild", guildID))
	rec, hasRec := r.Record(guildID)

	snap, ok := r.source.Get(guildID)
	if !ok {
		if !hasRec {
			return
		}
		snap = session.Session{GuildID: guildID, TextChannelID: rec.ChannelID, Volume: session.DefaultVolume}
	}
	channelID := snap.TextChannelID
	if channelID == "" {
		return
	}
	payload := Render(snap)

	if hasRec {
		if rec.ChannelID == channelID {
			err := r.update(ctx, rec, payload)
			if err == nil {
				return
			}
			if !errors.Is(err, ErrMessageNotFound) {
				log.Warn("panel update failed, leaving it stale", zap.String("message", rec.MessageID), zap.Error(err))
				return
			}
			log.Info("panel message is gone, recreating", zap.String("message", rec.MessageID))
		} else {
			log.Info("text channel moved, replacing panel",
				zap.String("from", rec.ChannelID), zap.String("to", channelID))
			r.deleteMessage(ctx, rec)
		}
		r.forget(guildID)
	}

	r.create(ctx, guildID, channelID, payload)
}

// Clear deletes the tracked panel message and always forgets the record.
func (r *Reconciler) Clear(ctx context.Context, guildID string) {
	unlock := r.locks.Lock(guildID)
	defer unlock()

	rec, ok := r.Record(guildID)
	if !ok {
		return
	}
	r.deleteMessage(ctx, rec)
	r.forget(guildID)
}

func (r *Reconciler) update(ctx context.Context, rec Record, p Payload) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err := r.msg.Fetch(fetchCtx, rec.ChannelID, rec.MessageID)
	cancel()
	if err != nil {
		return err
	}

	editCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.msg.Edit(editCtx, rec.ChannelID, rec.MessageID, p)
}

func (r *Reconciler) create(ctx context.Context, guildID, channelID string, p Payload) {
	log := r.log.With(zap.String("guild", guildID), zap.String("channel", channelID))

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	messageID, err := r.msg.Send(sendCtx, channelID, p)
	cancel()
	if err != nil {
		log.Warn("panel send failed", zap.Error(err))
		return
	}

	r.mu.Lock()
	r.records[guildID] = Record{ChannelID: channelID, MessageID: messageID}
	r.mu.Unlock()
	log.Debug("panel created", zap.String("message", messageID))

	if r.desig == nil || r.desig.Designated(guildID) != channelID {
		return
	}
	pinCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.msg.Pin(pinCtx, channelID, messageID); err != nil {
		log.Warn("panel pin failed", zap.String("message", messageID), zap.Error(err))
	}
}

func (r *Reconciler) deleteMessage(ctx context.Context, rec Record) {
	delCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.msg.Delete(delCtx, rec.ChannelID, rec.MessageID); err != nil && !errors.Is(err, ErrMessageNotFound) {
		r.log.Warn("panel delete failed",
			zap.String("channel", rec.ChannelID), zap.String("message", rec.MessageID), zap.Error(err))
	}
}

func (r *Reconciler) forget(guildID string) {
	r.mu.Lock()
	delete(r.records, guildID)
	r.mu.Unlock()
}
