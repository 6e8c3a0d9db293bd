// Package engine reconciles per-guild playback sessions with the voice
// transport, the audio node and the status panel.
//
// Every change to a guild's session runs through a per-guild ordered queue:
// voice state, node events, button presses, scheduled reconnects and the
// mutating part of commands. Commands hold the guild's processing flag while
// they resolve and wait for their queued part.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/guildlock"
	"github.com/keshon/tammy/internal/node"
	"github.com/keshon/tammy/internal/panel"
	"github.com/keshon/tammy/internal/reconnect"
	"github.com/keshon/tammy/internal/session"
)

// Transport is the chat-side collaborator.
type Transport interface {
	Reply(ctx context.Context, channelID, replyToID, content string) (messageID string, err error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// BotVoiceChannel returns the voice channel the bot currently sits in
	// for the guild, or "".
	BotVoiceChannel(guildID string) string
}

// Node is the audio-node collaborator.
type Node interface {
	Resolve(ctx context.Context, query, requester string) (node.LoadResult, error)
	CreateConnection(ctx context.Context, guildID, voiceChannelID string, deaf bool) error
	Play(ctx context.Context, guildID string, track session.Track) error
	Pause(ctx context.Context, guildID string, paused bool) error
	Stop(ctx context.Context, guildID string) error
	Destroy(ctx context.Context, guildID string) error
	HasPlayer(guildID string) bool
}

// Options tunes delays and the always-on channel.
type Options struct {
	AutoReconnectChannelID string
	ReconnectDelay         time.Duration
	ReconnectMaxDelay      time.Duration
	ReplyDeleteDelay       time.Duration
	CallTimeout            time.Duration
}

func (o *Options) withDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 15 * time.Second
	}
	if o.ReconnectMaxDelay < o.ReconnectDelay {
		o.ReconnectMaxDelay = o.ReconnectDelay
	}
	if o.ReplyDeleteDelay <= 0 {
		o.ReplyDeleteDelay = 5 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
}

// Engine owns all per-guild state of the process.
type Engine struct {
	opts      Options
	transport Transport
	node      Node
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	store *session.Store
	sched *reconnect.Scheduler
	locks *guildlock.Serializer
	panel *panel.Reconciler
	queue *dispatcher

	selfID atomic.Value // string

	mu         sync.RWMutex
	designated map[string]string
}

// New wires an engine. The context bounds every background action the
// engine starts; Close cancels it.
func New(ctx context.Context, opts Options, transport Transport, nd Node, messenger panel.Messenger, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	opts.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		opts:       opts,
		transport:  transport,
		node:       nd,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		store:      session.NewStore(),
		sched:      reconnect.New(ctx, log.Named("reconnect")),
		locks:      guildlock.NewSerializer(),
		queue:      newDispatcher(log),
		designated: make(map[string]string),
	}
	e.selfID.Store("")
	e.panel = panel.NewReconciler(messenger, e.store, e, opts.CallTimeout, log.Named("panel"))
	return e
}

// Close stops pending reconnects and waits for queued events to finish.
func (e *Engine) Close() {
	e.sched.Stop()
	e.cancel()
	e.queue.Wait()
}

// SetSelfID records the bot's own user ID; voice-state changes of other
// users are ignored.
func (e *Engine) SetSelfID(id string) {
	e.selfID.Store(id)
}

func (e *Engine) self() string {
	id, _ := e.selfID.Load().(string)
	return id
}

// Session returns a snapshot of the guild's session.
func (e *Engine) Session(guildID string) (session.Session, bool) {
	return e.store.Get(guildID)
}

// Designated implements panel.Designations.
func (e *Engine) Designated(guildID string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.designated[guildID]
}

func (e *Engine) designate(guildID, channelID string) {
	e.mu.Lock()
	e.designated[guildID] = channelID
	e.mu.Unlock()
}

// IsDesignated reports whether channelID is the guild's official channel.
func (e *Engine) IsDesignated(guildID, channelID string) bool {
	d := e.Designated(guildID)
	return d != "" && d == channelID
}

// Run feeds node events into the per-guild queues until ctx or events ends.
func (e *Engine) Run(ctx context.Context, events <-chan node.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.HandleNodeEvent(ev)
		}
	}
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.CallTimeout)
}

func (e *Engine) reconcile(ctx context.Context, guildID string) {
	e.panel.Reconcile(ctx, guildID)
}

// backoff returns the reconnect delay for the given consecutive failure
// count: the base delay doubled per failure, capped.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.opts.ReconnectDelay
	for i := 0; i < attempt && d < e.opts.ReconnectMaxDelay; i++ {
		d *= 2
	}
	return min(d, e.opts.ReconnectMaxDelay)
}
