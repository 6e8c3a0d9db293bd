// Package lavalink adapts a disgolink client to the engine's audio node:
// track resolution, player control, lifecycle events and the Discord voice
// handshake the node needs to join a channel.
package lavalink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/node"
	"github.com/keshon/tammy/pkg/retrylimit"
)

var (
	// ErrNoSession means the node has not reported a session yet or lost it.
	ErrNoSession = errors.New("lavalink: no node session")
	// ErrNoUserID means Run was called before the bot user ID was known.
	ErrNoUserID = errors.New("lavalink: bot user id not set")
)

// Config locates and authenticates the node.
type Config struct {
	Name     string
	Host     string
	Port     int
	Password string
	Secure   bool

	CallTimeout       time.Duration
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	// StatusInterval is how often the node connection state is sampled.
	StatusInterval time.Duration
}

func (c Config) address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Gateway sends voice state updates (op 4) on the Discord gateway.
// *discordgo.Session satisfies it.
type Gateway interface {
	ChannelVoiceJoinManual(guildID, channelID string, mute, deaf bool) error
}

// voiceConn is the voice handshake state of one guild.
type voiceConn struct {
	channelID    string
	voiceSession string
	token        string
	endpoint     string
	stateFresh   bool // a voice state arrived since the last join request
	connected    bool // the voice server info went to the node
	pending      chan error
}

func (v *voiceConn) ready() bool {
	return v.stateFresh && v.voiceSession != "" && v.token != "" && v.endpoint != ""
}

// Client is the bot's link to one Lavalink node.
type Client struct {
	cfg    Config
	gw     Gateway
	lim    *retrylimit.AdaptiveLimiter
	log    *zap.Logger
	events chan node.Event

	mu     sync.Mutex
	ctx    context.Context
	userID string
	link   disgolink.Client
	up     bool
	voice  map[string]*voiceConn
}

func New(cfg Config, gw Gateway, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectDelay
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 2 * time.Second
	}
	return &Client{
		cfg:    cfg,
		gw:     gw,
		lim:    retrylimit.NewAdaptiveLimiter(10, 2, 50, 1, 0.5),
		log:    log.With(zap.String("node", cfg.Name)),
		events: make(chan node.Event, 64),
		ctx:    context.Background(),
		voice:  make(map[string]*voiceConn),
	}
}

// Events delivers node lifecycle events. It is never closed.
func (c *Client) Events() <-chan node.Event {
	return c.events
}

// SetUserID records the bot user the node acts for. Required before Run.
func (c *Client) SetUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// Ready reports whether the node holds a session.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

// Run connects to the node and keeps watching the connection until ctx
// ends. disgolink redials dropped sockets; Run reports the transitions and
// reopens a node that gave up.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	if userID == "" {
		return ErrNoUserID
	}
	uid, err := snowflake.Parse(userID)
	if err != nil {
		return fmt.Errorf("bot user id %q: %w", userID, err)
	}

	link := disgolink.New(uid,
		disgolink.WithListenerFunc(c.onTrackStart),
		disgolink.WithListenerFunc(c.onTrackEnd),
		disgolink.WithListenerFunc(c.onTrackException),
		disgolink.WithListenerFunc(c.onTrackStuck),
		disgolink.WithListenerFunc(c.onWebSocketClosed),
	)
	c.mu.Lock()
	c.ctx = ctx
	c.link = link
	c.mu.Unlock()
	defer func() {
		c.markAllDisconnected()
		link.Close()
	}()

	nd, err := c.addNode(ctx, link)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	c.log.Info("node added", zap.String("address", c.cfg.address()))
	c.watch(ctx, nd)
	return nil
}

// addNode dials the node with backoff until it answers or ctx ends.
func (c *Client) addNode(ctx context.Context, link disgolink.Client) (disgolink.Node, error) {
	cfg := retrylimit.DefaultRetryConfig()
	cfg.MaxAttempts = 0
	cfg.InitialDelay = c.cfg.ReconnectDelay
	cfg.MaxDelay = c.cfg.ReconnectMaxDelay
	cfg.Logger = c.log
	cfg.OnRetry = func(_ int, err error) {
		c.emit(node.Event{Type: node.EventNodeError, Err: err})
	}

	for {
		var nd disgolink.Node
		err := retrylimit.WithRetryConfig(ctx, func() error {
			n, err := link.AddNode(ctx, disgolink.NodeConfig{
				Name:     c.cfg.Name,
				Address:  c.cfg.address(),
				Password: c.cfg.Password,
				Secure:   c.cfg.Secure,
			})
			if err != nil {
				return err
			}
			nd = n
			return nil
		}, nil, cfg)
		if err == nil {
			return nd, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.emit(node.Event{Type: node.EventNodeError, Err: err})
	}
}

// watch samples the node state and turns changes into node events.
func (c *Client) watch(ctx context.Context, nd disgolink.Node) {
	ticker := time.NewTicker(c.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		status := nd.Status()
		up := status == disgolink.StatusConnected && nd.SessionID() != ""

		c.mu.Lock()
		was := c.up
		c.up = up
		c.mu.Unlock()

		switch {
		case up && !was:
			c.log.Info("node session ready", zap.String("session", nd.SessionID()))
			c.emit(node.Event{Type: node.EventNodeConnect})
		case !up && was:
			c.markAllDisconnected()
			c.log.Warn("node connection lost", zap.Any("status", status))
			c.emit(node.Event{Type: node.EventNodeDisconnect, Err: fmt.Errorf("node status %v", status)})
		}

		if status == disgolink.StatusDisconnected {
			openCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			if err := nd.Open(openCtx); err != nil && ctx.Err() == nil {
				c.emit(node.Event{Type: node.EventNodeError, Err: err})
			}
			cancel()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// HasPlayer reports whether the node holds a voice-connected player for
// the guild.
func (c *Client) HasPlayer(guildID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.voice[guildID]
	return ok && v.connected && c.up
}

// CreateConnection asks Discord to move the bot into voiceChannelID and
// waits until the resulting voice server info went to the node.
func (c *Client) CreateConnection(ctx context.Context, guildID, voiceChannelID string, deaf bool) error {
	link, gid, err := c.player(guildID)
	if err != nil {
		return err
	}
	link.Player(gid)

	wait := make(chan error, 1)
	c.mu.Lock()
	v, ok := c.voice[guildID]
	if !ok {
		v = &voiceConn{}
		c.voice[guildID] = v
	}
	v.channelID = voiceChannelID
	v.stateFresh = false
	v.connected = false
	v.pending = wait
	c.mu.Unlock()

	if err := c.gw.ChannelVoiceJoinManual(guildID, voiceChannelID, false, deaf); err != nil {
		c.dropPending(guildID, wait)
		return fmt.Errorf("voice join %s: %w", voiceChannelID, err)
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		c.dropPending(guildID, wait)
		return fmt.Errorf("voice join %s: %w", voiceChannelID, ctx.Err())
	}
}

func (c *Client) dropPending(guildID string, wait chan error) {
	c.mu.Lock()
	if v, ok := c.voice[guildID]; ok && v.pending == wait {
		v.pending = nil
	}
	c.mu.Unlock()
}

// UpdateVoiceState forwards the bot's own VOICE_STATE_UPDATE. An empty
// channelID means the bot left voice.
func (c *Client) UpdateVoiceState(guildID, channelID, voiceSessionID string) {
	c.mu.Lock()
	v, ok := c.voice[guildID]
	link := c.link
	if !ok || link == nil {
		c.mu.Unlock()
		return
	}
	if channelID == "" {
		v.connected = false
		v.stateFresh = false
		v.voiceSession = ""
	} else {
		v.channelID = channelID
		v.voiceSession = voiceSessionID
		v.stateFresh = true
	}
	ready := v.ready()
	c.mu.Unlock()

	gid, err := parseID(guildID)
	if err != nil {
		return
	}
	var chID *snowflake.ID
	if channelID != "" {
		id, err := parseID(channelID)
		if err != nil {
			return
		}
		chID = &id
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
	defer cancel()
	link.OnVoiceStateUpdate(ctx, gid, chID, voiceSessionID)
	if ready {
		c.pushVoice(guildID)
	}
}

// UpdateVoiceServer records VOICE_SERVER_UPDATE; it goes to the node once
// the matching voice state is known.
func (c *Client) UpdateVoiceServer(guildID, token, endpoint string) {
	c.mu.Lock()
	v, ok := c.voice[guildID]
	if !ok {
		c.mu.Unlock()
		return
	}
	v.token = token
	v.endpoint = endpoint
	ready := v.ready()
	c.mu.Unlock()

	if ready {
		c.pushVoice(guildID)
	}
}

// pushVoice hands the voice server info to disgolink, which sends the
// player voice update, and resolves a waiting CreateConnection.
func (c *Client) pushVoice(guildID string) {
	c.mu.Lock()
	v, ok := c.voice[guildID]
	link := c.link
	if !ok || link == nil {
		c.mu.Unlock()
		return
	}
	token, endpoint := v.token, v.endpoint
	c.mu.Unlock()

	gid, err := parseID(guildID)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		link.OnVoiceServerUpdate(ctx, gid, token, endpoint)
		cancel()
	} else {
		c.log.Warn("voice update dropped", zap.String("guild", guildID), zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok = c.voice[guildID]
	if !ok {
		return
	}
	v.connected = err == nil
	if v.pending != nil {
		v.pending <- err
		v.pending = nil
	}
}

// player returns the link and parsed guild ID for a player call.
func (c *Client) player(guildID string) (disgolink.Client, snowflake.ID, error) {
	c.mu.Lock()
	link, up := c.link, c.up
	c.mu.Unlock()
	if link == nil || !up {
		return nil, 0, ErrNoSession
	}
	gid, err := parseID(guildID)
	if err != nil {
		return nil, 0, err
	}
	return link, gid, nil
}

// markAllDisconnected forgets voice connections; players on a restarted
// node are gone.
func (c *Client) markAllDisconnected() {
	c.mu.Lock()
	c.up = false
	for _, v := range c.voice {
		v.connected = false
	}
	c.mu.Unlock()
}

func (c *Client) markDisconnected(guildID string) {
	c.mu.Lock()
	if v, ok := c.voice[guildID]; ok {
		v.connected = false
	}
	c.mu.Unlock()
}
