// Package discord connects the gateway to the playback engine: message
// commands, panel buttons and the bot's own voice handshake.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/command"
	"github.com/keshon/tammy/internal/engine"
	"github.com/keshon/tammy/pkg/jobmgr"
)

// buttonDeadline keeps the engine wait inside Discord's three second
// interaction window.
const buttonDeadline = 2 * time.Second

// Engine is what the gateway handlers feed.
type Engine interface {
	command.Engine
	SetSelfID(id string)
	HandleVoiceState(ch engine.VoiceStateChange)
	Button(ctx context.Context, req engine.ButtonRequest) engine.ButtonResult
	Bootstrap(guildID string)
}

// Node is the audio node side of the voice handshake.
type Node interface {
	SetUserID(id string)
	UpdateVoiceState(guildID, channelID, voiceSessionID string)
	UpdateVoiceServer(guildID, token, endpoint string)
	Run(ctx context.Context) error
}

type Options struct {
	Prefix string
	// AutoReconnectChannelID is the voice channel joined at startup in 24/7
	// mode, or "".
	AutoReconnectChannelID string
}

// Bot is a Discord bot
type Bot struct {
	dg     *discordgo.Session
	opts   Options
	eng    Engine
	node   Node
	router *command.Router
	jobs   *jobmgr.Manager
	log    *zap.Logger

	ctx      context.Context
	bootOnce sync.Once
}

func NewBot(dg *discordgo.Session, opts Options, eng Engine, nd Node, jobs *jobmgr.Manager, log *zap.Logger) *Bot {
	if opts.Prefix == "" {
		opts.Prefix = "!"
	}
	return &Bot{
		dg:     dg,
		opts:   opts,
		eng:    eng,
		node:   nd,
		router: command.NewRouter(opts.Prefix, eng, command.WithCommandLog(log.Named("command"))),
		jobs:   jobs,
		log:    log,
		ctx:    context.Background(),
	}
}

// Run opens the gateway and blocks until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	b.dg.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildVoiceStates |
		discordgo.IntentMessageContent

	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onMessageCreate)
	b.dg.AddHandler(b.onInteractionCreate)
	b.dg.AddHandler(b.onVoiceStateUpdate)
	b.dg.AddHandler(b.onVoiceServerUpdate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	b.log.Info("shutdown signal received, closing gateway")
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("logged in", zap.String("user", r.User.Username), zap.String("id", r.User.ID), zap.Int("guilds", len(r.Guilds)))

	b.eng.SetSelfID(r.User.ID)
	b.node.SetUserID(r.User.ID)

	err := b.jobs.StartAsync("lavalink", b.node.Run)
	if err != nil && !errors.Is(err, jobmgr.ErrAlreadyRunning) {
		b.log.Error("start node connection", zap.Error(err))
	}

	if ch, err := s.State.Channel(b.opts.AutoReconnectChannelID); err == nil && ch != nil {
		b.bootstrap(ch.GuildID)
	}
}

// onGuildCreate finds the always-on channel once guild channels arrive.
func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if b.opts.AutoReconnectChannelID == "" || g.Guild == nil {
		return
	}
	for _, ch := range g.Channels {
		if ch.ID == b.opts.AutoReconnectChannelID {
			b.bootstrap(g.ID)
			return
		}
	}
}

// bootstrap joins the always-on channel in the first guild that has it.
func (b *Bot) bootstrap(guildID string) {
	if b.opts.AutoReconnectChannelID == "" {
		return
	}
	b.bootOnce.Do(func() {
		b.log.Info("found always-on channel, connecting",
			zap.String("guild", guildID), zap.String("channel", b.opts.AutoReconnectChannelID))
		b.eng.Bootstrap(guildID)
	})
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.GuildID == "" {
		return
	}

	c := &command.Context{
		Ctx:       b.ctx,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Author:    command.Author{ID: m.Author.ID, Username: m.Author.Username, Bot: m.Author.Bot},
		Log:       b.log,
	}
	if !c.Author.Bot {
		c.VoiceChannelID = voiceChannelOf(s, m.GuildID, m.Author.ID)
		c.Permissions = permissionsOf(s, m.Author.ID, m.ChannelID)
	}

	if err := b.router.Handle(c, m.Content); err != nil {
		b.log.Error("message handling failed", zap.String("guild", m.GuildID), zap.Error(err))
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent || i.GuildID == "" {
		return
	}

	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	}

	ctx, cancel := context.WithTimeout(b.ctx, buttonDeadline)
	defer cancel()
	res := b.eng.Button(ctx, engine.ButtonRequest{
		GuildID:  i.GuildID,
		CustomID: i.MessageComponentData().CustomID,
		UserID:   userID,
	})

	var resp *discordgo.InteractionResponse
	switch res {
	case engine.ButtonUnknown:
		return
	case engine.ButtonNothingPlaying:
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: engine.MsgNothingPlaying,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		}
	default:
		resp = &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	}
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		b.log.Debug("interaction response failed", zap.String("guild", i.GuildID), zap.Error(err))
	}
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil {
		return
	}
	if s.State != nil && s.State.User != nil && v.UserID == s.State.User.ID {
		b.node.UpdateVoiceState(v.GuildID, v.ChannelID, v.SessionID)
	}

	old := ""
	if v.BeforeUpdate != nil {
		old = v.BeforeUpdate.ChannelID
	}
	b.eng.HandleVoiceState(engine.VoiceStateChange{
		GuildID:      v.GuildID,
		UserID:       v.UserID,
		OldChannelID: old,
		NewChannelID: v.ChannelID,
	})
}

func (b *Bot) onVoiceServerUpdate(_ *discordgo.Session, v *discordgo.VoiceServerUpdate) {
	b.node.UpdateVoiceServer(v.GuildID, v.Token, v.Endpoint)
}

func voiceChannelOf(s *discordgo.Session, guildID, userID string) string {
	if s.State == nil {
		return ""
	}
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// permissionsOf prefers the gateway cache and falls back to REST.
func permissionsOf(s *discordgo.Session, userID, channelID string) int64 {
	if s.State != nil {
		if perms, err := s.State.UserChannelPermissions(userID, channelID); err == nil {
			return perms
		}
	}
	perms, err := s.UserChannelPermissions(userID, channelID)
	if err != nil {
		return 0
	}
	return perms
}
