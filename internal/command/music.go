package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/tammy/internal/engine"
)

// Engine is the part of the playback engine commands drive.
type Engine interface {
	Play(ctx context.Context, req engine.PlayRequest)
	Designate(ctx context.Context, req engine.DesignateRequest)
	ToggleStayConnected(ctx context.Context, req engine.StayRequest)
	IsDesignated(guildID, channelID string) bool
	// Answer replies to a user message and leaves the answer in place.
	Answer(ctx context.Context, channelID, replyToID, content string)
}

type playCommand struct {
	eng      Engine
	implicit bool
}

func (p *playCommand) Name() string        { return "play" }
func (p *playCommand) Aliases() []string   { return []string{"p"} }
func (p *playCommand) Description() string { return "Search for a song or load a link and queue it" }

func (p *playCommand) Run(c *Context) error {
	p.eng.Play(c.Ctx, engine.PlayRequest{
		GuildID:        c.GuildID,
		ChannelID:      c.ChannelID,
		MessageID:      c.MessageID,
		UserID:         c.Author.ID,
		VoiceChannelID: c.VoiceChannelID,
		Query:          c.Args,
		Implicit:       p.implicit,
	})
	return nil
}

type designateCommand struct {
	eng Engine
}

func (d *designateCommand) Name() string      { return "set_tammy" }
func (d *designateCommand) Aliases() []string { return nil }
func (d *designateCommand) Description() string {
	return "Make this channel the official music channel"
}

func (d *designateCommand) Run(c *Context) error {
	d.designate(c, true)
	return nil
}

func (d *designateCommand) Denied(c *Context) error {
	d.designate(c, false)
	return nil
}

func (d *designateCommand) designate(c *Context, allowed bool) {
	d.eng.Designate(c.Ctx, engine.DesignateRequest{
		GuildID:        c.GuildID,
		ChannelID:      c.ChannelID,
		MessageID:      c.MessageID,
		CanManageGuild: allowed,
	})
}

type stayCommand struct {
	eng Engine
}

func (s *stayCommand) Name() string        { return "247" }
func (s *stayCommand) Aliases() []string   { return []string{"stay"} }
func (s *stayCommand) Description() string { return "Toggle staying in your voice channel around the clock" }

func (s *stayCommand) Run(c *Context) error {
	s.eng.ToggleStayConnected(c.Ctx, engine.StayRequest{
		GuildID:        c.GuildID,
		ChannelID:      c.ChannelID,
		MessageID:      c.MessageID,
		VoiceChannelID: c.VoiceChannelID,
	})
	return nil
}

type helpCommand struct {
	eng      Engine
	prefix   string
	registry *Registry
}

func (h *helpCommand) Name() string        { return "help" }
func (h *helpCommand) Aliases() []string   { return []string{"commands"} }
func (h *helpCommand) Description() string { return "Show the available commands" }

func (h *helpCommand) Run(c *Context) error {
	var sb strings.Builder
	sb.WriteString("**Commands**\n")
	for _, cmd := range h.registry.All() {
		names := make([]string, 0, 1+len(cmd.Aliases()))
		for _, n := range append([]string{cmd.Name()}, cmd.Aliases()...) {
			names = append(names, fmt.Sprintf("`%s%s`", h.prefix, n))
		}
		fmt.Fprintf(&sb, "%s - %s\n", strings.Join(names, ", "), cmd.Description())
	}
	sb.WriteString("\nIn the official music channel, any message is played as a song name or link.")
	h.eng.Answer(c.Ctx, c.ChannelID, c.MessageID, sb.String())
	return nil
}

// Router turns incoming messages into command runs.
type Router struct {
	prefix   string
	eng      Engine
	registry *Registry
	implicit Command
}

// NewRouter registers the music commands behind the common middleware
// chain. mws wrap outside of it, in ApplyMiddlewares order.
func NewRouter(prefix string, eng Engine, mws ...Middleware) *Router {
	base := []Middleware{WithGuildOnly(), WithoutBots()}
	chain := func(extra ...Middleware) []Middleware {
		out := append([]Middleware{}, extra...)
		out = append(out, mws...)
		return append(out, base...)
	}

	reg := NewRegistry()
	reg.Register(&playCommand{eng: eng}, chain()...)
	reg.Register(&designateCommand{eng: eng}, chain(WithRequiredPermission(discordgo.PermissionManageGuild))...)
	reg.Register(&stayCommand{eng: eng}, chain()...)
	reg.Register(&helpCommand{eng: eng, prefix: prefix, registry: reg}, chain()...)

	return &Router{
		prefix:   prefix,
		eng:      eng,
		registry: reg,
		implicit: ApplyMiddlewares(&playCommand{eng: eng, implicit: true}, chain()...),
	}
}

func (r *Router) Registry() *Registry { return r.registry }

// Handle runs the command content names. In the official channel any text
// without the prefix is a play query; prefixed text naming no known command
// is ignored everywhere.
func (r *Router) Handle(c *Context, content string) error {
	if name, args, ok := Parse(r.prefix, content); ok {
		cmd, found := r.registry.Get(name)
		if !found {
			return nil
		}
		c.Args = args
		return cmd.Run(c)
	}

	if c.GuildID == "" || !r.eng.IsDesignated(c.GuildID, c.ChannelID) {
		return nil
	}
	c.Args = content
	return r.implicit.Run(c)
}
