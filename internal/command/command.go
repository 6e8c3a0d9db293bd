// Package command routes prefixed text commands and official-channel
// messages to the playback engine.
package command

import (
	"context"

	"go.uber.org/zap"
)

// Author is the user who sent the message.
type Author struct {
	ID       string
	Username string
	Bot      bool
}

// Context is what a command gets when it runs.
type Context struct {
	Ctx       context.Context
	GuildID   string
	ChannelID string
	MessageID string
	Author    Author

	// Args is the message text after the command name.
	Args string

	// VoiceChannelID is the author's current voice channel, or "".
	VoiceChannelID string

	// Permissions are the author's computed permissions in ChannelID.
	Permissions int64

	Log *zap.Logger
}

func (c *Context) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Run(c *Context) error
}

// Denier is implemented by commands that answer a permission failure
// themselves instead of being dropped silently.
type Denier interface {
	Denied(c *Context) error
}

type Middleware func(Command) Command

type wrappedCommand struct {
	Command
	wrap func(c *Context) error
}

func (w *wrappedCommand) Run(c *Context) error {
	if w.wrap != nil {
		return w.wrap(c)
	}
	return w.Command.Run(c)
}

// ApplyMiddlewares wraps cmd in order; the last middleware runs first.
func ApplyMiddlewares(cmd Command, mws ...Middleware) Command {
	for _, mw := range mws {
		cmd = mw(cmd)
	}
	return cmd
}
