package command

import (
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WithGuildOnly drops direct messages.
func WithGuildOnly() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(c *Context) error {
				if c.GuildID == "" {
					return nil
				}
				return cmd.Run(c)
			},
		}
	}
}

// WithoutBots drops messages sent by bots, the bot itself included.
func WithoutBots() Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(c *Context) error {
				if c.Author.Bot {
					return nil
				}
				return cmd.Run(c)
			},
		}
	}
}

// WithRequiredPermission runs cmd only when the author holds perm or is an
// administrator. Otherwise a Denier command answers, any other is dropped.
func WithRequiredPermission(perm int64) Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(c *Context) error {
				if HasPermission(c.Permissions, perm) {
					return cmd.Run(c)
				}
				c.logger().Info("permission denied",
					zap.String("command", cmd.Name()), zap.String("user", c.Author.ID))
				if d, ok := cmd.(Denier); ok {
					return d.Denied(c)
				}
				return nil
			},
		}
	}
}

// HasPermission reports whether perms grants perm.
func HasPermission(perms, perm int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&perm == perm
}

// WithCommandLog logs every invocation with its duration and outcome and
// hands the command a logger tagged with the invocation id.
func WithCommandLog(log *zap.Logger) Middleware {
	return func(cmd Command) Command {
		return &wrappedCommand{
			Command: cmd,
			wrap: func(c *Context) error {
				l := log.With(
					zap.String("command", cmd.Name()),
					zap.String("invocation", uuid.NewString()),
					zap.String("guild", c.GuildID),
					zap.String("channel", c.ChannelID),
					zap.String("user", c.Author.ID),
				)
				c.Log = l

				start := time.Now()
				err := cmd.Run(c)
				if err != nil {
					l.Error("command failed", zap.Duration("took", time.Since(start)), zap.Error(err))
					return err
				}
				l.Info("command handled", zap.Duration("took", time.Since(start)))
				return nil
			},
		}
	}
}
