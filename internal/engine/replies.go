package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	MsgEmptyQuery        = "Please provide a song to play."
	MsgAlreadyProcessing = "Already processing a play command, please wait."
	MsgNoVoiceChannel    = "You must be in a voice channel to play music."
	MsgSearchFailed      = "An error occurred while searching."
	MsgNoResults         = "No results found."
	MsgPlayFailed        = "An error occurred while playing music."
	MsgAddedToQueue      = "Added to queue: **%s**"
	MsgAddedPlaylist     = "Added %d tracks from **%s**"

	MsgNeedManageGuild = "You need Manage Server permission to set the music channel."
	MsgDesignated      = "This channel is now the official music channel. Type song names or links without a prefix."

	MsgNeedVoiceFor247 = "You must be in a voice channel to enable 24/7 mode."
	Msg247Enabled      = "24/7 mode enabled. I will stay in this voice channel."
	Msg247Disabled     = "24/7 mode disabled."
	Msg247Failed       = "Could not join your voice channel."

	MsgNothingPlaying = "Nothing is playing."
)

// reply answers a user message and schedules the answer for deletion.
func (e *Engine) reply(ctx context.Context, channelID, replyToID, content string) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()

	id, err := e.transport.Reply(callCtx, channelID, replyToID, content)
	if err != nil {
		e.log.Warn("reply failed", zap.String("channel", channelID), zap.Error(err))
		return
	}
	e.deleteLater(channelID, id)
}

// Answer replies to a user message. Unlike command feedback the answer is
// not auto-deleted.
func (e *Engine) Answer(ctx context.Context, channelID, replyToID, content string) {
	callCtx, cancel := e.callCtx(ctx)
	defer cancel()
	if _, err := e.transport.Reply(callCtx, channelID, replyToID, content); err != nil {
		e.log.Warn("answer failed", zap.String("channel", channelID), zap.Error(err))
	}
}

// deleteLater removes a message after the reply delay. Failures are logged.
func (e *Engine) deleteLater(channelID, messageID string) {
	if channelID == "" || messageID == "" {
		return
	}
	time.AfterFunc(e.opts.ReplyDeleteDelay, func() {
		if e.ctx.Err() != nil {
			return
		}
		ctx, cancel := e.callCtx(e.ctx)
		defer cancel()
		if err := e.transport.DeleteMessage(ctx, channelID, messageID); err != nil {
			e.log.Debug("auto-delete failed",
				zap.String("channel", channelID), zap.String("message", messageID), zap.Error(err))
		}
	})
}
