package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/tammy/internal/panel"
)

// Messenger is the chat side of the engine and the panel: replies,
// deletions and panel messages over the Discord REST API.
type Messenger struct {
	dg *discordgo.Session
}

func NewMessenger(dg *discordgo.Session) *Messenger {
	return &Messenger{dg: dg}
}

func (m *Messenger) Reply(ctx context.Context, channelID, replyToID, content string) (string, error) {
	send := &discordgo.MessageSend{Content: content}
	if replyToID != "" {
		send.Reference = &discordgo.MessageReference{MessageID: replyToID, ChannelID: channelID}
	}
	msg, err := m.dg.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(fmt.Errorf("reply in %s: %w", channelID, err))
	}
	return msg.ID, nil
}

func (m *Messenger) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return m.Delete(ctx, channelID, messageID)
}

// BotVoiceChannel reads the bot's voice channel from the gateway state.
func (m *Messenger) BotVoiceChannel(guildID string) string {
	st := m.dg.State
	if st == nil || st.User == nil {
		return ""
	}
	vs, err := st.VoiceState(guildID, st.User.ID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func (m *Messenger) Send(ctx context.Context, channelID string, p panel.Payload) (string, error) {
	msg, err := m.dg.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{p.Embed},
		Components: p.Components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(fmt.Errorf("send panel to %s: %w", channelID, err))
	}
	return msg.ID, nil
}

func (m *Messenger) Fetch(ctx context.Context, channelID, messageID string) error {
	if _, err := m.dg.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return mapError(fmt.Errorf("fetch %s/%s: %w", channelID, messageID, err))
	}
	return nil
}

func (m *Messenger) Edit(ctx context.Context, channelID, messageID string, p panel.Payload) error {
	embeds := []*discordgo.MessageEmbed{p.Embed}
	components := p.Components
	_, err := m.dg.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         messageID,
		Channel:    channelID,
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return mapError(fmt.Errorf("edit %s/%s: %w", channelID, messageID, err))
	}
	return nil
}

func (m *Messenger) Delete(ctx context.Context, channelID, messageID string) error {
	if err := m.dg.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return mapError(fmt.Errorf("delete %s/%s: %w", channelID, messageID, err))
	}
	return nil
}

func (m *Messenger) Pin(ctx context.Context, channelID, messageID string) error {
	if err := m.dg.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return mapError(fmt.Errorf("pin %s/%s: %w", channelID, messageID, err))
	}
	return nil
}

// mapError marks confirmed-missing messages and channels with
// panel.ErrMessageNotFound. Anything else stays a transient failure.
func mapError(err error) error {
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) {
		return err
	}
	if rerr.Message != nil {
		switch rerr.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", panel.ErrMessageNotFound, err)
		}
	}
	if rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", panel.ErrMessageNotFound, err)
	}
	return err
}
