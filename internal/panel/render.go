package panel

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/tammy/internal/session"
)

const (
	EmbedColor   = 0x5865f2
	Title        = "Music Player"
	QueuePreview = 5

	ButtonPause  = "music_pause"
	ButtonResume = "music_resume"
	ButtonSkip   = "music_skip"
	ButtonLeave  = "music_leave"
)

// Payload is a rendered panel message.
type Payload struct {
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

// Render builds the panel for a session snapshot.
func Render(s session.Session) Payload {
	embed := &discordgo.MessageEmbed{
		Title: Title,
		Color: EmbedColor,
	}

	if cur := s.Current; cur != nil && cur.Title != "" {
		embed.Description = fmt.Sprintf("**%s**\n%s\n`%s`", cur.Title, cur.Author, FormatDuration(cur.Length))
		if cur.ArtworkURL != "" {
			embed.Image = &discordgo.MessageEmbedImage{URL: cur.ArtworkURL}
		}
	} else {
		embed.Description = "Nothing is playing."
	}

	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Status", Value: string(s.Status()), Inline: true},
		{Name: "Volume", Value: fmt.Sprintf("%d%%", s.Volume), Inline: true},
		{Name: "Queue", Value: queueText(s.Queue)},
	}

	return Payload{
		Embed:      embed,
		Components: controls(s),
	}
}

func queueText(queue []session.Track) string {
	if len(queue) == 0 {
		return "Queue empty"
	}
	n := min(len(queue), QueuePreview)
	lines := make([]string, 0, n)
	for i, t := range queue[:n] {
		title := t.Title
		if title == "" {
			title = "Unknown track"
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, title))
	}
	return strings.Join(lines, "\n")
}

func controls(s session.Session) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				CustomID: ButtonPause,
				Label:    "Pause",
				Style:    discordgo.SecondaryButton,
				Disabled: s.Paused || !s.Playing,
			},
			discordgo.Button{
				CustomID: ButtonResume,
				Label:    "Resume",
				Style:    discordgo.SuccessButton,
				Disabled: !s.Paused,
			},
			discordgo.Button{
				CustomID: ButtonSkip,
				Label:    "Skip",
				Style:    discordgo.PrimaryButton,
				Disabled: !s.Playing && !s.Paused,
			},
			discordgo.Button{
				CustomID: ButtonLeave,
				Label:    "Leave",
				Style:    discordgo.DangerButton,
			},
		}},
	}
}

// FormatDuration renders m:ss, or h:mm:ss from one hour up.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
