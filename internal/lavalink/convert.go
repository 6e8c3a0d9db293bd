package lavalink

import (
	"fmt"
	"time"

	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"

	"github.com/keshon/tammy/internal/session"
	"github.com/keshon/tammy/pkg/retrylimit"
)

func toSessionTrack(t lavalink.Track, requester string) session.Track {
	out := session.Track{
		Encoded:    t.Encoded,
		Identifier: t.Info.Identifier,
		Title:      t.Info.Title,
		Author:     t.Info.Author,
		Length:     time.Duration(t.Info.Length) * time.Millisecond,
		Requester:  requester,
	}
	if t.Info.URI != nil {
		out.URI = *t.Info.URI
	}
	if t.Info.ArtworkURL != nil {
		out.ArtworkURL = *t.Info.ArtworkURL
	}
	return out
}

func toSessionTracks(in []lavalink.Track, requester string) []session.Track {
	out := make([]session.Track, 0, len(in))
	for _, t := range in {
		out = append(out, toSessionTrack(t, requester))
	}
	return out
}

// toLavalinkTrack rebuilds the node's view of a queued track. The encoded
// payload is what the node plays; the info is for disgolink's player state.
func toLavalinkTrack(t session.Track) lavalink.Track {
	info := lavalink.TrackInfo{
		Identifier: t.Identifier,
		Author:     t.Author,
		Length:     lavalink.Duration(t.Length.Milliseconds()),
		Title:      t.Title,
	}
	if t.URI != "" {
		uri := t.URI
		info.URI = &uri
	}
	if t.ArtworkURL != "" {
		art := t.ArtworkURL
		info.ArtworkURL = &art
	}
	return lavalink.Track{Encoded: t.Encoded, Info: info}
}

func parseID(id string) (snowflake.ID, error) {
	sf, err := snowflake.Parse(id)
	if err != nil {
		return 0, retrylimit.Fatal(fmt.Errorf("discord id %q: %w", id, err))
	}
	return sf, nil
}
