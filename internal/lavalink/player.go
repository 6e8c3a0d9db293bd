package lavalink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"

	"github.com/keshon/tammy/internal/node"
	"github.com/keshon/tammy/internal/session"
	"github.com/keshon/tammy/pkg/retrylimit"
)

const defaultSearchPrefix = "ytsearch:"

var searchPrefixes = []string{"ytsearch:", "ytmsearch:", "scsearch:", "spsearch:", "amsearch:", "dzsearch:"}

// identifier turns user input into a loadtracks identifier: URLs and
// explicit search prefixes pass through, anything else is a YouTube search.
func identifier(query string) string {
	query = strings.TrimSpace(query)
	if u, err := url.Parse(query); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return query
	}
	for _, p := range searchPrefixes {
		if strings.HasPrefix(query, p) {
			return query
		}
	}
	return defaultSearchPrefix + query
}

// Resolve loads tracks for a query on the best available node.
func (c *Client) Resolve(ctx context.Context, query, requester string) (node.LoadResult, error) {
	c.mu.Lock()
	link, up := c.link, c.up
	c.mu.Unlock()
	if link == nil || !up {
		return node.LoadResult{}, ErrNoSession
	}
	nd := link.BestNode()
	if nd == nil {
		return node.LoadResult{}, ErrNoSession
	}

	var out node.LoadResult
	nd.LoadTracksHandler(ctx, identifier(query), disgolink.NewResultHandler(
		func(t lavalink.Track) {
			out = node.LoadResult{LoadType: node.LoadTrack, Tracks: []session.Track{toSessionTrack(t, requester)}}
		},
		func(pl lavalink.Playlist) {
			out = node.LoadResult{LoadType: node.LoadPlaylist, PlaylistName: pl.Info.Name, Tracks: toSessionTracks(pl.Tracks, requester)}
		},
		func(ts []lavalink.Track) {
			out = node.LoadResult{LoadType: node.LoadSearch, Tracks: toSessionTracks(ts, requester)}
		},
		func() {
			out = node.LoadResult{LoadType: node.LoadEmpty}
		},
		func(err error) {
			out = node.LoadResult{LoadType: node.LoadError, ErrorMessage: err.Error()}
		},
	))
	if out.LoadType == "" {
		return out, fmt.Errorf("load tracks %q: no result", query)
	}
	return out, nil
}

// Play starts track on the guild's player, replacing whatever plays.
func (c *Client) Play(ctx context.Context, guildID string, track session.Track) error {
	if track.Encoded == "" {
		return retrylimit.Fatal(fmt.Errorf("play %q: track has no encoded payload", track.Title))
	}
	return c.update(ctx, guildID, lavalink.WithTrack(toLavalinkTrack(track)), lavalink.WithPaused(false))
}

// Pause pauses or resumes the guild's player.
func (c *Client) Pause(ctx context.Context, guildID string, paused bool) error {
	return c.update(ctx, guildID, lavalink.WithPaused(paused))
}

// Stop ends the current track without destroying the player.
func (c *Client) Stop(ctx context.Context, guildID string) error {
	return c.update(ctx, guildID, lavalink.WithNullTrack())
}

// Destroy leaves voice and deletes the node player. A player the node no
// longer knows is not an error.
func (c *Client) Destroy(ctx context.Context, guildID string) error {
	c.mu.Lock()
	_, had := c.voice[guildID]
	delete(c.voice, guildID)
	link := c.link
	c.mu.Unlock()

	var errs []error
	if had {
		if err := c.gw.ChannelVoiceJoinManual(guildID, "", false, false); err != nil {
			errs = append(errs, fmt.Errorf("voice leave: %w", err))
		}
	}
	if link == nil {
		return errors.Join(errs...)
	}
	gid, err := parseID(guildID)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if pl := link.ExistingPlayer(gid); pl != nil {
		err := classify(http.MethodDelete, pl.Destroy(ctx))
		var se *retrylimit.StatusError
		if err != nil && !(errors.As(err, &se) && se.Code == http.StatusNotFound) {
			errs = append(errs, fmt.Errorf("destroy player: %w", err))
		}
	}
	return errors.Join(errs...)
}

// update applies a player update with retries. Rejections other than rate
// limits come back as retrylimit.FatalError.
func (c *Client) update(ctx context.Context, guildID string, opts ...lavalink.PlayerUpdateOpt) error {
	link, gid, err := c.player(guildID)
	if err != nil {
		return err
	}
	pl := link.Player(gid)

	cfg := retrylimit.DefaultRetryConfig()
	cfg.MaxAttempts = 3
	cfg.InitialDelay = 200 * time.Millisecond
	cfg.MaxDelay = 2 * time.Second
	cfg.Logger = c.log

	err = retrylimit.WithRetryConfig(ctx, func() error {
		return classify(http.MethodPatch, pl.Update(ctx, opts...))
	}, c.lim, cfg)
	if err != nil {
		return fmt.Errorf("update player %s: %w", guildID, err)
	}
	return nil
}

// classify maps a node error response onto retrylimit's status errors.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	var lerr lavalink.Error
	if !errors.As(err, &lerr) {
		return err
	}
	se := &retrylimit.StatusError{Method: method, URL: lerr.Path, Code: lerr.Status, Body: lerr.Message}
	if se.Code < 500 && se.Code != http.StatusTooManyRequests {
		return retrylimit.Fatal(se)
	}
	return se
}
