package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keshon/tammy/internal/node"
	"github.com/keshon/tammy/internal/panel"
	"github.com/keshon/tammy/internal/session"
)

const (
	testGuild = "g1"
	testText  = "text1"
	testVoice = "voice1"
	testBot   = "bot"
)

type sentReply struct {
	ID        string
	ChannelID string
	ReplyTo   string
	Content   string
}

type fakeTransport struct {
	mu      sync.Mutex
	next    int
	replies []sentReply
	deleted map[string]bool
	voice   map[string]string
	// onLookup runs once, outside the lock, on the next BotVoiceChannel call.
	onLookup func(guildID string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{deleted: map[string]bool{}, voice: map[string]string{}}
}

func (f *fakeTransport) Reply(_ context.Context, channelID, replyToID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("r%d", f.next)
	f.replies = append(f.replies, sentReply{ID: id, ChannelID: channelID, ReplyTo: replyToID, Content: content})
	return id, nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[messageID] = true
	return nil
}

func (f *fakeTransport) BotVoiceChannel(guildID string) string {
	f.mu.Lock()
	hook := f.onLookup
	f.onLookup = nil
	f.mu.Unlock()
	if hook != nil {
		hook(guildID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voice[guildID]
}

func (f *fakeTransport) setLookupHook(hook func(guildID string)) {
	f.mu.Lock()
	f.onLookup = hook
	f.mu.Unlock()
}

func (f *fakeTransport) setVoice(guildID, channelID string) {
	f.mu.Lock()
	f.voice[guildID] = channelID
	f.mu.Unlock()
}

func (f *fakeTransport) contents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.replies))
	for _, r := range f.replies {
		out = append(out, r.Content)
	}
	return out
}

func (f *fakeTransport) replyWith(content string) (sentReply, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.replies {
		if r.Content == content {
			return r, true
		}
	}
	return sentReply{}, false
}

func (f *fakeTransport) wasDeleted(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted[id]
}

type fakeNode struct {
	mu         sync.Mutex
	tr         *fakeTransport
	resolve    func(query string) (node.LoadResult, error)
	connectErr error
	playErr    map[string]error
	connects   []string
	players    map[string]bool
	played     []session.Track
	pauses     []bool
	stops      int
	destroys   int
}

func newFakeNode(tr *fakeTransport) *fakeNode {
	return &fakeNode{tr: tr, players: map[string]bool{}, playErr: map[string]error{}}
}

func (f *fakeNode) Resolve(_ context.Context, query, requester string) (node.LoadResult, error) {
	f.mu.Lock()
	resolve := f.resolve
	f.mu.Unlock()
	if resolve != nil {
		return resolve(query)
	}
	return node.LoadResult{LoadType: node.LoadTrack, Tracks: []session.Track{track(query)}}, nil
}

func (f *fakeNode) CreateConnection(_ context.Context, guildID, voiceChannelID string, _ bool) error {
	f.mu.Lock()
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return err
	}
	f.connects = append(f.connects, voiceChannelID)
	f.players[guildID] = true
	f.mu.Unlock()
	f.tr.setVoice(guildID, voiceChannelID)
	return nil
}

func (f *fakeNode) Play(_ context.Context, _ string, t session.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.playErr[t.Title]; err != nil {
		return err
	}
	f.played = append(f.played, t)
	return nil
}

func (f *fakeNode) failPlay(err error, titles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, title := range titles {
		if err == nil {
			delete(f.playErr, title)
			continue
		}
		f.playErr[title] = err
	}
}

func (f *fakeNode) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroys
}

func (f *fakeNode) Pause(_ context.Context, _ string, paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses = append(f.pauses, paused)
	return nil
}

func (f *fakeNode) Stop(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeNode) Destroy(_ context.Context, guildID string) error {
	f.mu.Lock()
	f.destroys++
	delete(f.players, guildID)
	f.mu.Unlock()
	f.tr.setVoice(guildID, "")
	return nil
}

func (f *fakeNode) HasPlayer(guildID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.players[guildID]
}

// drop simulates losing the voice connection underneath the engine.
func (f *fakeNode) drop(guildID string) {
	f.mu.Lock()
	delete(f.players, guildID)
	f.mu.Unlock()
	f.tr.setVoice(guildID, "")
}

func (f *fakeNode) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeNode) playedTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.played))
	for _, t := range f.played {
		out = append(out, t.Title)
	}
	return out
}

type fakeMessenger struct {
	mu      sync.Mutex
	next    int
	live    map[string]string // messageID -> channelID
	history []panel.Payload
	pinned  []string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{live: map[string]string{}}
}

func (f *fakeMessenger) Send(_ context.Context, channelID string, p panel.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("p%d", f.next)
	f.live[id] = channelID
	f.history = append(f.history, p)
	return id, nil
}

func (f *fakeMessenger) Fetch(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live[messageID] != channelID {
		return panel.ErrMessageNotFound
	}
	return nil
}

func (f *fakeMessenger) Edit(_ context.Context, _, _ string, p panel.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, p)
	return nil
}

func (f *fakeMessenger) Delete(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, messageID)
	return nil
}

func (f *fakeMessenger) Pin(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = append(f.pinned, messageID)
	return nil
}

func (f *fakeMessenger) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.history))
	for _, p := range f.history {
		out = append(out, p.Embed.Fields[0].Value)
	}
	return out
}

func (f *fakeMessenger) lastStatus() string {
	s := f.statuses()
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func (f *fakeMessenger) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

type harness struct {
	e   *Engine
	tr  *fakeTransport
	nd  *fakeNode
	msg *fakeMessenger
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	if opts.ReplyDeleteDelay == 0 {
		opts.ReplyDeleteDelay = 10 * time.Millisecond
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 30 * time.Millisecond
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = time.Second
	}

	tr := newFakeTransport()
	nd := newFakeNode(tr)
	msg := newFakeMessenger()
	e := New(context.Background(), opts, tr, nd, msg, zap.NewNop())
	e.SetSelfID(testBot)
	t.Cleanup(e.Close)
	return &harness{e: e, tr: tr, nd: nd, msg: msg}
}

func (h *harness) play(query string) {
	h.e.Play(context.Background(), PlayRequest{
		GuildID:        testGuild,
		ChannelID:      testText,
		MessageID:      "m-" + query,
		UserID:         "u1",
		VoiceChannelID: testVoice,
		Query:          query,
	})
}

func (h *harness) session(t *testing.T) session.Session {
	t.Helper()
	s, ok := h.e.Session(testGuild)
	require.True(t, ok, "session missing")
	return s
}

func track(title string) session.Track {
	return session.Track{Encoded: "enc-" + title, Identifier: title, Title: title, Author: "artist", Length: 3 * time.Minute}
}

func containsReply(h *harness, content string) bool {
	return slices.Contains(h.tr.contents(), content)
}

func queueTitles(s session.Session) []string {
	out := make([]string, 0, len(s.Queue))
	for _, t := range s.Queue {
		out = append(out, t.Title)
	}
	return out
}
