package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/tammy/internal/node"
	"github.com/keshon/tammy/internal/panel"
	"github.com/keshon/tammy/internal/session"
	"github.com/keshon/tammy/pkg/retrylimit"
)

func TestPlay_PanelIdleThenPlayingAndAutoDelete(t *testing.T) {
	h := newHarness(t, Options{})

	h.play("Song A")

	assert.Equal(t, []string{"Idle", "Playing"}, h.msg.statuses())
	h.msg.mu.Lock()
	firstQueue := h.msg.history[0].Embed.Fields[2].Value
	h.msg.mu.Unlock()
	assert.Equal(t, "1. Song A", firstQueue)
	assert.Equal(t, []string{"Song A"}, h.nd.playedTitles())

	s := h.session(t)
	require.NotNil(t, s.Current)
	assert.Equal(t, "Song A", s.Current.Title)
	assert.Equal(t, session.StatusPlaying, s.Status())
	assert.Empty(t, s.Queue)

	confirm, ok := h.tr.replyWith(fmt.Sprintf(MsgAddedToQueue, "Song A"))
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		return h.tr.wasDeleted(confirm.ID) && h.tr.wasDeleted("m-Song A")
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.e.locks.Held(testGuild))
}

func TestPlay_RapidInvocationsRejectedWhileBusy(t *testing.T) {
	h := newHarness(t, Options{})

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.nd.resolve = func(query string) (node.LoadResult, error) {
		if query == "first" {
			once.Do(func() { close(started) })
			<-release
		}
		return node.LoadResult{LoadType: node.LoadTrack, Tracks: []session.Track{track(query)}}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.play("first")
	}()
	<-started

	h.play("second")
	assert.True(t, containsReply(h, MsgAlreadyProcessing))

	close(release)
	<-done

	h.play("third")
	assert.True(t, containsReply(h, fmt.Sprintf(MsgAddedToQueue, "third")))
	assert.False(t, containsReply(h, fmt.Sprintf(MsgAddedToQueue, "second")))

	s := h.session(t)
	require.Len(t, s.Queue, 1)
	assert.Equal(t, "third", s.Queue[0].Title)
}

func TestPlay_LockReleasedOnEveryExit(t *testing.T) {
	tests := []struct {
		name    string
		voice   string
		resolve func(string) (node.LoadResult, error)
		connErr error
		reply   string
	}{
		{
			name:  "no voice channel",
			reply: MsgNoVoiceChannel,
		},
		{
			name:    "resolve error",
			voice:   testVoice,
			resolve: func(string) (node.LoadResult, error) { return node.LoadResult{}, errors.New("boom") },
			reply:   MsgSearchFailed,
		},
		{
			name: "node load error",
			resolve: func(string) (node.LoadResult, error) {
				return node.LoadResult{LoadType: node.LoadError, ErrorMessage: "nope"}, nil
			},
			voice: testVoice,
			reply: MsgSearchFailed,
		},
		{
			name:    "empty result",
			voice:   testVoice,
			resolve: func(string) (node.LoadResult, error) { return node.LoadResult{LoadType: node.LoadEmpty}, nil },
			reply:   MsgNoResults,
		},
		{
			name:    "connect failure",
			voice:   testVoice,
			connErr: errors.New("gateway down"),
			reply:   MsgPlayFailed,
		},
		{
			name:    "panic",
			voice:   testVoice,
			resolve: func(string) (node.LoadResult, error) { panic("resolver exploded") },
			reply:   MsgPlayFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.nd.resolve = tt.resolve
			h.nd.connectErr = tt.connErr

			h.e.Play(context.Background(), PlayRequest{
				GuildID: testGuild, ChannelID: testText, MessageID: "m1",
				VoiceChannelID: tt.voice, Query: "x",
			})

			assert.True(t, containsReply(h, tt.reply), "replies: %v", h.tr.contents())
			assert.False(t, h.e.locks.Held(testGuild))
			_, exists := h.e.Session(testGuild)
			assert.False(t, exists)
		})
	}
}

func TestPlay_EmptyQuery(t *testing.T) {
	h := newHarness(t, Options{})

	h.e.Play(context.Background(), PlayRequest{
		GuildID: testGuild, ChannelID: testText, MessageID: "m1",
		VoiceChannelID: testVoice, Query: "   ", Implicit: true,
	})

	assert.Equal(t, []string{MsgEmptyQuery}, h.tr.contents())
	assert.Eventually(t, func() bool { return h.tr.wasDeleted("m1") }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.nd.connectCount())
}

func TestPlay_PlaylistEnqueuesAllSearchOnlyFirst(t *testing.T) {
	h := newHarness(t, Options{})
	h.nd.resolve = func(q string) (node.LoadResult, error) {
		if q == "mix" {
			return node.LoadResult{
				LoadType:     node.LoadPlaylist,
				PlaylistName: "Mix",
				Tracks:       []session.Track{track("a"), track("b"), track("c")},
			}, nil
		}
		return node.LoadResult{LoadType: node.LoadSearch, Tracks: []session.Track{track("s1"), track("s2")}}, nil
	}

	h.play("mix")
	assert.True(t, containsReply(h, fmt.Sprintf(MsgAddedPlaylist, 3, "Mix")))
	s := h.session(t)
	assert.Equal(t, "a", s.Current.Title)
	require.Len(t, s.Queue, 2)

	h.play("search")
	s = h.session(t)
	require.Len(t, s.Queue, 3)
	assert.Equal(t, "s1", s.Queue[2].Title)
	assert.Equal(t, 1, h.nd.connectCount(), "a connected session is reused")
}

func TestPlay_SkipsTracksTheNodeRefuses(t *testing.T) {
	h := newHarness(t, Options{})
	h.nd.resolve = func(string) (node.LoadResult, error) {
		return node.LoadResult{LoadType: node.LoadPlaylist, PlaylistName: "p", Tracks: []session.Track{track("bad"), track("good")}}, nil
	}
	h.nd.failPlay(retrylimit.Fatal(errors.New("unplayable")), "bad")

	h.play("p")

	assert.Equal(t, []string{"good"}, h.nd.playedTitles())
	assert.Equal(t, "good", h.session(t).Current.Title)
}

func TestPlay_OrderedWithQueueEndTeardown(t *testing.T) {
	h := newHarness(t, Options{})
	h.play("A")
	require.Equal(t, []string{"A"}, h.nd.playedTitles())

	// A finishes while the next play checks whether the connection is reusable.
	h.tr.setLookupHook(func(guildID string) {
		h.e.HandleNodeEvent(node.Event{Type: node.EventTrackEnd, GuildID: guildID, Reason: node.EndFinished})
		deadline := time.Now().Add(100 * time.Millisecond)
		for time.Now().Before(deadline) {
			if _, ok := h.e.Session(guildID); !ok {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	})
	h.play("B")

	assert.Eventually(t, func() bool {
		return slices.Equal(h.nd.playedTitles(), []string{"A", "B"})
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		s, ok := h.e.Session(testGuild)
		return ok && s.Playing && s.Current != nil && s.Current.Title == "B"
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.nd.HasPlayer(testGuild), "a playing session has a player")
	assert.Equal(t, testVoice, h.tr.BotVoiceChannel(testGuild))
	assert.Equal(t, 1, h.nd.connectCount())
	assert.Zero(t, h.nd.destroyCount())
}

func TestSkip_UnreachableNodeKeepsQueue(t *testing.T) {
	h := newHarness(t, Options{})
	h.nd.resolve = func(q string) (node.LoadResult, error) {
		if q == "mix" {
			return node.LoadResult{
				LoadType:     node.LoadPlaylist,
				PlaylistName: "Mix",
				Tracks:       []session.Track{track("a"), track("b"), track("c"), track("d")},
			}, nil
		}
		return node.LoadResult{LoadType: node.LoadTrack, Tracks: []session.Track{track(q)}}, nil
	}
	h.play("mix")
	require.Equal(t, []string{"a"}, h.nd.playedTitles())
	h.nd.failPlay(errors.New("lavalink: no node session"), "b", "c", "d")

	res := h.e.Button(context.Background(), ButtonRequest{GuildID: testGuild, CustomID: panel.ButtonSkip})
	assert.Equal(t, ButtonAck, res)

	s := h.session(t)
	assert.Equal(t, []string{"b", "c", "d"}, queueTitles(s))
	assert.Nil(t, s.Current)
	assert.Equal(t, session.StatusIdle, s.Status())
	assert.Equal(t, []string{"a"}, h.nd.playedTitles())
	assert.Zero(t, h.nd.destroyCount())
	assert.False(t, h.e.sched.Pending(testGuild), "only 24/7 sessions retry on their own")
	assert.Equal(t, "Idle", h.msg.lastStatus())

	// the node is back; the next play picks up where the queue stopped
	h.nd.failPlay(nil, "b", "c", "d")
	h.play("e")

	s = h.session(t)
	require.NotNil(t, s.Current)
	assert.Equal(t, "b", s.Current.Title)
	assert.Equal(t, []string{"c", "d", "e"}, queueTitles(s))
	assert.Equal(t, []string{"a", "b"}, h.nd.playedTitles())
}

func TestSkip_UnreachableNodeRetriesStayConnectedSession(t *testing.T) {
	h := newHarness(t, Options{ReconnectDelay: 50 * time.Millisecond})
	ctx := context.Background()
	h.e.ToggleStayConnected(ctx, StayRequest{GuildID: testGuild, ChannelID: testText, VoiceChannelID: testVoice})
	h.play("one")
	h.play("two")
	h.nd.failPlay(errors.New("lavalink: no node session"), "two")

	h.e.Button(ctx, ButtonRequest{GuildID: testGuild, CustomID: panel.ButtonSkip})

	assert.Equal(t, []string{"two"}, queueTitles(h.session(t)))
	assert.True(t, h.e.sched.Pending(testGuild))

	h.nd.failPlay(nil, "two")
	assert.Eventually(t, func() bool {
		return slices.Equal(h.nd.playedTitles(), []string{"one", "two"})
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		s, ok := h.e.Session(testGuild)
		return ok && s.Playing && len(s.Queue) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.nd.connectCount(), "the live connection is reused")
}

func TestVoiceDisconnect_StayConnectedReconnectsOnce(t *testing.T) {
	h := newHarness(t, Options{ReconnectDelay: 150 * time.Millisecond})
	ctx := context.Background()

	h.e.ToggleStayConnected(ctx, StayRequest{GuildID: testGuild, ChannelID: testText, MessageID: "m0", VoiceChannelID: testVoice})
	h.play("Song A")
	require.Equal(t, 1, h.nd.connectCount())
	require.Equal(t, "Playing", h.msg.lastStatus())

	h.nd.drop(testGuild)
	h.e.HandleVoiceState(VoiceStateChange{GuildID: testGuild, UserID: testBot, OldChannelID: testVoice})
	h.e.HandleNodeEvent(node.Event{Type: node.EventPlayerDisconnect, GuildID: testGuild, Code: 4014})

	assert.Eventually(t, func() bool { return h.msg.lastStatus() == "Idle" }, 100*time.Millisecond, 2*time.Millisecond)
	assert.Equal(t, 1, h.nd.connectCount(), "reconnect must wait for the delay")
	assert.True(t, h.e.sched.Pending(testGuild))

	assert.Eventually(t, func() bool { return h.msg.lastStatus() == "Playing" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.nd.connectCount())
	assert.Equal(t, []string{"Song A", "Song A"}, h.nd.playedTitles())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 2, h.nd.connectCount(), "exactly one reconnect")
	assert.False(t, h.e.sched.Pending(testGuild))
}

func TestVoiceDisconnect_WithoutStayTearsDown(t *testing.T) {
	h := newHarness(t, Options{})
	h.play("Song A")

	h.nd.drop(testGuild)
	h.e.HandleVoiceState(VoiceStateChange{GuildID: testGuild, UserID: testBot, OldChannelID: testVoice})

	assert.Eventually(t, func() bool {
		_, ok := h.e.Session(testGuild)
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.e.sched.Pending(testGuild))
	assert.Eventually(t, func() bool { return h.msg.lastStatus() == "Idle" }, time.Second, 5*time.Millisecond)
}

func TestVoiceState_OtherUsersIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	h.play("Song A")

	h.e.HandleVoiceState(VoiceStateChange{GuildID: testGuild, UserID: "someone", OldChannelID: testVoice})
	time.Sleep(50 * time.Millisecond)

	_, ok := h.e.Session(testGuild)
	assert.True(t, ok)
}

func TestVoiceState_MoveUpdatesChannel(t *testing.T) {
	h := newHarness(t, Options{})
	h.play("Song A")

	h.e.HandleVoiceState(VoiceStateChange{GuildID: testGuild, UserID: testBot, OldChannelID: testVoice, NewChannelID: "voice2"})

	assert.Eventually(t, func() bool {
		s, ok := h.e.Session(testGuild)
		return ok && s.VoiceChannelID == "voice2" && s.State == session.StateActive
	}, time.Second, 5*time.Millisecond)
}

func TestReconnect_IdempotentWhenAlreadyConnected(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.e.ToggleStayConnected(ctx, StayRequest{GuildID: testGuild, ChannelID: testText, VoiceChannelID: testVoice})
	require.Equal(t, 1, h.nd.connectCount())

	h.e.reconnect(ctx, testGuild, 0, "test")
	h.e.reconnect(ctx, testGuild, 0, "test")

	assert.Equal(t, 1, h.nd.connectCount())
	assert.Equal(t, 1, h.msg.liveCount(), "no duplicate panel")
	assert.Equal(t, session.StateActive, h.session(t).State)
}

func TestReconnect_FailureBacksOff(t *testing.T) {
	h := newHarness(t, Options{ReconnectDelay: time.Hour, ReconnectMaxDelay: 4 * time.Hour})
	ctx := context.Background()
	h.e.ToggleStayConnected(ctx, StayRequest{GuildID: testGuild, ChannelID: testText, VoiceChannelID: testVoice})
	h.nd.drop(testGuild)
	h.nd.connectErr = errors.New("no route")

	h.e.reconnect(ctx, testGuild, 0, "test")

	assert.True(t, h.e.sched.Pending(testGuild))
	_, ok := h.e.Session(testGuild)
	assert.True(t, ok, "24/7 session survives failed reconnects")
}

func TestBackoff(t *testing.T) {
	h := newHarness(t, Options{ReconnectDelay: time.Second, ReconnectMaxDelay: 5 * time.Second})

	assert.Equal(t, time.Second, h.e.backoff(0))
	assert.Equal(t, 2*time.Second, h.e.backoff(1))
	assert.Equal(t, 4*time.Second, h.e.backoff(2))
	assert.Equal(t, 5*time.Second, h.e.backoff(3))
	assert.Equal(t, 5*time.Second, h.e.backoff(30))
}

func TestQueueEnd_StayConnectedKeepsSession(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.e.ToggleStayConnected(ctx, StayRequest{GuildID: testGuild, ChannelID: testText, VoiceChannelID: testVoice})
	h.play("Song A")

	h.e.HandleNodeEvent(node.Event{Type: node.EventTrackEnd, GuildID: testGuild, Reason: node.EndFinished})

	assert.Eventually(t, func() bool { return h.msg.lastStatus() == "Idle" }, time.Second, 5*time.Millisecond)
	s := h.session(t)
	assert.Nil(t, s.Current)
	assert.True(t, s.StayConnected)
	assert.Zero(t, h.nd.destroys)
}

func TestQueueEnd_WithoutStayDestroys(t *testing.T) {
	h := newHarness(t, Options{})
	h.play("Song A")

	h.e.HandleNodeEvent(node.Event{Type: node.EventTrackEnd, GuildID: testGuild, Reason: node.EndFinished})

	assert.Eventually(t, func() bool {
		_, ok := h.e.Session(testGuild)
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		h.nd.mu.Lock()
		defer h.nd.mu.Unlock()
		return h.nd.destroys == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.msg.lastStatus() == "Idle" }, time.Second, 5*time.Millisecond)
	_, hasPanel := h.e.panel.Record(testGuild)
	assert.True(t, hasPanel)
}

func TestTrackEnd_AdvancesOnlyForFinishedOrFailed(t *testing.T) {
	h := newHarness(t, Options{})
	h.play("one")
	h.play("two")
	require.Equal(t, []string{"one"}, h.nd.playedTitles())

	h.e.HandleNodeEvent(node.Event{Type: node.EventTrackEnd, GuildID: testGuild, Reason: node.EndReplaced})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"one"}, h.nd.playedTitles())

	h.e.HandleNodeEvent(node.Event{Type: node.EventTrackEnd, GuildID: testGuild, Reason: node.EndLoadFailed})
	assert.Eventually(t, func() bool { return len(h.nd.playedTitles()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "two", h.session(t).Current.Title)
}

func TestTrackStart_MarksPlaying(t *testing.T) {
	h := newHarness(t, Options{})
	h.play("one")
	h.e.store.Update(testGuild, func(s *session.Session) { s.MarkIdle() })

	tr := track("from-node")
	h.e.HandleNodeEvent(node.Event{Type: node.EventTrackStart, GuildID: testGuild, Track: &tr})

	assert.Eventually(t, func() bool {
		s, ok := h.e.Session(testGuild)
		return ok && s.Playing && s.Current != nil && s.Current.Title == "from-node"
	}, time.Second, 5*time.Millisecond)
}

func TestNodeDisconnect_FansOut(t *testing.T) {
	h := newHarness(t, Options{ReconnectDelay: time.Hour})
	ctx := context.Background()
	h.e.ToggleStayConnected(ctx, StayRequest{GuildID: "stay", ChannelID: testText, VoiceChannelID: "v-stay"})
	h.e.Play(ctx, PlayRequest{GuildID: "plain", ChannelID: testText, VoiceChannelID: "v-plain", Query: "q"})

	h.e.HandleNodeEvent(node.Event{Type: node.EventNodeDisconnect, Code: 1006})

	assert.Eventually(t, func() bool { return h.e.sched.Pending("stay") }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, ok := h.e.Session("plain")
		return !ok
	}, time.Second, 5*time.Millisecond)
	s, ok := h.e.Session("stay")
	require.True(t, ok)
	assert.Equal(t, session.StateConnecting, s.State)
}

func TestToggleStayConnected(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	req := StayRequest{GuildID: testGuild, ChannelID: testText, MessageID: "m1", VoiceChannelID: testVoice}

	h.e.ToggleStayConnected(ctx, StayRequest{GuildID: testGuild, ChannelID: testText})
	assert.True(t, containsReply(h, MsgNeedVoiceFor247))

	h.e.ToggleStayConnected(ctx, req)
	assert.True(t, containsReply(h, Msg247Enabled))
	assert.True(t, h.session(t).StayConnected)

	h.e.ToggleStayConnected(ctx, req)
	assert.True(t, containsReply(h, Msg247Disabled))
	_, ok := h.e.Session(testGuild)
	assert.False(t, ok, "idle session without 24/7 is torn down")
}

func TestToggleStayConnected_DisableKeepsPlayingSession(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	req := StayRequest{GuildID: testGuild, ChannelID: testText, VoiceChannelID: testVoice}
	h.e.ToggleStayConnected(ctx, req)
	h.play("Song A")

	h.e.ToggleStayConnected(ctx, req)

	s := h.session(t)
	assert.False(t, s.StayConnected)
	assert.True(t, s.Playing)
}

func TestDesignate(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	h.e.Designate(ctx, DesignateRequest{GuildID: testGuild, ChannelID: testText, MessageID: "m1"})
	assert.True(t, containsReply(h, MsgNeedManageGuild))
	assert.False(t, h.e.IsDesignated(testGuild, testText))

	h.e.Designate(ctx, DesignateRequest{GuildID: testGuild, ChannelID: testText, MessageID: "m2", CanManageGuild: true})
	assert.True(t, containsReply(h, MsgDesignated))
	assert.True(t, h.e.IsDesignated(testGuild, testText))

	h.play("Song A")
	h.msg.mu.Lock()
	assert.Len(t, h.msg.pinned, 1)
	h.msg.mu.Unlock()
}

func TestButton_Transitions(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	press := func(id string) ButtonResult {
		return h.e.Button(ctx, ButtonRequest{GuildID: testGuild, CustomID: id, UserID: "u1"})
	}

	assert.Equal(t, ButtonNothingPlaying, press(panel.ButtonPause))
	assert.Equal(t, ButtonUnknown, press("something_else"))

	h.play("one")

	assert.Equal(t, ButtonAck, press(panel.ButtonResume))
	assert.Empty(t, h.nd.pauses, "resume while playing is a no-op")

	assert.Equal(t, ButtonAck, press(panel.ButtonPause))
	assert.True(t, h.session(t).Paused)
	assert.Equal(t, "Paused", h.msg.lastStatus())

	press(panel.ButtonPause)
	assert.Equal(t, []bool{true}, h.nd.pauses)

	press(panel.ButtonResume)
	assert.True(t, h.session(t).Playing)
	assert.Equal(t, []bool{true, false}, h.nd.pauses)

	press(panel.ButtonSkip)
	s := h.session(t)
	assert.Equal(t, session.StatusIdle, s.Status())
	assert.Nil(t, s.Current)
	assert.Equal(t, 1, h.nd.stops)
	assert.Equal(t, "Idle", h.msg.lastStatus())
}

func TestButton_SkipPlaysNext(t *testing.T) {
	h := newHarness(t, Options{})
	h.play("one")
	h.play("two")

	h.e.Button(context.Background(), ButtonRequest{GuildID: testGuild, CustomID: panel.ButtonSkip})

	assert.Equal(t, []string{"one", "two"}, h.nd.playedTitles())
	assert.Zero(t, h.nd.stops)
}

func TestButton_LeaveClearsEverything(t *testing.T) {
	h := newHarness(t, Options{ReconnectDelay: time.Hour})
	ctx := context.Background()
	h.e.ToggleStayConnected(ctx, StayRequest{GuildID: testGuild, ChannelID: testText, VoiceChannelID: testVoice})
	h.play("one")
	h.e.scheduleReconnect(testGuild, 0)

	h.e.Button(ctx, ButtonRequest{GuildID: testGuild, CustomID: panel.ButtonLeave})

	_, ok := h.e.Session(testGuild)
	assert.False(t, ok)
	assert.False(t, h.e.sched.Pending(testGuild))
	_, hasPanel := h.e.panel.Record(testGuild)
	assert.False(t, hasPanel)
	assert.Zero(t, h.msg.liveCount())

	// the gateway then reports the bot leaving voice; nothing is left to heal
	h.e.HandleVoiceState(VoiceStateChange{GuildID: testGuild, UserID: testBot, OldChannelID: testVoice})
	time.Sleep(30 * time.Millisecond)
	assert.False(t, h.e.sched.Pending(testGuild))
}

func TestBootstrap(t *testing.T) {
	h := newHarness(t, Options{AutoReconnectChannelID: "always-on"})

	h.e.Bootstrap(testGuild)

	assert.Eventually(t, func() bool {
		s, ok := h.e.Session(testGuild)
		return ok && s.StayConnected && s.VoiceChannelID == "always-on"
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.nd.connectCount() == 1 }, time.Second, 5*time.Millisecond)

	h.e.Bootstrap(testGuild)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.nd.connectCount(), "already connected")
}

func TestReassert_SchedulesDriftedSessions(t *testing.T) {
	h := newHarness(t, Options{ReconnectDelay: time.Hour})
	ctx := context.Background()
	h.e.ToggleStayConnected(ctx, StayRequest{GuildID: testGuild, ChannelID: testText, VoiceChannelID: testVoice})

	require.NoError(t, h.e.Reassert(ctx))
	assert.False(t, h.e.sched.Pending(testGuild))

	h.tr.setVoice(testGuild, "elsewhere")
	require.NoError(t, h.e.Reassert(ctx))
	assert.True(t, h.e.sched.Pending(testGuild))
}

func TestAnswer_StaysInPlace(t *testing.T) {
	h := newHarness(t, Options{})

	h.e.Answer(context.Background(), testText, "m1", "**Commands**")

	r, ok := h.tr.replyWith("**Commands**")
	require.True(t, ok)
	assert.Equal(t, "m1", r.ReplyTo)
	time.Sleep(40 * time.Millisecond)
	assert.False(t, h.tr.wasDeleted(r.ID))
	assert.False(t, h.tr.wasDeleted("m1"))
}
