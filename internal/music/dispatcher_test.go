package music

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfgWith(fn func(*models.GuildConfig)) *models.GuildConfig {
	cfg := models.DefaultGuildConfig(guildID)
	if fn != nil {
		fn(&cfg)
	}
	return &cfg
}

var liveSession = EventContext{Exists: true, TextChannelID: textChan}

func TestPlanTrackStart(t *testing.T) {
	track := testTrack(1).WithRequester("42")
	ev := Event{Kind: EventTrackStart, GuildID: guildID, Track: track}

	p := plan(ev, liveSession, cfgWith(nil))
	require.Len(t, p.Announcements, 1)
	assert.Equal(t, textChan, p.Announcements[0].ChannelID)
	assert.Contains(t, p.Announcements[0].Embed.Title, "Now Playing")
	assert.Equal(t, "<@42>", p.Announcements[0].Embed.Fields[1].Value)

	require.Len(t, p.Broadcasts, 1)
	b := p.Broadcasts[0]
	assert.Equal(t, BroadcastTrackUpdate, b.Type)
	assert.Equal(t, guildID, b.GuildID)
	require.NotNil(t, b.Track)
	assert.Equal(t, "Track 1", b.Track.Title)
	assert.Equal(t, "42", b.Track.RequesterID)

	p = plan(ev, liveSession, cfgWith(func(c *models.GuildConfig) { c.AnnounceChannelID = "announce" }))
	require.Len(t, p.Announcements, 1)
	assert.Equal(t, "announce", p.Announcements[0].ChannelID)

	p = plan(ev, liveSession, cfgWith(func(c *models.GuildConfig) { c.AnnounceSongs = false }))
	assert.Empty(t, p.Announcements)
	assert.Len(t, p.Broadcasts, 1, "bridge clients hear about tracks regardless of announcements")
}

func TestPlanTrackEndReasons(t *testing.T) {
	cases := map[lavalink.TrackEndReason]bool{
		lavalink.ReasonFinished:   true,
		lavalink.ReasonLoadFailed: true,
		lavalink.ReasonCleanup:    true,
		lavalink.ReasonReplaced:   false,
		lavalink.ReasonStopped:    false,
	}
	for reason, announced := range cases {
		p := plan(Event{Kind: EventTrackEnd, GuildID: guildID, Track: testTrack(1), Reason: reason}, liveSession, cfgWith(nil))
		if announced {
			assert.Len(t, p.Announcements, 1, reason)
		} else {
			assert.Empty(t, p.Announcements, reason)
		}
		require.Len(t, p.Broadcasts, 1)
		assert.Equal(t, BroadcastPlayerEvent, p.Broadcasts[0].Type)
		assert.Equal(t, string(EventTrackEnd), p.Broadcasts[0].EventType)
		assert.Equal(t, string(reason), p.Broadcasts[0].Data["reason"])
	}
}

func TestPlanTrackExceptionAlwaysAnnounced(t *testing.T) {
	ev := Event{
		Kind:      EventTrackException,
		GuildID:   guildID,
		Track:     testTrack(1),
		Exception: lavalink.Exception{Message: "age restricted", Severity: "common"},
	}

	for _, cfg := range []*models.GuildConfig{
		cfgWith(func(c *models.GuildConfig) {
			c.AnnounceSongs = false
			c.AnnounceChannelID = "announce"
		}),
		nil,
	} {
		p := plan(ev, liveSession, cfg)
		require.Len(t, p.Announcements, 1)
		assert.Equal(t, textChan, p.Announcements[0].ChannelID, "errors go to the session's channel")
		assert.Contains(t, p.Announcements[0].Embed.Description, "age restricted")
		require.Len(t, p.Broadcasts, 1)
		assert.Equal(t, "common", p.Broadcasts[0].Data["severity"])
	}
}

func TestPlanWebSocketClosedOnlyBroadcasts(t *testing.T) {
	ev := Event{Kind: EventWebSocketClosed, GuildID: guildID, CloseCode: 4006, CloseReason: "session invalid", ByRemote: true}
	p := plan(ev, liveSession, cfgWith(nil))

	assert.Empty(t, p.Announcements)
	require.Len(t, p.Broadcasts, 1)
	assert.Equal(t, 4006, p.Broadcasts[0].Data["code"])
	assert.Equal(t, true, p.Broadcasts[0].Data["by_remote"])
}

func TestPlanWithoutSessionSkipsFallbackAnnouncements(t *testing.T) {
	p := plan(Event{Kind: EventTrackStart, GuildID: guildID, Track: testTrack(1)}, EventContext{}, cfgWith(nil))
	assert.Empty(t, p.Announcements)
	assert.Len(t, p.Broadcasts, 1)
}

func newDispatcherHarness(t *testing.T) (*harness, *Dispatcher, *fakeAnnouncer, *fakeBroadcaster, *fakeStats) {
	h := newHarness(t)
	ann := &fakeAnnouncer{}
	bc := &fakeBroadcaster{}
	stats := &fakeStats{}
	return h, NewDispatcher(h.m, h.configs, ann, bc, stats), ann, bc, stats
}

func TestDispatcherAdvancesQueueAndAnnounces(t *testing.T) {
	h, d, ann, bc, stats := newDispatcherHarness(t)
	h.node.setLoad("https://list", playlist(2))
	h.play(t, "https://list")

	d.OnTrackStart(lavalink.TrackStartEvent{GuildID: guildID, Track: testTrack(0).WithRequester(userID)})
	d.OnTrackEnd(lavalink.TrackEndEvent{GuildID: guildID, Track: testTrack(0), Reason: lavalink.ReasonFinished})
	d.Wait()

	assert.Equal(t, 2, h.node.playDirectives(guildID))
	assert.Equal(t, 1, stats.played)
	assert.Len(t, ann.posted, 2)
	assert.Len(t, bc.sent, 2)
}

func TestDispatcherSwallowsAnnounceFailures(t *testing.T) {
	h, d, ann, bc, _ := newDispatcherHarness(t)
	ann.err = errBoom
	_, err := h.m.Join(context.Background(), JoinRequest{GuildID: guildID, UserID: userID, TextChannelID: textChan})
	require.NoError(t, err)

	d.OnTrackException(lavalink.TrackExceptionEvent{GuildID: guildID, Track: testTrack(0), Exception: lavalink.Exception{Message: "x"}})
	d.OnWebSocketClosed(lavalink.WebSocketClosedEvent{GuildID: guildID, Code: 4014})
	d.Wait()

	assert.Len(t, bc.sent, 2)
	_, exists := h.m.Session(guildID)
	assert.True(t, exists, "a closed voice socket does not end the session")
}

func TestDispatcherStuckTrackMovesOn(t *testing.T) {
	h, d, ann, bc, _ := newDispatcherHarness(t)
	h.node.setLoad("https://list", playlist(2))
	h.play(t, "https://list")
	h.m.trackStarted(guildID, testTrack(0))

	h.configs.modify(guildID, func(c *models.GuildConfig) { c.AnnounceSongs = false })
	d.OnTrackStuck(lavalink.TrackStuckEvent{GuildID: guildID, Track: testTrack(0), ThresholdMs: 10_000})
	d.Wait()

	assert.Equal(t, 2, h.node.playDirectives(guildID))
	require.Len(t, ann.posted, 1)
	require.Len(t, bc.sent, 1)
	assert.Equal(t, string(EventTrackStuck), bc.sent[0].EventType)
}

func TestDispatcherReadyTearsDownOnFreshNodeSession(t *testing.T) {
	h, d, _, _, _ := newDispatcherHarness(t)
	_, err := h.m.Join(context.Background(), JoinRequest{GuildID: guildID, UserID: userID})
	require.NoError(t, err)

	d.OnReady(lavalink.ReadyEvent{SessionID: "s2", Resumed: true})
	d.Wait()
	assert.Equal(t, 1, h.m.ActiveSessions())

	d.OnReady(lavalink.ReadyEvent{SessionID: "s3", Resumed: false})
	d.Wait()
	assert.Zero(t, h.m.ActiveSessions())
	assert.Equal(t, 1, h.voice.leaveCount(guildID))
}

// slowAnnouncer holds announcements to slowChannel until release is closed.
type slowAnnouncer struct {
	slowChannel string
	release     chan struct{}
	posted      chan Announcement
}

func (a *slowAnnouncer) Announce(ctx context.Context, channelID string, e *discordgo.MessageEmbed) error {
	if channelID == a.slowChannel {
		select {
		case <-a.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.posted <- Announcement{ChannelID: channelID, Embed: e}
	return nil
}

func nextAnnouncement(t *testing.T, ch <-chan Announcement) Announcement {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("no announcement")
		return Announcement{}
	}
}

func TestDispatcherGuildsDoNotWaitForEachOther(t *testing.T) {
	const otherGuild, otherText = "200", "text-2"
	h := newHarness(t)
	ann := &slowAnnouncer{slowChannel: textChan, release: make(chan struct{}), posted: make(chan Announcement, 8)}
	d := NewDispatcher(h.m, h.configs, ann, nil, nil)

	for _, req := range []JoinRequest{
		{GuildID: guildID, ChannelID: voiceChan, TextChannelID: textChan},
		{GuildID: otherGuild, ChannelID: "vc-2", TextChannelID: otherText},
	} {
		_, err := h.m.Join(context.Background(), req)
		require.NoError(t, err)
	}

	start := time.Now()
	d.OnTrackStart(lavalink.TrackStartEvent{GuildID: guildID, Track: testTrack(1)})
	d.OnTrackEnd(lavalink.TrackEndEvent{GuildID: guildID, Track: testTrack(1), Reason: lavalink.ReasonFinished})
	d.OnTrackStart(lavalink.TrackStartEvent{GuildID: otherGuild, Track: testTrack(2)})
	assert.Less(t, time.Since(start), time.Second, "listener calls return without waiting on handlers")

	first := nextAnnouncement(t, ann.posted)
	assert.Equal(t, otherText, first.ChannelID, "the other guild is served while the first one is stuck")

	close(ann.release)
	assert.Contains(t, nextAnnouncement(t, ann.posted).Embed.Title, "Now Playing")
	assert.Contains(t, nextAnnouncement(t, ann.posted).Embed.Title, "Track Ended")
	d.Wait()
}
