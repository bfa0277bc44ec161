package music

import (
	"context"
	"testing"
	"time"

	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pollInterval = 10 * time.Second
	idleDelay    = 300 * time.Second
)

// joinIdle starts a session in an empty channel and returns it.
func joinIdle(t *testing.T, h *harness) *Session {
	t.Helper()
	_, err := h.m.Join(context.Background(), JoinRequest{GuildID: guildID, ChannelID: voiceChan, TextChannelID: textChan})
	require.NoError(t, err)
	sess := h.session()
	require.NotNil(t, sess)
	return sess
}

// waitForTimer blocks until the monitor is parked on its next timer.
func waitForTimer(t *testing.T, h *harness) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.done:
	case <-time.After(5 * time.Second):
		t.Fatal("idle monitor did not exit")
	}
}

func TestIdleHeldForDelayTearsDownOnce(t *testing.T) {
	h := newHarness(t)
	h.voice.setMembers(voiceChan, VoiceMember{UserID: "other-bot", Bot: true})
	sess := joinIdle(t, h)

	waitForTimer(t, h)
	h.clock.Advance(pollInterval)
	waitForTimer(t, h)
	h.clock.Advance(idleDelay)
	waitDone(t, sess)

	assert.Nil(t, h.session())
	assert.Equal(t, 1, h.node.destroyCount(guildID))
	assert.Equal(t, 1, h.voice.leaveCount(guildID))
}

func TestIdleAbortsWhenHumanJoinsDuringWait(t *testing.T) {
	h := newHarness(t)
	sess := joinIdle(t, h)

	waitForTimer(t, h)
	h.clock.Advance(pollInterval)
	waitForTimer(t, h)

	h.voice.setMembers(voiceChan, VoiceMember{UserID: "human"})
	h.clock.Advance(idleDelay)
	// The monitor goes back to polling instead of tearing down.
	waitForTimer(t, h)

	assert.Same(t, sess, h.session())
	assert.Zero(t, h.node.destroyCount(guildID))
}

func TestIdleAbortsWhenDisabledDuringWait(t *testing.T) {
	h := newHarness(t)
	sess := joinIdle(t, h)

	waitForTimer(t, h)
	h.clock.Advance(pollInterval)
	waitForTimer(t, h)

	h.configs.modify(guildID, func(c *models.GuildConfig) { c.AutoDisconnect = false })
	h.clock.Advance(idleDelay)
	waitForTimer(t, h)

	assert.Same(t, sess, h.session())
	assert.Zero(t, h.node.destroyCount(guildID))
}

func TestIdleDisabledNeverTearsDown(t *testing.T) {
	h := newHarness(t)
	h.configs.modify(guildID, func(c *models.GuildConfig) { c.AutoDisconnect = false })
	sess := joinIdle(t, h)

	for i := 0; i < 40; i++ {
		waitForTimer(t, h)
		h.clock.Advance(pollInterval)
	}
	waitForTimer(t, h)

	assert.Same(t, sess, h.session())
	assert.Zero(t, h.node.destroyCount(guildID))
}

func TestIdleNotTriggeredWhilePlaying(t *testing.T) {
	h := newHarness(t)
	sess := joinIdle(t, h)
	h.node.setLoad("https://one", playlist(1))
	_, err := h.m.Play(context.Background(), PlayRequest{GuildID: guildID, Query: "https://one"})
	require.NoError(t, err)
	h.m.trackStarted(guildID, testTrack(0))

	for i := 0; i < 5; i++ {
		waitForTimer(t, h)
		h.clock.Advance(idleDelay)
	}
	waitForTimer(t, h)

	assert.Same(t, sess, h.session())
	assert.Zero(t, h.node.destroyCount(guildID))
}

func TestLeaveDuringWaitStopsMonitor(t *testing.T) {
	h := newHarness(t)
	sess := joinIdle(t, h)

	waitForTimer(t, h)
	h.clock.Advance(pollInterval)
	waitForTimer(t, h)

	require.NoError(t, h.m.Leave(context.Background(), guildID))
	waitDone(t, sess)

	h.clock.Advance(idleDelay)
	assert.Equal(t, 1, h.node.destroyCount(guildID))
	assert.Equal(t, 1, h.voice.leaveCount(guildID))
}

func TestIdleExitsSilentlyWhenConfigUnreadable(t *testing.T) {
	h := newHarness(t)
	sess := joinIdle(t, h)

	waitForTimer(t, h)
	h.configs.mu.Lock()
	h.configs.err = errBoom
	h.configs.mu.Unlock()
	h.clock.Advance(pollInterval)
	waitDone(t, sess)

	assert.Same(t, sess, h.session(), "an unreadable config does not tear the session down")
	assert.Zero(t, h.node.destroyCount(guildID))
}

func TestRejoinStartsFreshMonitor(t *testing.T) {
	h := newHarness(t)
	first := joinIdle(t, h)
	require.NoError(t, h.m.Leave(context.Background(), guildID))
	waitDone(t, first)

	second := joinIdle(t, h)
	assert.NotSame(t, first, second)
	waitForTimer(t, h)
	h.clock.Advance(pollInterval)
	waitForTimer(t, h)
	h.clock.Advance(idleDelay)
	waitDone(t, second)
	assert.Equal(t, 2, h.node.destroyCount(guildID))
}

func TestIdleTrustsNodeOverStaleCurrent(t *testing.T) {
	h := newHarness(t)
	sess := joinIdle(t, h)
	h.node.setLoad("https://one", playlist(1))
	_, err := h.m.Play(context.Background(), PlayRequest{GuildID: guildID, Query: "https://one"})
	require.NoError(t, err)
	h.m.trackStarted(guildID, testTrack(0))

	// The track ended on the node but its TrackEnd never arrived.
	h.node.mu.Lock()
	h.node.players[guildID].Track = nil
	h.node.mu.Unlock()

	waitForTimer(t, h)
	h.clock.Advance(pollInterval)
	waitForTimer(t, h)
	h.clock.Advance(idleDelay)
	waitDone(t, sess)

	assert.Nil(t, h.session())
	assert.Nil(t, sess.current)
	assert.Equal(t, 1, h.node.destroyCount(guildID))
}

func TestIdleStaysWhenNodeStartsPlayingDuringWait(t *testing.T) {
	h := newHarness(t)
	sess := joinIdle(t, h)

	waitForTimer(t, h)
	h.clock.Advance(pollInterval)
	waitForTimer(t, h)

	h.node.mu.Lock()
	h.node.players[guildID].Track = &lavalink.Track{Encoded: "enc-x"}
	h.node.mu.Unlock()
	h.clock.Advance(idleDelay)
	waitForTimer(t, h)

	assert.Same(t, sess, h.session())
	assert.Zero(t, h.node.destroyCount(guildID))
}

func TestIdleHonorsDelayRaisedDuringWait(t *testing.T) {
	h := newHarness(t)
	sess := joinIdle(t, h)

	waitForTimer(t, h)
	h.clock.Advance(pollInterval)
	waitForTimer(t, h)

	h.configs.modify(guildID, func(c *models.GuildConfig) { c.AutoDisconnectTime = 600 })
	h.clock.Advance(idleDelay)
	// Parked on the remaining 300s instead of disconnecting.
	waitForTimer(t, h)
	assert.Same(t, sess, h.session())
	assert.Zero(t, h.node.destroyCount(guildID))

	h.clock.Advance(idleDelay)
	waitDone(t, sess)
	assert.Nil(t, h.session())
	assert.Equal(t, 1, h.node.destroyCount(guildID))
}
