package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/music"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGuild = "123456789"

type call struct {
	Op      string
	GuildID string
	Arg     any
}

type fakeController struct {
	mu       sync.Mutex
	calls    []call
	err      error
	sessions map[string]bool
	view     music.QueueView
	info     music.PlayerInfo
	play     music.PlayResult
}

func (f *fakeController) record(op, guildID string, arg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Op: op, GuildID: guildID, Arg: arg})
	return f.err
}

func (f *fakeController) Play(_ context.Context, req music.PlayRequest) (music.PlayResult, error) {
	return f.play, f.record("play", req.GuildID, req)
}

func (f *fakeController) Skip(_ context.Context, g string) (music.QueuedTrack, error) {
	return music.QueuedTrack{Track: lavalink.Track{Encoded: "enc", Info: lavalink.TrackInfo{Title: "Skipped"}}}, f.record("skip", g, nil)
}

func (f *fakeController) Pause(_ context.Context, g string) error  { return f.record("pause", g, nil) }
func (f *fakeController) Resume(_ context.Context, g string) error { return f.record("resume", g, nil) }
func (f *fakeController) Stop(_ context.Context, g string) error   { return f.record("stop", g, nil) }

func (f *fakeController) SetVolume(_ context.Context, g string, v int) error {
	return f.record("volume", g, v)
}

func (f *fakeController) Seek(_ context.Context, g string, p int64) error {
	return f.record("seek", g, p)
}

func (f *fakeController) Queue(g string) (music.QueueView, error) {
	return f.view, f.record("queue", g, nil)
}

func (f *fakeController) PlayerInfo(_ context.Context, g string) (music.PlayerInfo, error) {
	return f.info, f.record("player_info", g, nil)
}

func (f *fakeController) Session(g string) (music.SessionInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return music.SessionInfo{GuildID: g}, f.sessions[g]
}

func (f *fakeController) callsFor(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeController) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type testBridge struct {
	hub  *Hub
	ctrl *fakeController
	srv  *httptest.Server
}

func newTestBridge(t *testing.T, opts Options) *testBridge {
	t.Helper()
	hub := NewHub(nil)
	ctrl := &fakeController{sessions: map[string]bool{}}
	if opts.Version == "" {
		opts.Version = "test"
	}
	srv := httptest.NewServer(NewServer(hub, ctrl, opts).Handler())
	t.Cleanup(func() {
		hub.closeAll()
		srv.Close()
	})
	return &testBridge{hub: hub, ctrl: ctrl, srv: srv}
}

func (b *testBridge) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) map[string]any {
	t.Helper()
	send(t, conn, msg)
	return readFrame(t, conn)
}

func TestPingPong(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn := b.dial(t)

	resp := roundTrip(t, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", resp["type"])
	ts, ok := resp["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestBadMessagesKeepConnectionOpen(t *testing.T) {
	b := newTestBridge(t, Options{RateBurst: 100})
	conn := b.dial(t)

	cases := []struct {
		msg  string
		want string
	}{
		{`{"type":"dance"}`, "Unknown message type: dance"},
		{`not json`, "Invalid JSON format"},
		{`{"guild_id":"1"}`, "Missing 'type' field"},
		{`{"type":"play","track_id":"x"}`, "Missing 'guild_id' field"},
		{`{"type":"play","guild_id":"123"}`, "Missing 'track_id' field"},
		{`{"type":"skip","guild_id":"abc"}`, "Invalid guild_id format"},
		{`{"type":"volume","guild_id":"123"}`, "Missing or invalid 'volume' field"},
		{`{"type":"volume","guild_id":"123","volume":1500}`, "Volume must be between 0 and 1000"},
		{`{"type":"seek","guild_id":"123","position":-1}`, "Position must be a positive value"},
		{`{"type":"queue"}`, "Missing 'guild_id' field"},
	}
	for _, tc := range cases {
		resp := roundTrip(t, conn, tc.msg)
		assert.Equal(t, "error", resp["type"], tc.msg)
		assert.Contains(t, resp["error"], tc.want, tc.msg)
		assert.NotEmpty(t, resp["timestamp"], tc.msg)
	}

	assert.Zero(t, b.ctrl.callCount(), "invalid requests never reach the session layer")
	assert.Equal(t, "pong", roundTrip(t, conn, `{"type":"ping"}`)["type"])
}

func TestControlMessagesForwarded(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn := b.dial(t)

	resp := roundTrip(t, conn, `{"type":"volume","guild_id":"123","volume":250}`)
	assert.Equal(t, "volume_response", resp["type"])
	assert.Equal(t, "volume_changed", resp["status"])
	assert.EqualValues(t, 250, resp["volume"])
	vol := b.ctrl.callsFor("volume")
	require.Len(t, vol, 1)
	assert.Equal(t, call{Op: "volume", GuildID: "123", Arg: 250}, vol[0])

	resp = roundTrip(t, conn, `{"type":"seek","guild_id":"123","position":0}`)
	assert.Equal(t, "seek_response", resp["type"])
	require.Len(t, b.ctrl.callsFor("seek"), 1)
	assert.Equal(t, int64(0), b.ctrl.callsFor("seek")[0].Arg)

	for _, op := range []string{"pause", "resume", "stop", "skip"} {
		resp = roundTrip(t, conn, `{"type":"`+op+`","guild_id":"123"}`)
		assert.Equal(t, op+"_response", resp["type"])
		assert.Len(t, b.ctrl.callsFor(op), 1, op)
	}
}

func TestPlayForwardsQueryWithoutRequester(t *testing.T) {
	b := newTestBridge(t, Options{})
	b.ctrl.play = music.PlayResult{Added: make([]music.QueuedTrack, 3), Playlist: "Mix", Started: true}
	conn := b.dial(t)

	resp := roundTrip(t, conn, `{"type":"play","guild_id":"123","track_id":"https://example.com/list"}`)
	assert.Equal(t, "play_response", resp["type"])
	assert.Equal(t, "playing", resp["status"])
	assert.EqualValues(t, 3, resp["added"])
	assert.Equal(t, "Mix", resp["playlist"])

	plays := b.ctrl.callsFor("play")
	require.Len(t, plays, 1)
	req := plays[0].Arg.(music.PlayRequest)
	assert.Equal(t, "https://example.com/list", req.Query)
	assert.Empty(t, req.UserID)
}

func TestControllerErrorsBecomeErrorFrames(t *testing.T) {
	b := newTestBridge(t, Options{})
	b.ctrl.err = music.ErrNothingPlaying
	conn := b.dial(t)

	resp := roundTrip(t, conn, `{"type":"pause","guild_id":"123"}`)
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, music.ErrNothingPlaying.Error(), resp["error"])
}

func TestSubscribeReceivesOnlyOwnGuild(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn := b.dial(t)

	resp := roundTrip(t, conn, `{"type":"subscribe","guild_id":"`+testGuild+`"}`)
	assert.Equal(t, "subscribed", resp["type"])
	assert.Equal(t, testGuild, resp["guild_id"])

	b.hub.Broadcast(music.Broadcast{Type: music.BroadcastTrackUpdate, GuildID: "999"})
	b.hub.Broadcast(music.Broadcast{
		Type:    music.BroadcastTrackUpdate,
		GuildID: testGuild,
		Track:   &music.TrackSnapshot{Title: "Song", RequesterID: "42"},
	})

	got := readFrame(t, conn)
	assert.Equal(t, "trackUpdate", got["type"])
	assert.Equal(t, testGuild, got["guild_id"])
	assert.NotEmpty(t, got["timestamp"])
	track, ok := got["track"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Song", track["title"])
	assert.Equal(t, "42", track["requester_id"])

	b.hub.Broadcast(music.Broadcast{
		Type:      music.BroadcastPlayerEvent,
		GuildID:   testGuild,
		EventType: "track_end",
		Data:      map[string]any{"reason": "finished"},
	})
	got = readFrame(t, conn)
	assert.Equal(t, "playerEvent", got["type"])
	assert.Equal(t, "track_end", got["event_type"])
	assert.Equal(t, map[string]any{"reason": "finished"}, got["data"])
}

func TestLastSubscribeWins(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn := b.dial(t)
	other := b.dial(t)

	roundTrip(t, conn, `{"type":"subscribe","guild_id":"1"}`)
	roundTrip(t, other, `{"type":"subscribe","guild_id":"1"}`)
	assert.Equal(t, 2, b.hub.SubscriberCount("1"))

	roundTrip(t, conn, `{"type":"subscribe","guild_id":"2"}`)
	assert.Equal(t, 1, b.hub.SubscriberCount("1"))
	assert.Equal(t, 1, b.hub.SubscriberCount("2"))

	// queue without guild_id uses the current subscription.
	resp := roundTrip(t, conn, `{"type":"queue"}`)
	assert.Equal(t, "queue_response", resp["type"])
	assert.Equal(t, "2", resp["guild_id"])
	assert.Equal(t, "2", b.ctrl.callsFor("queue")[0].GuildID)
}

func TestDisconnectRemovesOnlyThatClient(t *testing.T) {
	b := newTestBridge(t, Options{})
	conn := b.dial(t)
	other := b.dial(t)
	roundTrip(t, conn, `{"type":"subscribe","guild_id":"1"}`)
	roundTrip(t, other, `{"type":"subscribe","guild_id":"1"}`)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return b.hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, b.hub.SubscriberCount("1"))

	b.hub.Broadcast(music.Broadcast{Type: music.BroadcastTrackUpdate, GuildID: "1"})
	assert.Equal(t, "trackUpdate", readFrame(t, other)["type"])
}

func TestQueueAndPlayerInfoWithoutSession(t *testing.T) {
	b := newTestBridge(t, Options{})
	b.ctrl.err = music.ErrNoActiveSession
	conn := b.dial(t)

	resp := roundTrip(t, conn, `{"type":"queue","guild_id":"5"}`)
	assert.Equal(t, "queue_response", resp["type"])
	assert.Equal(t, "queue_info", resp["status"])
	assert.Nil(t, resp["current_track"])
	assert.Equal(t, []any{}, resp["queue"])

	resp = roundTrip(t, conn, `{"type":"player_info","guild_id":"5"}`)
	assert.Equal(t, "player_info_response", resp["type"])
	assert.Equal(t, true, resp["is_paused"])
	assert.Nil(t, resp["current_track"])
}

func TestQueueAndPlayerInfoWithSession(t *testing.T) {
	b := newTestBridge(t, Options{})
	cur := music.QueuedTrack{Track: lavalink.Track{Encoded: "a", Info: lavalink.TrackInfo{Title: "Now"}}, RequesterID: "7"}
	b.ctrl.view = music.QueueView{
		Current: &cur,
		Tracks:  []music.QueuedTrack{{Track: lavalink.Track{Encoded: "b", Info: lavalink.TrackInfo{Title: "Next"}}}},
	}
	b.ctrl.info = music.PlayerInfo{GuildID: "5", Position: 1234, Volume: 80, Connected: true, Current: &cur}
	conn := b.dial(t)

	resp := roundTrip(t, conn, `{"type":"queue","guild_id":"5"}`)
	assert.Equal(t, "Now", resp["current_track"].(map[string]any)["title"])
	queue := resp["queue"].([]any)
	require.Len(t, queue, 1)
	assert.Equal(t, "Next", queue[0].(map[string]any)["title"])

	resp = roundTrip(t, conn, `{"type":"player_info","guild_id":"5"}`)
	assert.Equal(t, false, resp["is_paused"])
	assert.EqualValues(t, 1234, resp["position"])
	assert.EqualValues(t, 80, resp["volume"])
	assert.Equal(t, "connected", resp["status"])
	assert.Equal(t, "7", resp["current_track"].(map[string]any)["requester_id"])
}

func TestStatusReportsNodeAndSession(t *testing.T) {
	b := newTestBridge(t, Options{Version: "1.2.3", NodeConnected: func() bool { return true }})
	b.ctrl.sessions["5"] = true
	conn := b.dial(t)

	resp := roundTrip(t, conn, `{"type":"status"}`)
	assert.Equal(t, "status", resp["type"])
	assert.Equal(t, "connected", resp["status"])
	assert.Equal(t, true, resp["lavalink_connected"])
	assert.Equal(t, "1.2.3", resp["version"])
	assert.NotContains(t, resp, "session_active")

	resp = roundTrip(t, conn, `{"type":"status","guild_id":"5"}`)
	assert.Equal(t, true, resp["session_active"])
}

func TestRateLimitRejectsBurst(t *testing.T) {
	b := newTestBridge(t, Options{RateLimit: 0.001, RateBurst: 2})
	conn := b.dial(t)

	assert.Equal(t, "pong", roundTrip(t, conn, `{"type":"ping"}`)["type"])
	assert.Equal(t, "pong", roundTrip(t, conn, `{"type":"ping"}`)["type"])
	resp := roundTrip(t, conn, `{"type":"volume","guild_id":"1","volume":10}`)
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, "Rate limit exceeded", resp["error"])
	assert.Zero(t, b.ctrl.callCount())
}

func TestOriginCheck(t *testing.T) {
	b := newTestBridge(t, Options{AllowedOrigins: []string{"https://panel.example"}})
	url := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://panel.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestHealthz(t *testing.T) {
	b := newTestBridge(t, Options{})
	resp, err := http.Get(b.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
