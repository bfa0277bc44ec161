package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onbeat/onbeat-bot/internal/metrics"
)

const clientName = "onbeat-bot/1.0"

var (
	// ErrNotReady is returned by player calls before the node has sent ready.
	ErrNotReady = errors.New("lavalink session not ready")
	// ErrPlayerNotFound is returned when the node has no player for the guild.
	ErrPlayerNotFound = errors.New("lavalink player not found")
)

// Error is a non-2xx REST response.
type Error struct {
	Status  int
	Message string
	Path    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lavalink %s: %d %s", e.Path, e.Status, e.Message)
}

// CallRecorder counts REST outcomes.
type CallRecorder interface {
	RecordCall(success bool)
}

// Client talks to one Lavalink node.
type Client struct {
	cfg      NodeConfig
	http     *http.Client
	recorder CallRecorder

	mu        sync.RWMutex
	sessionID string
	listener  EventListener
}

// New creates a client. recorder may be nil.
func New(cfg NodeConfig, recorder CallRecorder) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: 15 * time.Second},
		recorder: recorder,
	}
}

// SetListener installs the receiver of node events. Call before Run.
func (c *Client) SetListener(l EventListener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// SessionID returns the current node session, or "" when disconnected.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) baseURL(scheme string) string {
	if c.cfg.Secure {
		scheme += "s"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Host, c.cfg.Port)
}

// Run keeps the event stream connected until ctx is cancelled, reconnecting with backoff.
func (c *Client) Run(ctx context.Context, userID string) {
	backoff := time.Second
	for {
		connected, err := c.listen(ctx, userID)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = time.Second
		}
		log.Printf("[Lavalink] Connection to %s lost: %v (retrying in %s)", c.cfg.Name, err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// listen runs one WebSocket session. connected reports whether ready was received.
func (c *Client) listen(ctx context.Context, userID string) (connected bool, err error) {
	headers := http.Header{}
	headers.Set("Authorization", c.cfg.Password)
	headers.Set("User-Id", userID)
	headers.Set("Client-Name", clientName)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.baseURL("ws")+"/v4/websocket", headers)
	if err != nil {
		return false, err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		conn.Close()
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return connected, err
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[Lavalink] Ignoring malformed message: %v", err)
			continue
		}
		if msg.Op == "ready" {
			connected = true
			log.Printf("[Lavalink] Node %s ready (session=%s resumed=%t)", c.cfg.Name, msg.SessionID, msg.Resumed)
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg message) {
	c.mu.Lock()
	if msg.Op == "ready" {
		c.sessionID = msg.SessionID
	}
	l := c.listener
	c.mu.Unlock()

	if l == nil {
		return
	}

	switch msg.Op {
	case "ready":
		l.OnReady(ReadyEvent{SessionID: msg.SessionID, Resumed: msg.Resumed})
	case "playerUpdate":
		l.OnPlayerUpdate(PlayerUpdateEvent{GuildID: msg.GuildID, State: msg.State})
	case "stats":
	case "event":
		c.handleEvent(l, msg)
	default:
		log.Printf("[Lavalink] Unknown op %q", msg.Op)
	}
}

func (c *Client) handleEvent(l EventListener, msg message) {
	metrics.PlaybackEvents.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case "TrackStartEvent":
		l.OnTrackStart(TrackStartEvent{GuildID: msg.GuildID, Track: msg.Track})
	case "TrackEndEvent":
		l.OnTrackEnd(TrackEndEvent{GuildID: msg.GuildID, Track: msg.Track, Reason: TrackEndReason(msg.Reason)})
	case "TrackExceptionEvent":
		l.OnTrackException(TrackExceptionEvent{GuildID: msg.GuildID, Track: msg.Track, Exception: msg.Exception})
	case "TrackStuckEvent":
		l.OnTrackStuck(TrackStuckEvent{GuildID: msg.GuildID, Track: msg.Track, ThresholdMs: msg.ThresholdMs})
	case "WebSocketClosedEvent":
		l.OnWebSocketClosed(WebSocketClosedEvent{
			GuildID:  msg.GuildID,
			Code:     msg.Code,
			Reason:   msg.Reason,
			ByRemote: msg.ByRemote,
		})
	default:
		log.Printf("[Lavalink] Unknown event type %q", msg.Type)
	}
}

// LoadTracks resolves identifier (a URL or a "prefix:query" search).
func (c *Client) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	var res LoadResult
	path := "/v4/loadtracks?identifier=" + url.QueryEscape(identifier)
	if err := c.do(ctx, "load", http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPlayer returns the guild's player, or ErrPlayerNotFound.
func (c *Client) GetPlayer(ctx context.Context, guildID string) (*Player, error) {
	path, err := c.playerPath(guildID)
	if err != nil {
		return nil, err
	}
	var p Player
	if err := c.do(ctx, "get_player", http.MethodGet, path, nil, &p); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdatePlayer applies update, creating the player if needed. With noReplace a
// track in the update is ignored when one is already playing.
func (c *Client) UpdatePlayer(ctx context.Context, guildID string, update PlayerUpdate, noReplace bool) (*Player, error) {
	path, err := c.playerPath(guildID)
	if err != nil {
		return nil, err
	}
	path += "?noReplace=" + strconv.FormatBool(noReplace)

	var p Player
	if err := c.do(ctx, "update_player", http.MethodPatch, path, update, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DestroyPlayer deletes the guild's player. A missing player is not an error.
func (c *Client) DestroyPlayer(ctx context.Context, guildID string) error {
	path, err := c.playerPath(guildID)
	if err != nil {
		return err
	}
	err = c.do(ctx, "destroy_player", http.MethodDelete, path, nil, nil)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) playerPath(guildID string) (string, error) {
	sid := c.SessionID()
	if sid == "" {
		return "", ErrNotReady
	}
	return fmt.Sprintf("/v4/sessions/%s/players/%s", sid, guildID), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.AudioNodeRequests.WithLabelValues(op, status).Inc()
		if c.recorder != nil {
			c.recorder.RecordCall(err == nil)
		}
	}()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL("http")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.cfg.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		msg := payload.Message
		if msg == "" {
			msg = payload.Error
		}
		return &Error{Status: resp.StatusCode, Message: msg, Path: path}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
