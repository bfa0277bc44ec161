package bridge

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/onbeat/onbeat-bot/internal/metrics"
	"github.com/onbeat/onbeat-bot/internal/music"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const (
	commandTimeout  = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Controller is the subset of music.Manager the bridge drives.
type Controller interface {
	Play(ctx context.Context, req music.PlayRequest) (music.PlayResult, error)
	Skip(ctx context.Context, guildID string) (music.QueuedTrack, error)
	Pause(ctx context.Context, guildID string) error
	Resume(ctx context.Context, guildID string) error
	Stop(ctx context.Context, guildID string) error
	SetVolume(ctx context.Context, guildID string, volume int) error
	Seek(ctx context.Context, guildID string, position int64) error
	Queue(guildID string) (music.QueueView, error)
	PlayerInfo(ctx context.Context, guildID string) (music.PlayerInfo, error)
	Session(guildID string) (music.SessionInfo, bool)
}

type Options struct {
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	Version        string
	// NodeConnected reports whether the audio node session is up.
	NodeConnected func() bool
	Clock         clockwork.Clock
}

type Server struct {
	hub        *Hub
	controller Controller
	opts       Options
	upgrader   websocket.Upgrader
}

func NewServer(hub *Hub, controller Controller, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.NodeConnected == nil {
		opts.NodeConnected = func() bool { return false }
	}
	s := &Server{hub: hub, controller: controller, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Handler serves the bridge socket, Prometheus metrics and a liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run listens on addr until ctx is cancelled, then disconnects every client.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Bridge] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked connections are not closed by Shutdown.
	s.hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Bridge] Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}

	c := newClient(conn, s.opts.Clock, rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst))
	s.hub.register(c)
	log.Printf("[Bridge] Client %s connected from %s", c.ID, r.RemoteAddr)
	defer func() {
		s.hub.unregister(c)
		c.stop()
		log.Printf("[Bridge] Client %s disconnected", c.ID)
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.extendReadDeadline()
		s.handleMessage(ctx, c, data)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *Client, data []byte) {
	msg, err := decodeInbound(data)
	if err != nil {
		metrics.BridgeMessages.WithLabelValues("unknown", "invalid").Inc()
		s.sendError(c, err.Error())
		return
	}
	if !c.limiter.Allow() {
		metrics.BridgeMessages.WithLabelValues(msg.Type, "rate_limited").Inc()
		s.sendError(c, "Rate limit exceeded")
		return
	}
	if err := msg.validate(s.hub.subscription(c)); err != nil {
		metrics.BridgeMessages.WithLabelValues(msg.Type, "invalid").Inc()
		s.sendError(c, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	typ, payload, err := s.dispatch(ctx, c, msg)
	if err != nil {
		metrics.BridgeMessages.WithLabelValues(msg.Type, "error").Inc()
		log.Printf("[Bridge] client=%s type=%s guild=%s failed: %v", c.ID, msg.Type, msg.GuildID, err)
		s.sendError(c, err.Error())
		return
	}
	metrics.BridgeMessages.WithLabelValues(msg.Type, "ok").Inc()
	s.send(c, typ, payload)
}

// dispatch runs a validated request and returns the response type and payload.
func (s *Server) dispatch(ctx context.Context, c *Client, msg inbound) (string, map[string]any, error) {
	g := msg.GuildID
	switch msg.Type {
	case msgPing:
		return "pong", nil, nil

	case msgSubscribe:
		s.hub.subscribe(c, g)
		log.Printf("[Bridge] Client %s subscribed to guild %s", c.ID, g)
		return "subscribed", map[string]any{"guild_id": g}, nil

	case msgStatus:
		payload := map[string]any{
			"status":             "connected",
			"lavalink_connected": s.opts.NodeConnected(),
			"version":            s.opts.Version,
		}
		if g != "" {
			_, active := s.controller.Session(g)
			payload["guild_id"] = g
			payload["session_active"] = active
		}
		return "status", payload, nil

	case msgPlay:
		res, err := s.controller.Play(ctx, music.PlayRequest{GuildID: g, Query: msg.TrackID})
		if err != nil {
			return "", nil, err
		}
		status := "queued"
		if res.Started {
			status = "playing"
		}
		payload := map[string]any{
			"status":   status,
			"guild_id": g,
			"track_id": msg.TrackID,
			"added":    len(res.Added),
			"rejected": res.Rejected,
			"position": res.Position,
		}
		if res.Playlist != "" {
			payload["playlist"] = res.Playlist
		}
		return "play_response", payload, nil

	case msgSkip:
		skipped, err := s.controller.Skip(ctx, g)
		if err != nil {
			return "", nil, err
		}
		return "skip_response", map[string]any{
			"status":   "skipped",
			"guild_id": g,
			"track":    music.NewTrackSnapshot(skipped.Track, skipped.RequesterID),
		}, nil

	case msgPause:
		if err := s.controller.Pause(ctx, g); err != nil {
			return "", nil, err
		}
		return "pause_response", map[string]any{"status": "paused", "guild_id": g}, nil

	case msgResume:
		if err := s.controller.Resume(ctx, g); err != nil {
			return "", nil, err
		}
		return "resume_response", map[string]any{"status": "resumed", "guild_id": g}, nil

	case msgStop:
		if err := s.controller.Stop(ctx, g); err != nil {
			return "", nil, err
		}
		return "stop_response", map[string]any{"status": "stopped", "guild_id": g}, nil

	case msgVolume:
		if err := s.controller.SetVolume(ctx, g, *msg.Volume); err != nil {
			return "", nil, err
		}
		return "volume_response", map[string]any{"status": "volume_changed", "guild_id": g, "volume": *msg.Volume}, nil

	case msgSeek:
		if err := s.controller.Seek(ctx, g, *msg.Position); err != nil {
			return "", nil, err
		}
		return "seek_response", map[string]any{"status": "seeked", "guild_id": g, "position": *msg.Position}, nil

	case msgQueue:
		view, err := s.controller.Queue(g)
		if err != nil && !errors.Is(err, music.ErrNoActiveSession) {
			return "", nil, err
		}
		return "queue_response", map[string]any{
			"status":        "queue_info",
			"guild_id":      g,
			"current_track": currentSnapshot(view.Current),
			"queue":         snapshots(view.Tracks),
		}, nil

	case msgPlayerInfo:
		info, err := s.controller.PlayerInfo(ctx, g)
		if errors.Is(err, music.ErrNoActiveSession) {
			return "player_info_response", map[string]any{
				"guild_id":      g,
				"is_paused":     true,
				"position":      0,
				"volume":        100,
				"current_track": nil,
				"status":        "no_session",
			}, nil
		}
		if err != nil {
			return "", nil, err
		}
		return "player_info_response", map[string]any{
			"guild_id":         g,
			"is_paused":        info.Paused,
			"position":         info.Position,
			"volume":           info.Volume,
			"current_track":    currentSnapshot(info.Current),
			"voice_channel_id": info.VoiceChannelID,
			"voice_connected":  info.Connected,
			"status":           "connected",
		}, nil
	}
	return "", nil, errors.New("Unknown message type: " + msg.Type)
}

func (s *Server) send(c *Client, typ string, payload map[string]any) {
	if !c.enqueue(frame(typ, s.hub.timestamp(), payload)) {
		log.Printf("[Bridge] Dropped %s for client %s", typ, c.ID)
	}
}

func (s *Server) sendError(c *Client, msg string) {
	s.send(c, "error", map[string]any{"error": msg})
}
