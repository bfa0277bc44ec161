package music

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/onbeat/onbeat-bot/internal/embed"
	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/metrics"
	"github.com/onbeat/onbeat-bot/internal/models"
)

const eventTimeout = 10 * time.Second

type EventKind string

const (
	EventTrackStart      EventKind = "track_start"
	EventTrackEnd        EventKind = "track_end"
	EventTrackException  EventKind = "track_exception"
	EventTrackStuck      EventKind = "track_stuck"
	EventWebSocketClosed EventKind = "websocket_closed"
)

// Event is a node event reduced to what planning needs.
type Event struct {
	Kind        EventKind
	GuildID     string
	Track       lavalink.Track
	Reason      lavalink.TrackEndReason
	Exception   lavalink.Exception
	ThresholdMs int64
	CloseCode   int
	CloseReason string
	ByRemote    bool
}

// TrackSnapshot is the JSON form of a track sent to bridge clients.
type TrackSnapshot struct {
	Encoded     string `json:"encoded"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	URI         string `json:"uri,omitempty"`
	ArtworkURL  string `json:"artwork_url,omitempty"`
	Length      int64  `json:"length"`
	IsStream    bool   `json:"is_stream"`
	IsSeekable  bool   `json:"is_seekable"`
	SourceName  string `json:"source_name"`
	RequesterID string `json:"requester_id,omitempty"`
}

func NewTrackSnapshot(t lavalink.Track, requesterID string) *TrackSnapshot {
	if requesterID == "" {
		requesterID = t.RequesterID()
	}
	return &TrackSnapshot{
		Encoded:     t.Encoded,
		Identifier:  t.Info.Identifier,
		Title:       t.Info.Title,
		Author:      t.Info.Author,
		URI:         t.Info.URI,
		ArtworkURL:  t.Info.ArtworkURL,
		Length:      t.Info.Length,
		IsStream:    t.Info.IsStream,
		IsSeekable:  t.Info.IsSeekable,
		SourceName:  t.Info.SourceName,
		RequesterID: requesterID,
	}
}

const (
	BroadcastTrackUpdate = "trackUpdate"
	BroadcastPlayerEvent = "playerEvent"
)

// Broadcast is a message pushed to every bridge client subscribed to GuildID.
type Broadcast struct {
	Type      string         `json:"type"`
	GuildID   string         `json:"guild_id"`
	Track     *TrackSnapshot `json:"track,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type Announcement struct {
	ChannelID string
	Embed     *discordgo.MessageEmbed
}

// Plan is everything an event should cause outside the session itself.
type Plan struct {
	Announcements []Announcement
	Broadcasts    []Broadcast
}

// announceChannel picks the configured channel, falling back to the session's.
func announceChannel(ec EventContext, cfg *models.GuildConfig) string {
	if cfg != nil && cfg.AnnounceChannelID != "" {
		return cfg.AnnounceChannelID
	}
	return ec.TextChannelID
}

// plan decides the announcements and broadcasts for ev. cfg may be nil when
// the configuration could not be read; config-gated announcements are then skipped.
func plan(ev Event, ec EventContext, cfg *models.GuildConfig) Plan {
	var p Plan
	announce := func(channelID string, e *discordgo.MessageEmbed) {
		if channelID != "" {
			p.Announcements = append(p.Announcements, Announcement{ChannelID: channelID, Embed: e})
		}
	}
	playerEvent := func(data map[string]any) {
		p.Broadcasts = append(p.Broadcasts, Broadcast{
			Type:      BroadcastPlayerEvent,
			GuildID:   ev.GuildID,
			EventType: string(ev.Kind),
			Data:      data,
		})
	}
	snapshot := NewTrackSnapshot(ev.Track, "")

	switch ev.Kind {
	case EventTrackStart:
		if cfg != nil && cfg.AnnounceSongs {
			announce(announceChannel(ec, cfg), embed.CreateNowPlayingEmbed(ev.Track, ev.Track.RequesterID()))
		}
		p.Broadcasts = append(p.Broadcasts, Broadcast{
			Type:    BroadcastTrackUpdate,
			GuildID: ev.GuildID,
			Track:   snapshot,
		})

	case EventTrackEnd:
		if ev.Reason != lavalink.ReasonReplaced && ev.Reason != lavalink.ReasonStopped &&
			cfg != nil && cfg.AnnounceSongs {
			announce(announceChannel(ec, cfg), embed.CreateTrackEndedEmbed(ev.Track))
		}
		playerEvent(map[string]any{"reason": string(ev.Reason), "track": snapshot})

	case EventTrackException:
		announce(ec.TextChannelID, embed.CreateTrackErrorEmbed(ev.Track, ev.Exception.Error()))
		playerEvent(map[string]any{
			"message":  ev.Exception.Message,
			"severity": ev.Exception.Severity,
			"cause":    ev.Exception.Cause,
			"track":    snapshot,
		})

	case EventTrackStuck:
		announce(ec.TextChannelID, embed.CreateTrackErrorEmbed(ev.Track, "the track got stuck and was skipped"))
		playerEvent(map[string]any{"threshold_ms": ev.ThresholdMs, "track": snapshot})

	case EventWebSocketClosed:
		playerEvent(map[string]any{
			"code":      ev.CloseCode,
			"reason":    ev.CloseReason,
			"by_remote": ev.ByRemote,
		})
	}
	return p
}

// Dispatcher turns node events into session updates, chat announcements and
// bridge broadcasts. It implements lavalink.EventListener. Events run on one
// worker per guild: a guild sees its events in order, and a slow guild does
// not hold up the others or the node's read loop.
type Dispatcher struct {
	manager     *Manager
	configs     ConfigStore
	announcer   Announcer
	broadcaster Broadcaster
	stats       StatsRecorder

	mu     sync.Mutex
	guilds map[string]*guildEvents
	wg     sync.WaitGroup
}

// guildEvents holds the events one guild's worker has yet to handle.
type guildEvents struct {
	pending []func()
}

// NewDispatcher wires the dispatcher. broadcaster and stats may be nil.
func NewDispatcher(manager *Manager, configs ConfigStore, announcer Announcer, broadcaster Broadcaster, stats StatsRecorder) *Dispatcher {
	return &Dispatcher{
		manager:     manager,
		configs:     configs,
		announcer:   announcer,
		broadcaster: broadcaster,
		stats:       stats,
		guilds:      make(map[string]*guildEvents),
	}
}

// enqueue runs fn after every earlier event of the same guild. A worker is
// started for the guild if none is running and exits once it runs dry.
func (d *Dispatcher) enqueue(guildID string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.guilds[guildID]; ok {
		q.pending = append(q.pending, fn)
		return
	}
	q := &guildEvents{pending: []func(){fn}}
	d.guilds[guildID] = q
	d.wg.Add(1)
	go d.drain(guildID, q)
}

func (d *Dispatcher) drain(guildID string, q *guildEvents) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			delete(d.guilds, guildID)
			d.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		d.mu.Unlock()

		fn()
	}
}

// Wait blocks until every event handed to the dispatcher has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) OnReady(e lavalink.ReadyEvent) {
	if e.Resumed {
		return
	}
	// A fresh node session has no players; local sessions point at nothing.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.manager.TeardownAll("node_restart")
	}()
}

func (d *Dispatcher) OnPlayerUpdate(lavalink.PlayerUpdateEvent) {}

func (d *Dispatcher) OnTrackStart(e lavalink.TrackStartEvent) {
	d.enqueue(e.GuildID, func() { d.trackStart(e) })
}

func (d *Dispatcher) OnTrackEnd(e lavalink.TrackEndEvent) {
	d.enqueue(e.GuildID, func() { d.trackEnd(e) })
}

func (d *Dispatcher) OnTrackException(e lavalink.TrackExceptionEvent) {
	d.enqueue(e.GuildID, func() { d.trackException(e) })
}

func (d *Dispatcher) OnTrackStuck(e lavalink.TrackStuckEvent) {
	d.enqueue(e.GuildID, func() { d.trackStuck(e) })
}

func (d *Dispatcher) OnWebSocketClosed(e lavalink.WebSocketClosedEvent) {
	d.enqueue(e.GuildID, func() { d.webSocketClosed(e) })
}

func (d *Dispatcher) trackStart(e lavalink.TrackStartEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	ec := d.manager.trackStarted(e.GuildID, e.Track)
	if d.stats != nil {
		if err := d.stats.IncrementTracksPlayed(ctx); err != nil {
			log.Printf("[Dispatcher] Failed to increment tracks played: %v", err)
		}
	}
	d.execute(ctx, Event{Kind: EventTrackStart, GuildID: e.GuildID, Track: e.Track}, ec)
}

func (d *Dispatcher) trackEnd(e lavalink.TrackEndEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	ec := d.manager.trackEnded(ctx, e.GuildID, e.Track, e.Reason)
	d.execute(ctx, Event{Kind: EventTrackEnd, GuildID: e.GuildID, Track: e.Track, Reason: e.Reason}, ec)
}

func (d *Dispatcher) trackException(e lavalink.TrackExceptionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	log.Printf("[Dispatcher] guild=%s track exception title=%q severity=%s: %s",
		e.GuildID, e.Track.Info.Title, e.Exception.Severity, e.Exception.Message)
	ec := d.manager.currentContext(e.GuildID)
	d.execute(ctx, Event{Kind: EventTrackException, GuildID: e.GuildID, Track: e.Track, Exception: e.Exception}, ec)
}

func (d *Dispatcher) trackStuck(e lavalink.TrackStuckEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	log.Printf("[Dispatcher] guild=%s track stuck title=%q threshold=%dms", e.GuildID, e.Track.Info.Title, e.ThresholdMs)
	ec := d.manager.trackStuck(ctx, e.GuildID, e.Track)
	d.execute(ctx, Event{Kind: EventTrackStuck, GuildID: e.GuildID, Track: e.Track, ThresholdMs: e.ThresholdMs}, ec)
}

func (d *Dispatcher) webSocketClosed(e lavalink.WebSocketClosedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	log.Printf("[Dispatcher] guild=%s voice websocket closed code=%d reason=%q by_remote=%t",
		e.GuildID, e.Code, e.Reason, e.ByRemote)
	ec := d.manager.currentContext(e.GuildID)
	d.execute(ctx, Event{
		Kind:        EventWebSocketClosed,
		GuildID:     e.GuildID,
		CloseCode:   e.Code,
		CloseReason: e.Reason,
		ByRemote:    e.ByRemote,
	}, ec)
}

func (d *Dispatcher) execute(ctx context.Context, ev Event, ec EventContext) {
	cfg, err := d.configs.GetGuildConfig(ctx, ev.GuildID)
	if err != nil {
		log.Printf("[Dispatcher] guild=%s config unavailable for %s: %v", ev.GuildID, ev.Kind, err)
		cfg = nil
	}

	p := plan(ev, ec, cfg)
	for _, a := range p.Announcements {
		if err := d.announcer.Announce(ctx, a.ChannelID, a.Embed); err != nil {
			metrics.AnnouncementFailures.Inc()
			log.Printf("[Dispatcher] guild=%s announce %s to channel %s failed: %v", ev.GuildID, ev.Kind, a.ChannelID, err)
		}
	}
	if d.broadcaster != nil {
		for _, b := range p.Broadcasts {
			d.broadcaster.Broadcast(b)
		}
	}
}
