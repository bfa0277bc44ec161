package music

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/metrics"
)

const teardownTimeout = 10 * time.Second

type Options struct {
	SearchPrefix     string
	IdlePollInterval time.Duration
	Clock            clockwork.Clock
}

// slot owns the mutex that serializes everything done to one guild.
type slot struct {
	mu      sync.Mutex
	session *Session
}

// Manager is the registry of per-guild playback sessions.
type Manager struct {
	node    AudioNode
	voice   VoiceConnector
	configs ConfigStore

	searchPrefix string
	pollInterval time.Duration
	clock        clockwork.Clock

	mu    sync.Mutex
	slots map[string]*slot
}

func NewManager(node AudioNode, voice VoiceConnector, configs ConfigStore, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.IdlePollInterval <= 0 {
		opts.IdlePollInterval = 10 * time.Second
	}
	if opts.SearchPrefix == "" {
		opts.SearchPrefix = "spsearch"
	}
	return &Manager{
		node:         node,
		voice:        voice,
		configs:      configs,
		searchPrefix: opts.SearchPrefix,
		pollInterval: opts.IdlePollInterval,
		clock:        opts.Clock,
		slots:        make(map[string]*slot),
	}
}

func (m *Manager) slot(guildID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[guildID]
	if !ok {
		s = &slot{}
		m.slots[guildID] = s
	}
	return s
}

// Session returns a copy of the guild's session, if one exists.
func (m *Manager) Session(guildID string) (SessionInfo, bool) {
	s := m.slot(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return SessionInfo{}, false
	}
	return s.session.info(), true
}

// ActiveSessions returns how many guilds currently have a session.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	n := 0
	for _, s := range slots {
		s.mu.Lock()
		if s.session != nil {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

type JoinRequest struct {
	GuildID string
	UserID  string
	// ChannelID overrides the user's current voice channel when set.
	ChannelID     string
	TextChannelID string
}

type JoinResult struct {
	Joined         bool
	VoiceChannelID string
}

// Join connects to the requested (or the user's) voice channel. Joining the
// channel the bot is already in is not an error; any other channel is ErrBusy.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	channelID := req.ChannelID
	if channelID == "" {
		var ok bool
		channelID, ok = m.voice.VoiceChannelOf(req.GuildID, req.UserID)
		if !ok {
			return JoinResult{}, ErrNotInVoice
		}
	}

	s := m.slot(req.GuildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess := s.session; sess != nil {
		if sess.VoiceChannelID != channelID {
			return JoinResult{VoiceChannelID: sess.VoiceChannelID}, ErrBusy
		}
		return JoinResult{VoiceChannelID: channelID}, nil
	}

	sess, joined, err := m.ensureSessionLocked(ctx, s, req.GuildID, channelID, req.TextChannelID)
	if err != nil {
		return JoinResult{}, err
	}
	return JoinResult{Joined: joined, VoiceChannelID: sess.VoiceChannelID}, nil
}

// ensureSessionLocked returns the guild's session, creating it in channelID if absent.
// On any failure the slot is left empty and nothing stays connected.
func (m *Manager) ensureSessionLocked(ctx context.Context, s *slot, guildID, channelID, textChannelID string) (*Session, bool, error) {
	if s.session != nil {
		return s.session, false, nil
	}

	cfg, err := m.configs.GetGuildConfig(ctx, guildID)
	if err != nil {
		return nil, false, &ConfigStoreError{GuildID: guildID, Err: err}
	}

	sess := newSession(guildID, channelID, textChannelID, cfg.MaxQueueLength)
	s.session = sess

	vs, err := m.voice.JoinChannel(ctx, guildID, channelID)
	if err != nil {
		s.session = nil
		return nil, false, &VoiceConnectorError{Op: "join", Err: err}
	}

	volume := cfg.Volume
	if _, err := m.node.UpdatePlayer(ctx, guildID, lavalink.PlayerUpdate{Voice: &vs, Volume: &volume}, false); err != nil {
		s.session = nil
		if lerr := m.voice.LeaveChannel(ctx, guildID); lerr != nil {
			log.Printf("[Session] guild=%s release voice after failed player create: %v", guildID, lerr)
		}
		return nil, false, &AudioNodeError{Op: "create_player", Err: err}
	}

	sess.state = StateActive
	m.startMonitor(sess)
	metrics.SessionsActive.Inc()
	log.Printf("[Session] guild=%s joined channel=%s volume=%d", guildID, channelID, volume)
	return sess, true, nil
}

func (m *Manager) startMonitor(sess *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	go m.monitor(ctx, sess)
}

// Leave tears the guild's session down.
func (m *Manager) Leave(ctx context.Context, guildID string) error {
	s := m.slot(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return ErrNoActiveSession
	}
	m.teardownLocked(s, s.session, "leave")
	return nil
}

// Disconnect tears down the session after the bot lost its voice connection
// (for example when it was moved out or kicked).
func (m *Manager) Disconnect(guildID string) {
	s := m.slot(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		m.teardownLocked(s, s.session, "voice_lost")
	}
}

// TeardownAll ends every session, used when the audio node lost all players.
func (m *Manager) TeardownAll(reason string) {
	m.mu.Lock()
	slots := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		slots = append(slots, s)
	}
	m.mu.Unlock()

	for _, s := range slots {
		s.mu.Lock()
		if s.session != nil {
			m.teardownLocked(s, s.session, reason)
		}
		s.mu.Unlock()
	}
}

// teardownLocked ends sess if it is still the slot's session. Node and voice
// cleanup are best-effort; the session is gone either way.
func (m *Manager) teardownLocked(s *slot, sess *Session, reason string) bool {
	if s.session != sess {
		return false
	}
	sess.state = StateDisconnecting
	s.session = nil
	sess.current = nil
	sess.setHeadPending(false)
	sess.Queue.Clear()
	if sess.cancel != nil {
		sess.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := m.node.DestroyPlayer(ctx, sess.GuildID); err != nil {
		log.Printf("[Session] guild=%s destroy player: %v", sess.GuildID, err)
	}
	if err := m.voice.LeaveChannel(ctx, sess.GuildID); err != nil {
		log.Printf("[Session] guild=%s leave voice: %v", sess.GuildID, err)
	}

	metrics.SessionsActive.Dec()
	metrics.SessionTeardowns.WithLabelValues(reason).Inc()
	log.Printf("[Session] guild=%s torn down reason=%s", sess.GuildID, reason)
	return true
}

type PlayRequest struct {
	GuildID       string
	UserID        string
	TextChannelID string
	Query         string
}

type PlayResult struct {
	Joined   bool
	Added    []QueuedTrack
	Rejected int
	// Playlist is the playlist name when the query resolved to one.
	Playlist string
	// Position is the 1-based queue position of the first added track, or 0
	// when it started playing right away.
	Position int
	Started  bool
}

// Play resolves query, queues the result and starts playback when the player is idle.
func (m *Manager) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	s := m.slot(req.GuildID)

	s.mu.Lock()
	sess := s.session
	var joined bool
	if sess == nil {
		if req.UserID == "" {
			s.mu.Unlock()
			return PlayResult{}, ErrNoActiveSession
		}
		channelID, ok := m.voice.VoiceChannelOf(req.GuildID, req.UserID)
		if !ok {
			s.mu.Unlock()
			return PlayResult{}, ErrNotInVoice
		}
		var err error
		sess, joined, err = m.ensureSessionLocked(ctx, s, req.GuildID, channelID, req.TextChannelID)
		if err != nil {
			s.mu.Unlock()
			return PlayResult{}, err
		}
	}
	s.mu.Unlock()

	// Loading can take seconds; the guild stays unlocked meanwhile.
	tracks, playlist, err := m.load(ctx, req.Query)
	if err != nil {
		return PlayResult{Joined: joined}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != sess {
		return PlayResult{Joined: joined}, ErrNoActiveSession
	}

	cfg, err := m.configs.GetGuildConfig(ctx, req.GuildID)
	if err != nil {
		return PlayResult{Joined: joined}, &ConfigStoreError{GuildID: req.GuildID, Err: err}
	}
	sess.setMaxQueue(cfg.MaxQueueLength)

	if sess.upcomingCount() >= cfg.MaxQueueLength {
		metrics.QueueRejections.Inc()
		return PlayResult{Joined: joined}, &CapacityError{Limit: cfg.MaxQueueLength}
	}

	queued := make([]QueuedTrack, len(tracks))
	for i, t := range tracks {
		queued[i] = QueuedTrack{Track: t.WithRequester(req.UserID), RequesterID: req.UserID}
	}
	before := sess.upcomingCount()
	appended := sess.Queue.Append(queued...)
	if appended.Rejected > 0 {
		metrics.QueueRejections.Add(float64(appended.Rejected))
	}

	res := PlayResult{
		Joined:   joined,
		Added:    queued[:appended.Added],
		Rejected: appended.Rejected,
		Playlist: playlist,
		Position: before + 1,
	}

	// A pending head is already on its way to the node; the new tracks follow it.
	if sess.headPending {
		return res, nil
	}
	playing, err := m.nodePlaying(ctx, req.GuildID)
	if err != nil {
		return res, err
	}
	if !playing {
		started, err := m.startNextLocked(ctx, sess)
		if err != nil {
			return res, err
		}
		switch {
		case started && before == 0:
			res.Started = true
			res.Position = 0
		case started:
			res.Position = before
		}
	}
	return res, nil
}

// load resolves query into the tracks to enqueue: one for a direct track or
// search, all of them for a playlist.
func (m *Manager) load(ctx context.Context, query string) ([]lavalink.Track, string, error) {
	res, err := m.node.LoadTracks(ctx, ResolveQuery(query, m.searchPrefix))
	if err != nil {
		return nil, "", &AudioNodeError{Op: "load", Err: err}
	}

	switch res.LoadType {
	case lavalink.LoadTypeTrack:
		if res.Track == nil {
			return nil, "", ErrNoResults
		}
		return []lavalink.Track{*res.Track}, "", nil
	case lavalink.LoadTypeSearch:
		if len(res.Tracks) == 0 {
			return nil, "", ErrNoResults
		}
		return res.Tracks[:1], "", nil
	case lavalink.LoadTypePlaylist:
		if len(res.Tracks) == 0 {
			return nil, "", ErrNoResults
		}
		name := ""
		if res.Playlist != nil {
			name = res.Playlist.Name
		}
		return res.Tracks, name, nil
	case lavalink.LoadTypeError:
		var cause error = errors.New("load failed")
		if res.Exception != nil {
			cause = res.Exception
		}
		return nil, "", &AudioNodeError{Op: "load", Err: cause}
	}
	return nil, "", ErrNoResults
}

// nodePlaying asks the node whether the guild's player has a track. A missing
// player counts as not playing.
func (m *Manager) nodePlaying(ctx context.Context, guildID string) (bool, error) {
	player, err := m.node.GetPlayer(ctx, guildID)
	if errors.Is(err, lavalink.ErrPlayerNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &AudioNodeError{Op: "get_player", Err: err}
	}
	return player != nil && player.Track != nil, nil
}

// startNextLocked tells the node to play the head of the queue, replacing
// whatever plays now. The head leaves the queue once the node reports it
// started. It reports false when there was nothing to play.
func (m *Manager) startNextLocked(ctx context.Context, sess *Session) (bool, error) {
	sess.dropPending()
	next, ok := sess.Queue.PeekAt(0)
	if !ok {
		sess.current = nil
		return false, nil
	}
	if _, err := m.node.UpdatePlayer(ctx, sess.GuildID, lavalink.PlayerUpdate{Track: lavalink.PlayTrack(next.Track)}, false); err != nil {
		sess.current = nil
		return false, &AudioNodeError{Op: "play", Err: err}
	}
	sess.current = &next
	sess.setHeadPending(true)
	return true, nil
}

// withSession runs fn under the guild lock with the guild's session.
func (m *Manager) withSession(guildID string, fn func(sess *Session) error) error {
	s := m.slot(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNoActiveSession
	}
	return fn(s.session)
}

func (m *Manager) update(ctx context.Context, op, guildID string, update lavalink.PlayerUpdate) error {
	if _, err := m.node.UpdatePlayer(ctx, guildID, update, false); err != nil {
		return &AudioNodeError{Op: op, Err: err}
	}
	return nil
}

// Skip ends the current track and starts the next one, if any. It returns the skipped track.
func (m *Manager) Skip(ctx context.Context, guildID string) (QueuedTrack, error) {
	var skipped QueuedTrack
	err := m.withSession(guildID, func(sess *Session) error {
		if sess.current == nil {
			return ErrNothingPlaying
		}
		skipped = *sess.current
		if sess.upcomingCount() > 0 {
			_, err := m.startNextLocked(ctx, sess)
			return err
		}
		sess.dropPending()
		sess.current = nil
		return m.update(ctx, "stop", guildID, lavalink.PlayerUpdate{Track: lavalink.StopTrack()})
	})
	return skipped, err
}

func (m *Manager) Pause(ctx context.Context, guildID string) error {
	return m.setPaused(ctx, guildID, true)
}

func (m *Manager) Resume(ctx context.Context, guildID string) error {
	return m.setPaused(ctx, guildID, false)
}

func (m *Manager) setPaused(ctx context.Context, guildID string, paused bool) error {
	return m.withSession(guildID, func(sess *Session) error {
		if sess.current == nil {
			return ErrNothingPlaying
		}
		return m.update(ctx, "pause", guildID, lavalink.PlayerUpdate{Paused: &paused})
	})
}

// Stop stops playback and clears the queue. The session stays connected.
func (m *Manager) Stop(ctx context.Context, guildID string) error {
	return m.withSession(guildID, func(sess *Session) error {
		sess.Queue.Clear()
		sess.setHeadPending(false)
		sess.current = nil
		return m.update(ctx, "stop", guildID, lavalink.PlayerUpdate{Track: lavalink.StopTrack()})
	})
}

// SetVolume sets the node-level volume (0-1000).
func (m *Manager) SetVolume(ctx context.Context, guildID string, volume int) error {
	if volume < lavalink.MinVolume || volume > lavalink.MaxVolume {
		return ErrInvalidVolume
	}
	return m.withSession(guildID, func(*Session) error {
		return m.update(ctx, "volume", guildID, lavalink.PlayerUpdate{Volume: &volume})
	})
}

// Seek moves the current track to position (milliseconds).
func (m *Manager) Seek(ctx context.Context, guildID string, position int64) error {
	if position < 0 {
		return ErrInvalidPosition
	}
	return m.withSession(guildID, func(sess *Session) error {
		if sess.current == nil {
			return ErrNothingPlaying
		}
		if !sess.current.Track.Info.IsSeekable {
			return ErrNotSeekable
		}
		if length := sess.current.Track.Info.Length; position > length {
			position = length
		}
		return m.update(ctx, "seek", guildID, lavalink.PlayerUpdate{Position: &position})
	})
}

// SetFilter applies the named preset if the guild allows filters.
func (m *Manager) SetFilter(ctx context.Context, guildID, preset string) (FilterPreset, error) {
	p, ok := LookupFilter(preset)
	if !ok {
		return FilterPreset{}, ErrUnknownFilter
	}
	err := m.withSession(guildID, func(*Session) error {
		cfg, err := m.configs.GetGuildConfig(ctx, guildID)
		if err != nil {
			return &ConfigStoreError{GuildID: guildID, Err: err}
		}
		if !cfg.AllowFilters {
			return ErrFiltersDisabled
		}
		filters := p.Filters()
		return m.update(ctx, "filters", guildID, lavalink.PlayerUpdate{Filters: &filters})
	})
	return p, err
}

// Remove deletes the upcoming track at zero-based index.
func (m *Manager) Remove(guildID string, index int) (QueuedTrack, error) {
	var removed QueuedTrack
	err := m.withSession(guildID, func(sess *Session) error {
		if index < 0 {
			return ErrIndexOutOfRange
		}
		if sess.headPending {
			index++
		}
		var err error
		removed, err = sess.Queue.RemoveAt(index)
		return err
	})
	return removed, err
}

// Clear empties the upcoming tracks without touching the current one.
func (m *Manager) Clear(guildID string) (int, error) {
	var n int
	err := m.withSession(guildID, func(sess *Session) error {
		if !sess.headPending {
			n = sess.Queue.Clear()
			return nil
		}
		head, _ := sess.Queue.Pop()
		n = sess.Queue.Clear()
		sess.Queue.Append(head)
		return nil
	})
	return n, err
}

type QueueView struct {
	Current *QueuedTrack
	Tracks  []QueuedTrack
	Limit   int
}

func (m *Manager) Queue(guildID string) (QueueView, error) {
	var v QueueView
	err := m.withSession(guildID, func(sess *Session) error {
		if sess.current != nil {
			cur := *sess.current
			v.Current = &cur
		}
		v.Tracks = sess.upcoming()
		v.Limit = sess.maxQueue
		return nil
	})
	return v, err
}

type PlayerInfo struct {
	GuildID        string
	VoiceChannelID string
	Paused         bool
	Position       int64
	Volume         int
	Connected      bool
	Current        *QueuedTrack
}

// PlayerInfo combines the node's player state with the local session.
func (m *Manager) PlayerInfo(ctx context.Context, guildID string) (PlayerInfo, error) {
	var info PlayerInfo
	err := m.withSession(guildID, func(sess *Session) error {
		p, err := m.node.GetPlayer(ctx, guildID)
		if err != nil {
			return &AudioNodeError{Op: "get_player", Err: err}
		}
		info = PlayerInfo{
			GuildID:        guildID,
			VoiceChannelID: sess.VoiceChannelID,
			Paused:         p.Paused,
			Position:       p.State.Position,
			Volume:         p.Volume,
			Connected:      p.State.Connected,
		}
		if sess.current != nil {
			cur := *sess.current
			info.Current = &cur
		}
		return nil
	})
	return info, err
}

// EventContext describes where events for a guild should be announced.
type EventContext struct {
	Exists        bool
	TextChannelID string
}

func (m *Manager) eventContext(sess *Session) EventContext {
	if sess == nil {
		return EventContext{}
	}
	return EventContext{Exists: true, TextChannelID: sess.TextChannelID}
}

// trackStarted records the node's current track and retires the pending head it confirms.
func (m *Manager) trackStarted(guildID string, track lavalink.Track) EventContext {
	s := m.slot(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil {
		return EventContext{}
	}
	if head, ok := sess.Queue.PeekAt(0); ok && sess.headPending && head.Track.Encoded == track.Encoded {
		sess.Queue.Pop()
		sess.setHeadPending(false)
		sess.current = &head
	} else {
		sess.current = &QueuedTrack{Track: track, RequesterID: track.RequesterID()}
	}
	return m.eventContext(sess)
}

// trackEnded advances the queue when the end reason allows it and the ended
// track is still the one the session considers current.
func (m *Manager) trackEnded(ctx context.Context, guildID string, track lavalink.Track, reason lavalink.TrackEndReason) EventContext {
	s := m.slot(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil {
		return EventContext{}
	}
	if !isCurrent(sess, track) {
		return m.eventContext(sess)
	}

	if reason.MayStartNext() {
		if _, err := m.startNextLocked(ctx, sess); err != nil {
			log.Printf("[Session] guild=%s start next after %s: %v", guildID, reason, err)
		}
	} else if reason != lavalink.ReasonReplaced {
		sess.dropPending()
		sess.current = nil
	}
	return m.eventContext(sess)
}

// trackStuck moves past a stuck track.
func (m *Manager) trackStuck(ctx context.Context, guildID string, track lavalink.Track) EventContext {
	s := m.slot(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session
	if sess == nil {
		return EventContext{}
	}
	if !isCurrent(sess, track) {
		return m.eventContext(sess)
	}

	started, err := m.startNextLocked(ctx, sess)
	if err != nil {
		log.Printf("[Session] guild=%s start next after stuck track: %v", guildID, err)
	}
	if !started {
		if err := m.update(ctx, "stop", guildID, lavalink.PlayerUpdate{Track: lavalink.StopTrack()}); err != nil {
			log.Printf("[Session] guild=%s stop stuck track: %v", guildID, err)
		}
	}
	return m.eventContext(sess)
}

func (m *Manager) currentContext(guildID string) EventContext {
	s := m.slot(guildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.eventContext(s.session)
}

func isCurrent(sess *Session, track lavalink.Track) bool {
	return sess.current == nil || sess.current.Track.Encoded == track.Encoded
}
