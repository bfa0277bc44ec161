package music

import "context"

type State int

const (
	StateConnecting State = iota + 1
	StateActive
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "absent"
}

// Session is the playback state of one guild. All fields are guarded by the
// owning slot's mutex.
type Session struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	Queue          *Queue

	state    State
	maxQueue int
	current  *QueuedTrack
	// headPending marks Queue[0] as sent to the node but not yet reported
	// started. It stays queued until the node confirms it.
	headPending bool

	// cancel stops the idle monitor; done is closed once it has exited.
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(guildID, voiceChannelID, textChannelID string, queueLimit int) *Session {
	return &Session{
		GuildID:        guildID,
		VoiceChannelID: voiceChannelID,
		TextChannelID:  textChannelID,
		Queue:          NewQueue(queueLimit),
		state:          StateConnecting,
		maxQueue:       queueLimit,
		done:           make(chan struct{}),
	}
}

func (s *Session) info() SessionInfo {
	info := SessionInfo{
		GuildID:        s.GuildID,
		VoiceChannelID: s.VoiceChannelID,
		TextChannelID:  s.TextChannelID,
		State:          s.state,
		QueueLength:    s.upcomingCount(),
	}
	if s.current != nil {
		cur := *s.current
		info.Current = &cur
	}
	return info
}

// SessionInfo is a point-in-time copy of a session.
type SessionInfo struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	State          State
	Current        *QueuedTrack
	QueueLength    int
}

func (s *Session) upcomingCount() int {
	n := s.Queue.Count()
	if s.headPending && n > 0 {
		n--
	}
	return n
}

// upcoming returns the queued tracks that have not been handed to the node.
func (s *Session) upcoming() []QueuedTrack {
	tracks := s.Queue.Snapshot()
	if s.headPending && len(tracks) > 0 {
		tracks = tracks[1:]
	}
	return tracks
}

// setMaxQueue sets how many upcoming tracks the session admits.
func (s *Session) setMaxQueue(n int) {
	s.maxQueue = n
	s.syncLimit()
}

func (s *Session) setHeadPending(pending bool) {
	s.headPending = pending
	s.syncLimit()
}

// syncLimit sizes the queue so a pending head does not take an upcoming slot.
func (s *Session) syncLimit() {
	limit := s.maxQueue
	if s.headPending {
		limit++
	}
	s.Queue.SetLimit(limit)
}

// dropPending removes a head that was sent to the node and is being replaced.
func (s *Session) dropPending() {
	if s.headPending {
		s.Queue.Pop()
		s.setHeadPending(false)
	}
}
