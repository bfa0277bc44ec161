package lavalink

// ReadyEvent is sent once per WebSocket session. Resumed is false for a fresh
// node session, which means every player the bot had is gone.
type ReadyEvent struct {
	SessionID string
	Resumed   bool
}

type PlayerUpdateEvent struct {
	GuildID string
	State   PlayerState
}

type TrackStartEvent struct {
	GuildID string
	Track   Track
}

type TrackEndEvent struct {
	GuildID string
	Track   Track
	Reason  TrackEndReason
}

type TrackExceptionEvent struct {
	GuildID   string
	Track     Track
	Exception Exception
}

type TrackStuckEvent struct {
	GuildID     string
	Track       Track
	ThresholdMs int64
}

// WebSocketClosedEvent reports that the node's voice connection to Discord closed.
type WebSocketClosedEvent struct {
	GuildID  string
	Code     int
	Reason   string
	ByRemote bool
}

// EventListener receives node events in the order the node sent them.
// Methods are called from the client's read loop and should not block for long.
type EventListener interface {
	OnReady(ReadyEvent)
	OnPlayerUpdate(PlayerUpdateEvent)
	OnTrackStart(TrackStartEvent)
	OnTrackEnd(TrackEndEvent)
	OnTrackException(TrackExceptionEvent)
	OnTrackStuck(TrackStuckEvent)
	OnWebSocketClosed(WebSocketClosedEvent)
}

// message is the union of every op the node sends on the event stream.
type message struct {
	Op string `json:"op"`

	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`

	GuildID string      `json:"guildId"`
	State   PlayerState `json:"state"`

	Type        string    `json:"type"`
	Track       Track     `json:"track"`
	Reason      string    `json:"reason"`
	Exception   Exception `json:"exception"`
	ThresholdMs int64     `json:"thresholdMs"`
	Code        int       `json:"code"`
	ByRemote    bool      `json:"byRemote"`
}
