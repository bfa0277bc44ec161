package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/music"
)

const (
	msgSubscribe  = "subscribe"
	msgPlay       = "play"
	msgSkip       = "skip"
	msgPause      = "pause"
	msgResume     = "resume"
	msgStop       = "stop"
	msgVolume     = "volume"
	msgSeek       = "seek"
	msgQueue      = "queue"
	msgPlayerInfo = "player_info"
	msgStatus     = "status"
	msgPing       = "ping"
)

// inbound is a client request. Optional numeric fields are pointers so a
// missing value can be told apart from zero.
type inbound struct {
	Type     string `json:"type"`
	GuildID  string `json:"guild_id"`
	TrackID  string `json:"track_id"`
	Volume   *int   `json:"volume"`
	Position *int64 `json:"position"`
}

// guildRequired lists the requests that must name their guild.
var guildRequired = map[string]bool{
	msgSubscribe: true,
	msgPlay:      true,
	msgSkip:      true,
	msgPause:     true,
	msgResume:    true,
	msgStop:      true,
	msgVolume:    true,
	msgSeek:      true,
}

// guildOptional lists the requests that fall back to the subscribed guild.
var guildOptional = map[string]bool{
	msgQueue:      true,
	msgPlayerInfo: true,
	msgStatus:     true,
}

var errMissingType = errors.New("Missing 'type' field")

func decodeInbound(data []byte) (inbound, error) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("Invalid JSON format: %v", err)
	}
	if msg.Type == "" {
		return msg, errMissingType
	}
	return msg, nil
}

// validate checks required fields and ranges. subscribed is the guild the
// connection currently watches; it fills in guild_id where that is optional.
func (msg *inbound) validate(subscribed string) error {
	switch {
	case guildRequired[msg.Type]:
		if msg.GuildID == "" {
			return errors.New("Missing 'guild_id' field")
		}
	case guildOptional[msg.Type]:
		if msg.GuildID == "" {
			msg.GuildID = subscribed
		}
	case msg.Type == msgPing:
		return nil
	default:
		return fmt.Errorf("Unknown message type: %s", msg.Type)
	}

	if msg.GuildID != "" {
		if _, err := strconv.ParseUint(msg.GuildID, 10, 64); err != nil {
			return errors.New("Invalid guild_id format")
		}
	}

	switch msg.Type {
	case msgPlay:
		if msg.TrackID == "" {
			return errors.New("Missing 'track_id' field")
		}
	case msgVolume:
		if msg.Volume == nil {
			return errors.New("Missing or invalid 'volume' field")
		}
		if *msg.Volume < lavalink.MinVolume || *msg.Volume > lavalink.MaxVolume {
			return fmt.Errorf("Volume must be between %d and %d", lavalink.MinVolume, lavalink.MaxVolume)
		}
	case msgSeek:
		if msg.Position == nil {
			return errors.New("Missing or invalid 'position' field")
		}
		if *msg.Position < 0 {
			return errors.New("Position must be a positive value")
		}
	case msgQueue, msgPlayerInfo:
		if msg.GuildID == "" {
			return errors.New("Missing 'guild_id' field")
		}
	}
	return nil
}

// frame encodes a server message, adding its type and timestamp to payload.
func frame(typ, timestamp string, payload map[string]any) []byte {
	out := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		out[k] = v
	}
	out["type"] = typ
	out["timestamp"] = timestamp
	data, err := json.Marshal(out)
	if err != nil {
		// Payloads are built from plain values; fall back to a bare error frame.
		data, _ = json.Marshal(map[string]any{"type": "error", "error": err.Error(), "timestamp": timestamp})
	}
	return data
}

func snapshots(tracks []music.QueuedTrack) []*music.TrackSnapshot {
	out := make([]*music.TrackSnapshot, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, music.NewTrackSnapshot(t.Track, t.RequesterID))
	}
	return out
}

func currentSnapshot(cur *music.QueuedTrack) *music.TrackSnapshot {
	if cur == nil {
		return nil
	}
	return music.NewTrackSnapshot(cur.Track, cur.RequesterID)
}
