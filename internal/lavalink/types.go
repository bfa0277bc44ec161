// Package lavalink is a client for the Lavalink v4 audio node: track loading,
// player control over REST and the event stream over WebSocket.
package lavalink

import (
	"encoding/json"
	"fmt"
)

const (
	MinVolume = 0
	MaxVolume = 1000
)

// RequesterKey is the userData key carrying the id of the user who queued a track.
const RequesterKey = "requester_id"

// NodeConfig holds configuration for a Lavalink node.
type NodeConfig struct {
	Name     string
	Host     string
	Port     int
	Password string
	Secure   bool
}

// TrackInfo contains information about a track.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
	SourceName string `json:"sourceName"`
}

// Track is a playable track. Encoded is opaque and only meaningful to the node.
type Track struct {
	Encoded    string          `json:"encoded"`
	Info       TrackInfo       `json:"info"`
	PluginInfo json.RawMessage `json:"pluginInfo,omitempty"`
	UserData   map[string]any  `json:"userData,omitempty"`
}

// RequesterID returns the requester stored in the track's user data, if any.
func (t Track) RequesterID() string {
	if t.UserData == nil {
		return ""
	}
	id, _ := t.UserData[RequesterKey].(string)
	return id
}

// WithRequester returns a copy of t tagged with userID.
func (t Track) WithRequester(userID string) Track {
	data := make(map[string]any, len(t.UserData)+1)
	for k, v := range t.UserData {
		data[k] = v
	}
	data[RequesterKey] = userID
	t.UserData = data
	return t
}

type LoadType string

const (
	LoadTypeTrack    LoadType = "track"
	LoadTypePlaylist LoadType = "playlist"
	LoadTypeSearch   LoadType = "search"
	LoadTypeEmpty    LoadType = "empty"
	LoadTypeError    LoadType = "error"
)

type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// Exception is the node's description of a failure.
type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

func (e Exception) Error() string {
	if e.Message == "" {
		return "lavalink exception: " + e.Cause
	}
	return e.Message
}

// LoadResult is the decoded response of /v4/loadtracks. Which field is set depends on LoadType.
type LoadResult struct {
	LoadType  LoadType
	Track     *Track
	Tracks    []Track
	Playlist  *PlaylistInfo
	Exception *Exception
}

func (r *LoadResult) UnmarshalJSON(b []byte) error {
	var raw struct {
		LoadType LoadType        `json:"loadType"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = LoadResult{LoadType: raw.LoadType}

	switch raw.LoadType {
	case LoadTypeTrack:
		var t Track
		if err := json.Unmarshal(raw.Data, &t); err != nil {
			return err
		}
		r.Track = &t
	case LoadTypeSearch:
		return json.Unmarshal(raw.Data, &r.Tracks)
	case LoadTypePlaylist:
		var p struct {
			Info   PlaylistInfo `json:"info"`
			Tracks []Track      `json:"tracks"`
		}
		if err := json.Unmarshal(raw.Data, &p); err != nil {
			return err
		}
		r.Playlist = &p.Info
		r.Tracks = p.Tracks
	case LoadTypeError:
		var e Exception
		if err := json.Unmarshal(raw.Data, &e); err != nil {
			return err
		}
		r.Exception = &e
	case LoadTypeEmpty:
	default:
		return fmt.Errorf("unknown load type %q", raw.LoadType)
	}
	return nil
}

type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int   `json:"ping"`
}

// VoiceState is the Discord voice server information a player needs to connect.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// Player is the node's view of a guild player.
type Player struct {
	GuildID string      `json:"guildId"`
	Track   *Track      `json:"track"`
	Volume  int         `json:"volume"`
	Paused  bool        `json:"paused"`
	State   PlayerState `json:"state"`
	Voice   VoiceState  `json:"voice"`
	Filters Filters     `json:"filters"`
}

// UpdateTrack selects what the player should play. A nil Encoded stops playback.
type UpdateTrack struct {
	Encoded  *string        `json:"encoded"`
	UserData map[string]any `json:"userData,omitempty"`
}

// PlayerUpdate is a partial player update; nil fields are left unchanged.
type PlayerUpdate struct {
	Track    *UpdateTrack `json:"track,omitempty"`
	Position *int64       `json:"position,omitempty"`
	EndTime  *int64       `json:"endTime,omitempty"`
	Volume   *int         `json:"volume,omitempty"`
	Paused   *bool        `json:"paused,omitempty"`
	Filters  *Filters     `json:"filters,omitempty"`
	Voice    *VoiceState  `json:"voice,omitempty"`
}

// PlayTrack builds the update that starts t.
func PlayTrack(t Track) *UpdateTrack {
	enc := t.Encoded
	return &UpdateTrack{Encoded: &enc, UserData: t.UserData}
}

// StopTrack builds the update that stops the current track.
func StopTrack() *UpdateTrack {
	return &UpdateTrack{Encoded: nil}
}

type TrackEndReason string

const (
	ReasonFinished   TrackEndReason = "finished"
	ReasonLoadFailed TrackEndReason = "loadFailed"
	ReasonStopped    TrackEndReason = "stopped"
	ReasonReplaced   TrackEndReason = "replaced"
	ReasonCleanup    TrackEndReason = "cleanup"
)

// MayStartNext reports whether the next queued track should start after this end.
func (r TrackEndReason) MayStartNext() bool {
	return r == ReasonFinished || r == ReasonLoadFailed
}
