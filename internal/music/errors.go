package music

import (
	"errors"
	"fmt"
)

var (
	ErrNotInVoice            = errors.New("you need to be in a voice channel")
	ErrNoActiveSession       = errors.New("no active playback session in this guild")
	ErrQueueCapacityExceeded = errors.New("queue capacity exceeded")
	ErrIndexOutOfRange       = errors.New("queue index out of range")
	ErrNothingPlaying        = errors.New("nothing is playing")
	ErrNoResults             = errors.New("no results found")
	ErrBusy                  = errors.New("already connected to another voice channel")
	ErrFiltersDisabled       = errors.New("filters are disabled in this server")
	ErrUnknownFilter         = errors.New("unknown filter preset")
	ErrInvalidVolume         = errors.New("volume out of range")
	ErrInvalidPosition       = errors.New("position must not be negative")
	ErrNotSeekable           = errors.New("current track is not seekable")
)

// CapacityError is returned when a play request finds the queue already full.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("queue is full (limit %d)", e.Limit)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrQueueCapacityExceeded
}

// AudioNodeError wraps a failed call to the audio node.
type AudioNodeError struct {
	Op  string
	Err error
}

func (e *AudioNodeError) Error() string {
	return fmt.Sprintf("audio node %s: %v", e.Op, e.Err)
}

func (e *AudioNodeError) Unwrap() error { return e.Err }

// VoiceConnectorError wraps a failed voice gateway operation.
type VoiceConnectorError struct {
	Op  string
	Err error
}

func (e *VoiceConnectorError) Error() string {
	return fmt.Sprintf("voice %s: %v", e.Op, e.Err)
}

func (e *VoiceConnectorError) Unwrap() error { return e.Err }

// ConfigStoreError wraps a failed configuration read.
type ConfigStoreError struct {
	GuildID string
	Err     error
}

func (e *ConfigStoreError) Error() string {
	return fmt.Sprintf("config for guild %s: %v", e.GuildID, e.Err)
}

func (e *ConfigStoreError) Unwrap() error { return e.Err }
