package models

import (
	"time"
)

const (
	DefaultVolume             = 100
	MaxDefaultVolume          = 200
	DefaultAutoDisconnectTime = 300
	DefaultMaxQueueLength     = 100
	MinMaxQueueLength         = 1
	MaxMaxQueueLength         = 500
)

// GuildConfig is the persisted per-guild music configuration.
// Empty DJRoleID / AnnounceChannelID mean "not set".
type GuildConfig struct {
	GuildID            string    `gorm:"primaryKey;column:guild_id"`
	DJRoleID           string    `gorm:"column:dj_role_id"`
	Volume             int       `gorm:"column:volume"`
	AutoDisconnect     bool      `gorm:"column:auto_disconnect"`
	AutoDisconnectTime int       `gorm:"column:auto_disconnect_time"` // seconds
	AnnounceSongs      bool      `gorm:"column:announce_songs"`
	AnnounceChannelID  string    `gorm:"column:announce_channel_id"`
	MaxQueueLength     int       `gorm:"column:max_queue_length"`
	AllowFilters       bool      `gorm:"column:allow_filters"`
	AllowExplicit      bool      `gorm:"column:allow_explicit"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (GuildConfig) TableName() string {
	return "guild_configs"
}

// DefaultGuildConfig returns the row a guild gets on first access.
func DefaultGuildConfig(guildID string) GuildConfig {
	return GuildConfig{
		GuildID:            guildID,
		Volume:             DefaultVolume,
		AutoDisconnect:     true,
		AutoDisconnectTime: DefaultAutoDisconnectTime,
		AnnounceSongs:      true,
		MaxQueueLength:     DefaultMaxQueueLength,
		AllowFilters:       true,
		AllowExplicit:      true,
	}
}

// AutoDisconnectDelay is the debounce wait before an idle session is torn down.
func (c GuildConfig) AutoDisconnectDelay() time.Duration {
	return time.Duration(c.AutoDisconnectTime) * time.Second
}
