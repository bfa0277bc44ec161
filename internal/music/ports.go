package music

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/models"
)

// AudioNode is the subset of the Lavalink client the manager drives.
type AudioNode interface {
	LoadTracks(ctx context.Context, identifier string) (*lavalink.LoadResult, error)
	GetPlayer(ctx context.Context, guildID string) (*lavalink.Player, error)
	UpdatePlayer(ctx context.Context, guildID string, update lavalink.PlayerUpdate, noReplace bool) (*lavalink.Player, error)
	DestroyPlayer(ctx context.Context, guildID string) error
}

type VoiceMember struct {
	UserID string
	Bot    bool
}

// VoiceConnector joins and leaves voice channels and answers presence questions.
type VoiceConnector interface {
	JoinChannel(ctx context.Context, guildID, channelID string) (lavalink.VoiceState, error)
	LeaveChannel(ctx context.Context, guildID string) error
	VoiceChannelOf(guildID, userID string) (string, bool)
	MembersInChannel(guildID, channelID string) []VoiceMember
}

type ConfigStore interface {
	GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error)
}

type Announcer interface {
	Announce(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
}

type Broadcaster interface {
	Broadcast(b Broadcast)
}

type StatsRecorder interface {
	IncrementTracksPlayed(ctx context.Context) error
}
