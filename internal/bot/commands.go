package bot

import (
	"log"

	"github.com/bwmarrin/discordgo"
	"github.com/onbeat/onbeat-bot/internal/models"
	"github.com/onbeat/onbeat-bot/internal/music"
)

func minValue(v float64) *float64 { return &v }

func filterChoices() []*discordgo.ApplicationCommandOptionChoice {
	presets := music.FilterPresets()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(presets))
	for _, p := range presets {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: p.Name, Value: p.Key})
	}
	return choices
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "join",
			Description: "Join your voice channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Voice channel to join instead of yours",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice},
					Required:     false,
				},
			},
		},
		{
			Name:        "leave",
			Description: "Stop playback and leave the voice channel",
		},
		{
			Name:        "play",
			Description: "Play a song, playlist or search query",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "A link or search terms",
					Required:    true,
				},
			},
		},
		{
			Name:        "skip",
			Description: "Skip the current track",
		},
		{
			Name:        "pause",
			Description: "Pause playback",
		},
		{
			Name:        "resume",
			Description: "Resume playback",
		},
		{
			Name:        "stop",
			Description: "Stop playback and clear the queue",
		},
		{
			Name:        "queue",
			Description: "Show the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "page",
					Description: "Page number to display",
					MinValue:    minValue(1),
					Required:    false,
				},
			},
		},
		{
			Name:        "remove",
			Description: "Remove a track from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "position",
					Description: "Queue position as shown by /queue",
					MinValue:    minValue(1),
					Required:    true,
				},
			},
		},
		{
			Name:        "clear",
			Description: "Clear the upcoming tracks",
		},
		{
			Name:        "volume",
			Description: "Set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "level",
					Description: "Volume in percent",
					MinValue:    minValue(0),
					MaxValue:    models.MaxDefaultVolume,
					Required:    true,
				},
			},
		},
		{
			Name:        "seek",
			Description: "Jump to a position in the current track",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "position",
					Description: "Position as seconds, m:ss or h:mm:ss",
					Required:    true,
				},
			},
		},
		{
			Name:        "filter",
			Description: "Apply an audio filter",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "preset",
					Description: "Filter preset",
					Required:    true,
					Choices:     filterChoices(),
				},
			},
		},
		{
			Name:        "info",
			Description: "Show bot information",
		},
		{
			Name:        "config",
			Description: "Server music settings",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "view",
					Description: "Show the current settings",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "djrole",
					Description: "Set or clear the DJ role",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "DJ role (leave empty to let everyone control playback)",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "volume",
					Description: "Set the default volume for new sessions",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "level",
							Description: "Volume in percent",
							MinValue:    minValue(0),
							MaxValue:    models.MaxDefaultVolume,
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "autodisconnect",
					Description: "Leave the voice channel when idle",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "Enable or disable auto disconnect",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "seconds",
							Description: "How long to wait while idle",
							MinValue:    minValue(1),
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "announce",
					Description: "Configure now playing announcements",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "Enable or disable announcements",
							Required:    true,
						},
						{
							Type:         discordgo.ApplicationCommandOptionChannel,
							Name:         "channel",
							Description:  "Announcement channel (defaults to where playback started)",
							ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
							Required:     false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "maxqueue",
					Description: "Set the maximum queue length",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "length",
							Description: "Maximum number of queued tracks",
							MinValue:    minValue(models.MinMaxQueueLength),
							MaxValue:    models.MaxMaxQueueLength,
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "filters",
					Description: "Allow or forbid audio filters",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "Allow filters",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "explicit",
					Description: "Allow or forbid explicit content",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "Allow explicit content",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "reset",
					Description: "Restore the default settings",
				},
			},
		},
		{
			Name:        "servers",
			Description: "[Owner Only] List the servers the bot is in.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "page",
					Description: "Page number to display",
					Required:    false,
				},
			},
		},
	}
}

func (b *Bot) registerCommands() {
	_, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, "", commandDefinitions())
	if err != nil {
		log.Printf("Error registering commands: %v", err)
	}
}
