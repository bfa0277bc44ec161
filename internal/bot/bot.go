package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/onbeat/onbeat-bot/internal/config"
	"github.com/onbeat/onbeat-bot/internal/database"
	"github.com/onbeat/onbeat-bot/internal/models"
	"github.com/onbeat/onbeat-bot/internal/music"
)

const heartbeatInterval = 2 * time.Minute

type Bot struct {
	Session *discordgo.Session
	Repo    *database.Repository
	Voice   *VoiceConnector
	Manager *music.Manager

	// NodeConnected reports whether the audio node is reachable.
	NodeConnected func() bool
	Version       string
}

func New(repo *database.Repository) (*Bot, error) {
	discord, err := discordgo.New("Bot " + config.DiscordToken)
	if err != nil {
		return nil, err
	}
	discord.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	bot := &Bot{
		Session:       discord,
		Repo:          repo,
		Voice:         NewVoiceConnector(discord),
		NodeConnected: func() bool { return false },
	}

	bot.registerHandlers()

	return bot, nil
}

// Start attaches the session manager and opens the gateway connection.
func (b *Bot) Start(ctx context.Context, manager *music.Manager) error {
	b.Manager = manager
	b.Voice.OnBotLeft(manager.Disconnect)

	if err := b.Session.Open(); err != nil {
		return err
	}

	go b.updateStatusPeriodically(ctx)
	go b.heartbeat(ctx)

	return nil
}

func (b *Bot) Stop() {
	b.Session.Close()
}

// Announce posts an embed to a channel. It implements music.Announcer.
func (b *Bot) Announce(ctx context.Context, channelID string, e *discordgo.MessageEmbed) error {
	_, err := b.Session.ChannelMessageSendEmbed(channelID, e, discordgo.WithContext(ctx))
	return err
}

func (b *Bot) registerHandlers() {
	b.Session.AddHandler(b.ready)
	b.Session.AddHandler(b.interactionCreate)
	b.Session.AddHandler(b.guildCreate)
	b.Session.AddHandler(b.guildDelete)
	b.Session.AddHandler(b.Voice.voiceStateUpdate)
	b.Session.AddHandler(b.Voice.voiceServerUpdate)
}

func (b *Bot) guildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	log.Printf("Guild available: %s (%s)", event.Guild.Name, event.Guild.ID)
	b.updateBotStatus()
}

func (b *Bot) guildDelete(s *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Unavailable {
		log.Printf("Guild %s became unavailable.", event.ID)
		return
	}

	log.Printf("Bot removed from guild: %s. Cleaning up associated data.", event.ID)
	if b.Manager != nil {
		b.Manager.Disconnect(event.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Repo.DeleteGuildConfig(ctx, event.ID); err != nil {
		log.Printf("Error deleting config for guild %s: %v", event.ID, err)
	} else {
		b.logEvent(fmt.Sprintf("`[%s]` Removed from server `%s`; configuration deleted.", time.Now().Format("2006-01-02 15:04:05"), event.ID))
	}

	b.updateBotStatus()
}

// logEvent mirrors noteworthy events into the configured log channel.
func (b *Bot) logEvent(message string) {
	if config.EventsLogChannelID == "" {
		return
	}
	if _, err := b.Session.ChannelMessageSend(config.EventsLogChannelID, message); err != nil {
		log.Printf("Failed to send log message to channel %s: %v", config.EventsLogChannelID, err)
	}
}

func (b *Bot) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		b.sendHeartbeat()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Bot) sendHeartbeat() {
	now := time.Now()
	statuses := []*models.ServiceStatus{
		{
			ServiceName:   "discord_bot",
			Status:        "operational",
			LastHeartbeat: now,
		},
		{
			ServiceName:   "lavalink",
			Status:        nodeStatus(b.NodeConnected()),
			LastHeartbeat: now,
		},
	}
	if b.Manager != nil {
		statuses[0].Details = fmt.Sprintf("%d active sessions", b.Manager.ActiveSessions())
	}
	for _, status := range statuses {
		if err := b.Repo.UpsertServiceStatus(status); err != nil {
			log.Printf("Error sending heartbeat for %s: %v", status.ServiceName, err)
		}
	}
}

func nodeStatus(connected bool) string {
	if connected {
		return "operational"
	}
	return "disconnected"
}

func (b *Bot) updateStatusPeriodically(ctx context.Context) {
	interval := time.Duration(config.StatusUpdateIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.updateBotStatus()
		}
	}
}

func (b *Bot) updateBotStatus() {
	serverCount := len(b.Session.State.Guilds)
	status := fmt.Sprintf("%d servers", serverCount)
	err := b.Session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{
			{
				Name: status,
				Type: discordgo.ActivityTypeListening,
			},
		},
	})
	if err != nil {
		log.Printf("Error updating status: %v", err)
	}
}
