package embed

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/models"
)

const (
	ColorInfo    = 0x5865F2
	ColorSuccess = 0x57F287
	ColorError   = 0xED4245
	ColorWarning = 0xFEE75C
)

const queuePageSize = 10

// FormatDuration renders milliseconds as h:mm:ss, or m:ss under an hour.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes%60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds%60)
}

func trackDuration(t lavalink.Track) string {
	if t.Info.IsStream || t.Info.Length <= 0 {
		return "🔴 LIVE"
	}
	return FormatDuration(t.Info.Length)
}

func trackLink(t lavalink.Track) string {
	uri := t.Info.URI
	if uri == "" {
		uri = "#"
	}
	return fmt.Sprintf("**[%s - %s](%s)**", t.Info.Author, t.Info.Title, uri)
}

func mention(userID string) string {
	if userID == "" {
		return "Unknown"
	}
	return "<@" + userID + ">"
}

func thumbnail(t lavalink.Track) *discordgo.MessageEmbedThumbnail {
	if t.Info.ArtworkURL == "" {
		return nil
	}
	return &discordgo.MessageEmbedThumbnail{URL: t.Info.ArtworkURL}
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

func CreateNowPlayingEmbed(t lavalink.Track, requesterID string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "🎶 Now Playing",
		Description: trackLink(t),
		Color:       ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: trackDuration(t), Inline: true},
			{Name: "Requested by", Value: mention(requesterID), Inline: true},
		},
		Thumbnail: thumbnail(t),
		Timestamp: now(),
	}
}

func CreateAddedToQueueEmbed(t lavalink.Track, requesterID string, position int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "📀 Added to Queue",
		Description: trackLink(t),
		Color:       ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: trackDuration(t), Inline: true},
			{Name: "Position", Value: fmt.Sprintf("#%d", position), Inline: true},
			{Name: "Requested by", Value: mention(requesterID), Inline: true},
		},
		Thumbnail: thumbnail(t),
		Timestamp: now(),
	}
}

func CreatePlaylistAddedEmbed(name string, added, rejected int, requesterID string) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       "📀 Playlist Added",
		Description: fmt.Sprintf("**%s**", name),
		Color:       ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Tracks Added", Value: fmt.Sprint(added), Inline: true},
			{Name: "Requested by", Value: mention(requesterID), Inline: true},
		},
		Timestamp: now(),
	}
	if rejected > 0 {
		e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d tracks skipped, the queue is full", rejected)}
	}
	return e
}

func CreateTrackEndedEmbed(t lavalink.Track) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "⏱️ Track Ended",
		Description: fmt.Sprintf("**%s - %s**", t.Info.Author, t.Info.Title),
		Color:       ColorInfo,
		Timestamp:   now(),
	}
}

func CreateTrackErrorEmbed(t lavalink.Track, message string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "⚠️ Playback Error",
		Description: fmt.Sprintf("Could not play **%s**: %s", t.Info.Title, message),
		Color:       ColorError,
		Timestamp:   now(),
	}
}

func CreateErrorEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: ColorError}
}

func CreateSuccessEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: ColorSuccess}
}

func CreateInfoEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: ColorInfo}
}

func onOff(b bool) string {
	if b {
		return "Enabled"
	}
	return "Disabled"
}

func CreateGuildConfigEmbed(cfg *models.GuildConfig) *discordgo.MessageEmbed {
	djRole := "Not set (everyone can control playback)"
	if cfg.DJRoleID != "" {
		djRole = "<@&" + cfg.DJRoleID + ">"
	}
	announceChannel := "Channel where playback started"
	if cfg.AnnounceChannelID != "" {
		announceChannel = "<#" + cfg.AnnounceChannelID + ">"
	}
	autoDisconnect := onOff(cfg.AutoDisconnect)
	if cfg.AutoDisconnect {
		autoDisconnect += fmt.Sprintf(" (%ds)", cfg.AutoDisconnectTime)
	}

	return &discordgo.MessageEmbed{
		Title: "⚙️ Server Configuration",
		Color: ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "DJ Role", Value: djRole, Inline: true},
			{Name: "Default Volume", Value: fmt.Sprintf("%d%%", cfg.Volume), Inline: true},
			{Name: "Auto Disconnect", Value: autoDisconnect, Inline: true},
			{Name: "Announcements", Value: onOff(cfg.AnnounceSongs), Inline: true},
			{Name: "Announcement Channel", Value: announceChannel, Inline: true},
			{Name: "Max Queue Length", Value: fmt.Sprint(cfg.MaxQueueLength), Inline: true},
			{Name: "Filters", Value: onOff(cfg.AllowFilters), Inline: true},
			{Name: "Explicit Content", Value: onOff(cfg.AllowExplicit), Inline: true},
		},
		Timestamp: now(),
	}
}

// QueueEntry is one line of the queue embed.
type QueueEntry struct {
	Track       lavalink.Track
	RequesterID string
}

// CreateQueueEmbed renders page (1-based) of the queue.
func CreateQueueEmbed(current *QueueEntry, entries []QueueEntry, page int) *discordgo.MessageEmbed {
	pages := (len(entries) + queuePageSize - 1) / queuePageSize
	if pages == 0 {
		pages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	var sb strings.Builder
	if current != nil {
		fmt.Fprintf(&sb, "**Now Playing**\n%s `%s` • %s\n\n", trackLink(current.Track), trackDuration(current.Track), mention(current.RequesterID))
	}
	if len(entries) == 0 {
		sb.WriteString("The queue is empty.")
	} else {
		sb.WriteString("**Up Next**\n")
		start := (page - 1) * queuePageSize
		end := start + queuePageSize
		if end > len(entries) {
			end = len(entries)
		}
		for i := start; i < end; i++ {
			e := entries[i]
			fmt.Fprintf(&sb, "`%d.` %s - %s `%s`\n", i+1, e.Track.Info.Author, e.Track.Info.Title, trackDuration(e.Track))
		}
	}

	var total int64
	for _, e := range entries {
		total += e.Track.Info.Length
	}

	return &discordgo.MessageEmbed{
		Title:       "📜 Queue",
		Description: sb.String(),
		Color:       ColorInfo,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Page %d/%d • %d tracks • %s total", page, pages, len(entries), FormatDuration(total)),
		},
	}
}
