package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/onbeat/onbeat-bot/internal/config"
	"github.com/onbeat/onbeat-bot/internal/database"
	"github.com/onbeat/onbeat-bot/internal/embed"
	"github.com/onbeat/onbeat-bot/internal/models"
	"github.com/onbeat/onbeat-bot/internal/music"
)

const (
	commandTimeout = 20 * time.Second
	serversPerPage = 10
)

var (
	errNotDJ          = errors.New("dj role required")
	errNotSameChannel = errors.New("not in the bot's voice channel")
	errInvalidSeek    = errors.New("invalid seek position")
)

// controlCommands change playback for everyone in the channel.
var controlCommands = map[string]bool{
	"leave":  true,
	"skip":   true,
	"pause":  true,
	"resume": true,
	"stop":   true,
	"remove": true,
	"clear":  true,
	"volume": true,
	"seek":   true,
	"filter": true,
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Bot is ready as %s", event.User.Username)
	b.registerCommands()
	b.updateBotStatus()
}

func (b *Bot) isBotOwner(i *discordgo.InteractionCreate) bool {
	if config.BotOwnerID == "" {
		return false
	}
	return interactionUserID(i) == config.BotOwnerID
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func (b *Bot) interactionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" || i.Member == nil {
		b.respondEmbed(s, i, embed.CreateErrorEmbed("Server Only", "Music commands only work inside a server."), true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	name := i.ApplicationCommandData().Name
	switch name {
	case "servers":
		if !b.isBotOwner(i) {
			b.respondEmbed(s, i, embed.CreateErrorEmbed("Owner Only", "This command is for the bot owner only."), true)
			return
		}
	case "config":
		if !b.isBotOwner(i) && !b.hasAdminOrModPermissions(s, i) {
			log.Printf("Permission denied for user %s on /config in guild %s", interactionUserID(i), i.GuildID)
			b.respondEmbed(s, i, embed.CreateErrorEmbed("Missing Permissions", "You need the Manage Server permission to change settings."), true)
			return
		}
	}
	if controlCommands[name] || name == "play" {
		if err := b.checkControl(ctx, s, i, controlCommands[name]); err != nil {
			b.respondEmbed(s, i, errorEmbed(err), true)
			return
		}
	}

	switch name {
	case "join":
		b.handleJoinCommand(ctx, s, i)
	case "leave":
		b.handleLeaveCommand(ctx, s, i)
	case "play":
		b.handlePlayCommand(ctx, s, i)
	case "skip":
		b.handleSkipCommand(ctx, s, i)
	case "pause":
		b.handlePauseCommand(ctx, s, i, true)
	case "resume":
		b.handlePauseCommand(ctx, s, i, false)
	case "stop":
		b.handleStopCommand(ctx, s, i)
	case "queue":
		b.handleQueueCommand(s, i)
	case "remove":
		b.handleRemoveCommand(s, i)
	case "clear":
		b.handleClearCommand(s, i)
	case "volume":
		b.handleVolumeCommand(ctx, s, i)
	case "seek":
		b.handleSeekCommand(ctx, s, i)
	case "filter":
		b.handleFilterCommand(ctx, s, i)
	case "info":
		b.handleInfoCommand(ctx, s, i)
	case "config":
		b.handleConfigCommand(ctx, s, i)
	case "servers":
		b.handleServersCommand(s, i)
	}
}

// checkControl enforces the DJ role (when requireDJ is set) and that the
// user shares the bot's voice channel while a session exists.
func (b *Bot) checkControl(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, requireDJ bool) error {
	if requireDJ && !b.hasAdminOrModPermissions(s, i) {
		cfg, err := b.Repo.GetGuildConfig(ctx, i.GuildID)
		if err != nil {
			return &music.ConfigStoreError{GuildID: i.GuildID, Err: err}
		}
		if !isDJ(i.Member, cfg) {
			return errNotDJ
		}
	}

	info, ok := b.Manager.Session(i.GuildID)
	if !ok {
		return nil
	}
	userChannel, inVoice := b.Voice.VoiceChannelOf(i.GuildID, interactionUserID(i))
	if !inVoice {
		return music.ErrNotInVoice
	}
	if userChannel != info.VoiceChannelID {
		return errNotSameChannel
	}
	return nil
}

// isDJ reports whether member may control playback. Without a configured DJ
// role everyone may.
func isDJ(member *discordgo.Member, cfg *models.GuildConfig) bool {
	if cfg == nil || cfg.DJRoleID == "" {
		return true
	}
	if member == nil {
		return false
	}
	for _, role := range member.Roles {
		if role == cfg.DJRoleID {
			return true
		}
	}
	return false
}

func (b *Bot) hasAdminOrModPermissions(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	if i.GuildID == "" || i.Member == nil {
		return false
	}

	if i.Member.Permissions&discordgo.PermissionAdministrator == discordgo.PermissionAdministrator {
		return true
	}

	if i.Member.Permissions&discordgo.PermissionManageGuild == discordgo.PermissionManageGuild {
		return true
	}

	guild, err := s.State.Guild(i.GuildID)
	if err == nil && i.Member.User != nil && guild.OwnerID == i.Member.User.ID {
		return true
	}

	return false
}

// errorEmbed turns a command failure into the message shown to the user.
func errorEmbed(err error) *discordgo.MessageEmbed {
	var (
		capacity *music.CapacityError
		node     *music.AudioNodeError
		voice    *music.VoiceConnectorError
		store    *music.ConfigStoreError
	)
	switch {
	case errors.Is(err, music.ErrNotInVoice):
		return embed.CreateErrorEmbed("Not in a Voice Channel", "Join a voice channel first.")
	case errors.Is(err, music.ErrNoActiveSession):
		return embed.CreateErrorEmbed("Not Connected", "I'm not in a voice channel. Use /join or /play first.")
	case errors.As(err, &capacity):
		return embed.CreateErrorEmbed("Queue Full", fmt.Sprintf("The queue is limited to %d tracks.", capacity.Limit))
	case errors.Is(err, music.ErrIndexOutOfRange):
		return embed.CreateErrorEmbed("Invalid Position", "There is no track at that position.")
	case errors.Is(err, music.ErrNothingPlaying):
		return embed.CreateErrorEmbed("Nothing Playing", "There is no track playing right now.")
	case errors.Is(err, music.ErrNoResults):
		return embed.CreateErrorEmbed("No Results", "Nothing matched your query.")
	case errors.Is(err, music.ErrBusy):
		return embed.CreateErrorEmbed("Busy", "I'm already playing in another voice channel.")
	case errors.Is(err, music.ErrFiltersDisabled):
		return embed.CreateErrorEmbed("Filters Disabled", "Filters are turned off in this server.")
	case errors.Is(err, music.ErrUnknownFilter):
		return embed.CreateErrorEmbed("Unknown Filter", "That filter preset does not exist.")
	case errors.Is(err, music.ErrInvalidVolume):
		return embed.CreateErrorEmbed("Invalid Volume", fmt.Sprintf("Volume must be between 0 and %d.", models.MaxDefaultVolume))
	case errors.Is(err, music.ErrInvalidPosition), errors.Is(err, errInvalidSeek):
		return embed.CreateErrorEmbed("Invalid Position", "Use seconds, m:ss or h:mm:ss.")
	case errors.Is(err, music.ErrNotSeekable):
		return embed.CreateErrorEmbed("Not Seekable", "The current track does not support seeking.")
	case errors.Is(err, errNotDJ):
		return embed.CreateErrorEmbed("DJ Only", "You need the DJ role to control playback.")
	case errors.Is(err, errNotSameChannel):
		return embed.CreateErrorEmbed("Wrong Channel", "You need to be in my voice channel to do that.")
	case errors.Is(err, database.ErrInvalidValue):
		return embed.CreateErrorEmbed("Invalid Value", err.Error())
	case errors.As(err, &node):
		return embed.CreateErrorEmbed("Playback Error", "The audio server could not handle the request. Try again in a moment.")
	case errors.As(err, &voice):
		return embed.CreateErrorEmbed("Voice Error", "I couldn't connect to the voice channel.")
	case errors.As(err, &store):
		return embed.CreateErrorEmbed("Configuration Error", "Server settings are unavailable right now.")
	}
	return embed.CreateErrorEmbed("Error", "Something went wrong.")
}

// parsePosition reads "90", "1:30" or "1:02:03" into milliseconds.
func parsePosition(input string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(input), ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, errInvalidSeek
	}
	var seconds int64
	for idx, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n < 0 {
			return 0, errInvalidSeek
		}
		if idx > 0 && n >= 60 {
			return 0, errInvalidSeek
		}
		seconds = seconds*60 + n
	}
	return seconds * 1000, nil
}

func (b *Bot) logCommandError(i *discordgo.InteractionCreate, err error) {
	name := i.ApplicationCommandData().Name
	log.Printf("[Command] /%s guild=%s user=%s failed: %v", name, i.GuildID, interactionUserID(i), err)
}

func (b *Bot) handleJoinCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.deferResponse(s, i) {
		return
	}
	req := music.JoinRequest{GuildID: i.GuildID, UserID: interactionUserID(i), TextChannelID: i.ChannelID}
	if opts := i.ApplicationCommandData().Options; len(opts) > 0 {
		if ch := opts[0].ChannelValue(nil); ch != nil {
			req.ChannelID = ch.ID
		}
	}

	res, err := b.Manager.Join(ctx, req)
	if err != nil {
		b.logCommandError(i, err)
		b.editEmbed(s, i, errorEmbed(err))
		return
	}
	if !res.Joined {
		b.editEmbed(s, i, embed.CreateInfoEmbed("Already Connected", fmt.Sprintf("I'm already in <#%s>.", res.VoiceChannelID)))
		return
	}
	b.editEmbed(s, i, embed.CreateSuccessEmbed("Joined", fmt.Sprintf("Connected to <#%s>.", res.VoiceChannelID)))
}

func (b *Bot) handleLeaveCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := b.Manager.Leave(ctx, i.GuildID); err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	b.respondEmbed(s, i, embed.CreateSuccessEmbed("Disconnected", "Left the voice channel."), false)
}

func (b *Bot) handlePlayCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.deferResponse(s, i) {
		return
	}
	userID := interactionUserID(i)
	query := i.ApplicationCommandData().Options[0].StringValue()

	res, err := b.Manager.Play(ctx, music.PlayRequest{
		GuildID:       i.GuildID,
		UserID:        userID,
		TextChannelID: i.ChannelID,
		Query:         query,
	})
	if err != nil {
		b.logCommandError(i, err)
		b.editEmbed(s, i, errorEmbed(err))
		return
	}

	switch {
	case res.Playlist != "":
		b.editEmbed(s, i, embed.CreatePlaylistAddedEmbed(res.Playlist, len(res.Added), res.Rejected, userID))
	case len(res.Added) == 0:
		b.editEmbed(s, i, errorEmbed(music.ErrNoResults))
	case res.Started:
		t := res.Added[0].Track
		b.editEmbed(s, i, embed.CreateSuccessEmbed("▶️ Starting Playback", fmt.Sprintf("**%s - %s**", t.Info.Author, t.Info.Title)))
	default:
		b.editEmbed(s, i, embed.CreateAddedToQueueEmbed(res.Added[0].Track, userID, res.Position))
	}
}

func (b *Bot) handleSkipCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	skipped, err := b.Manager.Skip(ctx, i.GuildID)
	if err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	b.respondEmbed(s, i, embed.CreateSuccessEmbed("⏭️ Skipped", fmt.Sprintf("**%s**", skipped.Track.Info.Title)), false)
}

func (b *Bot) handlePauseCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, pause bool) {
	var err error
	if pause {
		err = b.Manager.Pause(ctx, i.GuildID)
	} else {
		err = b.Manager.Resume(ctx, i.GuildID)
	}
	if err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	if pause {
		b.respondEmbed(s, i, embed.CreateSuccessEmbed("⏸️ Paused", "Playback paused."), false)
	} else {
		b.respondEmbed(s, i, embed.CreateSuccessEmbed("▶️ Resumed", "Playback resumed."), false)
	}
}

func (b *Bot) handleStopCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := b.Manager.Stop(ctx, i.GuildID); err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	b.respondEmbed(s, i, embed.CreateSuccessEmbed("⏹️ Stopped", "Playback stopped and the queue was cleared."), false)
}

func (b *Bot) handleQueueCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	page := 1
	if opts := i.ApplicationCommandData().Options; len(opts) > 0 {
		page = max(1, int(opts[0].IntValue()))
	}

	view, err := b.Manager.Queue(i.GuildID)
	if err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}

	var current *embed.QueueEntry
	if view.Current != nil {
		current = &embed.QueueEntry{Track: view.Current.Track, RequesterID: view.Current.RequesterID}
	}
	entries := make([]embed.QueueEntry, 0, len(view.Tracks))
	for _, t := range view.Tracks {
		entries = append(entries, embed.QueueEntry{Track: t.Track, RequesterID: t.RequesterID})
	}
	b.respondEmbed(s, i, embed.CreateQueueEmbed(current, entries, page), false)
}

func (b *Bot) handleRemoveCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	position := int(i.ApplicationCommandData().Options[0].IntValue())
	removed, err := b.Manager.Remove(i.GuildID, position-1)
	if err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	b.respondEmbed(s, i, embed.CreateSuccessEmbed("🗑️ Removed", fmt.Sprintf("**%s** was removed from the queue.", removed.Track.Info.Title)), false)
}

func (b *Bot) handleClearCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	n, err := b.Manager.Clear(i.GuildID)
	if err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	b.respondEmbed(s, i, embed.CreateSuccessEmbed("🧹 Queue Cleared", fmt.Sprintf("Removed %d tracks.", n)), false)
}

func (b *Bot) handleVolumeCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	level := int(i.ApplicationCommandData().Options[0].IntValue())
	if level < 0 || level > models.MaxDefaultVolume {
		b.respondEmbed(s, i, errorEmbed(music.ErrInvalidVolume), true)
		return
	}
	if err := b.Manager.SetVolume(ctx, i.GuildID, level); err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	b.respondEmbed(s, i, embed.CreateSuccessEmbed("🔊 Volume Set", fmt.Sprintf("Volume set to %d%%.", level)), false)
}

func (b *Bot) handleSeekCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	position, err := parsePosition(i.ApplicationCommandData().Options[0].StringValue())
	if err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	if err := b.Manager.Seek(ctx, i.GuildID, position); err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	b.respondEmbed(s, i, embed.CreateSuccessEmbed("⏩ Seeked", fmt.Sprintf("Jumped to %s.", embed.FormatDuration(position))), false)
}

func (b *Bot) handleFilterCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	preset, err := b.Manager.SetFilter(ctx, i.GuildID, i.ApplicationCommandData().Options[0].StringValue())
	if err != nil {
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	b.respondEmbed(s, i, embed.CreateSuccessEmbed("🎛️ Filter Applied", fmt.Sprintf("**%s**: %s", preset.Name, preset.Description)), false)
}

func (b *Bot) handleInfoCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	played, err := b.Repo.GetStat(ctx, models.StatTracksPlayed)
	if err != nil {
		log.Printf("Could not read tracks played: %v", err)
	}
	version := b.Version
	if version == "" {
		version = "dev"
	}

	e := embed.CreateInfoEmbed("OnBeat", "A music bot powered by Lavalink.")
	e.Fields = []*discordgo.MessageEmbedField{
		{Name: "Servers", Value: strconv.Itoa(len(s.State.Guilds)), Inline: true},
		{Name: "Active Sessions", Value: strconv.Itoa(b.Manager.ActiveSessions()), Inline: true},
		{Name: "Tracks Played", Value: strconv.FormatInt(played, 10), Inline: true},
		{Name: "Audio Node", Value: nodeStatus(b.NodeConnected()), Inline: true},
		{Name: "Version", Value: version, Inline: true},
	}
	b.respondEmbed(s, i, e, false)
}

func (b *Bot) handleConfigCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		b.respondEmbed(s, i, embed.CreateErrorEmbed("Missing Subcommand", "No subcommand provided."), true)
		return
	}
	sub := data.Options[0]
	opts := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(sub.Options))
	for _, o := range sub.Options {
		opts[o.Name] = o
	}

	var (
		cfg *models.GuildConfig
		err error
	)
	g := i.GuildID
	switch sub.Name {
	case "view":
		cfg, err = b.Repo.GetGuildConfig(ctx, g)
	case "djrole":
		roleID := ""
		if o, ok := opts["role"]; ok {
			roleID = o.Value.(string)
		}
		cfg, err = b.Repo.UpdateDJRole(ctx, g, roleID)
	case "volume":
		cfg, err = b.Repo.UpdateVolume(ctx, g, int(opts["level"].IntValue()))
	case "autodisconnect":
		var seconds *int
		if o, ok := opts["seconds"]; ok {
			n := int(o.IntValue())
			seconds = &n
		}
		cfg, err = b.Repo.UpdateAutoDisconnect(ctx, g, opts["enabled"].BoolValue(), seconds)
	case "announce":
		channelID := ""
		if o, ok := opts["channel"]; ok {
			channelID = o.Value.(string)
		}
		cfg, err = b.Repo.UpdateAnnounceSettings(ctx, g, opts["enabled"].BoolValue(), channelID)
	case "maxqueue":
		cfg, err = b.Repo.UpdateMaxQueueLength(ctx, g, int(opts["length"].IntValue()))
	case "filters":
		cfg, err = b.Repo.UpdateFiltersSetting(ctx, g, opts["enabled"].BoolValue())
	case "explicit":
		cfg, err = b.Repo.UpdateExplicitSetting(ctx, g, opts["enabled"].BoolValue())
	case "reset":
		cfg, err = b.Repo.ResetGuildConfig(ctx, g)
	default:
		b.respondEmbed(s, i, embed.CreateErrorEmbed("Unknown Subcommand", "Unknown subcommand."), true)
		return
	}

	if err != nil {
		b.logCommandError(i, err)
		if !errors.Is(err, database.ErrInvalidValue) {
			err = &music.ConfigStoreError{GuildID: g, Err: err}
		}
		b.respondEmbed(s, i, errorEmbed(err), true)
		return
	}
	if sub.Name != "view" {
		log.Printf("[Config] guild=%s user=%s updated %s", g, interactionUserID(i), sub.Name)
	}
	b.respondEmbed(s, i, embed.CreateGuildConfigEmbed(cfg), sub.Name == "view")
}

func (b *Bot) handleServersCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	guilds := append([]*discordgo.Guild(nil), s.State.Guilds...)
	if len(guilds) == 0 {
		b.respondEmbed(s, i, embed.CreateInfoEmbed("Servers", "The bot is not currently in any servers."), true)
		return
	}
	sort.Slice(guilds, func(a, c int) bool {
		return guilds[a].Name < guilds[c].Name
	})

	requestedPage := 1
	if opts := i.ApplicationCommandData().Options; len(opts) > 0 {
		requestedPage = max(1, int(opts[0].IntValue()))
	}
	pages := (len(guilds) + serversPerPage - 1) / serversPerPage
	page := min(requestedPage, pages)

	var sb strings.Builder
	start := (page - 1) * serversPerPage
	for _, guild := range guilds[start:min(start+serversPerPage, len(guilds))] {
		marker := ""
		if _, active := b.Manager.Session(guild.ID); active {
			marker = " 🎶"
		}
		fmt.Fprintf(&sb, "**%s**%s\n  `ID:` %s\n  `Members:` %d\n", guild.Name, marker, guild.ID, guild.MemberCount)
	}

	e := embed.CreateInfoEmbed("Servers", sb.String())
	e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Page %d/%d • %d servers", page, pages, len(guilds))}
	b.respondEmbed(s, i, e, true)
}

func (b *Bot) respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, e *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{e},
			Flags:  flags,
		},
	})
	if err != nil {
		log.Printf("Error responding to interaction: %v", err)
	}
}

func (b *Bot) deferResponse(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		log.Printf("Error deferring interaction: %v", err)
		return false
	}
	return true
}

func (b *Bot) editEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, e *discordgo.MessageEmbed) {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{e},
	})
	if err != nil {
		log.Printf("Error editing interaction response: %v", err)
	}
}
