package bot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/music"
)

const voiceJoinTimeout = 10 * time.Second

var ErrVoiceTimeout = errors.New("timed out waiting for voice credentials")

// pendingJoin collects the two gateway events that make up a voice connection.
type pendingJoin struct {
	channelID string
	sessionID string
	token     string
	endpoint  string
	done      chan struct{}
	closed    bool
}

func (p *pendingJoin) complete() {
	if !p.closed && p.sessionID != "" && p.token != "" && p.endpoint != "" {
		p.closed = true
		close(p.done)
	}
}

// VoiceConnector drives Discord voice signaling for the audio node. The bot
// never opens a voice connection itself; it only forwards the credentials.
type VoiceConnector struct {
	session *discordgo.Session
	timeout time.Duration
	// gatewayJoin sends the voice state update (op 4). An empty channel leaves.
	gatewayJoin func(guildID, channelID string) error

	mu      sync.Mutex
	pending map[string]*pendingJoin
	leaving map[string]bool
	// onBotLeft is called when the bot is disconnected from voice by someone else.
	onBotLeft func(guildID string)
}

func NewVoiceConnector(session *discordgo.Session) *VoiceConnector {
	v := &VoiceConnector{
		session: session,
		timeout: voiceJoinTimeout,
		pending: make(map[string]*pendingJoin),
		leaving: make(map[string]bool),
	}
	v.gatewayJoin = func(guildID, channelID string) error {
		return session.ChannelVoiceJoinManual(guildID, channelID, false, true)
	}
	return v
}

// OnBotLeft registers the callback for external voice disconnects.
func (v *VoiceConnector) OnBotLeft(fn func(guildID string)) {
	v.mu.Lock()
	v.onBotLeft = fn
	v.mu.Unlock()
}

func (v *VoiceConnector) JoinChannel(ctx context.Context, guildID, channelID string) (lavalink.VoiceState, error) {
	p := &pendingJoin{channelID: channelID, done: make(chan struct{})}
	v.mu.Lock()
	v.pending[guildID] = p
	delete(v.leaving, guildID)
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		if v.pending[guildID] == p {
			delete(v.pending, guildID)
		}
		v.mu.Unlock()
	}()

	if err := v.gatewayJoin(guildID, channelID); err != nil {
		return lavalink.VoiceState{}, err
	}

	timer := time.NewTimer(v.timeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		return lavalink.VoiceState{}, ErrVoiceTimeout
	case <-ctx.Done():
		return lavalink.VoiceState{}, ctx.Err()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return lavalink.VoiceState{Token: p.token, Endpoint: p.endpoint, SessionID: p.sessionID}, nil
}

func (v *VoiceConnector) LeaveChannel(_ context.Context, guildID string) error {
	v.mu.Lock()
	delete(v.pending, guildID)
	v.leaving[guildID] = true
	v.mu.Unlock()
	return v.gatewayJoin(guildID, "")
}

func (v *VoiceConnector) VoiceChannelOf(guildID, userID string) (string, bool) {
	vs, err := v.session.State.VoiceState(guildID, userID)
	if err != nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

func (v *VoiceConnector) MembersInChannel(guildID, channelID string) []music.VoiceMember {
	guild, err := v.session.State.Guild(guildID)
	if err != nil {
		return nil
	}

	var entries []voiceEntry
	v.session.State.RLock()
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			entries = append(entries, voiceEntry{userID: vs.UserID, member: vs.Member})
		}
	}
	v.session.State.RUnlock()

	selfID := v.selfID()
	members := make([]music.VoiceMember, 0, len(entries))
	for _, e := range entries {
		members = append(members, music.VoiceMember{UserID: e.userID, Bot: e.userID == selfID || v.isBot(guildID, e)})
	}
	return members
}

type voiceEntry struct {
	userID string
	member *discordgo.Member
}

// isBot reports whether a voice member is a bot. Unknown members count as
// humans so a missing cache entry never triggers a disconnect.
func (v *VoiceConnector) isBot(guildID string, e voiceEntry) bool {
	if e.member != nil && e.member.User != nil {
		return e.member.User.Bot
	}
	m, err := v.session.State.Member(guildID, e.userID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

func (v *VoiceConnector) selfID() string {
	if v.session.State == nil || v.session.State.User == nil {
		return ""
	}
	return v.session.State.User.ID
}

func (v *VoiceConnector) voiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.VoiceState == nil || e.UserID != v.selfID() {
		return
	}

	v.mu.Lock()
	if p, ok := v.pending[e.GuildID]; ok && e.ChannelID == p.channelID {
		p.sessionID = e.SessionID
		p.complete()
		v.mu.Unlock()
		return
	}
	if e.ChannelID != "" {
		v.mu.Unlock()
		return
	}
	if v.leaving[e.GuildID] {
		delete(v.leaving, e.GuildID)
		v.mu.Unlock()
		return
	}
	cb := v.onBotLeft
	v.mu.Unlock()

	log.Printf("[Voice] Disconnected from voice in guild %s", e.GuildID)
	if cb != nil {
		cb(e.GuildID)
	}
}

func (v *VoiceConnector) voiceServerUpdate(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pending[e.GuildID]
	if !ok {
		return
	}
	p.token = e.Token
	p.endpoint = e.Endpoint
	p.complete()
}
