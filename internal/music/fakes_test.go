package music

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/onbeat/onbeat-bot/internal/lavalink"
	"github.com/onbeat/onbeat-bot/internal/models"
)

type update struct {
	GuildID   string
	Update    lavalink.PlayerUpdate
	NoReplace bool
}

type fakeNode struct {
	mu        sync.Mutex
	loads     map[string]*lavalink.LoadResult
	players   map[string]*lavalink.Player
	updates   []update
	destroys  map[string]int
	updateErr error
	// beforeLoad runs at the start of LoadTracks, outside the fake's lock.
	beforeLoad func()
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		loads:    map[string]*lavalink.LoadResult{},
		players:  map[string]*lavalink.Player{},
		destroys: map[string]int{},
	}
}

func (n *fakeNode) LoadTracks(_ context.Context, identifier string) (*lavalink.LoadResult, error) {
	if n.beforeLoad != nil {
		n.beforeLoad()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if res, ok := n.loads[identifier]; ok {
		return res, nil
	}
	return &lavalink.LoadResult{LoadType: lavalink.LoadTypeEmpty}, nil
}

func (n *fakeNode) GetPlayer(_ context.Context, guildID string) (*lavalink.Player, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.players[guildID]
	if !ok {
		return nil, lavalink.ErrPlayerNotFound
	}
	cp := *p
	return &cp, nil
}

func (n *fakeNode) UpdatePlayer(_ context.Context, guildID string, u lavalink.PlayerUpdate, noReplace bool) (*lavalink.Player, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.updateErr != nil {
		return nil, n.updateErr
	}
	n.updates = append(n.updates, update{GuildID: guildID, Update: u, NoReplace: noReplace})

	p, ok := n.players[guildID]
	if !ok {
		p = &lavalink.Player{GuildID: guildID, Volume: 100}
		n.players[guildID] = p
	}
	if u.Track != nil {
		if u.Track.Encoded == nil {
			p.Track = nil
		} else {
			p.Track = &lavalink.Track{Encoded: *u.Track.Encoded, UserData: u.Track.UserData}
		}
	}
	if u.Volume != nil {
		p.Volume = *u.Volume
	}
	if u.Paused != nil {
		p.Paused = *u.Paused
	}
	cp := *p
	return &cp, nil
}

func (n *fakeNode) DestroyPlayer(_ context.Context, guildID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.destroys[guildID]++
	delete(n.players, guildID)
	return nil
}

// playDirectives counts updates that asked the node to start a track.
func (n *fakeNode) playDirectives(guildID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, u := range n.updates {
		if u.GuildID == guildID && u.Update.Track != nil && u.Update.Track.Encoded != nil {
			count++
		}
	}
	return count
}

func (n *fakeNode) destroyCount(guildID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.destroys[guildID]
}

func (n *fakeNode) setLoad(identifier string, res *lavalink.LoadResult) {
	n.mu.Lock()
	n.loads[identifier] = res
	n.mu.Unlock()
}

type fakeVoice struct {
	mu        sync.Mutex
	userChans map[string]string
	members   map[string][]VoiceMember
	joinErr   error
	joins     int
	leaves    map[string]int
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{
		userChans: map[string]string{},
		members:   map[string][]VoiceMember{},
		leaves:    map[string]int{},
	}
}

func (v *fakeVoice) JoinChannel(_ context.Context, guildID, channelID string) (lavalink.VoiceState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.joinErr != nil {
		return lavalink.VoiceState{}, v.joinErr
	}
	v.joins++
	return lavalink.VoiceState{Token: "tok", Endpoint: "ep", SessionID: "vs-" + guildID}, nil
}

func (v *fakeVoice) LeaveChannel(_ context.Context, guildID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leaves[guildID]++
	return nil
}

func (v *fakeVoice) VoiceChannelOf(_, userID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.userChans[userID]
	return c, ok
}

func (v *fakeVoice) MembersInChannel(_, channelID string) []VoiceMember {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]VoiceMember(nil), v.members[channelID]...)
}

func (v *fakeVoice) setMembers(channelID string, members ...VoiceMember) {
	v.mu.Lock()
	v.members[channelID] = members
	v.mu.Unlock()
}

func (v *fakeVoice) leaveCount(guildID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leaves[guildID]
}

type fakeConfigs struct {
	mu   sync.Mutex
	cfgs map[string]models.GuildConfig
	err  error
}

func newFakeConfigs() *fakeConfigs {
	return &fakeConfigs{cfgs: map[string]models.GuildConfig{}}
}

func (c *fakeConfigs) GetGuildConfig(_ context.Context, guildID string) (*models.GuildConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	cfg, ok := c.cfgs[guildID]
	if !ok {
		cfg = models.DefaultGuildConfig(guildID)
		c.cfgs[guildID] = cfg
	}
	return &cfg, nil
}

func (c *fakeConfigs) modify(guildID string, fn func(*models.GuildConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.cfgs[guildID]
	if !ok {
		cfg = models.DefaultGuildConfig(guildID)
	}
	fn(&cfg)
	c.cfgs[guildID] = cfg
}

type fakeAnnouncer struct {
	mu     sync.Mutex
	posted []Announcement
	err    error
}

func (a *fakeAnnouncer) Announce(_ context.Context, channelID string, e *discordgo.MessageEmbed) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.posted = append(a.posted, Announcement{ChannelID: channelID, Embed: e})
	return nil
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []Broadcast
}

func (b *fakeBroadcaster) Broadcast(msg Broadcast) {
	b.mu.Lock()
	b.sent = append(b.sent, msg)
	b.mu.Unlock()
}

type fakeStats struct {
	mu     sync.Mutex
	played int
}

func (s *fakeStats) IncrementTracksPlayed(context.Context) error {
	s.mu.Lock()
	s.played++
	s.mu.Unlock()
	return nil
}

var errBoom = errors.New("boom")

func testTrack(i int) lavalink.Track {
	return lavalink.Track{
		Encoded: fmt.Sprintf("enc-%d", i),
		Info: lavalink.TrackInfo{
			Identifier: fmt.Sprintf("id-%d", i),
			Title:      fmt.Sprintf("Track %d", i),
			Author:     "Artist",
			Length:     180_000,
			IsSeekable: true,
		},
	}
}

func queued(n int) []QueuedTrack {
	out := make([]QueuedTrack, n)
	for i := range out {
		out[i] = QueuedTrack{Track: testTrack(i), RequesterID: "u"}
	}
	return out
}
