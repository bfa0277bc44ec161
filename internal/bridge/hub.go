// Package bridge exposes playback sessions to external WebSocket clients.
package bridge

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/onbeat/onbeat-bot/internal/metrics"
	"github.com/onbeat/onbeat-bot/internal/music"
)

// Hub tracks connected clients and the guild each one is watching.
// It implements music.Broadcaster.
type Hub struct {
	clock clockwork.Clock

	mu      sync.Mutex
	clients map[*Client]string
	guilds  map[string]map[*Client]struct{}
}

func NewHub(clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		clock:   clock,
		clients: make(map[*Client]string),
		guilds:  make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = ""
	h.mu.Unlock()
	metrics.BridgeClients.Inc()
}

// subscribe points c at guildID, replacing any earlier subscription.
func (h *Hub) subscribe(c *Client, guildID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.clients[c]
	if !ok {
		return
	}
	h.removeLocked(c, prev)
	h.clients[c] = guildID
	subs := h.guilds[guildID]
	if subs == nil {
		subs = make(map[*Client]struct{})
		h.guilds[guildID] = subs
	}
	subs[c] = struct{}{}
}

// subscription returns the guild c is watching, or "".
func (h *Hub) subscription(c *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients[c]
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	guildID, ok := h.clients[c]
	if ok {
		h.removeLocked(c, guildID)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if ok {
		metrics.BridgeClients.Dec()
	}
}

func (h *Hub) removeLocked(c *Client, guildID string) {
	if guildID == "" {
		return
	}
	subs := h.guilds[guildID]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.guilds, guildID)
	}
}

// SubscriberCount returns how many clients watch guildID.
func (h *Hub) SubscriberCount(guildID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.guilds[guildID])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type broadcastFrame struct {
	music.Broadcast
	Timestamp string `json:"timestamp"`
}

// Broadcast sends b to every client subscribed to its guild. Slow clients
// miss the frame instead of stalling the caller.
func (h *Hub) Broadcast(b music.Broadcast) {
	data, err := json.Marshal(broadcastFrame{Broadcast: b, Timestamp: h.timestamp()})
	if err != nil {
		log.Printf("[Bridge] Failed to encode %s for guild %s: %v", b.Type, b.GuildID, err)
		return
	}

	h.mu.Lock()
	subs := make([]*Client, 0, len(h.guilds[b.GuildID]))
	for c := range h.guilds[b.GuildID] {
		subs = append(subs, c)
	}
	h.mu.Unlock()

	for _, c := range subs {
		if !c.enqueue(data) {
			log.Printf("[Bridge] Dropped %s for client %s (guild %s)", b.Type, c.ID, b.GuildID)
		}
	}
}

// closeAll disconnects every client.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
}

func (h *Hub) timestamp() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}
