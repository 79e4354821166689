package web

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/droplog/droplog/internal/chat"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/logger"
)

// FeedChannel is the Redis channel used to share live events between a
// tracking process and a separate dashboard process.
const FeedChannel = "droplog.feed"

// Event is one message on the live feed.
type Event struct {
	Type string `json:"type"` // "drop" or "boss"
	Data any    `json:"data"`
}

// Hub fans live events out to connected websocket clients. With a Redis
// client, events are routed through FeedChannel so every process sharing the
// database sees them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	rdb *redis.Client
	log logger.Logger

	mu    sync.RWMutex
	count int
	done  chan struct{}
}

// NewHub returns a hub. rdb may be nil.
func NewHub(rdb *redis.Client, log logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		rdb:        rdb,
		log:        log,
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	if h.rdb != nil {
		go h.subscribeRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.setCount(0)
			return

		case c := <-h.register:
			h.clients[c] = true
			h.setCount(len(h.clients))
			h.log.Debug("web", "feed client connected", map[string]any{"clients": len(h.clients)})

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.setCount(len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop it rather than stall the feed.
					delete(h.clients, c)
					close(c.send)
					h.log.Warn("web", "feed client too slow, disconnected", nil)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// PublishDrop announces a stored record.
func (h *Hub) PublishDrop(rec drops.Record) {
	h.publish(Event{Type: "drop", Data: rec})
}

// PublishBoss announces a boss context change.
func (h *Hub) PublishBoss(b chat.BossContext) {
	h.publish(Event{Type: "boss", Data: b})
}

func (h *Hub) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("web", "failed to encode feed event", map[string]any{"error": err})
		return
	}

	if h.rdb != nil {
		// The subscriber delivers locally, so publishing here would double up.
		if err := h.rdb.Publish(context.Background(), FeedChannel, data).Err(); err != nil {
			h.log.Warn("web", "redis publish failed, delivering locally", map[string]any{"error": err})
			h.deliver(data)
		}
		return
	}
	h.deliver(data)
}

func (h *Hub) deliver(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.log.Warn("web", "feed backlog full, event dropped", nil)
	}
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, FeedChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !json.Valid([]byte(msg.Payload)) {
				h.log.Warn("web", "ignoring malformed feed message", nil)
				continue
			}
			h.deliver([]byte(msg.Payload))
		}
	}
}
