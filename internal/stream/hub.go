package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"backend-convoyhub/internal/trip"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sendBuffer       = 64
	channelPrefix    = "convoy:"
	channelSuffix    = ":location"
	subscribeTimeout = 2 * time.Second
)

// Hub fans relay-store writes out to websocket clients watching a trip.
// With redis configured, writes are shared with every other server instance.
type Hub struct {
	id    string
	redis *redis.Client
	log   *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	TripCode string
	Send     chan []byte
}

// envelope tags a redis message with the publishing hub so it is not
// delivered twice locally.
type envelope struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

func NewHub(redisClient *redis.Client, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		id:      uuid.NewString(),
		redis:   redisClient,
		log:     log.With("component", "stream"),
		clients: map[string]map[*Client]struct{}{},
		done:    make(chan struct{}),
	}

	if redisClient == nil {
		close(h.done)
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	pubsub := redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	rctx, rcancel := context.WithTimeout(ctx, subscribeTimeout)
	if _, err := pubsub.Receive(rctx); err != nil {
		h.log.Warn("redis subscribe not confirmed", "error", err)
	}
	rcancel()
	go h.subscribeRedis(ctx, pubsub)
	return h
}

func (h *Hub) Register(tripCode string) *Client {
	client := &Client{
		TripCode: trip.NormalizeCode(tripCode),
		Send:     make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.TripCode] == nil {
		h.clients[client.TripCode] = map[*Client]struct{}{}
	}
	h.clients[client.TripCode][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tripClients, ok := h.clients[client.TripCode]
	if !ok {
		return
	}
	if _, ok := tripClients[client]; !ok {
		return
	}
	delete(tripClients, client)
	if len(tripClients) == 0 {
		delete(h.clients, client.TripCode)
	}
	close(client.Send)
}

// Broadcast delivers payload to local clients of the trip and, when redis is
// configured, to the other instances. Slow clients miss messages.
func (h *Hub) Broadcast(tripCode string, payload []byte) {
	tripCode = trip.NormalizeCode(tripCode)
	h.deliver(tripCode, payload)

	if h.redis == nil {
		return
	}
	raw, err := json.Marshal(envelope{Origin: h.id, Payload: payload})
	if err != nil {
		return
	}
	if err := h.redis.Publish(context.Background(), redisChannel(tripCode), raw).Err(); err != nil {
		h.log.Warn("redis publish failed", "trip", tripCode, "error", err)
	}
}

// Close stops the redis subscription. Registered clients are left to their
// handlers.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

func (h *Hub) deliver(tripCode string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[tripCode] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribers(tripCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[trip.NormalizeCode(tripCode)])
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
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
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Warn("dropping malformed redis message", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Origin == h.id {
				continue
			}
			if code := tripCodeFromChannel(msg.Channel); code != "" {
				h.deliver(code, env.Payload)
			}
		}
	}
}

func redisChannel(tripCode string) string {
	return channelPrefix + tripCode + channelSuffix
}

// tripCodeFromChannel parses convoy:{code}:location.
func tripCodeFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
