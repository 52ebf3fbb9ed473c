package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/OburuO/ville-messenger-app/internal/metrics"
)

// Hub routes frames arriving from Redis to the websocket clients attached
// to this instance, keyed by the channels each client subscribed to.
type Hub struct {
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
	commands   chan command
	broadcast  chan inbound
	deliver    chan delivery

	membership Membership
	presence   *Presence
	rdb        *redis.Client
	log        *slog.Logger
}

type command struct {
	client    *Client
	channel   string
	subscribe bool
}

type inbound struct {
	channel string
	payload []byte
}

// delivery is a frame addressed to one client. Sends to a client's Send
// channel only happen on the hub loop, which owns its lifecycle; a
// goroutine writing to Send directly could race the close in drop.
type delivery struct {
	client  *Client
	payload []byte
}

func NewHub(rdb *redis.Client, membership Membership, presence *Presence, log *slog.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		commands:      make(chan command),
		broadcast:     make(chan inbound),
		deliver:       make(chan delivery),
		membership:    membership,
		presence:      presence,
		rdb:           rdb,
		log:           log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			metrics.ConnectedClients.Inc()

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case cmd := <-h.commands:
			if !h.clients[cmd.client] {
				continue
			}
			if cmd.subscribe {
				h.subscribe(cmd.client, cmd.channel)
			} else {
				h.unsubscribe(cmd.client, cmd.channel)
			}

		case d := <-h.deliver:
			if !h.clients[d.client] {
				// Gone before the frame landed; its Send is closed.
				continue
			}
			select {
			case d.client.Send <- d.payload:
			default:
				h.drop(d.client)
			}

		case msg := <-h.broadcast:
			for client := range h.subscriptions[msg.channel] {
				select {
				case client.Send <- msg.payload:
				default:
					// Slow consumer; cut it loose rather than stall the hub.
					h.drop(client)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// SubscribeToRedis feeds the hub with every frame published by any
// instance. Run it in its own goroutine.
func (h *Hub) SubscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.PSubscribe(ctx, "message.*", "group.deleted.*", PresenceChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast <- inbound{channel: msg.Channel, payload: []byte(msg.Payload)}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) subscribe(c *Client, channel string) {
	set, ok := h.subscriptions[channel]
	if !ok {
		set = make(map[*Client]bool)
		h.subscriptions[channel] = set
	}
	if set[c] {
		return
	}
	set[c] = true
	c.channels[channel] = true

	if channel == PresenceChannel {
		// The newcomer gets the full roster; everyone else learns about
		// the newcomer through the joining event.
		go h.announceJoin(c)
	}
}

func (h *Hub) unsubscribe(c *Client, channel string) {
	if set, ok := h.subscriptions[channel]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subscriptions, channel)
		}
	}
	if c.channels[channel] {
		delete(c.channels, channel)
		if channel == PresenceChannel {
			go h.announceLeave(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	for channel := range c.channels {
		h.unsubscribe(c, channel)
	}
	delete(h.clients, c)
	close(c.Send)
	metrics.ConnectedClients.Dec()
}

func (h *Hub) announceJoin(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.presence.Join(ctx, c.User); err != nil {
		h.log.Error("presence join failed", "user", c.User.ID, "error", err)
	}

	roster, err := h.presence.Roster(ctx)
	if err != nil {
		h.log.Error("presence roster failed", "user", c.User.ID, "error", err)
		return
	}
	frame, err := NewFrame(PresenceChannel, EventPresenceHere, roster)
	if err != nil {
		return
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case h.deliver <- delivery{client: c, payload: raw}:
	case <-ctx.Done():
	}
}

func (h *Hub) announceLeave(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.presence.Leave(ctx, c.User); err != nil {
		h.log.Error("presence leave failed", "user", c.User.ID, "error", err)
	}
}
