package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/OburuO/ville-messenger-app/internal/middleware"
	"github.com/OburuO/ville-messenger-app/internal/user"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dev mode; lock down in prod.
	},
}

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	User user.Projection

	// channels this client subscribed to; owned by the hub's run loop.
	channels map[string]bool
}

// clientCommand is what the frontend sends us: channel subscriptions only.
// Messages themselves go through the HTTP API.
type clientCommand struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	Channel string `json:"channel"`
}

// ServeWs upgrades the request and attaches a client to the hub.
func ServeWs(hub *Hub, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.Principal(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			hub:      hub,
			conn:     conn,
			Send:     make(chan []byte, 256),
			User:     principal,
			channels: make(map[string]bool),
		}
		client.hub.Register <- client

		go client.writePump()
		go client.readPump(log)
	}
}

// readPump pumps subscription commands from the connection to the hub.
func (c *Client) readPump(log *slog.Logger) {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read failed", "user", c.User.ID, "error", err)
			}
			break
		}

		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Debug("unreadable client command", "user", c.User.ID, "error", err)
			continue
		}

		switch cmd.Action {
		case "subscribe":
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			allowed, err := CanSubscribe(ctx, c.hub.membership, c.User.ID, cmd.Channel)
			cancel()
			if err != nil {
				log.Error("subscription check failed", "channel", cmd.Channel, "error", err)
				continue
			}
			if !allowed {
				log.Warn("subscription denied", "user", c.User.ID, "channel", cmd.Channel)
				continue
			}
			c.hub.commands <- command{client: c, channel: cmd.Channel, subscribe: true}
		case "unsubscribe":
			c.hub.commands <- command{client: c, channel: cmd.Channel, subscribe: false}
		}
	}
}

// writePump pumps frames from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush queued frames in the same write to save syscalls.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
