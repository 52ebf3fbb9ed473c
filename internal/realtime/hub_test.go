package realtime

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func testClient() *Client {
	return &Client{Send: make(chan []byte, 1), channels: make(map[string]bool)}
}

func Test_Deliver_To_Departed_Client_Is_Dropped(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, fakeMembership{}, nil, slog.Default())
	go hub.Run(ctx)

	gone := testClient()
	hub.Register <- gone
	hub.Unregister <- gone

	// The hub closes Send when the unregister lands.
	_, open := <-gone.Send
	req.False(open)

	// A roster frame addressed to the departed client must be discarded,
	// not sent into the closed channel.
	hub.deliver <- delivery{client: gone, payload: []byte("roster")}

	// The loop is still alive and serving attached clients.
	live := testClient()
	hub.Register <- live
	hub.deliver <- delivery{client: live, payload: []byte("roster")}
	req.Equal([]byte("roster"), <-live.Send)
}

func Test_Deliver_Cuts_Slow_Consumer(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, fakeMembership{}, nil, slog.Default())
	go hub.Run(ctx)

	slow := testClient()
	slow.Send <- []byte("backlog") // fill the buffer

	hub.Register <- slow
	hub.deliver <- delivery{client: slow, payload: []byte("roster")}

	req.Equal([]byte("backlog"), <-slow.Send)
	_, open := <-slow.Send
	req.False(open)
}
