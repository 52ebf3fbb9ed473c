package realtime

import "encoding/json"

// Event names carried on the wire.
const (
	EventSocketMessage   = "SocketMessage"
	EventGroupDeleted    = "GroupDeleted"
	EventPresenceHere    = "presence.here"
	EventPresenceJoining = "presence.joining"
	EventPresenceLeaving = "presence.leaving"
)

// Frame is the unit that travels over Redis and down every websocket.
// Payloads are fully materialized by the publisher so subscribers never
// need a follow-up fetch to render.
type Frame struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func NewFrame(channel, event string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Channel: channel, Event: event, Payload: raw}, nil
}

// GroupDeletedPayload tells members to drop the conversation and navigate
// away if they are viewing it.
type GroupDeletedPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
