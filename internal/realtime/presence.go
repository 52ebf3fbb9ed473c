package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/OburuO/ville-messenger-app/internal/user"
)

// Presence keeps the shared online-user registry in Redis so every server
// instance sees the same roster. Connections are refcounted per user: a
// user with two tabs open stays online until the last one leaves.
//
// There is no server-side timeout here; a client that vanishes without a
// clean disconnect is removed only when its transport signals leaving.
type Presence struct {
	rdb *redis.Client
	pub Publisher
	log *slog.Logger
}

const (
	presenceUsersKey = "presence:users"
	presenceConnsKey = "presence:conns"
)

func NewPresence(rdb *redis.Client, pub Publisher, log *slog.Logger) *Presence {
	return &Presence{rdb: rdb, pub: pub, log: log}
}

// Join records a connection for u. The first connection announces the user
// to everyone on the presence channel.
func (p *Presence) Join(ctx context.Context, u user.Projection) error {
	field := fmt.Sprintf("%d", u.ID)
	n, err := p.rdb.HIncrBy(ctx, presenceConnsKey, field, 1).Result()
	if err != nil {
		return fmt.Errorf("presence: join: %w", err)
	}
	if n > 1 {
		return nil
	}

	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := p.rdb.HSet(ctx, presenceUsersKey, field, raw).Err(); err != nil {
		return fmt.Errorf("presence: register: %w", err)
	}
	if err := p.pub.Publish(ctx, PresenceChannel, EventPresenceJoining, u); err != nil {
		p.log.Error("presence joining publish failed", "user", u.ID, "error", err)
	}
	return nil
}

// Leave drops a connection for u; the last one removes the user from the
// roster and announces the departure.
func (p *Presence) Leave(ctx context.Context, u user.Projection) error {
	field := fmt.Sprintf("%d", u.ID)
	n, err := p.rdb.HIncrBy(ctx, presenceConnsKey, field, -1).Result()
	if err != nil {
		return fmt.Errorf("presence: leave: %w", err)
	}
	if n > 0 {
		return nil
	}

	if err := p.rdb.HDel(ctx, presenceConnsKey, field).Err(); err != nil {
		p.log.Warn("presence conn cleanup failed", "user", u.ID, "error", err)
	}
	if err := p.rdb.HDel(ctx, presenceUsersKey, field).Err(); err != nil {
		return fmt.Errorf("presence: unregister: %w", err)
	}
	if err := p.pub.Publish(ctx, PresenceChannel, EventPresenceLeaving, u); err != nil {
		p.log.Error("presence leaving publish failed", "user", u.ID, "error", err)
	}
	return nil
}

// Roster returns every user currently online.
func (p *Presence) Roster(ctx context.Context) ([]user.Projection, error) {
	vals, err := p.rdb.HVals(ctx, presenceUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: roster: %w", err)
	}
	users := make([]user.Projection, 0, len(vals))
	for _, v := range vals {
		var u user.Projection
		if err := json.Unmarshal([]byte(v), &u); err != nil {
			p.log.Warn("presence roster entry unreadable", "error", err)
			continue
		}
		users = append(users, u)
	}
	return users, nil
}
