package reaction

import (
	"time"

	"github.com/samber/lo"

	"github.com/OburuO/ville-messenger-app/internal/user"
)

// EntityTypeMessages is the only reactable kind today; the engine itself
// is keyed by (type, id) so new kinds only need a resolver registration.
const EntityTypeMessages = "messages"

type Reaction struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Emoji         string    `json:"emoji"`
	ReactableType string    `json:"reactable_type"`
	ReactableID   int64     `json:"reactable_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Resolved is a reaction with its user projection attached, the shape
// returned to clients.
type Resolved struct {
	ID        int64           `json:"id"`
	Emoji     string          `json:"emoji"`
	UserID    int64           `json:"user_id"`
	User      user.Projection `json:"user"`
	CreatedAt time.Time       `json:"created_at"`
}

// Group is the per-emoji rollup shared with the frontend: count, distinct
// reacting users, and whether the viewer is among them.
type Group struct {
	Emoji       string            `json:"emoji"`
	Count       int               `json:"count"`
	Users       []user.Projection `json:"users"`
	UserReacted bool              `json:"user_reacted"`
}

// Grouped rolls a reaction list up by emoji, preserving first-seen order.
func Grouped(reactions []Resolved, viewerID int64) []Group {
	byEmoji := lo.GroupBy(reactions, func(r Resolved) string { return r.Emoji })

	var order []string
	seen := map[string]bool{}
	for _, r := range reactions {
		if !seen[r.Emoji] {
			seen[r.Emoji] = true
			order = append(order, r.Emoji)
		}
	}

	groups := make([]Group, 0, len(order))
	for _, emoji := range order {
		rs := byEmoji[emoji]
		users := lo.UniqBy(
			lo.Map(rs, func(r Resolved, _ int) user.Projection { return r.User }),
			func(u user.Projection) int64 { return u.ID },
		)
		groups = append(groups, Group{
			Emoji: emoji,
			Count: len(rs),
			Users: users,
			UserReacted: lo.SomeBy(rs, func(r Resolved) bool {
				return r.UserID == viewerID
			}),
		})
	}
	return groups
}
