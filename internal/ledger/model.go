package ledger

import "time"

// Conversation is the denormalized 1:1 ledger entry. The pair is stored
// sorted (UserID1 < UserID2) so either participant resolves the same row.
type Conversation struct {
	ID            int64     `json:"id"`
	UserID1       int64     `json:"user_id1"`
	UserID2       int64     `json:"user_id2"`
	LastMessageID *int64    `json:"last_message_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Group struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	OwnerID       int64     `json:"owner_id"`
	LastMessageID *int64    `json:"last_message_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NormalizePair orders two user ids into the canonical (low, high) form
// used by conversation rows and direct channel names.
func NormalizePair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}
