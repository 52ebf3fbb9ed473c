package ledger

import (
	"context"
	"database/sql"
	"errors"
)

var ErrGroupNotFound = errors.New("group not found")

// Querier is satisfied by both *sql.DB and *sql.Tx; ledger updates always
// run inside the caller's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// TouchConversation upserts the 1:1 ledger row for the pair and points it
// at messageID. Created on first message between two users.
func (r *Repository) TouchConversation(ctx context.Context, q Querier, a, b, messageID int64) error {
	lo, hi := NormalizePair(a, b)
	_, err := q.ExecContext(ctx, `
        INSERT INTO conversations (user_id1, user_id2, last_message_id)
        VALUES ($1, $2, $3)
        ON CONFLICT (user_id1, user_id2)
        DO UPDATE SET last_message_id = $3, updated_at = CURRENT_TIMESTAMP`,
		lo, hi, messageID)
	return err
}

func (r *Repository) SetGroupLastMessage(ctx context.Context, q Querier, groupID, messageID int64) error {
	res, err := q.ExecContext(ctx, `
        UPDATE groups SET last_message_id = $2, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1`, groupID, messageID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// RepointConversation recomputes the pair's last-message pointer when the
// row currently references excluding. The conversation row is locked and
// the next-newest message re-queried inside the caller's transaction, so a
// racing delete can never leave the pointer at a vanished message. Returns
// the resulting pointer (nil when no message remains or no ledger row
// exists) and whether the pointer moved.
func (r *Repository) RepointConversation(ctx context.Context, q Querier, a, b, excluding int64) (*int64, bool, error) {
	lo, hi := NormalizePair(a, b)

	var convID int64
	var last sql.NullInt64
	err := q.QueryRowContext(ctx, `
        SELECT id, last_message_id FROM conversations
        WHERE user_id1 = $1 AND user_id2 = $2
        FOR UPDATE`, lo, hi).Scan(&convID, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if last.Valid && last.Int64 != excluding {
		v := last.Int64
		return &v, false, nil
	}

	next, err := scanNullableID(q.QueryRowContext(ctx, `
        SELECT id FROM messages
        WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
          AND id <> $3
        ORDER BY created_at DESC, id DESC
        LIMIT 1`, lo, hi, excluding))
	if err != nil {
		return nil, false, err
	}

	if _, err := q.ExecContext(ctx, `
        UPDATE conversations SET last_message_id = $2, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1`, convID, next); err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// RepointGroup is the group-scope counterpart of RepointConversation.
func (r *Repository) RepointGroup(ctx context.Context, q Querier, groupID, excluding int64) (*int64, bool, error) {
	var last sql.NullInt64
	err := q.QueryRowContext(ctx, `
        SELECT last_message_id FROM groups WHERE id = $1 FOR UPDATE`,
		groupID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrGroupNotFound
	}
	if err != nil {
		return nil, false, err
	}

	if last.Valid && last.Int64 != excluding {
		v := last.Int64
		return &v, false, nil
	}

	next, err := scanNullableID(q.QueryRowContext(ctx, `
        SELECT id FROM messages
        WHERE group_id = $1 AND id <> $2
        ORDER BY created_at DESC, id DESC
        LIMIT 1`, groupID, excluding))
	if err != nil {
		return nil, false, err
	}

	if _, err := q.ExecContext(ctx, `
        UPDATE groups SET last_message_id = $2, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1`, groupID, next); err != nil {
		return nil, false, err
	}
	return next, true, nil
}

func scanNullableID(row *sql.Row) (*int64, error) {
	var id int64
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// --- groups and membership ---

func (r *Repository) CreateGroup(ctx context.Context, name string, ownerID int64, memberIDs []int64) (*Group, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	g := &Group{Name: name, OwnerID: ownerID}
	err = tx.QueryRowContext(ctx, `
        INSERT INTO groups (name, owner_id) VALUES ($1, $2)
        RETURNING id, created_at, updated_at`,
		name, ownerID).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}

	// The owner is always a member.
	seen := map[int64]bool{}
	for _, uid := range append([]int64{ownerID}, memberIDs...) {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO group_users (group_id, user_id) VALUES ($1, $2)
            ON CONFLICT DO NOTHING`, g.ID, uid); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *Repository) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	g := &Group{}
	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
        SELECT id, name, owner_id, last_message_id, created_at, updated_at
        FROM groups WHERE id = $1`, groupID).
		Scan(&g.ID, &g.Name, &g.OwnerID, &last, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		g.LastMessageID = &last.Int64
	}
	return g, nil
}

// IsMember satisfies realtime channel authorization.
func (r *Repository) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
        SELECT EXISTS (SELECT 1 FROM group_users WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&exists)
	return exists, err
}
