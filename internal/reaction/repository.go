package reaction

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate surfaces the (user, entity) uniqueness constraint; the
// service turns it back into a legal toggle outcome.
var ErrDuplicate = errors.New("reaction already exists")

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the user's reaction on the entity, or nil when none exists.
func (r *Repository) Get(ctx context.Context, entityType string, entityID, userID int64) (*Reaction, error) {
	re := &Reaction{}
	err := r.db.QueryRowContext(ctx, `
        SELECT id, user_id, emoji, reactable_type, reactable_id, created_at, updated_at
        FROM reactions
        WHERE user_id = $1 AND reactable_type = $2 AND reactable_id = $3`,
		userID, entityType, entityID).
		Scan(&re.ID, &re.UserID, &re.Emoji, &re.ReactableType, &re.ReactableID,
			&re.CreatedAt, &re.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return re, nil
}

func (r *Repository) Insert(ctx context.Context, re *Reaction) error {
	err := r.db.QueryRowContext(ctx, `
        INSERT INTO reactions (user_id, emoji, reactable_type, reactable_id)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at`,
		re.UserID, re.Emoji, re.ReactableType, re.ReactableID).
		Scan(&re.ID, &re.CreatedAt, &re.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *Repository) UpdateEmoji(ctx context.Context, id int64, emoji string) error {
	_, err := r.db.ExecContext(ctx, `
        UPDATE reactions SET emoji = $2, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1`, id, emoji)
	return err
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reactions WHERE id = $1`, id)
	return err
}

// ListByEntity returns the entity's reactions with user projections
// resolved, oldest first.
func (r *Repository) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]Resolved, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT r.id, r.emoji, r.user_id, u.name, u.username, r.created_at
        FROM reactions r
        JOIN users u ON u.id = r.user_id
        WHERE r.reactable_type = $1 AND r.reactable_id = $2
        ORDER BY r.created_at ASC, r.id ASC`,
		entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Resolved
	for rows.Next() {
		var re Resolved
		if err := rows.Scan(&re.ID, &re.Emoji, &re.UserID, &re.User.Name,
			&re.User.Username, &re.CreatedAt); err != nil {
			return nil, err
		}
		re.User.ID = re.UserID
		out = append(out, re)
	}
	return out, rows.Err()
}
