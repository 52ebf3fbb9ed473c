package user

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	var id int64
	query := "INSERT INTO users (name, username, password) VALUES ($1, $2, $3) RETURNING id"

	err := r.db.QueryRowContext(ctx, query, user.Name, user.Username, user.Password).Scan(&id)
	if err != nil {
		return nil, err
	}

	user.ID = id
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT id, name, username, password FROM users WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Name, &u.Username, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]Projection, error) {
	// Limit to 10 to keep it fast.
	q := `SELECT id, name, username FROM users
          WHERE username ILIKE $1 OR name ILIKE $1 LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []Projection
	for rows.Next() {
		var p Projection
		if err := rows.Scan(&p.ID, &p.Name, &p.Username); err != nil {
			return nil, err
		}
		users = append(users, p)
	}
	return users, rows.Err()
}
