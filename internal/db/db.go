package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) AutoMigrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(100) NOT NULL,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS groups (
            id BIGSERIAL PRIMARY KEY,
            name VARCHAR(100) NOT NULL,
            owner_id BIGINT NOT NULL REFERENCES users(id),
            last_message_id BIGINT,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS group_users (
            group_id BIGINT REFERENCES groups(id) ON DELETE CASCADE,
            user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            joined_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (group_id, user_id)
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            body TEXT,
            sender_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            receiver_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
            group_id BIGINT REFERENCES groups(id) ON DELETE CASCADE,
            parent_id BIGINT REFERENCES messages(id) ON DELETE SET NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            CHECK (receiver_id IS NULL OR group_id IS NULL)
        )`,

		// Direct conversations are keyed by the sorted id pair so both
		// participants resolve the same row.
		`CREATE TABLE IF NOT EXISTS conversations (
            id BIGSERIAL PRIMARY KEY,
            user_id1 BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            user_id2 BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            last_message_id BIGINT REFERENCES messages(id) ON DELETE SET NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (user_id1, user_id2),
            CHECK (user_id1 < user_id2)
        )`,

		`ALTER TABLE groups DROP CONSTRAINT IF EXISTS groups_last_message_id_fkey`,
		`ALTER TABLE groups ADD CONSTRAINT groups_last_message_id_fkey
            FOREIGN KEY (last_message_id) REFERENCES messages(id) ON DELETE SET NULL`,

		`CREATE TABLE IF NOT EXISTS message_attachments (
            id BIGSERIAL PRIMARY KEY,
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            name VARCHAR(255) NOT NULL,
            mime VARCHAR(255) NOT NULL,
            size BIGINT NOT NULL,
            path VARCHAR(1024) NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		// One reaction per (user, entity); toggles update or delete the row.
		`CREATE TABLE IF NOT EXISTS reactions (
            id BIGSERIAL PRIMARY KEY,
            user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            emoji VARCHAR(32) NOT NULL,
            reactable_type VARCHAR(50) NOT NULL,
            reactable_id BIGINT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (user_id, reactable_type, reactable_id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_group_created
            ON messages (group_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_direct
            ON messages (sender_id, receiver_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_entity
            ON reactions (reactable_type, reactable_id)`,
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
