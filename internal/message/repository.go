package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OburuO/ville-messenger-app/internal/ledger"
	"github.com/OburuO/ville-messenger-app/internal/reaction"
)

// PerPage is the fixed history page size.
const PerPage = 10

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) RunInTx(ctx context.Context, fn func(q ledger.Querier) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) Insert(ctx context.Context, q ledger.Querier, m *Message) error {
	return q.QueryRowContext(ctx, `
        INSERT INTO messages (body, sender_id, receiver_id, group_id, parent_id)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`,
		m.Body, m.SenderID, m.ReceiverID, m.GroupID, m.ParentID).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *Repository) InsertAttachment(ctx context.Context, q ledger.Querier, a *Attachment) error {
	return q.QueryRowContext(ctx, `
        INSERT INTO message_attachments (message_id, name, mime, size, path)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at`,
		a.MessageID, a.Name, a.Mime, a.Size, a.Path).
		Scan(&a.ID, &a.CreatedAt)
}

const messageColumns = `
    m.id, m.body, m.sender_id, m.receiver_id, m.group_id, m.parent_id,
    m.created_at, m.updated_at, u.name, u.username`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	m := &Message{}
	var body sql.NullString
	var receiver, group, parent sql.NullInt64
	err := row.Scan(&m.ID, &body, &m.SenderID, &receiver, &group, &parent,
		&m.CreatedAt, &m.UpdatedAt, &m.Sender.Name, &m.Sender.Username)
	if err != nil {
		return nil, err
	}
	if body.Valid {
		m.Body = &body.String
	}
	if receiver.Valid {
		m.ReceiverID = &receiver.Int64
	}
	if group.Valid {
		m.GroupID = &group.Int64
	}
	if parent.Valid {
		m.ParentID = &parent.Int64
	}
	m.Sender.ID = m.SenderID
	m.Attachments = []Attachment{}
	return m, nil
}

// Get returns one message with its sender and attachments; reactions are
// attached by the service.
func (r *Repository) Get(ctx context.Context, id int64) (*Message, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages m JOIN users u ON u.id = m.sender_id
        WHERE m.id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	byMessage, err := r.attachmentsFor(ctx, []int64{m.ID})
	if err != nil {
		return nil, err
	}
	if atts, ok := byMessage[m.ID]; ok {
		m.Attachments = atts
	}
	return m, nil
}

// GetForUpdate locks the message row inside the caller's transaction.
func (r *Repository) GetForUpdate(ctx context.Context, q ledger.Querier, id int64) (*Message, error) {
	m := &Message{}
	var body sql.NullString
	var receiver, group, parent sql.NullInt64
	err := q.QueryRowContext(ctx, `
        SELECT id, body, sender_id, receiver_id, group_id, parent_id, created_at, updated_at
        FROM messages WHERE id = $1
        FOR UPDATE`, id).
		Scan(&m.ID, &body, &m.SenderID, &receiver, &group, &parent,
			&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if body.Valid {
		m.Body = &body.String
	}
	if receiver.Valid {
		m.ReceiverID = &receiver.Int64
	}
	if group.Valid {
		m.GroupID = &group.Int64
	}
	if parent.Valid {
		m.ParentID = &parent.Int64
	}
	return m, nil
}

// Delete removes the message row and its reactions. Attachment rows go
// with it through the FK cascade; reaction rows are polymorphic and have
// no FK, so they are purged here.
func (r *Repository) Delete(ctx context.Context, q ledger.Querier, id int64) error {
	if _, err := q.ExecContext(ctx, `
        DELETE FROM reactions WHERE reactable_type = $1 AND reactable_id = $2`,
		reaction.EntityTypeMessages, id); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

// AttachmentPaths lists the stored file paths owned by a message, for
// post-commit cleanup.
func (r *Repository) AttachmentPaths(ctx context.Context, q ledger.Querier, messageID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT path FROM message_attachments WHERE message_id = $1`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (r *Repository) GetAttachment(ctx context.Context, id int64) (*Attachment, error) {
	a := &Attachment{}
	err := r.db.QueryRowContext(ctx, `
        SELECT id, message_id, name, mime, size, path, created_at
        FROM message_attachments WHERE id = $1`, id).
		Scan(&a.ID, &a.MessageID, &a.Name, &a.Mime, &a.Size, &a.Path, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Exists lets the reaction engine resolve the "messages" entity kind.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// ListDirect pages a 1:1 conversation, newest first. The scope is
// symmetric: messages either way between the two users.
func (r *Repository) ListDirect(ctx context.Context, viewerID, otherID int64, page int) ([]Message, error) {
	return r.list(ctx, `
        SELECT `+messageColumns+`
        FROM messages m JOIN users u ON u.id = m.sender_id
        WHERE (m.sender_id = $1 AND m.receiver_id = $2)
           OR (m.sender_id = $2 AND m.receiver_id = $1)
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $3 OFFSET $4`,
		viewerID, otherID, PerPage, offset(page))
}

func (r *Repository) ListGroup(ctx context.Context, groupID int64, page int) ([]Message, error) {
	return r.list(ctx, `
        SELECT `+messageColumns+`
        FROM messages m JOIN users u ON u.id = m.sender_id
        WHERE m.group_id = $1
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $2 OFFSET $3`,
		groupID, PerPage, offset(page))
}

// OlderDirect returns the page strictly older than the anchor time within
// the symmetric direct scope.
func (r *Repository) OlderDirect(ctx context.Context, a, b int64, before time.Time) ([]Message, error) {
	return r.list(ctx, `
        SELECT `+messageColumns+`
        FROM messages m JOIN users u ON u.id = m.sender_id
        WHERE m.created_at < $3
          AND ((m.sender_id = $1 AND m.receiver_id = $2)
            OR (m.sender_id = $2 AND m.receiver_id = $1))
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $4`,
		a, b, before, PerPage)
}

func (r *Repository) OlderGroup(ctx context.Context, groupID int64, before time.Time) ([]Message, error) {
	return r.list(ctx, `
        SELECT `+messageColumns+`
        FROM messages m JOIN users u ON u.id = m.sender_id
        WHERE m.created_at < $2 AND m.group_id = $1
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT $3`,
		groupID, before, PerPage)
}

func offset(page int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * PerPage
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	var ids []int64
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byMessage, err := r.attachmentsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if atts, ok := byMessage[messages[i].ID]; ok {
			messages[i].Attachments = atts
		}
	}
	return messages, nil
}

func (r *Repository) attachmentsFor(ctx context.Context, messageIDs []int64) (map[int64][]Attachment, error) {
	out := make(map[int64][]Attachment)
	if len(messageIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(messageIDs))
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	q := `SELECT id, message_id, name, mime, size, path, created_at
          FROM message_attachments
          WHERE message_id IN (` + strings.Join(placeholders, ",") + `)
          ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Name, &a.Mime, &a.Size,
			&a.Path, &a.CreatedAt); err != nil {
			return nil, err
		}
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	return out, rows.Err()
}
