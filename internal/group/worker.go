// Package group owns group lifecycle: creation and asynchronous teardown.
//
// Deleting a group cascades through arbitrarily many messages and
// attachments, so the interactive request only enqueues the job; the
// worker does the durable deletion off the request path and notifies
// members on its dedicated channel when it finishes.
package group

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OburuO/ville-messenger-app/internal/metrics"
	"github.com/OburuO/ville-messenger-app/internal/realtime"
	"github.com/OburuO/ville-messenger-app/internal/storage"
)

var ErrQueueFull = errors.New("teardown queue is full")

type BlobStore interface {
	Delete(path string) error
	DeleteDir(dir string) error
}

type TeardownWorker struct {
	db    *sql.DB
	blobs BlobStore
	pub   realtime.Publisher
	log   *slog.Logger
	jobs  chan int64
}

func NewTeardownWorker(db *sql.DB, blobs BlobStore, pub realtime.Publisher, log *slog.Logger, queueSize int) *TeardownWorker {
	return &TeardownWorker{
		db:    db,
		blobs: blobs,
		pub:   pub,
		log:   log,
		jobs:  make(chan int64, queueSize),
	}
}

// Enqueue schedules a group teardown and returns immediately.
func (w *TeardownWorker) Enqueue(groupID int64) error {
	select {
	case w.jobs <- groupID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes teardown jobs until the context ends, then drains
// whatever is still queued before returning. An accepted deletion must not
// be lost to a restart that the queue outlived.
func (w *TeardownWorker) Run(ctx context.Context) {
	for {
		select {
		case groupID := <-w.jobs:
			if err := w.teardown(ctx, groupID); err != nil {
				w.log.Error("group teardown failed", "group", groupID, "error", err)
			}
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// drain runs the remaining queued jobs with their own deadline; the
// shutdown context is already done.
func (w *TeardownWorker) drain() {
	for {
		select {
		case groupID := <-w.jobs:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := w.teardown(ctx, groupID); err != nil {
				w.log.Error("group teardown failed", "group", groupID, "error", err)
			}
			cancel()
		default:
			return
		}
	}
}

// teardown durably deletes the group and every dependent row in one
// transaction, removes attachment files afterwards, then broadcasts the
// deletion notice.
func (w *TeardownWorker) teardown(ctx context.Context, groupID int64) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var name string
	err = tx.QueryRowContext(ctx,
		`SELECT name FROM groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		// Already gone; racing teardown won.
		return nil
	}
	if err != nil {
		return err
	}

	messageIDs, paths, err := w.collectMessageFiles(ctx, tx, groupID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
        DELETE FROM reactions
        WHERE reactable_type = 'messages'
          AND reactable_id IN (SELECT id FROM messages WHERE group_id = $1)`,
		groupID); err != nil {
		return fmt.Errorf("delete reactions: %w", err)
	}

	// Removing the group cascades membership, messages, and attachment
	// rows through the schema's foreign keys.
	if _, err := tx.ExecContext(ctx,
		`UPDATE groups SET last_message_id = NULL WHERE id = $1`, groupID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM groups WHERE id = $1`, groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.GroupsDeleted.Inc()

	for _, p := range paths {
		if err := w.blobs.Delete(p); err != nil {
			w.log.Warn("attachment file delete failed", "path", p, "error", err)
		}
	}
	for _, id := range messageIDs {
		if err := w.blobs.DeleteDir(storage.MessageDir(id)); err != nil {
			w.log.Warn("attachment namespace delete failed", "message", id, "error", err)
		}
	}

	payload := realtime.GroupDeletedPayload{ID: groupID, Name: name}
	if err := w.pub.Publish(ctx, realtime.GroupDeletedChannel(groupID), realtime.EventGroupDeleted, payload); err != nil {
		w.log.Error("group deleted broadcast failed", "group", groupID, "error", err)
	}
	w.log.Info("group torn down", "group", groupID, "name", name, "messages", len(messageIDs))
	return nil
}

func (w *TeardownWorker) collectMessageFiles(ctx context.Context, tx *sql.Tx, groupID int64) ([]int64, []string, error) {
	rows, err := tx.QueryContext(ctx, `
        SELECT m.id, a.path
        FROM messages m
        LEFT JOIN message_attachments a ON a.message_id = m.id
        WHERE m.group_id = $1`, groupID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids []int64
	var paths []string
	seen := map[int64]bool{}
	for rows.Next() {
		var id int64
		var path sql.NullString
		if err := rows.Scan(&id, &path); err != nil {
			return nil, nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		if path.Valid {
			paths = append(paths, path.String)
		}
	}
	return ids, paths, rows.Err()
}
