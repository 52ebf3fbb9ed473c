package message

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/OburuO/ville-messenger-app/internal/ledger"
	"github.com/OburuO/ville-messenger-app/internal/metrics"
	"github.com/OburuO/ville-messenger-app/internal/reaction"
	"github.com/OburuO/ville-messenger-app/internal/realtime"
	"github.com/OburuO/ville-messenger-app/internal/storage"
)

var (
	ErrValidation = errors.New("invalid message input")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("message not found")
)

// Store is the persistence surface the service orchestrates; *Repository
// satisfies it.
type Store interface {
	RunInTx(ctx context.Context, fn func(q ledger.Querier) error) error
	Insert(ctx context.Context, q ledger.Querier, m *Message) error
	InsertAttachment(ctx context.Context, q ledger.Querier, a *Attachment) error
	Get(ctx context.Context, id int64) (*Message, error)
	GetForUpdate(ctx context.Context, q ledger.Querier, id int64) (*Message, error)
	Delete(ctx context.Context, q ledger.Querier, id int64) error
	AttachmentPaths(ctx context.Context, q ledger.Querier, messageID int64) ([]string, error)
	GetAttachment(ctx context.Context, id int64) (*Attachment, error)
	ListDirect(ctx context.Context, viewerID, otherID int64, page int) ([]Message, error)
	ListGroup(ctx context.Context, groupID int64, page int) ([]Message, error)
	OlderDirect(ctx context.Context, a, b int64, before time.Time) ([]Message, error)
	OlderGroup(ctx context.Context, groupID int64, before time.Time) ([]Message, error)
}

// Ledger maintains the denormalized last-message pointers.
type Ledger interface {
	TouchConversation(ctx context.Context, q ledger.Querier, a, b, messageID int64) error
	SetGroupLastMessage(ctx context.Context, q ledger.Querier, groupID, messageID int64) error
	RepointConversation(ctx context.Context, q ledger.Querier, a, b, excluding int64) (*int64, bool, error)
	RepointGroup(ctx context.Context, q ledger.Querier, groupID, excluding int64) (*int64, bool, error)
}

// BlobStore persists attachment bytes; storage.Disk satisfies it.
type BlobStore interface {
	Save(dir, originalName string, r io.Reader) (string, int64, error)
	Delete(path string) error
	DeleteDir(dir string) error
}

// ReactionLister resolves an entity's reactions for payload
// materialization.
type ReactionLister interface {
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]reaction.Resolved, error)
}

type Service struct {
	store     Store
	ledger    Ledger
	blobs     BlobStore
	reactions ReactionLister
	pub       realtime.Publisher
	log       *slog.Logger
}

func NewService(store Store, led Ledger, blobs BlobStore, reactions ReactionLister, pub realtime.Publisher, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		ledger:    led,
		blobs:     blobs,
		reactions: reactions,
		pub:       pub,
		log:       log,
	}
}

// Create persists the message, its attachments, and the ledger update in a
// single transaction, then broadcasts the materialized message. A failure
// anywhere aborts everything: stored files from this request are removed
// before the error propagates.
func (s *Service) Create(ctx context.Context, senderID int64, in CreateInput) (*Message, error) {
	if strings.TrimSpace(in.Body) == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: body or attachments required", ErrValidation)
	}
	if (in.ReceiverID == nil) == (in.GroupID == nil) {
		return nil, fmt.Errorf("%w: exactly one of receiver_id and group_id must be set", ErrValidation)
	}

	m := &Message{
		SenderID:   senderID,
		ReceiverID: in.ReceiverID,
		GroupID:    in.GroupID,
		ParentID:   in.ParentID,
	}
	if body := strings.TrimSpace(in.Body); body != "" {
		m.Body = &body
	}

	var channel string
	var stored []string
	err := s.store.RunInTx(ctx, func(q ledger.Querier) error {
		if err := s.store.Insert(ctx, q, m); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		if len(in.Attachments) > 0 {
			atts, err := s.storeAttachments(ctx, q, m.ID, in.Attachments, &stored)
			if err != nil {
				return err
			}
			m.Attachments = atts
		}

		if in.ReceiverID != nil {
			channel = realtime.DirectChannel(senderID, *in.ReceiverID)
			return s.ledger.TouchConversation(ctx, q, senderID, *in.ReceiverID, m.ID)
		}
		channel = realtime.GroupChannel(*in.GroupID)
		return s.ledger.SetGroupLastMessage(ctx, q, *in.GroupID, m.ID)
	})
	if err != nil {
		// The rows rolled back with the transaction; the files written in
		// this request have to go too, wherever the failure happened.
		if len(in.Attachments) > 0 && m.ID != 0 {
			s.removeStoredFiles(stored, storage.MessageDir(m.ID))
		}
		return nil, err
	}
	metrics.MessagesCreated.Inc()

	full, err := s.materialize(ctx, m.ID)
	if err != nil || full == nil {
		// The row committed; fall back to what we have.
		s.log.Warn("materialize after create failed", "message", m.ID, "error", err)
		if m.Attachments == nil {
			m.Attachments = []Attachment{}
		}
		m.Reactions = []reaction.Resolved{}
		full = m
	}

	// Fire and forget: the mutation already committed.
	if err := s.pub.Publish(ctx, channel, realtime.EventSocketMessage, full); err != nil {
		s.log.Error("message broadcast failed", "message", full.ID, "channel", channel, "error", err)
	}
	return full, nil
}

// storeAttachments writes every file into the message's namespace and
// records a row per file. Each stored path is appended to stored so the
// caller can compensate: if anything in the transaction fails, Create
// deletes every file written in this request plus the namespace. A crash
// between write and cleanup can leak files; that gap is accepted.
func (s *Service) storeAttachments(ctx context.Context, q ledger.Querier, messageID int64, files []IncomingFile, stored *[]string) ([]Attachment, error) {
	dir := storage.MessageDir(messageID)

	atts := make([]Attachment, 0, len(files))
	for _, f := range files {
		mime, reader, err := sniffMime(f.Mime, f.Reader)
		if err != nil {
			return nil, fmt.Errorf("read attachment %q: %w", f.Name, err)
		}

		path, size, err := s.blobs.Save(dir, f.Name, reader)
		if err != nil {
			return nil, fmt.Errorf("store attachment %q: %w", f.Name, err)
		}
		*stored = append(*stored, path)

		a := &Attachment{
			MessageID: messageID,
			Name:      f.Name,
			Mime:      mime,
			Size:      size,
			Path:      path,
		}
		if err := s.store.InsertAttachment(ctx, q, a); err != nil {
			return nil, fmt.Errorf("record attachment %q: %w", f.Name, err)
		}
		atts = append(atts, *a)
	}
	return atts, nil
}

// removeStoredFiles deletes this request's files and the message
// namespace after a rollback.
func (s *Service) removeStoredFiles(paths []string, dir string) {
	for _, p := range paths {
		if err := s.blobs.Delete(p); err != nil {
			s.log.Warn("attachment cleanup failed", "path", p, "error", err)
		}
	}
	if err := s.blobs.DeleteDir(dir); err != nil {
		s.log.Warn("attachment namespace cleanup failed", "dir", dir, "error", err)
	}
}

func sniffMime(declared string, r io.Reader) (string, io.Reader, error) {
	if declared != "" && declared != "application/octet-stream" {
		return declared, r, nil
	}
	header := make([]byte, 3072)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", nil, err
	}
	mt := mimetype.Detect(header[:n])
	return mt.String(), io.MultiReader(bytes.NewReader(header[:n]), r), nil
}

// Delete removes a message on behalf of its sender. When the message is
// its scope's last, the ledger is repointed inside the same transaction;
// the repaired last message (materialized) is returned for client-side
// state repair, nil otherwise.
func (s *Service) Delete(ctx context.Context, messageID, requesterID int64) (*Message, error) {
	var (
		paths     []string
		newLastID *int64
		repointed bool
	)

	err := s.store.RunInTx(ctx, func(q ledger.Querier) error {
		m, err := s.store.GetForUpdate(ctx, q, messageID)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrNotFound
		}
		if m.SenderID != requesterID {
			return ErrForbidden
		}

		paths, err = s.store.AttachmentPaths(ctx, q, messageID)
		if err != nil {
			return err
		}

		switch {
		case m.GroupID != nil:
			newLastID, repointed, err = s.ledger.RepointGroup(ctx, q, *m.GroupID, m.ID)
		case m.ReceiverID != nil:
			newLastID, repointed, err = s.ledger.RepointConversation(ctx, q, m.SenderID, *m.ReceiverID, m.ID)
		}
		if err != nil {
			return err
		}

		return s.store.Delete(ctx, q, m.ID)
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesDeleted.Inc()

	// Rows are gone; now drop the bytes. Best effort, same accepted crash
	// gap as on create.
	for _, p := range paths {
		if err := s.blobs.Delete(p); err != nil {
			s.log.Warn("attachment file delete failed", "path", p, "error", err)
		}
	}
	if err := s.blobs.DeleteDir(storage.MessageDir(messageID)); err != nil {
		s.log.Warn("attachment namespace delete failed", "message", messageID, "error", err)
	}

	if repointed && newLastID != nil {
		return s.materialize(ctx, *newLastID)
	}
	return nil, nil
}

func (s *Service) ListByUser(ctx context.Context, viewerID, otherID int64, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	msgs, err := s.store.ListDirect(ctx, viewerID, otherID, page)
	if err != nil {
		return nil, err
	}
	if err := s.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return &Page{Messages: emptyIfNil(msgs), Page: page, PerPage: PerPage}, nil
}

func (s *Service) ListByGroup(ctx context.Context, groupID int64, page int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	msgs, err := s.store.ListGroup(ctx, groupID, page)
	if err != nil {
		return nil, err
	}
	if err := s.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return &Page{Messages: emptyIfNil(msgs), Page: page, PerPage: PerPage}, nil
}

// LoadOlder returns the page strictly older than the anchor message,
// within the anchor's own scope. An empty page means no more history.
func (s *Service) LoadOlder(ctx context.Context, anchorID int64) (*Page, error) {
	anchor, err := s.store.Get(ctx, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, ErrNotFound
	}

	var msgs []Message
	switch {
	case anchor.GroupID != nil:
		msgs, err = s.store.OlderGroup(ctx, *anchor.GroupID, anchor.CreatedAt)
	case anchor.ReceiverID != nil:
		msgs, err = s.store.OlderDirect(ctx, anchor.SenderID, *anchor.ReceiverID, anchor.CreatedAt)
	default:
		return &Page{Messages: []Message{}, Page: 1, PerPage: PerPage}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return &Page{Messages: emptyIfNil(msgs), Page: 1, PerPage: PerPage}, nil
}

// Attachment returns the stored attachment row; the handler streams the
// bytes from the blob store.
func (s *Service) Attachment(ctx context.Context, id int64) (*Attachment, error) {
	a, err := s.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *Service) materialize(ctx context.Context, id int64) (*Message, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil || m == nil {
		return nil, err
	}
	list, err := s.reactions.ListByEntity(ctx, reaction.EntityTypeMessages, m.ID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []reaction.Resolved{}
	}
	m.Reactions = list
	return m, nil
}

func (s *Service) attachReactions(ctx context.Context, msgs []Message) error {
	for i := range msgs {
		list, err := s.reactions.ListByEntity(ctx, reaction.EntityTypeMessages, msgs[i].ID)
		if err != nil {
			return err
		}
		if list == nil {
			list = []reaction.Resolved{}
		}
		msgs[i].Reactions = list
	}
	return nil
}

func emptyIfNil(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	return msgs
}
