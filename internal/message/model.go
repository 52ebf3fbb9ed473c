package message

import (
	"io"
	"time"

	"github.com/OburuO/ville-messenger-app/internal/reaction"
	"github.com/OburuO/ville-messenger-app/internal/user"
)

// Message carries exactly one of ReceiverID (direct) or GroupID (group).
// Payloads are materialized: sender, attachments, and reactions travel with
// the message so subscribers never need a follow-up fetch.
type Message struct {
	ID         int64     `json:"id"`
	Body       *string   `json:"body"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID *int64    `json:"receiver_id,omitempty"`
	GroupID    *int64    `json:"group_id,omitempty"`
	ParentID   *int64    `json:"parent_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Sender      user.Projection     `json:"sender"`
	Attachments []Attachment        `json:"attachments"`
	Reactions   []reaction.Resolved `json:"reactions"`
}

type Attachment struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	Name      string    `json:"name"`
	Mime      string    `json:"mime"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// IncomingFile is one uploaded attachment before it is stored.
type IncomingFile struct {
	Name   string
	Mime   string // empty means sniff from content
	Reader io.Reader
}

// CreateInput is what the store needs from a create request. Exactly one
// of ReceiverID / GroupID must be set, and Body or Attachments must be
// present.
type CreateInput struct {
	Body        string
	ReceiverID  *int64
	GroupID     *int64
	ParentID    *int64
	Attachments []IncomingFile
}

// Page is one page of history, newest first.
type Page struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	PerPage  int       `json:"per_page"`
}
