package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        int64
	PublicID  uuid.UUID
	Email     string
	CreatedAt time.Time
}

type APIToken struct {
	ID        int64
	Token     string
	UserID    int64
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// MailboxConnection links one user to one external mailbox provider.
// RefreshToken is always a vault envelope, never plaintext.
type MailboxConnection struct {
	ID           int64
	PublicID     uuid.UUID
	UserID       int64
	Provider     string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type MailboxConnectionCreateParams struct {
	UserID       int64
	Provider     string
	Email        string
	RefreshToken string
}

const (
	StatusSent  = "sent"
	StatusError = "error"
)

// ProcessedMessage is one row of the append-only dedup ledger. Rows are
// created once, the moment an outcome is known, and never updated.
type ProcessedMessage struct {
	ID                int64
	PublicID          uuid.UUID
	ProviderMessageID string
	UserID            int64
	ConnectionEmail   string
	Status            string
	Payload           json.RawMessage
	ErrorMessage      string
	CreatedAt         time.Time
}

type ProcessedMessageCreateParams struct {
	ProviderMessageID string
	UserID            int64
	ConnectionEmail   string
	Status            string
	Payload           json.RawMessage
	ErrorMessage      string
}

// BootstrapMarker records that the pre-existing backlog of a mailbox was
// swept into the ledger without being relayed. At most one per mailbox.
type BootstrapMarker struct {
	ID              int64
	UserID          int64
	ConnectionEmail string
	SweptCount      int
	CreatedAt       time.Time
}

// RawMessage mirrors the provider's message structure with every field
// optional; consumers walk it defensively and default rather than fail.
type RawMessage struct {
	ID           string
	ThreadID     string
	Snippet      string
	InternalDate int64
	Payload      *MessagePart
}

type MessagePart struct {
	MimeType string
	Filename string
	Headers  []MessageHeader
	Body     MessagePartBody
	Parts    []*MessagePart
}

type MessageHeader struct {
	Name  string
	Value string
}

type MessagePartBody struct {
	AttachmentID string
	Size         int64
	Data         string
}

// Header returns the first header value matching name, case-insensitively.
func (p *MessagePart) Header(name string) string {
	if p == nil {
		return ""
	}
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Envelope is the normalized, decoded representation of a message sent to
// the webhook. Field names are fixed and independent of provider naming.
type Envelope struct {
	MessageID      string               `json:"message_id"`
	ThreadID       string               `json:"thread_id"`
	From           string               `json:"from"`
	To             string               `json:"to"`
	Subject        string               `json:"subject"`
	Body           string               `json:"body"`
	Date           string               `json:"date"`
	HasAttachments bool                 `json:"has_attachments"`
	Attachments    []EnvelopeAttachment `json:"attachments"`
}

type EnvelopeAttachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}
