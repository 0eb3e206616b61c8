package session

import (
	"context"
	"time"
)

// Document is the persisted form of a session: its full conversation
// history plus metadata, stamped with the time it was saved.
type Document struct {
	SessionID string    `json:"session_id"`
	History   []Message `json:"conversation_history"`
	Meta      Metadata  `json:"metadata"`
	SavedAt   time.Time `json:"saved_at"`
}

// Store persists session documents keyed by session ID.
//
// Save is an upsert: it replaces any existing document under the same
// ID. Load returns nil (and no error) when no session exists under the
// ID; implementations also treat an unparsable stored document as
// absent, so a corrupt save never wedges a session. Errors are reserved
// for backend failures.
type Store interface {
	// Save writes the full history and metadata for a session,
	// replacing any previous document.
	Save(ctx context.Context, id string, history []Message, meta Metadata) error

	// Load retrieves a session document, or nil if none exists.
	Load(ctx context.Context, id string) (*Document, error)

	// Delete removes a session, reporting whether one was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns the IDs of all persisted sessions.
	List(ctx context.Context) ([]string, error)
}

// newDocument assembles the persisted form of a session, stamping the
// save time in UTC.
func newDocument(id string, history []Message, meta Metadata) *Document {
	return &Document{
		SessionID: id,
		History:   append([]Message(nil), history...),
		Meta:      meta.Clone(),
		SavedAt:   time.Now().UTC(),
	}
}
