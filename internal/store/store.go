// Package store persists the interaction ledger of conversation sessions:
// every transcription and translation, in order, per session.
//
// Two implementations exist: an in-memory store for development and tests,
// and a PostgreSQL store for deployments. Both append interactions under a
// session that is created on first write and deleted as a whole for privacy
// compliance.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/surajgopal85/talktor/pkg/types"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Interaction kinds.
const (
	KindTranscription = "transcription"
	KindTranslation   = "medical_translation"
)

// DefaultActiveWindow is how recently a session must have been written to
// count as active.
const DefaultActiveWindow = 24 * time.Hour

// Utterance is a stored transcription.
type Utterance struct {
	Speaker    types.SpeakerRole `json:"speaker"`
	Text       string            `json:"text"`
	Language   string            `json:"language,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
}

// Translation is a stored translated exchange with its medical enrichment.
type Translation struct {
	Speaker        types.SpeakerRole `json:"speaker"`
	Original       string            `json:"original_text"`
	Translated     string            `json:"translated_text"`
	SourceLanguage string            `json:"source_language,omitempty"`
	TargetLanguage string            `json:"target_language,omitempty"`
	Specialty      string            `json:"specialty,omitempty"`
	Medications    []string          `json:"medications,omitempty"`
	FollowUps      []string          `json:"follow_up_questions,omitempty"`

	// Fallback marks translations that echoed the original text because
	// every translation provider failed.
	Fallback bool `json:"fallback,omitempty"`
}

// Interaction is one ledger entry. Exactly one of Utterance or Translation
// is set, according to Kind.
type Interaction struct {
	Kind        string       `json:"kind"`
	Timestamp   time.Time    `json:"timestamp"`
	Utterance   *Utterance   `json:"utterance,omitempty"`
	Translation *Translation `json:"translation,omitempty"`
}

// Session is the stored view of one conversation.
type Session struct {
	ID           string        `json:"session_id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	Interactions []Interaction `json:"interactions"`
}

// SessionStore is the persistence contract of the conversation layer.
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// StoreUtterance appends a transcription to the session ledger,
	// creating the session if needed.
	StoreUtterance(ctx context.Context, sessionID string, u Utterance) error

	// StoreTranslation appends a translated exchange to the session
	// ledger, creating the session if needed.
	StoreTranslation(ctx context.Context, sessionID string, tr Translation) error

	// GetSession returns the full ledger for a session, oldest first.
	// Returns ErrNotFound for unknown sessions.
	GetSession(ctx context.Context, sessionID string) (Session, error)

	// DeleteSession removes a session and its ledger. Deleting a missing
	// session returns ErrNotFound.
	DeleteSession(ctx context.Context, sessionID string) error

	// ActiveCount returns how many sessions were written to within the
	// store's active window.
	ActiveCount(ctx context.Context) (int, error)
}
