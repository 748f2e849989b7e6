// Package store provides the interaction record model and persistence
// interfaces for learnd.
//
// The persistence engine itself is an external collaborator; this package
// defines the query surface the learning components need (recency, quality
// and per-user windows) together with an in-memory implementation used for
// development and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for store operations.
var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidRecord  = errors.New("invalid interaction record")
	ErrEmptyInput     = errors.New("interaction input cannot be empty")
	ErrInvalidQuality = errors.New("quality must be between 0.0 and 1.0")
)

// InteractionRecord is one observed exchange between a user and the agent.
//
// Records are the raw material every learning component consumes: the
// pattern engine mines them for regularities, the knowledge synthesizer
// extracts facts and rules, and the training orchestrator snapshots
// quality-ranked windows for model fitting.
type InteractionRecord struct {
	// ID is the unique record identifier (UUID).
	ID string `json:"id"`

	// UserID identifies the user the agent was talking to.
	UserID string `json:"user_id"`

	// Input is the raw user utterance.
	Input string `json:"input"`

	// Response is the agent's reply.
	Response string `json:"response"`

	// Action is the normalized action the agent took (e.g. "answer",
	// "clarify", "search"). Used by behavioral pattern analysis.
	Action string `json:"action,omitempty"`

	// Quality is the scored response quality, 0.0 to 1.0.
	Quality float64 `json:"quality"`

	// Satisfaction is the inferred user satisfaction, 0.0 to 1.0.
	Satisfaction float64 `json:"satisfaction"`

	// Emotion is the dominant detected emotion, if any.
	Emotion string `json:"emotion,omitempty"`

	// CulturalContext carries detected cultural markers (e.g. locale,
	// formality level).
	CulturalContext map[string]string `json:"cultural_context,omitempty"`

	// ResponseTimeMs is how long the agent took to answer.
	ResponseTimeMs float64 `json:"response_time_ms"`

	// FollowedUp indicates the user continued the conversation afterwards.
	FollowedUp bool `json:"followed_up"`

	// Timestamp is when the interaction happened.
	Timestamp time.Time `json:"timestamp"`
}

// NewInteractionRecord creates a record with a generated UUID and the
// current timestamp.
func NewInteractionRecord(userID, input, response string, quality float64) (*InteractionRecord, error) {
	if input == "" {
		return nil, ErrEmptyInput
	}
	if quality < 0.0 || quality > 1.0 {
		return nil, ErrInvalidQuality
	}
	return &InteractionRecord{
		ID:        uuid.New().String(),
		UserID:    userID,
		Input:     input,
		Response:  response,
		Quality:   quality,
		Timestamp: time.Now(),
	}, nil
}

// Validate checks the record fields.
func (r *InteractionRecord) Validate() error {
	if r.ID == "" {
		return ErrInvalidRecord
	}
	if r.Input == "" {
		return ErrEmptyInput
	}
	if r.Quality < 0.0 || r.Quality > 1.0 {
		return ErrInvalidQuality
	}
	if r.Satisfaction < 0.0 || r.Satisfaction > 1.0 {
		return ErrInvalidRecord
	}
	return nil
}

// InteractionStore defines the persistence surface for interaction records.
//
// Implementations can back onto any key/value or relational store. The
// in-memory implementation in this package is the default for development.
type InteractionStore interface {
	// Add persists a record.
	Add(ctx context.Context, rec *InteractionRecord) error

	// Get retrieves a record by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*InteractionRecord, error)

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]InteractionRecord, error)

	// Since returns all records with Timestamp at or after t, oldest first.
	Since(ctx context.Context, t time.Time) ([]InteractionRecord, error)

	// TopQuality returns up to limit records ranked by quality, best first.
	TopQuality(ctx context.Context, limit int) ([]InteractionRecord, error)

	// ByUser returns all records for a user, oldest first.
	ByUser(ctx context.Context, userID string) ([]InteractionRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}
