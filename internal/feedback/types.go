// Package feedback classifies interaction feedback and derives
// improvement actions from it.
//
// Feedback items queue until the backlog exceeds a threshold or a
// high-impact item arrives, then the queue drains. Each feedback kind has
// a fixed classification-to-action mapping; actions that clear the strict
// auto-apply rule are applied immediately, everything else stays pending
// for external review.
package feedback

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for feedback operations.
var (
	ErrInvalidFeedback = errors.New("invalid feedback item")
	ErrInvalidKind     = errors.New("invalid feedback kind")
	ErrActionNotFound  = errors.New("improvement action not found")
	ErrNotPending      = errors.New("improvement action is not pending")
)

// Kind classifies a feedback item.
type Kind string

const (
	KindImplicit    Kind = "implicit"
	KindExplicit    Kind = "explicit"
	KindBehavioral  Kind = "behavioral"
	KindPerformance Kind = "performance"
)

// Item is one unit of interaction feedback. Consumed exactly once by the
// loop, then retained in history.
type Item struct {
	// ID is the unique item identifier (UUID).
	ID string `json:"id"`

	// Kind selects the classification mapping.
	Kind Kind `json:"kind"`

	// Source names where the feedback came from.
	Source string `json:"source"`

	// Payload carries kind-specific fields (rating, text, signal,
	// metrics, response_time_ms, followed_up).
	Payload map[string]any `json:"payload"`

	// Confidence is how reliable the feedback is, 0.0 to 1.0.
	Confidence float64 `json:"confidence"`

	// Impact estimates how much acting on it matters, 0.0 to 1.0.
	Impact float64 `json:"impact"`

	// Processed is set once the loop has consumed the item.
	Processed bool `json:"processed"`

	CreatedAt time.Time `json:"created_at"`
}

// NewItem creates a feedback item with a generated UUID.
func NewItem(kind Kind, source string, payload map[string]any, confidence, impact float64) (*Item, error) {
	switch kind {
	case KindImplicit, KindExplicit, KindBehavioral, KindPerformance:
	default:
		return nil, ErrInvalidKind
	}
	if confidence < 0 || confidence > 1 || impact < 0 || impact > 1 {
		return nil, ErrInvalidFeedback
	}
	return &Item{
		ID:         uuid.New().String(),
		Kind:       kind,
		Source:     source,
		Payload:    payload,
		Confidence: confidence,
		Impact:     impact,
		CreatedAt:  time.Now(),
	}, nil
}

// ActionKind classifies an improvement action.
type ActionKind string

const (
	ActionPersonalityAdjustment ActionKind = "personality_adjustment"
	ActionResponseOptimization  ActionKind = "response_optimization"
	ActionPatternUpdate         ActionKind = "pattern_update"
	ActionModelRetrain          ActionKind = "model_retrain"
)

// ActionStatus is the lifecycle state of an improvement action.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionApplied  ActionStatus = "applied"
	ActionFailed   ActionStatus = "failed"
	ActionReverted ActionStatus = "reverted"
)

// Action is a proposed adjustment to a live parameter, derived from
// feedback or insights.
type Action struct {
	// ID is the unique action identifier (UUID).
	ID string `json:"id"`

	// Kind selects how the action is applied.
	Kind ActionKind `json:"kind"`

	// Target names the metric or subsystem being adjusted.
	Target string `json:"target"`

	// Parameters carry the adjustment details (e.g. delta).
	Parameters map[string]float64 `json:"parameters,omitempty"`

	// ExpectedImpact and Confidence gate the auto-apply rule.
	ExpectedImpact float64 `json:"expected_impact"`
	Confidence     float64 `json:"confidence"`

	// Status is pending, applied, failed or reverted.
	Status ActionStatus `json:"status"`

	// AppliedAt is set when the action is applied.
	AppliedAt *time.Time `json:"applied_at,omitempty"`

	// Results records what the application did.
	Results map[string]any `json:"results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// newAction builds a pending action.
func newAction(kind ActionKind, target string, params map[string]float64, impact, confidence float64) *Action {
	return &Action{
		ID:             uuid.New().String(),
		Kind:           kind,
		Target:         target,
		Parameters:     params,
		ExpectedImpact: impact,
		Confidence:     confidence,
		Status:         ActionPending,
		CreatedAt:      time.Now(),
	}
}

// Insight is an aggregate observation over recently processed feedback.
type Insight struct {
	// Category is performance, user_satisfaction or efficiency.
	Category string `json:"category"`

	// Description states the observation.
	Description string `json:"description"`

	// Impact and Confidence gate proposal generation.
	Impact     float64 `json:"impact"`
	Confidence float64 `json:"confidence"`
}
