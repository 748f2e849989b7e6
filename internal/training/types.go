// Package training orchestrates learning sessions over the interaction
// history.
//
// The orchestrator is single-flight: at most one session runs at a time.
// Urgent and high priority submissions dispatch immediately when idle;
// everything else queues FIFO and drains as sessions complete. Session
// failures are recorded on the session and never block the queue.
package training

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for training operations.
var (
	ErrSessionNotFound = errors.New("training session not found")
	ErrInvalidKind     = errors.New("invalid training kind")
	ErrInvalidPriority = errors.New("invalid training priority")
	ErrNotRunning      = errors.New("training session is not running")
)

// Kind identifies a training strategy.
type Kind string

const (
	KindFull            Kind = "full"
	KindIncremental     Kind = "incremental"
	KindPatternAnalysis Kind = "pattern_analysis"
	KindOptimization    Kind = "optimization"
	KindExperiment      Kind = "experiment"
)

// Priority ranks how soon a submitted session should run.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// rank orders priorities for queue insertion, higher first.
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Metrics are the aggregate quality measurements a session reports.
type Metrics struct {
	// RecordsProcessed is the number of interaction records consumed.
	RecordsProcessed int `json:"records_processed"`

	// Epochs is the number of passes completed over the data.
	Epochs int `json:"epochs"`

	// Loss is the final model loss, lower is better.
	Loss float64 `json:"loss"`

	// Accuracy is the final model accuracy, 0.0 to 1.0.
	Accuracy float64 `json:"accuracy"`

	// QualityMean is the mean quality of the consumed records.
	QualityMean float64 `json:"quality_mean"`
}

// Session is one unit of training work moving through the orchestrator.
type Session struct {
	// ID is the unique session identifier (UUID).
	ID string `json:"id"`

	// Kind selects the training strategy.
	Kind Kind `json:"kind"`

	// Priority decides queue position and immediate dispatch.
	Priority Priority `json:"priority"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// Progress is the completion percentage, 0 to 100.
	Progress float64 `json:"progress"`

	// Metrics is populated as the session runs.
	Metrics Metrics `json:"metrics"`

	// Results carries strategy-specific outputs; failures land under
	// the "error" key.
	Results map[string]any `json:"results,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// newSession builds a pending session.
func newSession(kind Kind, priority Priority) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Kind:      kind,
		Priority:  priority,
		Status:    StatusPending,
		Results:   make(map[string]any),
		CreatedAt: time.Now(),
	}
}

// validKind reports whether k is a known training kind.
func validKind(k Kind) bool {
	switch k {
	case KindFull, KindIncremental, KindPatternAnalysis, KindOptimization, KindExperiment:
		return true
	}
	return false
}

// validPriority reports whether p is a known priority.
func validPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
