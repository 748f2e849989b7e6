// Package patterns discovers and validates behavioral and linguistic
// regularities in interaction records.
//
// Five independent signal categories are analyzed: conversation,
// behavioral, emotional, cultural and temporal. Candidates are validated
// against confidence and frequency floors; duplicates merge into the
// existing stored pattern, so pattern text is unique within the store.
package patterns

import (
	"errors"
	"time"
)

// Common errors for pattern operations.
var (
	ErrInvalidCandidate = errors.New("invalid pattern candidate")
	ErrInvalidType      = errors.New("invalid pattern type")
)

// Type classifies a learning pattern by the signal that produced it.
type Type string

const (
	TypeConversation Type = "conversation"
	TypeBehavior     Type = "behavior"
	TypeEmotional    Type = "emotional"
	TypeCultural     Type = "cultural"
	TypeTemporal     Type = "temporal"
)

// AllTypes lists every pattern type.
func AllTypes() []Type {
	return []Type{TypeConversation, TypeBehavior, TypeEmotional, TypeCultural, TypeTemporal}
}

// Validation floors: candidates below either are rejected.
const (
	MinConfidence = 0.5
	MinFrequency  = 3
)

// LearningPattern is a validated, recurring regularity in interaction
// data. Patterns are never deleted; a duplicate observation updates the
// stored record in place.
type LearningPattern struct {
	// ID is the unique pattern identifier (UUID).
	ID string `json:"id"`

	// Type is the signal category the pattern came from.
	Type Type `json:"type"`

	// Pattern is the normalized text key; unique within the store.
	Pattern string `json:"pattern"`

	// Confidence is how reliable the pattern is, 0.0 to 1.0.
	Confidence float64 `json:"confidence"`

	// Frequency counts observations, accumulated across merges.
	Frequency int `json:"frequency"`

	// LastSeen is refreshed on every merge.
	LastSeen time.Time `json:"last_seen"`

	// Context carries analyzer metadata.
	Context map[string]string `json:"context,omitempty"`

	// Improvements counts how many times confidence rose on
	// re-evaluation.
	Improvements int `json:"improvements"`

	// CreatedAt is when the pattern was first accepted.
	CreatedAt time.Time `json:"created_at"`
}

// Cluster is a same-type grouping of patterns with aggregate quality
// scores. Clusters are recomputed wholesale on every analysis pass.
type Cluster struct {
	// ID is the unique cluster identifier (UUID).
	ID string `json:"id"`

	// Type is the pattern type all members share.
	Type Type `json:"type"`

	// PatternIDs lists member patterns.
	PatternIDs []string `json:"pattern_ids"`

	// Coherence is 1 minus the variance of member confidences.
	Coherence float64 `json:"coherence"`

	// Significance is avgConfidence * totalFrequency / memberCount.
	Significance float64 `json:"significance"`

	// Insights are derived natural-language observations, 2 to 4 per
	// cluster.
	Insights []string `json:"insights"`
}

// Candidate is an unvalidated pattern proposed by an analyzer or an
// external observation.
type Candidate struct {
	Type       Type              `json:"type"`
	Pattern    string            `json:"pattern"`
	Confidence float64           `json:"confidence"`
	Frequency  int               `json:"frequency"`
	Context    map[string]string `json:"context,omitempty"`
}

// Validate checks candidate shape (not the acceptance floors).
func (c *Candidate) Validate() error {
	switch c.Type {
	case TypeConversation, TypeBehavior, TypeEmotional, TypeCultural, TypeTemporal:
	default:
		return ErrInvalidType
	}
	if c.Pattern == "" {
		return ErrInvalidCandidate
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return ErrInvalidCandidate
	}
	return nil
}

// AnalysisResult is the output of one analysis pass: newly accepted
// patterns plus the fully replaced cluster map.
type AnalysisResult struct {
	NewPatterns []*LearningPattern `json:"new_patterns"`
	Clusters    map[Type]*Cluster  `json:"clusters"`
	Examined    int                `json:"examined"`
	Merged      int                `json:"merged"`
	Rejected    int                `json:"rejected"`
}
