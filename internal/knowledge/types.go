// Package knowledge synthesizes reusable facts, rules and insights from
// historical interaction records.
//
// The knowledge base is append-only: items are never deleted, only
// reinforced when the same content is extracted again. Clusters are
// recomputed wholesale after every synthesis run.
package knowledge

import (
	"context"
	"errors"
	"time"

	"github.com/haldanelabs/learnd/internal/store"
)

// Common errors for synthesis operations.
var (
	ErrInvalidSource = errors.New("invalid knowledge source")
	ErrInvalidDepth  = errors.New("invalid synthesis depth")
)

// ItemType classifies a knowledge item.
type ItemType string

const (
	TypeFact         ItemType = "fact"
	TypePattern      ItemType = "pattern"
	TypeRule         ItemType = "rule"
	TypeInsight      ItemType = "insight"
	TypePreference   ItemType = "preference"
	TypeSkill        ItemType = "skill"
	TypeRelationship ItemType = "relationship"
)

// AllItemTypes lists every item type, used for gap detection.
func AllItemTypes() []ItemType {
	return []ItemType{
		TypeFact, TypePattern, TypeRule, TypeInsight,
		TypePreference, TypeSkill, TypeRelationship,
	}
}

// Source selects which record streams a synthesis run draws from.
type Source string

const (
	SourceConversations Source = "conversations"
	SourcePatterns      Source = "patterns"
	SourceFeedback      Source = "feedback"
	SourceExperiments   Source = "experiments"
	SourceAll           Source = "all"
)

// Depth controls how much extraction a synthesis run performs. Each depth
// is a superset of the one before it.
type Depth string

const (
	DepthShallow Depth = "shallow"
	DepthMedium  Depth = "medium"
	DepthDeep    Depth = "deep"
)

// Item is one atomic unit of synthesized knowledge.
type Item struct {
	// ID is the unique item identifier (UUID).
	ID string `json:"id"`

	// Type classifies the item.
	Type ItemType `json:"type"`

	// Content is the knowledge statement itself.
	Content string `json:"content"`

	// Confidence is how reliable the item is, 0.0 to 1.0. Reinforced
	// when the same content is extracted again.
	Confidence float64 `json:"confidence"`

	// Sources names where the item was extracted from.
	Sources []string `json:"sources,omitempty"`

	// Tags label the item for clustering.
	Tags []string `json:"tags,omitempty"`

	// Context carries extraction metadata.
	Context map[string]string `json:"context,omitempty"`

	// UsageCount tracks retrievals and reinforcements.
	UsageCount int `json:"usage_count"`

	// ValidationScore reflects downstream validation, 0.0 to 1.0.
	ValidationScore float64 `json:"validation_score"`

	// Importance weights the item for cluster significance.
	Importance float64 `json:"importance"`

	// CreatedAt is when the item was first extracted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the item was last reinforced.
	UpdatedAt time.Time `json:"updated_at"`
}

// Cluster groups same-type knowledge items.
type Cluster struct {
	// ID is the unique cluster identifier (UUID).
	ID string `json:"id"`

	// Type is the item type all members share.
	Type ItemType `json:"type"`

	// ItemIDs lists the member items.
	ItemIDs []string `json:"item_ids"`

	// Coherence measures tag overlap between members, 0.0 to 1.0.
	Coherence float64 `json:"coherence"`

	// Significance combines average importance and confidence.
	Significance float64 `json:"significance"`

	// Insights are derived natural-language observations.
	Insights []string `json:"insights,omitempty"`

	// Applications suggest where the cluster is usable.
	Applications []string `json:"applications,omitempty"`
}

// Result summarizes one synthesis run.
type Result struct {
	// Source and Depth echo the request.
	Source Source `json:"source"`
	Depth  Depth  `json:"depth"`

	// NewItems are items first extracted by this run.
	NewItems []*Item `json:"new_items"`

	// Reinforced counts existing items whose confidence was boosted.
	Reinforced int `json:"reinforced"`

	// Clusters is the fully recomputed cluster map.
	Clusters map[ItemType]*Cluster `json:"clusters"`

	// RecordsExamined is how many interaction records were read.
	RecordsExamined int `json:"records_examined"`

	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`
}

// RecordSource supplies interaction records for a named source. The
// conversations source is backed by the interaction store; pattern,
// feedback and experiment sources are registered by their owning
// components.
type RecordSource interface {
	Records(ctx context.Context) ([]store.InteractionRecord, error)
}

// RecordSourceFunc adapts a function to the RecordSource interface.
type RecordSourceFunc func(ctx context.Context) ([]store.InteractionRecord, error)

// Records calls the wrapped function.
func (f RecordSourceFunc) Records(ctx context.Context) ([]store.InteractionRecord, error) {
	return f(ctx)
}
