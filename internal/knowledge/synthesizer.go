package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/store"
)

// synthesisWindow bounds how many records a run examines.
const synthesisWindow = 1000

// Synthesizer extracts knowledge items from interaction records and
// maintains the append-only knowledge base.
//
// Thread Safety: all public methods are safe for concurrent use.
type Synthesizer struct {
	mu       sync.Mutex
	items    map[string]*Item // keyed by type+normalized content
	byID     map[string]*Item
	clusters map[ItemType]*Cluster
	sources  map[Source]RecordSource

	logger *zap.Logger
}

// NewSynthesizer creates a synthesizer with the conversations source
// backed by the given interaction store.
func NewSynthesizer(interactions store.InteractionStore, logger *zap.Logger) (*Synthesizer, error) {
	if interactions == nil {
		return nil, fmt.Errorf("interaction store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &Synthesizer{
		items:    make(map[string]*Item),
		byID:     make(map[string]*Item),
		clusters: make(map[ItemType]*Cluster),
		sources:  make(map[Source]RecordSource),
		logger:   logger,
	}
	s.sources[SourceConversations] = RecordSourceFunc(
		func(ctx context.Context) ([]store.InteractionRecord, error) {
			return interactions.Recent(ctx, synthesisWindow)
		})
	return s, nil
}

// RegisterSource attaches a record source for patterns, feedback or
// experiments. Replaces any existing source for that name.
func (s *Synthesizer) RegisterSource(name Source, src RecordSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = src
}

// Synthesize runs extraction over the selected source at the given depth,
// merges the results into the knowledge base and recomputes clusters.
func (s *Synthesizer) Synthesize(ctx context.Context, source Source, depth Depth) (*Result, error) {
	switch source {
	case SourceConversations, SourcePatterns, SourceFeedback, SourceExperiments, SourceAll:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	switch depth {
	case DepthShallow, DepthMedium, DepthDeep:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDepth, depth)
	}

	start := time.Now()

	records, err := s.collect(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("collect records: %w", err)
	}

	extracted := s.extract(records, depth, source)

	result := &Result{
		Source:          source,
		Depth:           depth,
		NewItems:        []*Item{},
		RecordsExamined: len(records),
	}

	s.mu.Lock()
	for _, item := range extracted {
		key := itemKey(item.Type, item.Content)
		if existing, ok := s.items[key]; ok {
			reinforce(existing, item)
			result.Reinforced++
			continue
		}
		s.items[key] = item
		s.byID[item.ID] = item
		result.NewItems = append(result.NewItems, item)
	}
	s.recomputeClusters()
	result.Clusters = s.snapshotClusters()
	s.mu.Unlock()

	result.Duration = time.Since(start)

	s.logger.Info("knowledge synthesis completed",
		zap.String("source", string(source)),
		zap.String("depth", string(depth)),
		zap.Int("records", result.RecordsExamined),
		zap.Int("new_items", len(result.NewItems)),
		zap.Int("reinforced", result.Reinforced),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// Items returns a snapshot of the knowledge base.
func (s *Synthesizer) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Clusters returns a snapshot of the cluster map.
func (s *Synthesizer) Clusters() map[ItemType]*Cluster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotClusters()
}

// collect gathers records for the requested source. The "all" source is
// the union of every registered source.
func (s *Synthesizer) collect(ctx context.Context, source Source) ([]store.InteractionRecord, error) {
	s.mu.Lock()
	var srcs []RecordSource
	if source == SourceAll {
		for _, src := range s.sources {
			srcs = append(srcs, src)
		}
	} else if src, ok := s.sources[source]; ok {
		srcs = append(srcs, src)
	}
	s.mu.Unlock()

	seen := make(map[string]bool)
	var records []store.InteractionRecord
	for _, src := range srcs {
		recs, err := src.Records(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if rec.ID != "" && seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			records = append(records, rec)
		}
	}
	return records, nil
}

// extract runs the extractors that apply at the requested depth. Deeper
// levels are supersets of shallower ones.
func (s *Synthesizer) extract(records []store.InteractionRecord, depth Depth, source Source) []*Item {
	var items []*Item
	items = append(items, extractFacts(records, source)...)
	items = append(items, extractSimplePatterns(records, source)...)

	if depth == DepthMedium || depth == DepthDeep {
		items = append(items, extractRules(records, source)...)
		items = append(items, extractAggregateInsights(records, source)...)
		items = append(items, extractPreferences(records, source)...)
	}

	if depth == DepthDeep {
		items = append(items, extractTemporalPatterns(records, source)...)
		items = append(items, extractEmotionalPatterns(records, source)...)
		items = append(items, extractCulturalPatterns(records, source)...)
		items = append(items, extractSkillTrends(records, source)...)
		items = append(items, extractRelationships(records, source)...)
		items = append(items, s.extractMetaKnowledge(records, source)...)
	}

	return items
}

// reinforce boosts an existing item when its content is re-extracted.
func reinforce(existing, incoming *Item) {
	existing.Confidence += 0.05
	if existing.Confidence > 1.0 {
		existing.Confidence = 1.0
	}
	existing.UsageCount++
	existing.Sources = mergeStrings(existing.Sources, incoming.Sources)
	existing.Tags = mergeStrings(existing.Tags, incoming.Tags)
	existing.UpdatedAt = time.Now()
}

// recomputeClusters rebuilds the cluster map by item type. Caller holds mu.
func (s *Synthesizer) recomputeClusters() {
	byType := make(map[ItemType][]*Item)
	for _, item := range s.items {
		byType[item.Type] = append(byType[item.Type], item)
	}

	clusters := make(map[ItemType]*Cluster)
	for itemType, members := range byType {
		if len(members) < 2 {
			continue
		}

		var ids []string
		var confSum, impSum float64
		for _, m := range members {
			ids = append(ids, m.ID)
			confSum += m.Confidence
			impSum += m.Importance
		}
		sort.Strings(ids)

		avgConf := confSum / float64(len(members))
		avgImp := impSum / float64(len(members))
		coherence := tagCoherence(members)
		significance := avgImp * avgConf

		cluster := &Cluster{
			ID:           uuid.New().String(),
			Type:         itemType,
			ItemIDs:      ids,
			Coherence:    coherence,
			Significance: significance,
			Insights: []string{
				fmt.Sprintf("%d %s items with average confidence %.2f", len(members), itemType, avgConf),
				fmt.Sprintf("cluster coherence %.2f from shared tags", coherence),
			},
			Applications: clusterApplications(itemType),
		}
		if significance > 0.5 {
			cluster.Insights = append(cluster.Insights,
				fmt.Sprintf("high-significance %s knowledge (%.2f), prioritize for retrieval", itemType, significance))
		}
		clusters[itemType] = cluster
	}
	s.clusters = clusters
}

// snapshotClusters copies the cluster map. Caller holds mu.
func (s *Synthesizer) snapshotClusters() map[ItemType]*Cluster {
	out := make(map[ItemType]*Cluster, len(s.clusters))
	for k, v := range s.clusters {
		cp := *v
		out[k] = &cp
	}
	return out
}

// tagCoherence is the average pairwise Jaccard similarity of member tags.
func tagCoherence(members []*Item) float64 {
	if len(members) < 2 {
		return 1
	}
	var total float64
	var pairs int
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			total += jaccard(members[i].Tags, members[j].Tags)
			pairs++
		}
	}
	return total / float64(pairs)
}

// jaccard computes |a∩b| / |a∪b| over tag sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]int)
	for _, t := range a {
		set[t] |= 1
	}
	for _, t := range b {
		set[t] |= 2
	}
	var inter, union int
	for _, v := range set {
		union++
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(union)
}

// clusterApplications maps item types to where they are usable.
func clusterApplications(t ItemType) []string {
	switch t {
	case TypeFact:
		return []string{"response grounding"}
	case TypePattern:
		return []string{"intent prediction"}
	case TypeRule:
		return []string{"response generation"}
	case TypeInsight:
		return []string{"behavior tuning"}
	case TypePreference:
		return []string{"personalization"}
	case TypeSkill:
		return []string{"capability tracking"}
	case TypeRelationship:
		return []string{"context linking"}
	}
	return nil
}

// itemKey builds the dedup key for an item.
func itemKey(t ItemType, content string) string {
	return string(t) + "|" + strings.ToLower(strings.TrimSpace(content))
}

// mergeStrings unions two string slices, preserving first-seen order.
func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// newItem builds a knowledge item with defaults.
func newItem(t ItemType, content string, confidence, importance float64, source Source, tags ...string) *Item {
	now := time.Now()
	return &Item{
		ID:         uuid.New().String(),
		Type:       t,
		Content:    content,
		Confidence: confidence,
		Importance: importance,
		Sources:    []string{string(source)},
		Tags:       tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
