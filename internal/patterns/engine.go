package patterns

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/store"
)

// analysisWindow bounds how many records one pass examines.
const analysisWindow = 1000

// Engine discovers, validates and clusters learning patterns.
//
// Thread Safety: all public methods are safe for concurrent use. The
// pattern store is guarded by a single mutex; analysis passes and ad-hoc
// observations serialize on it.
type Engine struct {
	mu           sync.Mutex
	patterns     map[string]*LearningPattern // keyed by normalized pattern text
	clusters     map[Type]*Cluster
	observations map[string]*observation // pending external observations

	interactions store.InteractionStore
	logger       *zap.Logger
}

// observation tallies repeated external observations of the same pattern
// text until they clear the frequency floor.
type observation struct {
	candidate Candidate
	count     int
	confSum   float64
}

// NewEngine creates a pattern engine over the given interaction store.
func NewEngine(interactions store.InteractionStore, logger *zap.Logger) (*Engine, error) {
	if interactions == nil {
		return nil, fmt.Errorf("interaction store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Engine{
		patterns:     make(map[string]*LearningPattern),
		clusters:     make(map[Type]*Cluster),
		observations: make(map[string]*observation),
		interactions: interactions,
		logger:       logger,
	}, nil
}

// Analyze runs all five signal analyzers over the recent record window,
// validates and merges the candidates, and recomputes clusters.
func (e *Engine) Analyze(ctx context.Context) (*AnalysisResult, error) {
	records, err := e.interactions.Recent(ctx, analysisWindow)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	var candidates []Candidate
	candidates = append(candidates, analyzeConversation(records)...)
	candidates = append(candidates, analyzeBehavioral(records)...)
	candidates = append(candidates, analyzeEmotional(records)...)
	candidates = append(candidates, analyzeCultural(records)...)
	candidates = append(candidates, analyzeTemporal(records)...)

	result := &AnalysisResult{
		NewPatterns: []*LearningPattern{},
		Examined:    len(records),
	}

	e.mu.Lock()
	for _, c := range candidates {
		accepted, merged := e.admit(c)
		switch {
		case accepted != nil:
			result.NewPatterns = append(result.NewPatterns, accepted)
		case merged:
			result.Merged++
		default:
			result.Rejected++
		}
	}
	e.recluster()
	result.Clusters = e.snapshotClusters()
	e.mu.Unlock()

	e.logger.Info("pattern analysis completed",
		zap.Int("examined", result.Examined),
		zap.Int("new", len(result.NewPatterns)),
		zap.Int("merged", result.Merged),
		zap.Int("rejected", result.Rejected),
	)
	return result, nil
}

// Observe feeds a single external pattern observation. Repeated
// observations of the same text accumulate until they clear the
// frequency floor; the stored confidence is the mean of the observed
// confidences. Returns the stored pattern and whether it is (now)
// accepted.
func (e *Engine) Observe(c Candidate) (*LearningPattern, bool, error) {
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	key := normalize(c.Pattern)

	e.mu.Lock()
	defer e.mu.Unlock()

	// Already stored: merge directly.
	if existing, ok := e.patterns[key]; ok {
		e.merge(existing, c.Confidence, 1)
		return existing, true, nil
	}

	ob, ok := e.observations[key]
	if !ok {
		ob = &observation{candidate: c}
		e.observations[key] = ob
	}
	ob.count++
	ob.confSum += c.Confidence

	meanConf := ob.confSum / float64(ob.count)
	if ob.count < MinFrequency || meanConf < MinConfidence {
		return nil, false, nil
	}

	// Floors cleared: promote to the store.
	delete(e.observations, key)
	pattern := e.insert(Candidate{
		Type:       c.Type,
		Pattern:    c.Pattern,
		Confidence: meanConf,
		Frequency:  ob.count,
		Context:    c.Context,
	})
	return pattern, true, nil
}

// Patterns returns a snapshot of all stored patterns.
func (e *Engine) Patterns() []LearningPattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]LearningPattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out
}

// Clusters returns a snapshot of the cluster map.
func (e *Engine) Clusters() map[Type]*Cluster {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotClusters()
}

// Count returns the number of stored patterns.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.patterns)
}

// admit validates one candidate against the acceptance floors and either
// inserts it, merges it into an existing pattern, or rejects it.
// Returns (new pattern, merged). Caller holds mu.
func (e *Engine) admit(c Candidate) (*LearningPattern, bool) {
	if c.Confidence < MinConfidence || c.Frequency < MinFrequency {
		return nil, false
	}
	key := normalize(c.Pattern)
	if existing, ok := e.patterns[key]; ok {
		e.merge(existing, c.Confidence, c.Frequency)
		return nil, true
	}
	return e.insert(c), false
}

// insert stores a validated candidate as a new pattern. Caller holds mu.
func (e *Engine) insert(c Candidate) *LearningPattern {
	now := time.Now()
	p := &LearningPattern{
		ID:         uuid.New().String(),
		Type:       c.Type,
		Pattern:    normalize(c.Pattern),
		Confidence: c.Confidence,
		Frequency:  c.Frequency,
		Context:    c.Context,
		LastSeen:   now,
		CreatedAt:  now,
	}
	e.patterns[p.Pattern] = p

	AcceptedTotal.WithLabelValues(string(p.Type)).Inc()
	return p
}

// merge folds a duplicate observation into the stored pattern: max
// confidence, summed frequency, refreshed last-seen. A confidence rise
// counts as an improvement. Caller holds mu.
func (e *Engine) merge(existing *LearningPattern, confidence float64, frequency int) {
	if confidence > existing.Confidence {
		existing.Confidence = confidence
		existing.Improvements++
	}
	existing.Frequency += frequency
	existing.LastSeen = time.Now()
}

// recluster rebuilds the cluster map: one cluster per type with more
// than two members. Caller holds mu.
func (e *Engine) recluster() {
	byType := make(map[Type][]*LearningPattern)
	for _, p := range e.patterns {
		byType[p.Type] = append(byType[p.Type], p)
	}

	clusters := make(map[Type]*Cluster)
	for patternType, members := range byType {
		if len(members) <= 2 {
			continue
		}

		var ids []string
		var confSum float64
		var totalFreq int
		for _, m := range members {
			ids = append(ids, m.ID)
			confSum += m.Confidence
			totalFreq += m.Frequency
		}
		sort.Strings(ids)

		n := float64(len(members))
		avgConf := confSum / n

		var variance float64
		for _, m := range members {
			d := m.Confidence - avgConf
			variance += d * d
		}
		variance /= n

		coherence := 1 - variance
		if coherence < 0 {
			coherence = 0
		}
		significance := avgConf * float64(totalFreq) / n

		clusters[patternType] = &Cluster{
			ID:           uuid.New().String(),
			Type:         patternType,
			PatternIDs:   ids,
			Coherence:    coherence,
			Significance: significance,
			Insights:     clusterInsights(patternType, members, avgConf, coherence, significance),
		}
	}
	e.clusters = clusters
}

// clusterInsights generates 2-4 natural-language observations per cluster.
func clusterInsights(t Type, members []*LearningPattern, avgConf, coherence, significance float64) []string {
	insights := []string{
		fmt.Sprintf("%d %s patterns with average confidence %.2f", len(members), t, avgConf),
	}

	top := members[0]
	for _, m := range members {
		if m.Frequency > top.Frequency {
			top = m
		}
	}
	insights = append(insights, fmt.Sprintf("most frequent: %q (%d observations)", top.Pattern, top.Frequency))

	if coherence > 0.9 {
		insights = append(insights, "highly consistent confidence across the cluster")
	}
	if significance > 5 {
		insights = append(insights, fmt.Sprintf("high significance (%.1f), weight these patterns in responses", significance))
	}
	return insights
}

// snapshotClusters copies the cluster map. Caller holds mu.
func (e *Engine) snapshotClusters() map[Type]*Cluster {
	out := make(map[Type]*Cluster, len(e.clusters))
	for k, v := range e.clusters {
		cp := *v
		out[k] = &cp
	}
	return out
}

// normalize produces the unique pattern text key.
func normalize(pattern string) string {
	return strings.Join(strings.Fields(strings.ToLower(pattern)), " ")
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
