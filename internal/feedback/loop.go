package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/patterns"
)

// Queue and auto-apply thresholds.
const (
	queueThreshold     = 10
	immediateImpact    = 0.8
	autoApplyThreshold = 0.8
	insightWindow      = 50
	insightMinImpact   = 0.7
	insightMinConf     = 0.8
	lowMetricFloor     = 0.6
	slowResponseMs     = 3000
	lowRating          = 3
	movingAvgAlpha     = 0.2
	metricDelta        = 0.05
)

// Retrainer submits a high-priority incremental training session. The
// orchestrator implements this; the indirection keeps this package free
// of a dependency on the training package.
type Retrainer interface {
	SubmitRetrain(ctx context.Context) (string, error)
}

// Loop ingests feedback, derives improvement actions and applies the
// ones that clear the auto-apply rule.
//
// Thread Safety: all public methods are safe for concurrent use. The
// auto-apply path may run concurrently with scheduled jobs that touch
// the same metrics; writes are last-write-wins.
type Loop struct {
	mu      sync.Mutex
	queue   []*Item
	history []*Item
	actions map[string]*Action

	// metrics is the live personality/response metric map nudged by
	// applied actions, all values bounded to [0,1].
	metrics map[string]float64

	// observed holds moving averages of performance feedback metrics.
	observed map[string]float64

	classifier *ComplaintClassifier
	engine     *patterns.Engine
	retrainer  Retrainer
	logger     *zap.Logger
}

// NewLoop creates a feedback loop. The retrainer may be nil until the
// orchestrator is wired in via SetRetrainer.
func NewLoop(engine *patterns.Engine, logger *zap.Logger) (*Loop, error) {
	if engine == nil {
		return nil, fmt.Errorf("pattern engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Loop{
		actions: make(map[string]*Action),
		metrics: map[string]float64{
			"user_satisfaction":  0.7,
			"engagement":         0.7,
			"clarity":            0.7,
			"speed":              0.7,
			"cultural_awareness": 0.7,
			"accuracy":           0.75,
		},
		observed:   make(map[string]float64),
		classifier: NewComplaintClassifier(),
		engine:     engine,
		logger:     logger,
	}, nil
}

// SetRetrainer wires the training orchestrator in after construction.
func (l *Loop) SetRetrainer(r Retrainer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retrainer = r
}

// Ingest enqueues a feedback item. The queue drains immediately when the
// item's impact exceeds 0.8, or once more than ten items are waiting.
func (l *Loop) Ingest(ctx context.Context, item *Item) error {
	if item == nil {
		return ErrInvalidFeedback
	}
	switch item.Kind {
	case KindImplicit, KindExplicit, KindBehavioral, KindPerformance:
	default:
		return ErrInvalidKind
	}
	if item.Confidence < 0 || item.Confidence > 1 || item.Impact < 0 || item.Impact > 1 {
		return ErrInvalidFeedback
	}

	l.mu.Lock()
	l.queue = append(l.queue, item)
	drain := item.Impact > immediateImpact || len(l.queue) > queueThreshold
	l.mu.Unlock()

	if drain {
		l.Drain(ctx)
	}
	return nil
}

// Drain processes every queued item. Per-item failures are logged and do
// not abort the remaining queue. After the drain, insights are derived
// over the recent history and further actions proposed.
func (l *Loop) Drain(ctx context.Context) {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, item := range batch {
		if err := l.process(ctx, item); err != nil {
			l.logger.Warn("feedback item failed",
				zap.String("id", item.ID),
				zap.String("kind", string(item.Kind)),
				zap.Error(err),
			)
		}
		item.Processed = true
		ItemsTotal.WithLabelValues(string(item.Kind)).Inc()

		l.mu.Lock()
		l.history = append(l.history, item)
		l.mu.Unlock()
	}

	if len(batch) > 0 {
		l.proposeFromInsights(ctx)
	}
}

// Pending returns all actions awaiting external review.
func (l *Loop) Pending() []Action {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Action
	for _, a := range l.actions {
		if a.Status == ActionPending {
			out = append(out, *a)
		}
	}
	return out
}

// ApplyAction applies a pending action by ID (the external review path).
func (l *Loop) ApplyAction(ctx context.Context, id string) (*Action, error) {
	l.mu.Lock()
	action, ok := l.actions[id]
	if !ok {
		l.mu.Unlock()
		return nil, ErrActionNotFound
	}
	if action.Status != ActionPending {
		l.mu.Unlock()
		return nil, ErrNotPending
	}
	l.mu.Unlock()

	l.apply(ctx, action)
	cp := *action
	return &cp, nil
}

// Metrics returns a snapshot of the live metric map.
func (l *Loop) Metrics() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]float64, len(l.metrics))
	for k, v := range l.metrics {
		out[k] = v
	}
	return out
}

// Insights derives aggregate observations over the last 50 processed
// items.
func (l *Loop) Insights() []Insight {
	l.mu.Lock()
	recent := l.history
	if len(recent) > insightWindow {
		recent = recent[len(recent)-insightWindow:]
	}
	window := make([]*Item, len(recent))
	copy(window, recent)
	observed := make(map[string]float64, len(l.observed))
	for k, v := range l.observed {
		observed[k] = v
	}
	l.mu.Unlock()

	if len(window) == 0 {
		return nil
	}

	var insights []Insight

	// Performance: observed metric health.
	var lowMetrics int
	for _, v := range observed {
		if v < lowMetricFloor {
			lowMetrics++
		}
	}
	if len(observed) > 0 {
		impact := float64(lowMetrics) / float64(len(observed))
		insights = append(insights, Insight{
			Category:    "performance",
			Description: fmt.Sprintf("%d of %d observed metrics below %.1f", lowMetrics, len(observed), lowMetricFloor),
			Impact:      impact,
			Confidence:  0.85,
		})
	}

	// User satisfaction: share of negative explicit feedback.
	var explicit, negative int
	for _, item := range window {
		if item.Kind != KindExplicit {
			continue
		}
		explicit++
		if rating, ok := floatField(item.Payload, "rating"); ok && rating < lowRating {
			negative++
		}
	}
	if explicit > 0 {
		share := float64(negative) / float64(explicit)
		insights = append(insights, Insight{
			Category:    "user_satisfaction",
			Description: fmt.Sprintf("%.0f%% of explicit feedback is negative", share*100),
			Impact:      share,
			Confidence:  0.85,
		})
	}

	// Efficiency: average impact of the processed window.
	var impactSum float64
	for _, item := range window {
		impactSum += item.Impact
	}
	insights = append(insights, Insight{
		Category:    "efficiency",
		Description: fmt.Sprintf("average feedback impact %.2f over %d items", impactSum/float64(len(window)), len(window)),
		Impact:      impactSum / float64(len(window)),
		Confidence:  0.75,
	})

	return insights
}

// process classifies one item and derives its actions.
func (l *Loop) process(ctx context.Context, item *Item) error {
	var actions []*Action

	switch item.Kind {
	case KindImplicit:
		actions = l.classifyImplicit(item)
	case KindExplicit:
		actions = l.classifyExplicit(item)
	case KindBehavioral:
		actions = l.classifyBehavioral(item)
	case KindPerformance:
		actions = l.classifyPerformance(item)
	}

	for _, action := range actions {
		l.mu.Lock()
		l.actions[action.ID] = action
		l.mu.Unlock()

		// Auto-apply rule: strict on both thresholds.
		if action.Confidence > autoApplyThreshold && action.ExpectedImpact > autoApplyThreshold {
			l.apply(ctx, action)
		}
	}
	return nil
}

// classifyImplicit maps implicit signals: slow responses and missing
// follow-ups both point at response optimization.
func (l *Loop) classifyImplicit(item *Item) []*Action {
	var actions []*Action
	if ms, ok := floatField(item.Payload, "response_time_ms"); ok && ms > slowResponseMs {
		actions = append(actions, newAction(ActionResponseOptimization, "speed",
			map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence))
	}
	if followed, ok := item.Payload["followed_up"].(bool); ok && !followed {
		actions = append(actions, newAction(ActionResponseOptimization, "clarity",
			map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence))
	}
	return actions
}

// classifyExplicit maps ratings and free-text complaints.
func (l *Loop) classifyExplicit(item *Item) []*Action {
	var actions []*Action
	if rating, ok := floatField(item.Payload, "rating"); ok && rating < lowRating {
		actions = append(actions, newAction(ActionPersonalityAdjustment, "user_satisfaction",
			map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence))
	}
	if text, ok := item.Payload["text"].(string); ok && text != "" {
		switch l.classifier.Classify(text) {
		case ComplaintAccuracy:
			actions = append(actions, newAction(ActionResponseOptimization, "accuracy",
				map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence))
		case ComplaintResponseTime:
			actions = append(actions, newAction(ActionResponseOptimization, "speed",
				map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence))
		case ComplaintCulturalInsensitivity:
			actions = append(actions, newAction(ActionPersonalityAdjustment, "cultural_awareness",
				map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence))
		case ComplaintEmotionalLack:
			actions = append(actions, newAction(ActionPersonalityAdjustment, "empathy",
				map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence))
		}
	}
	return actions
}

// classifyBehavioral maps behavioral signals to their fixed actions.
func (l *Loop) classifyBehavioral(item *Item) []*Action {
	signal, _ := item.Payload["signal"].(string)
	switch signal {
	case "disengagement":
		return []*Action{newAction(ActionPersonalityAdjustment, "engagement",
			map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence)}
	case "repetitive_questions":
		return []*Action{newAction(ActionResponseOptimization, "clarity",
			map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence)}
	case "cultural_misunderstanding":
		return []*Action{newAction(ActionPersonalityAdjustment, "cultural_awareness",
			map[string]float64{"delta": metricDelta}, item.Impact, item.Confidence)}
	}
	return nil
}

// classifyPerformance folds reported metrics into moving averages and
// spawns a retrain action for any metric falling below 0.6.
func (l *Loop) classifyPerformance(item *Item) []*Action {
	metrics, ok := item.Payload["metrics"].(map[string]float64)
	if !ok {
		// Also accept the JSON-decoded shape.
		if raw, rok := item.Payload["metrics"].(map[string]any); rok {
			metrics = make(map[string]float64, len(raw))
			for k, v := range raw {
				if f, fok := v.(float64); fok {
					metrics[k] = f
				}
			}
		} else {
			return nil
		}
	}

	var actions []*Action
	l.mu.Lock()
	for name, value := range metrics {
		prev, seen := l.observed[name]
		if !seen {
			l.observed[name] = value
		} else {
			l.observed[name] = prev*(1-movingAvgAlpha) + value*movingAvgAlpha
		}
		if l.observed[name] < lowMetricFloor {
			actions = append(actions, newAction(ActionModelRetrain, name,
				map[string]float64{"observed": l.observed[name]}, item.Impact, item.Confidence))
		}
	}
	l.mu.Unlock()
	return actions
}

// apply executes an action according to its kind and records the outcome.
func (l *Loop) apply(ctx context.Context, action *Action) {
	var err error
	results := map[string]any{}

	switch action.Kind {
	case ActionPersonalityAdjustment, ActionResponseOptimization:
		delta := action.Parameters["delta"]
		if delta == 0 {
			delta = metricDelta
		}
		l.mu.Lock()
		before := l.metrics[action.Target]
		after := clamp01(before + delta)
		l.metrics[action.Target] = after
		l.mu.Unlock()
		results["before"] = before
		results["after"] = after

	case ActionPatternUpdate:
		var res *patterns.AnalysisResult
		res, err = l.engine.Analyze(ctx)
		if err == nil {
			results["new_patterns"] = len(res.NewPatterns)
		}

	case ActionModelRetrain:
		l.mu.Lock()
		retrainer := l.retrainer
		l.mu.Unlock()
		if retrainer == nil {
			err = fmt.Errorf("no retrainer configured")
		} else {
			var sessionID string
			sessionID, err = retrainer.SubmitRetrain(ctx)
			results["session_id"] = sessionID
		}

	default:
		err = fmt.Errorf("unknown action kind %q", action.Kind)
	}

	now := time.Now()
	l.mu.Lock()
	if err != nil {
		action.Status = ActionFailed
		results["error"] = err.Error()
	} else {
		action.Status = ActionApplied
		action.AppliedAt = &now
	}
	action.Results = results
	l.mu.Unlock()

	ActionsTotal.WithLabelValues(string(action.Kind), string(action.Status)).Inc()

	if err != nil {
		l.logger.Warn("improvement action failed",
			zap.String("id", action.ID),
			zap.String("kind", string(action.Kind)),
			zap.Error(err),
		)
		return
	}
	l.logger.Info("improvement action applied",
		zap.String("id", action.ID),
		zap.String("kind", string(action.Kind)),
		zap.String("target", action.Target),
	)
}

// proposeFromInsights turns qualifying insights into pending actions.
func (l *Loop) proposeFromInsights(ctx context.Context) {
	for _, insight := range l.Insights() {
		if insight.Impact <= insightMinImpact || insight.Confidence <= insightMinConf {
			continue
		}

		var action *Action
		switch insight.Category {
		case "performance":
			action = newAction(ActionModelRetrain, "performance",
				nil, insight.Impact, insight.Confidence)
		case "user_satisfaction":
			action = newAction(ActionPersonalityAdjustment, "user_satisfaction",
				map[string]float64{"delta": metricDelta}, insight.Impact, insight.Confidence)
		case "efficiency":
			action = newAction(ActionResponseOptimization, "speed",
				map[string]float64{"delta": metricDelta}, insight.Impact, insight.Confidence)
		default:
			continue
		}

		l.mu.Lock()
		l.actions[action.ID] = action
		l.mu.Unlock()

		l.logger.Info("proposed action from insight",
			zap.String("category", insight.Category),
			zap.String("action_id", action.ID),
		)
	}
}

// floatField reads a numeric payload field, accepting float64 and int.
func floatField(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// clamp01 bounds v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
