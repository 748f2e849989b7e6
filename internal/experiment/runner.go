package experiment

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/events"
)

// AB-test defaults; the observation window shrinks in tests.
const (
	defaultObservationWindow = 30 * time.Second
	defaultABSamples         = 50
)

// Runner constructs and executes experiments.
//
// Thread Safety: all public methods are safe for concurrent use.
type Runner struct {
	mu          sync.Mutex
	experiments map[string]*Experiment
	queue       []string // IDs of planned medium/high risk experiments

	eval   Evaluator
	bus    events.Publisher
	logger *zap.Logger
	rng    *rand.Rand

	window  time.Duration
	samples int
}

// Option configures a Runner.
type Option func(*Runner)

// WithObservationWindow overrides the AB-test observation window.
func WithObservationWindow(d time.Duration) Option {
	return func(r *Runner) { r.window = d }
}

// WithSamples overrides the AB-test sample count.
func WithSamples(n int) Option {
	return func(r *Runner) { r.samples = n }
}

// WithSeed fixes the random source, for reproducible tests.
func WithSeed(seed int64) Option {
	return func(r *Runner) { r.rng = rand.New(rand.NewSource(seed)) }
}

// NewRunner creates an experiment runner.
func NewRunner(eval Evaluator, bus events.Publisher, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if eval == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if bus == nil {
		bus = events.Nop{}
	}

	r := &Runner{
		experiments: make(map[string]*Experiment),
		eval:        eval,
		bus:         bus,
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		window:      defaultObservationWindow,
		samples:     defaultABSamples,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run designs an experiment for the requested kind and parameters.
// Low-risk experiments execute synchronously; medium- and high-risk
// experiments are queued as planned and must be released explicitly.
func (r *Runner) Run(ctx context.Context, kind Kind, params map[string]any) (*Experiment, error) {
	risk, ok := riskByKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	exp := r.design(kind, risk, params)

	r.mu.Lock()
	r.experiments[exp.ID] = exp
	if risk != RiskLow {
		r.queue = append(r.queue, exp.ID)
		r.mu.Unlock()
		r.logger.Info("experiment queued for release",
			zap.String("id", exp.ID),
			zap.String("kind", string(kind)),
			zap.String("risk", string(risk)),
		)
		return exp, nil
	}
	r.mu.Unlock()

	return exp, r.execute(ctx, exp)
}

// Release executes a queued medium/high-risk experiment.
func (r *Runner) Release(ctx context.Context, id string) (*Experiment, error) {
	r.mu.Lock()
	exp, ok := r.experiments[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	if exp.Status != StatusPlanned {
		r.mu.Unlock()
		return nil, ErrNotQueued
	}
	for i, qid := range r.queue {
		if qid == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	return exp, r.execute(ctx, exp)
}

// Get retrieves an experiment by ID.
func (r *Runner) Get(id string) (*Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *exp
	return &cp, nil
}

// Queued returns the IDs of experiments awaiting release, in order.
func (r *Runner) Queued() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.queue))
	copy(out, r.queue)
	return out
}

// design constructs the experiment shape for a kind: hypothesis,
// variables, control group and weighted test groups.
func (r *Runner) design(kind Kind, risk RiskLevel, params map[string]any) *Experiment {
	metric := stringParam(params, "metric", defaultMetric(kind))
	variable := r.designVariable(kind, params)

	control := Group{
		ID:         uuid.New().String(),
		Name:       "control",
		Weight:     0.5,
		Assignment: map[string]any{variable.Name: variable.Control},
	}

	testGroups := make([]Group, 0, len(variable.Candidates))
	weight := 0.5 / float64(max(len(variable.Candidates), 1))
	for i, candidate := range variable.Candidates {
		testGroups = append(testGroups, Group{
			ID:         uuid.New().String(),
			Name:       fmt.Sprintf("variant_%c", 'a'+i),
			Weight:     weight,
			Assignment: map[string]any{variable.Name: candidate},
		})
	}

	return &Experiment{
		ID:   uuid.New().String(),
		Kind: kind,
		Hypothesis: fmt.Sprintf("adjusting %s improves %s over the control value %v",
			variable.Name, metric, variable.Control),
		Variables:  []Variable{variable},
		Control:    control,
		TestGroups: testGroups,
		Metric:     metric,
		Status:     StatusPlanned,
		RiskLevel:  risk,
		CreatedAt:  time.Now(),
	}
}

// designVariable picks the experimental variable for a kind, honoring
// caller-supplied overrides.
func (r *Runner) designVariable(kind Kind, params map[string]any) Variable {
	if v, ok := params["variable"].(Variable); ok {
		return v
	}

	name := stringParam(params, "variable_name", "")
	candidates, _ := params["candidates"].([]any)
	control, hasControl := params["control"]

	switch kind {
	case KindABTest:
		if name == "" {
			name = "response_style"
		}
		if !hasControl {
			control = "balanced"
		}
		if len(candidates) == 0 {
			candidates = []any{"concise", "detailed"}
		}
		return Variable{Name: name, Type: VariableCategorical, Control: control, Candidates: candidates}

	case KindParameterOpt, KindPerformanceTest:
		if name == "" {
			name = "temperature"
		}
		if !hasControl {
			control = 0.7
		}
		if len(candidates) == 0 {
			candidates = []any{0.3, 0.5, 0.9}
		}
		return Variable{Name: name, Type: VariableContinuous, Control: control, Candidates: candidates}

	case KindFeatureTest:
		if name == "" {
			name = "proactive_suggestions"
		}
		if !hasControl {
			control = false
		}
		if len(candidates) == 0 {
			candidates = []any{true}
		}
		return Variable{Name: name, Type: VariableDiscrete, Control: control, Candidates: candidates}

	default: // KindBehavioralTest
		if name == "" {
			name = "empathy_intensity"
		}
		if !hasControl {
			control = 0.5
		}
		if len(candidates) == 0 {
			candidates = []any{0.3, 0.7, 0.9}
		}
		return Variable{Name: name, Type: VariableContinuous, Control: control, Candidates: candidates}
	}
}

// execute runs the experiment's kind-specific strategy and populates the
// uniform results shape. A failure marks the experiment failed with the
// error captured; it is not retried.
func (r *Runner) execute(ctx context.Context, exp *Experiment) error {
	now := time.Now()
	r.mu.Lock()
	exp.Status = StatusRunning
	exp.StartedAt = &now
	r.mu.Unlock()

	var groupMetrics map[string]map[string]float64
	var err error

	switch exp.Kind {
	case KindABTest:
		groupMetrics, err = r.runABTest(ctx, exp)
	default:
		// parameter_optimization, performance_test, feature_test and
		// behavioral_test all evaluate every arm once.
		groupMetrics, err = r.evaluateArms(ctx, exp)
	}

	done := time.Now()
	r.mu.Lock()
	exp.CompletedAt = &done
	if err != nil {
		exp.Status = StatusFailed
		exp.Error = err.Error()
		r.mu.Unlock()
		r.logger.Warn("experiment failed",
			zap.String("id", exp.ID),
			zap.String("kind", string(exp.Kind)),
			zap.Error(err),
		)
		r.publish(exp)
		return fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	exp.Results = r.summarize(exp, groupMetrics)
	exp.Status = StatusCompleted
	r.mu.Unlock()

	r.logger.Info("experiment completed",
		zap.String("id", exp.ID),
		zap.String("kind", string(exp.Kind)),
		zap.String("winner", exp.Results.Winner),
		zap.Float64("significance", exp.Results.Significance),
	)
	r.publish(exp)
	return nil
}

// runABTest samples a weighted group repeatedly over the observation
// window and aggregates satisfaction and engagement per group.
func (r *Runner) runABTest(ctx context.Context, exp *Experiment) (map[string]map[string]float64, error) {
	groups := append([]Group{exp.Control}, exp.TestGroups...)

	type agg struct {
		satisfaction float64
		engagement   float64
		samples      float64
	}
	aggregates := make(map[string]*agg, len(groups))
	for _, g := range groups {
		aggregates[g.Name] = &agg{}
	}

	interval := r.window / time.Duration(max(r.samples, 1))
	for i := 0; i < r.samples; i++ {
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		group := r.sampleGroup(groups)
		satisfaction, err := r.eval.Score(ctx, "satisfaction", group.Assignment)
		if err != nil {
			return nil, err
		}
		engagement, err := r.eval.Score(ctx, "engagement", group.Assignment)
		if err != nil {
			return nil, err
		}

		a := aggregates[group.Name]
		a.satisfaction += satisfaction
		a.engagement += engagement
		a.samples++
	}

	out := make(map[string]map[string]float64, len(groups))
	for name, a := range aggregates {
		metrics := map[string]float64{"samples": a.samples}
		if a.samples > 0 {
			metrics["satisfaction"] = a.satisfaction / a.samples
			metrics["engagement"] = a.engagement / a.samples
			metrics[exp.Metric] = metrics["satisfaction"]
		}
		out[name] = metrics
	}
	return out, nil
}

// evaluateArms scores the control and every candidate arm once on the
// experiment's metric.
func (r *Runner) evaluateArms(ctx context.Context, exp *Experiment) (map[string]map[string]float64, error) {
	if len(exp.TestGroups) == 0 {
		return nil, ErrNoCandidates
	}
	groups := append([]Group{exp.Control}, exp.TestGroups...)

	out := make(map[string]map[string]float64, len(groups))
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score, err := r.eval.Score(ctx, exp.Metric, g.Assignment)
		if err != nil {
			return nil, err
		}
		out[g.Name] = map[string]float64{exp.Metric: score}
	}
	return out, nil
}

// sampleGroup picks a group proportionally to its weight.
func (r *Runner) sampleGroup(groups []Group) Group {
	var total float64
	for _, g := range groups {
		total += g.Weight
	}
	roll := r.rng.Float64() * total
	for _, g := range groups {
		roll -= g.Weight
		if roll <= 0 {
			return g
		}
	}
	return groups[len(groups)-1]
}

// summarize builds the uniform results shape: winner, variance-derived
// significance (capped at 0.95), insights and recommendations.
func (r *Runner) summarize(exp *Experiment, groupMetrics map[string]map[string]float64) *Results {
	minimize := latencyLike(exp.Metric)

	type scored struct {
		name  string
		value float64
	}
	var arms []scored
	for name, metrics := range groupMetrics {
		if v, ok := metrics[exp.Metric]; ok {
			arms = append(arms, scored{name, v})
		}
	}
	sort.Slice(arms, func(i, j int) bool {
		if minimize {
			return arms[i].value < arms[j].value
		}
		return arms[i].value > arms[j].value
	})

	results := &Results{GroupMetrics: groupMetrics}
	if len(arms) == 0 {
		return results
	}
	results.Winner = arms[0].name

	// Significance proxy: winner separation relative to the spread of
	// all arm scores.
	var sum, sumSq float64
	for _, a := range arms {
		sum += a.value
		sumSq += a.value * a.value
	}
	n := float64(len(arms))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	stddev := math.Sqrt(variance)

	if len(arms) > 1 && stddev > 0 {
		separation := math.Abs(arms[0].value-arms[1].value) / stddev
		results.Significance = math.Min(0.95, separation*0.5)
	}
	results.Confidence = math.Min(0.95, 0.5+results.Significance/2)

	results.Insights = []string{
		fmt.Sprintf("%s won on %s with %.3f", results.Winner, exp.Metric, arms[0].value),
		fmt.Sprintf("%d arms compared, score spread %.3f", len(arms), stddev),
	}
	if results.Winner == exp.Control.Name {
		results.Recommendations = append(results.Recommendations,
			"keep the control configuration")
	} else {
		results.Recommendations = append(results.Recommendations,
			fmt.Sprintf("consider promoting %s to the default configuration", results.Winner))
	}
	if results.Significance < 0.5 {
		results.Recommendations = append(results.Recommendations,
			"significance is low, rerun with a longer observation window")
	}
	return results
}

// publish emits an experiment_result event; failures are logged and
// otherwise ignored.
func (r *Runner) publish(exp *Experiment) {
	if err := r.bus.Publish(exp.ID, events.EventExperimentResult, exp); err != nil {
		r.logger.Warn("publish experiment result", zap.Error(err))
	}
}

// latencyLike reports whether a metric name indicates lower-is-better.
func latencyLike(metric string) bool {
	m := strings.ToLower(metric)
	return strings.Contains(m, "time") || strings.Contains(m, "latency")
}

// defaultMetric picks the scored metric per kind.
func defaultMetric(kind Kind) string {
	switch kind {
	case KindPerformanceTest:
		return "response_time"
	default:
		return "satisfaction"
	}
}

// stringParam reads an optional string parameter.
func stringParam(params map[string]any, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
