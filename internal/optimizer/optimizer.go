package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/events"
)

// Apply rule thresholds. A result is committed back into the registry
// only when both hold, strictly.
const (
	applyMinImprovement = 0.05
	applyMinConfidence  = 0.7
)

// Optimizer maintains the target registry and runs optimization passes.
//
// Thread Safety: all public methods are safe for concurrent use. Target
// mutation happens only under the registry mutex when a result passes the
// apply rule.
type Optimizer struct {
	mu      sync.Mutex
	targets map[string]*Target
	history map[string][]*Result

	eval      Evaluator
	bus       events.Publisher
	logger    *zap.Logger
	rng       *rand.Rand
	stepDelay time.Duration
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithStepDelay sets a simulated per-iteration delay. Zero (the default
// in tests) disables it.
func WithStepDelay(d time.Duration) Option {
	return func(o *Optimizer) { o.stepDelay = d }
}

// WithTargets replaces the default target registry.
func WithTargets(targets []*Target) Option {
	return func(o *Optimizer) {
		o.targets = make(map[string]*Target, len(targets))
		for _, t := range targets {
			o.targets[t.Name] = t
		}
	}
}

// WithSeed fixes the random source, for reproducible tests.
func WithSeed(seed int64) Option {
	return func(o *Optimizer) { o.rng = rand.New(rand.NewSource(seed)) }
}

// New creates an Optimizer with the default target registry.
func New(eval Evaluator, bus events.Publisher, logger *zap.Logger, opts ...Option) (*Optimizer, error) {
	if eval == nil {
		return nil, fmt.Errorf("evaluator cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if bus == nil {
		bus = events.Nop{}
	}

	o := &Optimizer{
		targets: defaultTargets(),
		history: make(map[string][]*Result),
		eval:    eval,
		bus:     bus,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// defaultTargets builds the fixed registry of tunable metrics.
func defaultTargets() map[string]*Target {
	targets := []*Target{
		{
			Name:         "response_time",
			CurrentValue: 2000,
			TargetValue:  1000,
			Weight:       0.8,
			Priority:     PriorityHigh,
			Minimize:     true,
			Constraints: []Constraint{
				{Type: ConstraintMin, Value: 500},
				{Type: ConstraintMax, Value: 5000},
			},
		},
		{
			Name:         "user_satisfaction",
			CurrentValue: 0.7,
			TargetValue:  0.9,
			Weight:       1.0,
			Priority:     PriorityCritical,
			Constraints: []Constraint{
				{Type: ConstraintMin, Value: 0},
				{Type: ConstraintMax, Value: 1},
			},
		},
		{
			Name:         "cultural_accuracy",
			CurrentValue: 0.75,
			TargetValue:  0.95,
			Weight:       0.9,
			Priority:     PriorityHigh,
			Constraints: []Constraint{
				{Type: ConstraintMin, Value: 0},
				{Type: ConstraintMax, Value: 1},
				{Type: ConstraintRange, Low: 0.5, High: 1},
			},
		},
		{
			Name:         "emotional_intelligence",
			CurrentValue: 0.7,
			TargetValue:  0.9,
			Weight:       0.7,
			Priority:     PriorityMedium,
			Constraints: []Constraint{
				{Type: ConstraintMin, Value: 0},
				{Type: ConstraintMax, Value: 1},
			},
		},
	}
	m := make(map[string]*Target, len(targets))
	for _, t := range targets {
		m[t.Name] = t
	}
	return m
}

// Targets returns a snapshot of the registry.
func (o *Optimizer) Targets() []Target {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Target, 0, len(o.targets))
	for _, t := range o.targets {
		out = append(out, *t)
	}
	return out
}

// Target returns a copy of a single target.
func (o *Optimizer) Target(name string) (*Target, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.targets[name]
	if !ok {
		return nil, ErrUnknownTarget
	}
	cp := *t
	return &cp, nil
}

// History returns prior results for a target, oldest first.
func (o *Optimizer) History(name string) []*Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*Result, len(o.history[name]))
	copy(out, o.history[name])
	return out
}

// Run optimizes a single target. The method is selected heuristically:
// genetic_algorithm for targets with more than two constraints, bayesian
// for critical-priority targets, gradient descent once more than five
// prior runs exist, grid search otherwise.
//
// Failed runs are recorded with status failed and are not retried.
func (o *Optimizer) Run(ctx context.Context, targetName string) (*Result, error) {
	if strings.TrimSpace(targetName) == "" {
		return nil, ErrInvalidTarget
	}

	o.mu.Lock()
	target, ok := o.targets[targetName]
	if !ok {
		o.mu.Unlock()
		return nil, ErrUnknownTarget
	}
	snapshot := *target
	priorRuns := len(o.history[targetName])
	o.mu.Unlock()

	method := o.selectMethod(&snapshot, priorRuns)
	start := time.Now()

	result := &Result{
		ID:           uuid.New().String(),
		Target:       snapshot.Name,
		Method:       method,
		InitialValue: snapshot.CurrentValue,
		CreatedAt:    start,
	}

	value, iterations, converged, err := o.search(ctx, &snapshot, method)
	result.Duration = time.Since(start)
	result.Iterations = iterations

	if err != nil {
		result.Status = StatusFailed
		result.OptimizedValue = snapshot.CurrentValue
		result.Error = err.Error()
		o.record(result)
		o.logger.Warn("optimization failed",
			zap.String("target", snapshot.Name),
			zap.String("method", string(method)),
			zap.Error(err),
		)
		o.publish(result)
		return result, fmt.Errorf("%w: %s: %v", ErrEvaluation, snapshot.Name, err)
	}

	result.OptimizedValue = snapshot.Clip(value)
	result.Status = StatusCompleted
	if converged {
		result.Status = StatusConverged
	}
	result.Improvement = relativeImprovement(result.InitialValue, result.OptimizedValue)
	result.DirectionalImprovement = result.Improvement
	if snapshot.Minimize {
		result.DirectionalImprovement = -result.Improvement
	}
	result.Confidence = o.confidence(result)

	o.apply(result)
	o.record(result)

	o.logger.Info("optimization completed",
		zap.String("target", result.Target),
		zap.String("method", string(result.Method)),
		zap.Float64("initial", result.InitialValue),
		zap.Float64("optimized", result.OptimizedValue),
		zap.Float64("improvement", result.Improvement),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("applied", result.Applied),
	)
	o.publish(result)

	return result, nil
}

// RunHighPriority optimizes every high- and critical-priority target.
// Per-target failures are captured in their results and do not abort the
// remaining targets.
func (o *Optimizer) RunHighPriority(ctx context.Context) ([]*Result, error) {
	o.mu.Lock()
	names := make([]string, 0, len(o.targets))
	for name, t := range o.targets {
		if t.Priority == PriorityHigh || t.Priority == PriorityCritical {
			names = append(names, name)
		}
	}
	o.mu.Unlock()

	results := make([]*Result, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		result, err := o.Run(ctx, name)
		if err != nil {
			o.logger.Warn("high-priority optimization failed",
				zap.String("target", name), zap.Error(err))
		}
		if result != nil {
			results = append(results, result)
		}
	}
	return results, nil
}

// selectMethod applies the fixed selection heuristic, in priority order.
func (o *Optimizer) selectMethod(t *Target, priorRuns int) Method {
	switch {
	case len(t.Constraints) > 2:
		return MethodGenetic
	case t.Priority == PriorityCritical:
		return MethodBayesian
	case priorRuns > 5:
		return MethodGradientDescent
	default:
		return MethodGridSearch
	}
}

// search dispatches to the selected method. Returns the best value found,
// the iteration count, and whether the method converged early.
func (o *Optimizer) search(ctx context.Context, t *Target, method Method) (float64, int, bool, error) {
	switch method {
	case MethodGradientDescent:
		return o.gradientDescent(ctx, t)
	case MethodGenetic:
		return o.geneticAlgorithm(ctx, t)
	case MethodBayesian:
		return o.bayesianOptimization(ctx, t)
	case MethodGridSearch:
		return o.gridSearch(ctx, t)
	default:
		return 0, 0, false, fmt.Errorf("unknown method %q", method)
	}
}

// confidence weights improvement magnitude, iteration count and method
// reliability into a single score.
func (o *Optimizer) confidence(r *Result) float64 {
	reliability := map[Method]float64{
		MethodGridSearch:      0.9,
		MethodBayesian:        0.85,
		MethodGenetic:         0.8,
		MethodGradientDescent: 0.75,
	}[r.Method]

	magnitude := r.DirectionalImprovement * 5
	if magnitude < 0 {
		magnitude = 0
	}
	if magnitude > 1 {
		magnitude = 1
	}

	iterFactor := float64(r.Iterations) / 100
	if iterFactor > 1 {
		iterFactor = 1
	}

	c := 0.5*reliability + 0.3*magnitude + 0.2*iterFactor
	if c > 1 {
		c = 1
	}
	return c
}

// apply commits the optimized value when the result clears the apply
// rule: improvement > 0.05 and confidence > 0.7, both strict.
func (o *Optimizer) apply(r *Result) {
	if r.Improvement <= applyMinImprovement || r.Confidence <= applyMinConfidence {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.targets[r.Target]
	if !ok {
		return
	}
	t.CurrentValue = t.Clip(r.OptimizedValue)
	r.Applied = true
}

// record appends the result to the per-target history.
func (o *Optimizer) record(r *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history[r.Target] = append(o.history[r.Target], r)

	recordRun(r)
}

// publish emits an optimization_result event; publish failures are logged
// and otherwise ignored.
func (o *Optimizer) publish(r *Result) {
	if err := o.bus.Publish(r.ID, events.EventOptimizationResult, r); err != nil {
		o.logger.Warn("publish optimization result", zap.Error(err))
	}
}

// relativeImprovement is the literal relative delta against the initial
// value. Zero initial values yield zero to avoid division blowups.
func relativeImprovement(initial, optimized float64) float64 {
	if initial == 0 {
		return 0
	}
	return (optimized - initial) / initial
}

// step pauses between iterations when a step delay is configured and
// honors context cancellation.
func (o *Optimizer) step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.stepDelay > 0 {
		select {
		case <-time.After(o.stepDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
