// Package optimizer tunes named performance targets with multi-method
// numeric optimization.
//
// Each target carries explicit constraints; every method re-applies the
// constraints after each step, so an optimized value can never leave the
// declared range. Scoring is delegated to an injected Evaluator so the
// search logic is testable independent of the scoring implementation.
package optimizer

import (
	"context"
	"errors"
	"time"
)

// Common errors for optimizer operations.
var (
	ErrUnknownTarget = errors.New("unknown optimization target")
	ErrEvaluation    = errors.New("evaluation failed")
	ErrNoConstraints = errors.New("target has no usable bounds")
	ErrInvalidTarget = errors.New("invalid optimization target")
)

// Method identifies a numeric optimization strategy.
type Method string

const (
	MethodGradientDescent Method = "gradient_descent"
	MethodGenetic         Method = "genetic_algorithm"
	MethodBayesian        Method = "bayesian_optimization"
	MethodGridSearch      Method = "grid_search"
)

// Priority ranks how aggressively a target is optimized.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ConstraintType identifies a single constraint on a target value.
type ConstraintType string

const (
	ConstraintMin   ConstraintType = "min"
	ConstraintMax   ConstraintType = "max"
	ConstraintRange ConstraintType = "range"
)

// Constraint bounds a target value. Min and Max constraints use Value;
// Range constraints use Low and High.
type Constraint struct {
	Type  ConstraintType `json:"type"`
	Value float64        `json:"value,omitempty"`
	Low   float64        `json:"low,omitempty"`
	High  float64        `json:"high,omitempty"`
}

// Target is a named, constrained metric the optimizer tunes toward a
// desired value. Long-lived configuration; CurrentValue is mutated only
// when a result passes the apply rule.
type Target struct {
	// Name is the unique target identifier (e.g. "response_time").
	Name string `json:"name"`

	// CurrentValue is the live value of the metric.
	CurrentValue float64 `json:"current_value"`

	// TargetValue is the desired value.
	TargetValue float64 `json:"target_value"`

	// Weight scales this target's contribution to aggregate scoring.
	Weight float64 `json:"weight"`

	// Constraints bound the admissible value range.
	Constraints []Constraint `json:"constraints"`

	// Priority ranks the target for scheduled optimization passes.
	Priority Priority `json:"priority"`

	// Minimize indicates lower values are better (e.g. latency). The
	// evaluator already scores candidates (higher score = better), so
	// Minimize does not change the search; it only fixes the sign of
	// DirectionalImprovement on results. See Result.
	Minimize bool `json:"minimize"`
}

// Bounds returns the effective [lo, hi] interval implied by the
// constraint list.
func (t *Target) Bounds() (lo, hi float64, err error) {
	lo, hi = -1e18, 1e18
	found := false
	for _, c := range t.Constraints {
		switch c.Type {
		case ConstraintMin:
			if c.Value > lo {
				lo = c.Value
			}
			found = true
		case ConstraintMax:
			if c.Value < hi {
				hi = c.Value
			}
			found = true
		case ConstraintRange:
			if c.Low > lo {
				lo = c.Low
			}
			if c.High < hi {
				hi = c.High
			}
			found = true
		}
	}
	if !found || lo > hi {
		return 0, 0, ErrNoConstraints
	}
	return lo, hi, nil
}

// Clip constrains v to the target's bounds.
func (t *Target) Clip(v float64) float64 {
	lo, hi, err := t.Bounds()
	if err != nil {
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ResultStatus is the terminal state of an optimization run.
type ResultStatus string

const (
	StatusCompleted ResultStatus = "completed"
	StatusConverged ResultStatus = "converged"
	StatusFailed    ResultStatus = "failed"
)

// Result records one optimization run.
type Result struct {
	// ID is the unique result identifier (UUID).
	ID string `json:"id"`

	// Target is the name of the optimized target.
	Target string `json:"target"`

	// Method is the strategy that produced the result.
	Method Method `json:"method"`

	// InitialValue is the target's value before the run.
	InitialValue float64 `json:"initial_value"`

	// OptimizedValue is the best value found, constraint-clipped.
	OptimizedValue float64 `json:"optimized_value"`

	// Improvement is the relative delta (optimized-initial)/initial.
	// Note the sign is not normalized per direction: for minimize
	// targets a successful run yields a negative improvement, so such
	// results never pass the apply rule on their own. Callers that want
	// direction-aware application should consult DirectionalImprovement.
	Improvement float64 `json:"improvement"`

	// DirectionalImprovement is the improvement with the sign flipped
	// for minimize targets, so positive always means better.
	DirectionalImprovement float64 `json:"directional_improvement"`

	// Confidence combines improvement magnitude, iteration count and
	// method reliability, 0.0 to 1.0.
	Confidence float64 `json:"confidence"`

	// Iterations is the number of evaluation steps performed.
	Iterations int `json:"iterations"`

	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`

	// Status is completed, converged or failed.
	Status ResultStatus `json:"status"`

	// Applied indicates the optimized value was committed to the target.
	Applied bool `json:"applied"`

	// Error holds the failure reason when Status is failed.
	Error string `json:"error,omitempty"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`
}

// Evaluator turns a candidate value for a target into a scalar quality
// score. Higher is always better, including for minimize targets, whose
// evaluators score lower raw values higher.
type Evaluator interface {
	Evaluate(ctx context.Context, target string, value float64) (float64, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, target string, value float64) (float64, error)

// Evaluate calls the wrapped function.
func (f EvaluatorFunc) Evaluate(ctx context.Context, target string, value float64) (float64, error) {
	return f(ctx, target, value)
}
