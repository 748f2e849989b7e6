// Package experiment designs and runs controlled experiments comparing a
// control configuration against candidate configurations.
//
// Scoring is delegated to an injected Evaluator so the experiment
// orchestration is testable independent of the scoring implementation.
// Low-risk experiments execute immediately; medium- and high-risk
// experiments queue until released.
package experiment

import (
	"context"
	"errors"
	"time"
)

// Common errors for experiment operations.
var (
	ErrInvalidKind  = errors.New("invalid experiment kind")
	ErrNotFound     = errors.New("experiment not found")
	ErrNotQueued    = errors.New("experiment is not awaiting release")
	ErrEvaluation   = errors.New("experiment evaluation failed")
	ErrNoCandidates = errors.New("experiment has no candidate values")
)

// Kind identifies an experiment strategy.
type Kind string

const (
	KindABTest          Kind = "ab_test"
	KindParameterOpt    Kind = "parameter_optimization"
	KindFeatureTest     Kind = "feature_test"
	KindBehavioralTest  Kind = "behavioral_test"
	KindPerformanceTest Kind = "performance_test"
)

// RiskLevel classifies the blast radius of running an experiment live.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// riskByKind is the fixed risk classification per kind.
var riskByKind = map[Kind]RiskLevel{
	KindABTest:          RiskLow,
	KindParameterOpt:    RiskLow,
	KindPerformanceTest: RiskLow,
	KindFeatureTest:     RiskMedium,
	KindBehavioralTest:  RiskMedium,
}

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusPlanned   Status = "planned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// VariableType classifies an experiment variable.
type VariableType string

const (
	VariableContinuous  VariableType = "continuous"
	VariableDiscrete    VariableType = "discrete"
	VariableCategorical VariableType = "categorical"
)

// Variable is one experimental dimension with a control value and
// candidate alternatives.
type Variable struct {
	Name       string       `json:"name"`
	Type       VariableType `json:"type"`
	Control    any          `json:"control"`
	Candidates []any        `json:"candidates"`
}

// Group is one arm of an experiment.
type Group struct {
	// ID is the unique group identifier.
	ID string `json:"id"`

	// Name labels the arm (control, variant_a, ...).
	Name string `json:"name"`

	// Weight is the sampling weight for AB tests.
	Weight float64 `json:"weight"`

	// Assignment maps variable names to the values this arm uses.
	Assignment map[string]any `json:"assignment"`
}

// Results is the uniform result shape every kind populates.
type Results struct {
	// GroupMetrics maps group name to metric name to aggregate value.
	GroupMetrics map[string]map[string]float64 `json:"group_metrics"`

	// Winner is the best-performing group name.
	Winner string `json:"winner"`

	// Significance is a variance-derived proxy, capped at 0.95.
	Significance float64 `json:"significance"`

	// Confidence is how reliable the winner call is, 0.0 to 1.0.
	Confidence float64 `json:"confidence"`

	// Insights are derived natural-language observations.
	Insights []string `json:"insights,omitempty"`

	// Recommendations suggest follow-up actions.
	Recommendations []string `json:"recommendations,omitempty"`
}

// Experiment is a designed comparison between a control and one or more
// candidate configurations.
type Experiment struct {
	// ID is the unique experiment identifier (UUID).
	ID string `json:"id"`

	// Kind selects the execution strategy.
	Kind Kind `json:"kind"`

	// Hypothesis states what the experiment tests.
	Hypothesis string `json:"hypothesis"`

	// Variables are the experimental dimensions.
	Variables []Variable `json:"variables"`

	// Control is the baseline arm; TestGroups are the candidates.
	Control    Group   `json:"control"`
	TestGroups []Group `json:"test_groups"`

	// Metric is the quality metric scored by the evaluator.
	Metric string `json:"metric"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// RiskLevel is fixed per kind.
	RiskLevel RiskLevel `json:"risk_level"`

	// Results is populated on completion.
	Results *Results `json:"results,omitempty"`

	// Error holds the failure reason when Status is failed.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Evaluator turns a candidate configuration into a scalar quality score
// for the named metric.
type Evaluator interface {
	Score(ctx context.Context, metric string, assignment map[string]any) (float64, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, metric string, assignment map[string]any) (float64, error)

// Score calls the wrapped function.
func (f EvaluatorFunc) Score(ctx context.Context, metric string, assignment map[string]any) (float64, error) {
	return f(ctx, metric, assignment)
}
