package experiment

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haldanelabs/learnd/internal/events"
)

// assignmentEvaluator scores by a fixed per-value table on the first
// variable, defaulting to 0.5.
func assignmentEvaluator(scores map[any]float64) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, metric string, assignment map[string]any) (float64, error) {
		for _, v := range assignment {
			if s, ok := scores[v]; ok {
				return s, nil
			}
		}
		return 0.5, nil
	})
}

func newTestRunner(t *testing.T, eval Evaluator) *Runner {
	t.Helper()
	r, err := NewRunner(eval, events.Nop{}, zap.NewNop(),
		WithObservationWindow(0),
		WithSamples(40),
		WithSeed(7),
	)
	require.NoError(t, err)
	return r
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(nil, events.Nop{}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewRunner(assignmentEvaluator(nil), events.Nop{}, nil)
	assert.Error(t, err)
}

func TestRun_InvalidKind(t *testing.T) {
	r := newTestRunner(t, assignmentEvaluator(nil))

	_, err := r.Run(context.Background(), "bogus", nil)
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestRiskClassification(t *testing.T) {
	tests := []struct {
		kind Kind
		want RiskLevel
	}{
		{KindABTest, RiskLow},
		{KindParameterOpt, RiskLow},
		{KindPerformanceTest, RiskLow},
		{KindFeatureTest, RiskMedium},
		{KindBehavioralTest, RiskMedium},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, riskByKind[tt.kind])
		})
	}
}

func TestRun_LowRiskExecutesImmediately(t *testing.T) {
	r := newTestRunner(t, assignmentEvaluator(map[any]float64{
		0.3: 0.6, 0.5: 0.7, 0.7: 0.55, 0.9: 0.65,
	}))

	exp, err := r.Run(context.Background(), KindParameterOpt, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exp.Status)
	require.NotNil(t, exp.Results)
	assert.Empty(t, r.Queued())
	assert.NotNil(t, exp.StartedAt)
	assert.NotNil(t, exp.CompletedAt)
}

func TestRun_MediumRiskQueuesUntilReleased(t *testing.T) {
	r := newTestRunner(t, assignmentEvaluator(map[any]float64{
		true: 0.9, false: 0.6,
	}))
	ctx := context.Background()

	exp, err := r.Run(ctx, KindFeatureTest, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPlanned, exp.Status)
	assert.Nil(t, exp.Results)
	assert.Equal(t, []string{exp.ID}, r.Queued())

	released, err := r.Release(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, released.Status)
	require.NotNil(t, released.Results)
	assert.Equal(t, "variant_a", released.Results.Winner)
	assert.Empty(t, r.Queued())

	// Releasing twice is rejected.
	_, err = r.Release(ctx, exp.ID)
	assert.ErrorIs(t, err, ErrNotQueued)

	_, err = r.Release(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRun_ABTestPicksBetterVariant(t *testing.T) {
	// variant "concise" scores well above control and "detailed".
	r := newTestRunner(t, assignmentEvaluator(map[any]float64{
		"balanced": 0.5, "concise": 0.9, "detailed": 0.4,
	}))

	exp, err := r.Run(context.Background(), KindABTest, nil)
	require.NoError(t, err)

	require.NotNil(t, exp.Results)
	assert.Equal(t, "variant_a", exp.Results.Winner)
	assert.NotEmpty(t, exp.Results.Insights)
	assert.NotEmpty(t, exp.Results.Recommendations)
}

func TestSummarize_LatencyMetricMinimizes(t *testing.T) {
	r := newTestRunner(t, assignmentEvaluator(nil))

	exp := &Experiment{
		Metric:  "response_time",
		Control: Group{Name: "control"},
	}
	results := r.summarize(exp, map[string]map[string]float64{
		"control":   {"response_time": 1200},
		"variant_a": {"response_time": 800},
		"variant_b": {"response_time": 1500},
	})

	assert.Equal(t, "variant_a", results.Winner)
}

func TestSummarize_SignificanceCapped(t *testing.T) {
	r := newTestRunner(t, assignmentEvaluator(nil))

	exp := &Experiment{
		Metric:  "satisfaction",
		Control: Group{Name: "control"},
	}
	// Extreme separation still caps at 0.95.
	results := r.summarize(exp, map[string]map[string]float64{
		"control":   {"satisfaction": 0.0},
		"variant_a": {"satisfaction": 100.0},
	})

	assert.LessOrEqual(t, results.Significance, 0.95)
	assert.LessOrEqual(t, results.Confidence, 0.95)
	assert.Equal(t, "variant_a", results.Winner)
}

func TestSummarize_ControlWinRecommendsKeeping(t *testing.T) {
	r := newTestRunner(t, assignmentEvaluator(nil))

	exp := &Experiment{
		Metric:  "satisfaction",
		Control: Group{Name: "control"},
	}
	results := r.summarize(exp, map[string]map[string]float64{
		"control":   {"satisfaction": 0.9},
		"variant_a": {"satisfaction": 0.4},
	})

	assert.Equal(t, "control", results.Winner)
	assert.Contains(t, results.Recommendations, "keep the control configuration")
}

func TestExecute_EvaluatorFailureMarksFailed(t *testing.T) {
	failing := EvaluatorFunc(func(ctx context.Context, metric string, assignment map[string]any) (float64, error) {
		return 0, fmt.Errorf("scoring backend down")
	})
	r := newTestRunner(t, failing)

	exp, err := r.Run(context.Background(), KindParameterOpt, nil)
	assert.ErrorIs(t, err, ErrEvaluation)
	require.NotNil(t, exp)
	assert.Equal(t, StatusFailed, exp.Status)
	assert.Contains(t, exp.Error, "scoring backend down")
}

func TestDesign_ParamOverrides(t *testing.T) {
	r := newTestRunner(t, assignmentEvaluator(nil))

	exp, err := r.Run(context.Background(), KindParameterOpt, map[string]any{
		"metric":        "engagement",
		"variable_name": "verbosity",
		"control":       0.2,
		"candidates":    []any{0.4, 0.6},
	})
	require.NoError(t, err)

	assert.Equal(t, "engagement", exp.Metric)
	require.Len(t, exp.Variables, 1)
	assert.Equal(t, "verbosity", exp.Variables[0].Name)
	assert.Equal(t, 0.2, exp.Variables[0].Control)
	assert.Len(t, exp.TestGroups, 2)

	// Weights: control 0.5, candidates split the other half.
	assert.Equal(t, 0.5, exp.Control.Weight)
	assert.InDelta(t, 0.25, exp.TestGroups[0].Weight, 1e-9)
}

func TestLatencyLike(t *testing.T) {
	assert.True(t, latencyLike("response_time"))
	assert.True(t, latencyLike("p99_latency"))
	assert.False(t, latencyLike("satisfaction"))
}

func TestGet(t *testing.T) {
	r := newTestRunner(t, assignmentEvaluator(nil))

	exp, err := r.Run(context.Background(), KindABTest, nil)
	require.NoError(t, err)

	got, err := r.Get(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, got.ID)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
