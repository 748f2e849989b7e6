package training

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldanelabs/learnd/internal/store"
)

func TestBagVectorizer_Features(t *testing.T) {
	v := NewBagVectorizer()
	rec := &store.InteractionRecord{
		Input:          "go go test",
		Quality:        0.8,
		Satisfaction:   0.6,
		ResponseTimeMs: 1000,
		FollowedUp:     true,
	}

	vec := v.Vectorize(rec)
	require.Len(t, vec, 4+v.Buckets)

	assert.Equal(t, 0.8, vec[0])
	assert.Equal(t, 0.6, vec[1])
	assert.InDelta(t, 0.5, vec[2], 1e-9)
	assert.Equal(t, 1.0, vec[3])

	// Three tokens land in the hashed region, duplicates stacking.
	var tokens float64
	for _, count := range vec[4:] {
		tokens += count
	}
	assert.Equal(t, 3.0, tokens)
}

func TestBagVectorizer_Deterministic(t *testing.T) {
	v := NewBagVectorizer()
	rec := &store.InteractionRecord{Input: "How Do I Reset", Quality: 0.5}

	a := v.Vectorize(rec)
	b := v.Vectorize(rec)
	assert.Equal(t, a, b)

	// Tokenization is case-insensitive.
	lower := v.Vectorize(&store.InteractionRecord{Input: "how do i reset", Quality: 0.5})
	assert.Equal(t, a[4:], lower[4:])
}

func TestSimulatedFitter_Converges(t *testing.T) {
	vectors := [][]float64{{0.8}, {0.8}, {0.8}}

	var reports []EpochReport
	final, err := SimulatedFitter{}.Fit(context.Background(), vectors, 5, func(r EpochReport) error {
		reports = append(reports, r)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, reports, 5)
	assert.Equal(t, 5, final.Epoch)
	for i := 1; i < len(reports); i++ {
		assert.Equal(t, i+1, reports[i].Epoch)
		assert.Less(t, reports[i].Loss, reports[i-1].Loss)
	}
	assert.InDelta(t, 1-final.Loss, final.Accuracy, 1e-9)

	// Identical qualities mean zero variance, so loss approaches the base
	// floor of 0.02.
	assert.Greater(t, final.Loss, 0.02)
}

func TestSimulatedFitter_EmptyVectors(t *testing.T) {
	_, err := SimulatedFitter{}.Fit(context.Background(), nil, 3, nil)
	assert.Error(t, err)
}

func TestSimulatedFitter_ProgressErrorAborts(t *testing.T) {
	vectors := [][]float64{{0.5}}

	last, err := SimulatedFitter{}.Fit(context.Background(), vectors, 10, func(r EpochReport) error {
		if r.Epoch == 2 {
			return fmt.Errorf("stop here")
		}
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, 2, last.Epoch)
}

func TestSimulatedFitter_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SimulatedFitter{}.Fit(ctx, [][]float64{{0.5}}, 3, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLossFloor(t *testing.T) {
	// Zero variance bottoms out at the base floor.
	assert.InDelta(t, 0.02, lossFloor([][]float64{{0.7}, {0.7}}), 1e-9)

	// High variance is capped at 0.5.
	assert.Equal(t, 0.5, lossFloor([][]float64{{0}, {2}}))
}
