package training

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/haldanelabs/learnd/internal/store"
)

// EpochReport is the per-epoch measurement a fitter emits through its
// progress callback.
type EpochReport struct {
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// ProgressFunc receives one report per completed epoch. Returning an
// error aborts the fit.
type ProgressFunc func(EpochReport) error

// Vectorizer turns interaction records into numeric feature vectors.
type Vectorizer interface {
	Vectorize(rec *store.InteractionRecord) []float64
}

// ModelFitter fits a model over vectorized records and reports per-epoch
// progress. Implementations must honor ctx cancellation between epochs.
type ModelFitter interface {
	Fit(ctx context.Context, vectors [][]float64, epochs int, progress ProgressFunc) (EpochReport, error)
}

// BagVectorizer is the default vectorizer. It produces a fixed-width
// vector of interaction features plus a hashed bag of input tokens.
type BagVectorizer struct {
	// Buckets is the width of the hashed token region.
	Buckets int
}

// NewBagVectorizer creates a vectorizer with the default bucket count.
func NewBagVectorizer() *BagVectorizer {
	return &BagVectorizer{Buckets: 64}
}

// Vectorize encodes a record as [quality, satisfaction, responseTime,
// followedUp, token buckets...]. Response time is squashed to (0,1).
func (v *BagVectorizer) Vectorize(rec *store.InteractionRecord) []float64 {
	vec := make([]float64, 4+v.Buckets)
	vec[0] = rec.Quality
	vec[1] = rec.Satisfaction
	vec[2] = 1 / (1 + rec.ResponseTimeMs/1000)
	if rec.FollowedUp {
		vec[3] = 1
	}
	for _, tok := range strings.Fields(strings.ToLower(rec.Input)) {
		vec[4+hashToken(tok)%v.Buckets]++
	}
	return vec
}

// hashToken is FNV-1a over the token bytes.
func hashToken(tok string) int {
	const (
		offset = 2166136261
		prime  = 16777619
	)
	h := uint32(offset)
	for i := 0; i < len(tok); i++ {
		h ^= uint32(tok[i])
		h *= prime
	}
	return int(h & 0x7fffffff)
}

// SimulatedFitter is the default fitter. It models loss as exponential
// decay toward a floor set by feature variance, which gives sessions
// realistic convergence curves without a model runtime.
type SimulatedFitter struct{}

// Fit runs the simulated epochs. One progress report per epoch.
func (SimulatedFitter) Fit(ctx context.Context, vectors [][]float64, epochs int, progress ProgressFunc) (EpochReport, error) {
	if len(vectors) == 0 {
		return EpochReport{}, fmt.Errorf("no vectors to fit")
	}
	if epochs < 1 {
		epochs = 1
	}

	floor := lossFloor(vectors)
	var last EpochReport
	for epoch := 1; epoch <= epochs; epoch++ {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		default:
		}

		decay := math.Exp(-0.5 * float64(epoch))
		loss := floor + (1-floor)*decay
		last = EpochReport{
			Epoch:    epoch,
			Loss:     loss,
			Accuracy: 1 - loss,
		}
		if progress != nil {
			if err := progress(last); err != nil {
				return last, err
			}
		}
	}
	return last, nil
}

// lossFloor derives the irreducible loss from the variance of the
// quality feature. Noisier data bottoms out higher.
func lossFloor(vectors [][]float64) float64 {
	var sum, sumSq float64
	for _, vec := range vectors {
		q := vec[0]
		sum += q
		sumSq += q * q
	}
	n := float64(len(vectors))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	floor := 0.02 + variance
	if floor > 0.5 {
		floor = 0.5
	}
	return floor
}

var (
	_ Vectorizer  = (*BagVectorizer)(nil)
	_ ModelFitter = SimulatedFitter{}
)
