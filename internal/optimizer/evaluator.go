package optimizer

import (
	"context"
	"math"

	"github.com/haldanelabs/learnd/internal/store"
)

// evalWindow is the number of recent interactions the default evaluator
// grounds its scores in.
const evalWindow = 200

// DefaultEvaluator scores candidate target values against the recent
// interaction history. Each target maps its candidate onto an observed
// anchor so the score peaks where the data says performance is best:
//
//   - response_time: scored against the observed mean response time,
//     with faster anchored values scoring higher.
//   - user_satisfaction: scored by proximity to the observed mean
//     satisfaction plus headroom, so reachable improvements score well.
//   - other targets: scored by proximity to the observed mean quality.
//
// With no history the evaluator falls back to a smooth unimodal curve so
// optimization runs stay well defined in an empty system.
func DefaultEvaluator(interactions store.InteractionStore) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, target string, value float64) (float64, error) {
		records, err := interactions.Recent(ctx, evalWindow)
		if err != nil {
			return 0, err
		}

		switch target {
		case "response_time":
			anchor := 1000.0
			if len(records) > 0 {
				var sum float64
				for _, r := range records {
					sum += r.ResponseTimeMs
				}
				observed := sum / float64(len(records))
				// Aim halfway between observed and the floor.
				anchor = math.Max(observed/2, 500)
			}
			// Lower is better: decay with distance above the anchor.
			return 1 / (1 + math.Abs(value-anchor)/anchor), nil

		case "user_satisfaction":
			anchor := 0.9
			if len(records) > 0 {
				var sum float64
				for _, r := range records {
					sum += r.Satisfaction
				}
				anchor = math.Min(sum/float64(len(records))+0.1, 1)
			}
			return gaussian(value, anchor, 0.2), nil

		default:
			anchor := 0.85
			if len(records) > 0 {
				var sum float64
				for _, r := range records {
					sum += r.Quality
				}
				anchor = math.Min(sum/float64(len(records))+0.1, 1)
			}
			return gaussian(value, anchor, 0.25), nil
		}
	})
}

// gaussian is a unimodal score peaking at mu.
func gaussian(v, mu, sigma float64) float64 {
	d := (v - mu) / sigma
	return math.Exp(-0.5 * d * d)
}
