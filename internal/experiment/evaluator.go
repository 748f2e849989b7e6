package experiment

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strconv"

	"github.com/haldanelabs/learnd/internal/store"
)

// evalWindow is the number of recent interactions the default evaluator
// grounds its scores in.
const evalWindow = 200

// DefaultEvaluator scores experiment arms against the recent interaction
// history. The baseline is the observed mean satisfaction; each arm
// shifts the baseline by a small deterministic offset derived from its
// assignment, so identical assignments always score identically and
// distinct arms are reliably separable.
//
// With no history the baseline is a neutral 0.7.
func DefaultEvaluator(interactions store.InteractionStore) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, metric string, assignment map[string]any) (float64, error) {
		records, err := interactions.Recent(ctx, evalWindow)
		if err != nil {
			return 0, err
		}

		baseline := 0.7
		if len(records) > 0 {
			var sum float64
			for _, r := range records {
				switch metric {
				case "response_time":
					sum += 1 / (1 + r.ResponseTimeMs/1000)
				case "engagement":
					if r.FollowedUp {
						sum++
					}
				default:
					sum += r.Satisfaction
				}
			}
			baseline = sum / float64(len(records))
		}

		offset := assignmentOffset(metric, assignment)
		return math.Max(0, math.Min(1, baseline+offset)), nil
	})
}

// assignmentOffset maps an assignment to a stable offset in
// [-0.05, 0.05]. Keys are sorted so map iteration order cannot change
// the score.
func assignmentOffset(metric string, assignment map[string]any) float64 {
	h := fnv.New64a()
	h.Write([]byte(metric))

	keys := make([]string, 0, len(assignment))
	for k := range assignment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(valueString(assignment[k])))
	}

	// Scale the hash into [-0.05, 0.05].
	frac := float64(h.Sum64()%1000) / 1000
	return (frac - 0.5) * 0.1
}

// valueString renders an assignment value for hashing.
func valueString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return "?"
	}
}
