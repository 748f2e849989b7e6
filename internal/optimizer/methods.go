package optimizer

import (
	"context"
	"math"
	"sort"
)

// Gradient descent parameters.
const (
	gdMaxIterations = 100
	gdTolerance     = 1e-4
)

// gradientDescent climbs the evaluator score with a finite-difference
// gradient, clipping after every step. Stops early once the step size
// falls below tolerance (converged).
func (o *Optimizer) gradientDescent(ctx context.Context, t *Target) (float64, int, bool, error) {
	lo, hi, err := t.Bounds()
	if err != nil {
		return 0, 0, false, err
	}
	span := hi - lo
	learningRate := 0.01 * span
	h := 0.001 * span

	value := t.Clip(t.CurrentValue)
	best := value
	bestScore, err := o.eval.Evaluate(ctx, t.Name, value)
	if err != nil {
		return 0, 0, false, err
	}

	for i := 0; i < gdMaxIterations; i++ {
		if err := o.step(ctx); err != nil {
			return best, i, false, err
		}

		fwd, err := o.eval.Evaluate(ctx, t.Name, t.Clip(value+h))
		if err != nil {
			return best, i, false, err
		}
		bwd, err := o.eval.Evaluate(ctx, t.Name, t.Clip(value-h))
		if err != nil {
			return best, i, false, err
		}
		grad := (fwd - bwd) / (2 * h)

		step := learningRate * grad
		value = t.Clip(value + step)

		score, err := o.eval.Evaluate(ctx, t.Name, value)
		if err != nil {
			return best, i, false, err
		}
		if score > bestScore {
			bestScore = score
			best = value
		}

		if math.Abs(step) < gdTolerance*span {
			return best, i + 1, true, nil
		}
	}
	return best, gdMaxIterations, false, nil
}

// Genetic algorithm parameters.
const (
	gaPopulation     = 50
	gaGenerations    = 20
	gaTournamentSize = 3
	gaMutationScale  = 0.1
	gaMutationRate   = 0.2
)

// geneticAlgorithm evolves a population of candidate values with
// tournament selection, arithmetic crossover and range-scaled mutation.
// Constraints are re-applied after mutation each generation.
func (o *Optimizer) geneticAlgorithm(ctx context.Context, t *Target) (float64, int, bool, error) {
	lo, hi, err := t.Bounds()
	if err != nil {
		return 0, 0, false, err
	}
	span := hi - lo

	population := make([]float64, gaPopulation)
	for i := range population {
		population[i] = lo + o.rng.Float64()*span
	}
	// Seed the current value so the search never regresses from it.
	population[0] = t.Clip(t.CurrentValue)

	evaluations := 0
	scorePop := func(pop []float64) ([]float64, error) {
		scores := make([]float64, len(pop))
		for i, v := range pop {
			s, err := o.eval.Evaluate(ctx, t.Name, v)
			if err != nil {
				return nil, err
			}
			evaluations++
			scores[i] = s
		}
		return scores, nil
	}

	scores, err := scorePop(population)
	if err != nil {
		return 0, evaluations, false, err
	}

	best, bestScore := population[0], scores[0]
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = population[i], s
		}
	}

	tournament := func(pop, scores []float64) float64 {
		winner := o.rng.Intn(len(pop))
		for k := 1; k < gaTournamentSize; k++ {
			challenger := o.rng.Intn(len(pop))
			if scores[challenger] > scores[winner] {
				winner = challenger
			}
		}
		return pop[winner]
	}

	for gen := 0; gen < gaGenerations; gen++ {
		if err := o.step(ctx); err != nil {
			return best, evaluations, false, err
		}

		next := make([]float64, gaPopulation)
		for i := range next {
			a := tournament(population, scores)
			b := tournament(population, scores)

			// Arithmetic crossover.
			alpha := o.rng.Float64()
			child := alpha*a + (1-alpha)*b

			// Mutation scaled to 10% of the constrained range.
			if o.rng.Float64() < gaMutationRate {
				child += (o.rng.Float64()*2 - 1) * gaMutationScale * span
			}

			next[i] = t.Clip(child)
		}
		population = next

		scores, err = scorePop(population)
		if err != nil {
			return best, evaluations, false, err
		}
		for i, s := range scores {
			if s > bestScore {
				best, bestScore = population[i], s
			}
		}
	}

	return best, evaluations, false, nil
}

// Bayesian optimization parameters.
const (
	boSeedEvaluations = 5
	boRounds          = 30
	boCandidates      = 40
	boKappa           = 2.0
)

// bayesianOptimization seeds with random evaluations, then proposes the
// next point via an upper-confidence-bound acquisition over local-neighbor
// mean and variance. Returns the best-scoring observation.
func (o *Optimizer) bayesianOptimization(ctx context.Context, t *Target) (float64, int, bool, error) {
	lo, hi, err := t.Bounds()
	if err != nil {
		return 0, 0, false, err
	}
	span := hi - lo
	neighborhood := span / 10

	type observation struct {
		value float64
		score float64
	}
	var observed []observation

	observe := func(v float64) error {
		s, err := o.eval.Evaluate(ctx, t.Name, v)
		if err != nil {
			return err
		}
		observed = append(observed, observation{value: v, score: s})
		return nil
	}

	// Random seed evaluations, always including the current value.
	if err := observe(t.Clip(t.CurrentValue)); err != nil {
		return 0, len(observed), false, err
	}
	for i := 1; i < boSeedEvaluations; i++ {
		if err := observe(lo + o.rng.Float64()*span); err != nil {
			return 0, len(observed), false, err
		}
	}

	// localStats computes mean/variance of observations near v.
	localStats := func(v float64) (mean, variance float64, n int) {
		var sum, sumSq float64
		for _, ob := range observed {
			if math.Abs(ob.value-v) <= neighborhood {
				sum += ob.score
				sumSq += ob.score * ob.score
				n++
			}
		}
		if n == 0 {
			return 0, 1, 0 // Unexplored: maximal uncertainty.
		}
		mean = sum / float64(n)
		variance = sumSq/float64(n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		return mean, variance, n
	}

	for round := 0; round < boRounds; round++ {
		if err := o.step(ctx); err != nil {
			break
		}

		// Pick the candidate with the highest UCB acquisition value.
		bestCandidate, bestAcq := 0.0, math.Inf(-1)
		for c := 0; c < boCandidates; c++ {
			v := lo + o.rng.Float64()*span
			mean, variance, n := localStats(v)
			acq := mean + boKappa*math.Sqrt(variance)
			if n == 0 {
				// Bias toward unexplored regions.
				acq = boKappa
			}
			if acq > bestAcq {
				bestAcq, bestCandidate = acq, v
			}
		}

		if err := observe(bestCandidate); err != nil {
			return 0, len(observed), false, err
		}
	}

	sort.Slice(observed, func(i, j int) bool {
		return observed[i].score > observed[j].score
	})
	return observed[0].value, len(observed), false, nil
}

// Grid search parameters.
const gridSteps = 20

// gridSearch evaluates 20 uniform steps across the constrained range and
// returns the max-scoring value.
func (o *Optimizer) gridSearch(ctx context.Context, t *Target) (float64, int, bool, error) {
	lo, hi, err := t.Bounds()
	if err != nil {
		return 0, 0, false, err
	}
	stride := (hi - lo) / float64(gridSteps-1)

	best, bestScore := lo, math.Inf(-1)
	for i := 0; i < gridSteps; i++ {
		if err := o.step(ctx); err != nil {
			return best, i, false, err
		}
		v := lo + float64(i)*stride
		score, err := o.eval.Evaluate(ctx, t.Name, v)
		if err != nil {
			return best, i, false, err
		}
		if score > bestScore {
			best, bestScore = v, score
		}
	}
	return best, gridSteps, false, nil
}
