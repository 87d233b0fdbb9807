// Package search maximizes an acquisition function over the bounded domain
// with random warm sampling followed by multi-start local refinement.
package search

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/crestlabs/crest/internal/optimization"
	"github.com/crestlabs/crest/internal/optimization/acquisition"
	"github.com/crestlabs/crest/internal/optimization/space"
)

const (
	defaultWarmup   = 1000
	defaultRestarts = 10

	// How many times a duplicate result is replaced with a fresh uniform
	// draw before the last draw is returned unconditionally, so Maximize
	// always terminates.
	maxResample = 10
)

// Maximizer finds the point in the domain that approximately maximizes an
// acquisition score, avoiding points the store has already recorded.
// The acquisition surface is smooth but multi-modal, so purely local search
// gets stuck; the warm random phase locates a promising basin and the local
// restarts polish it.
type Maximizer struct {
	warmup   int
	restarts int
	rng      *rand.Rand
}

// New creates a Maximizer. Non-positive warmup or restarts fall back to the
// defaults (1000 warm draws, 10 restarts).
func New(warmup, restarts int, rng *rand.Rand) *Maximizer {
	if warmup < 1 {
		warmup = defaultWarmup
	}
	if restarts < 1 {
		restarts = defaultRestarts
	}
	return &Maximizer{warmup: warmup, restarts: restarts, rng: rng}
}

// Maximize returns the in-bounds point maximizing acq under the fitted
// model, given the store's current domain and incumbent. The result is
// clipped into bounds and guaranteed not to duplicate a stored point unless
// every resampling attempt collides too.
func (m *Maximizer) Maximize(acq *acquisition.Function, model optimization.Surrogate, sp *space.Space) ([]float64, error) {
	const op = "Maximize"

	bounds := sp.Bounds()
	d := bounds.Dim()

	best := math.Inf(-1)
	if obs, ok := sp.Max(); ok {
		best = obs.Target
	}

	// Phase 1: warm start. One batched prediction over uniform draws.
	warm := mat.NewDense(m.warmup, d, nil)
	for i := 0; i < m.warmup; i++ {
		warm.SetRow(i, bounds.Sample(m.rng))
	}
	mean, std, err := model.Predict(warm)
	if err != nil {
		return nil, optimization.WrapError(err, "warm-start prediction failed").
			WithComponent("search").WithOperation(op)
	}
	scores := acq.Score(mean, std, best)

	incumbent := make([]float64, d)
	incumbentScore := math.Inf(-1)
	for i, s := range scores {
		if s > incumbentScore {
			incumbentScore = s
			copy(incumbent, warm.RawRowView(i))
		}
	}

	// Phase 2: local refinement. Nelder-Mead is derivative-free and the
	// problem clamps iterates into bounds, matching the box constraint.
	negScore := func(x []float64) float64 {
		bounds.Clip(x)
		row := mat.NewDense(1, d, x)
		mu, sigma, err := model.Predict(row)
		if err != nil {
			return math.Inf(1)
		}
		return -acq.Compute(mu.AtVec(0), sigma.AtVec(0), best)
	}

	problem := optimize.Problem{Func: negScore}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-8,
			Relative:   1e-8,
			Iterations: 100,
		},
	}

	seeds := make([][]float64, 0, m.restarts+1)
	seeds = append(seeds, append([]float64(nil), incumbent...))
	for i := 0; i < m.restarts; i++ {
		seeds = append(seeds, bounds.Sample(m.rng))
	}

	chosen := append([]float64(nil), incumbent...)
	chosenScore := incumbentScore
	for _, seed := range seeds {
		method := &optimize.NelderMead{}
		result, err := optimize.Minimize(problem, seed, settings, method)
		if err != nil || result == nil {
			continue
		}
		if score := -result.F; score > chosenScore {
			chosenScore = score
			copy(chosen, result.X)
		}
	}

	// Round-off from the local steps can leave the result a hair outside.
	bounds.Clip(chosen)

	// Duplicate guard: exact duplicates destabilize the surrogate fit, so
	// replace with fresh uniform draws, bounded so Maximize terminates.
	for attempt := 0; attempt < maxResample && sp.Contains(chosen); attempt++ {
		chosen = sp.RandomPoint(m.rng)
	}

	return chosen, nil
}
