// Package acquisition converts a surrogate's predictive distribution into a
// scalar "value of probing here" score.
package acquisition

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/crestlabs/crest/internal/optimization"
)

// Kind selects the scoring policy.
type Kind string

const (
	// UCB scores mean + kappa*std. Well-defined even against a flat prior.
	UCB Kind = "ucb"
	// EI scores the expected improvement over the best observed target.
	EI Kind = "ei"
	// POI scores the probability of improving on the best observed target.
	POI Kind = "poi"
)

// Standard deviations numerically indistinguishable from zero are treated
// as exactly zero, so EI and POI never divide by them.
const stdFloor = 1e-12

// Function scores candidate points. Scoring itself is pure; the optional
// kappa decay schedule mutates only the function's own state and fires at
// most once per suggestion via Decay.
type Function struct {
	kind  Kind
	kappa float64
	xi    float64

	decayRate  float64
	decayDelay int
	kappaMin   float64
	iterations int
}

// New creates an acquisition function. kappa is the UCB exploration weight,
// xi the EI/POI improvement margin.
func New(kind Kind, kappa, xi float64) (*Function, error) {
	switch kind {
	case UCB, EI, POI:
	default:
		return nil, optimization.NewErrorf("unknown acquisition kind %q", kind).
			WithComponent("acquisition")
	}
	if kappa < 0 {
		return nil, optimization.NewErrorf("kappa must be non-negative, got %v", kappa).
			WithComponent("acquisition")
	}
	return &Function{kind: kind, kappa: kappa, xi: xi, decayRate: 1.0}, nil
}

// WithDecay installs a kappa decay schedule: after each suggestion beyond
// iteration delay, kappa is multiplied by rate and floored at kappaMin.
// rate must lie in (0, 1].
func (f *Function) WithDecay(rate float64, delay int, kappaMin float64) (*Function, error) {
	if rate <= 0 || rate > 1 {
		return nil, optimization.NewErrorf("decay rate must be in (0, 1], got %v", rate).
			WithComponent("acquisition")
	}
	if kappaMin < 0 {
		kappaMin = 0
	}
	f.decayRate = rate
	f.decayDelay = delay
	f.kappaMin = kappaMin
	return f, nil
}

// Kind returns the scoring policy.
func (f *Function) Kind() Kind { return f.kind }

// Kappa returns the current exploration weight.
func (f *Function) Kappa() float64 { return f.kappa }

// Xi returns the improvement margin.
func (f *Function) Xi() float64 { return f.xi }

// Decay advances the schedule by exactly one suggestion. It is a no-op
// until the decay delay has passed and never pushes kappa below the floor.
func (f *Function) Decay() {
	f.iterations++
	if f.decayRate >= 1.0 {
		return
	}
	if f.iterations <= f.decayDelay {
		return
	}
	f.kappa = math.Max(f.kappa*f.decayRate, f.kappaMin)
}

// Compute scores a single predictive (mean, std) pair against the best
// observed target. It is a pure function of its inputs.
func (f *Function) Compute(mean, std, best float64) float64 {
	switch f.kind {
	case UCB:
		return mean + f.kappa*std
	case EI:
		if std <= stdFloor {
			return 0
		}
		improvement := mean - best - f.xi
		z := improvement / std
		norm := distuv.UnitNormal
		return improvement*norm.CDF(z) + std*norm.Prob(z)
	case POI:
		if std <= stdFloor {
			return 0
		}
		z := (mean - best - f.xi) / std
		return distuv.UnitNormal.CDF(z)
	}
	return math.Inf(-1)
}

// Score evaluates all candidate predictions in one call, returning one score
// per row.
func (f *Function) Score(mean, std *mat.VecDense, best float64) []float64 {
	n := mean.Len()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = f.Compute(mean.AtVec(i), std.AtVec(i), best)
	}
	return out
}
