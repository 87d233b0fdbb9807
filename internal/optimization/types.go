// Package optimization defines the shared types for sequential model-based
// maximization of an expensive black-box function: the bounded parameter
// domain, observations of the objective, and the surrogate-model contract.
package optimization

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Bound is one named parameter together with its closed interval [Low, High].
type Bound struct {
	Name string
	Low  float64
	High float64
}

// Bounds is the ordered search domain. The slice order fixes the axis order
// used for every vector representation in the module.
type Bounds []Bound

// Dim returns the dimensionality of the domain.
func (b Bounds) Dim() int { return len(b) }

// Names returns the parameter names in axis order.
func (b Bounds) Names() []string {
	names := make([]string, len(b))
	for i, bd := range b {
		names[i] = bd.Name
	}
	return names
}

// Validate checks that the domain is non-empty, every interval satisfies
// Low <= High with finite endpoints, and no name repeats.
func (b Bounds) Validate() error {
	if len(b) == 0 {
		return NewError("bounds must contain at least one parameter").WithComponent("bounds")
	}
	seen := make(map[string]struct{}, len(b))
	for _, bd := range b {
		if bd.Name == "" {
			return NewError("bound name must not be empty").WithComponent("bounds")
		}
		if _, dup := seen[bd.Name]; dup {
			return NewErrorf("duplicate bound name %q", bd.Name).WithComponent("bounds")
		}
		seen[bd.Name] = struct{}{}
		if math.IsNaN(bd.Low) || math.IsNaN(bd.High) || math.IsInf(bd.Low, 0) || math.IsInf(bd.High, 0) {
			return NewErrorf("bound %q has non-finite interval [%v, %v]", bd.Name, bd.Low, bd.High).WithComponent("bounds")
		}
		if bd.Low > bd.High {
			return NewErrorf("bound %q has low %v > high %v", bd.Name, bd.Low, bd.High).WithComponent("bounds")
		}
	}
	return nil
}

// Clip clamps x into the domain in place and returns it.
func (b Bounds) Clip(x []float64) []float64 {
	for i := range x {
		if i >= len(b) {
			break
		}
		x[i] = math.Max(b[i].Low, math.Min(x[i], b[i].High))
	}
	return x
}

// Contains reports whether x lies inside the domain. A length mismatch is
// always outside.
func (b Bounds) Contains(x []float64) bool {
	if len(x) != len(b) {
		return false
	}
	for i, v := range x {
		if v < b[i].Low || v > b[i].High {
			return false
		}
	}
	return true
}

// Sample draws one point independently and uniformly per dimension.
func (b Bounds) Sample(rng *rand.Rand) []float64 {
	x := make([]float64, len(b))
	for i, bd := range b {
		x[i] = bd.Low + rng.Float64()*(bd.High-bd.Low)
	}
	return x
}

// ToVector converts a name-keyed parameter assignment into axis order.
// Missing names are an InvalidDimension error.
func (b Bounds) ToVector(params map[string]float64) ([]float64, error) {
	if len(params) != len(b) {
		return nil, WrapErrorf(ErrInvalidDimension, "got %d parameters, domain has %d", len(params), len(b))
	}
	x := make([]float64, len(b))
	for i, bd := range b {
		v, ok := params[bd.Name]
		if !ok {
			return nil, WrapErrorf(ErrInvalidDimension, "missing parameter %q", bd.Name)
		}
		x[i] = v
	}
	return x, nil
}

// ToMap converts an axis-ordered vector into a name-keyed assignment.
func (b Bounds) ToMap(x []float64) (map[string]float64, error) {
	if len(x) != len(b) {
		return nil, WrapErrorf(ErrInvalidDimension, "vector has %d entries, domain has %d", len(x), len(b))
	}
	params := make(map[string]float64, len(b))
	for i, bd := range b {
		params[bd.Name] = x[i]
	}
	return params, nil
}

// Clone returns an independent copy of the domain.
func (b Bounds) Clone() Bounds {
	out := make(Bounds, len(b))
	copy(out, b)
	return out
}

// Observation is one probed parameter vector and its observed target value.
// Params always lies inside the bounds that were current at registration.
type Observation struct {
	Params []float64
	Target float64
}

// ObjectiveFunc evaluates the black-box objective at a named parameter
// assignment. A non-nil error marks the evaluation as failed; failed
// evaluations are discarded and never stored.
type ObjectiveFunc func(params map[string]float64) (float64, error)

// Surrogate is the probabilistic regression model the engine fits over the
// observation history. Predict returns the predictive mean and standard
// deviation for each row of X.
type Surrogate interface {
	Fit(X *mat.Dense, y *mat.VecDense) error
	Predict(X *mat.Dense) (mean, std *mat.VecDense, err error)
}
