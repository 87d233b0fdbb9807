// Package space implements the deduplicating, bounded-domain storage of
// probed parameter vectors and their observed target values. It is the
// ground truth the surrogate model is fit against.
package space

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/crestlabs/crest/internal/optimization"
)

// Space stores observations in insertion order under an exact-match key on
// the clipped parameter vector. Registering a vector that is already present
// overwrites its target (last write wins); the store never grows on such an
// overwrite. A single writer mutates the store at a time; readers take
// point-in-time snapshots.
type Space struct {
	mu      sync.RWMutex
	bounds  optimization.Bounds
	params  [][]float64
	targets []float64
	index   map[string]int
	best    int // slot of the running maximum, -1 when empty
	version uint64
}

// New creates an empty store over the given domain.
func New(bounds optimization.Bounds) (*Space, error) {
	if err := bounds.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid bounds").WithComponent("space")
	}
	return &Space{
		bounds: bounds.Clone(),
		index:  make(map[string]int),
		best:   -1,
	}, nil
}

// Dim returns the dimensionality of the domain.
func (s *Space) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bounds.Dim()
}

// Len returns the number of distinct stored observations.
func (s *Space) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.params)
}

// Bounds returns a copy of the current domain.
func (s *Space) Bounds() optimization.Bounds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bounds.Clone()
}

// SetBounds replaces the domain. The new bounds must keep the same
// dimensionality and axis order; previously stored observations are retained
// as given and only future clipping and sampling use the new intervals.
func (s *Space) SetBounds(bounds optimization.Bounds) error {
	if err := bounds.Validate(); err != nil {
		return optimization.WrapError(err, "invalid bounds").WithComponent("space").WithOperation("SetBounds")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bounds.Dim() != s.bounds.Dim() {
		return optimization.WrapErrorf(optimization.ErrInvalidDimension,
			"bounds update has %d dimensions, domain has %d", bounds.Dim(), s.bounds.Dim()).
			WithComponent("space").WithOperation("SetBounds")
	}
	for i, bd := range bounds {
		if bd.Name != s.bounds[i].Name {
			return optimization.NewErrorf("bounds update renames axis %d from %q to %q",
				i, s.bounds[i].Name, bd.Name).WithComponent("space").WithOperation("SetBounds")
		}
	}
	s.bounds = bounds.Clone()
	return nil
}

// Add clips params into the domain and records the observation. A vector
// already present has its target overwritten in place. Non-finite targets
// and dimension mismatches are rejected with the store unmodified.
func (s *Space) Add(params []float64, target float64) error {
	const op = "Add"

	if math.IsNaN(target) || math.IsInf(target, 0) {
		return optimization.WrapErrorf(optimization.ErrNonFiniteTarget, "target %v", target).
			WithComponent("space").WithOperation(op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(params) != s.bounds.Dim() {
		return optimization.WrapErrorf(optimization.ErrInvalidDimension,
			"vector has %d entries, domain has %d", len(params), s.bounds.Dim()).
			WithComponent("space").WithOperation(op)
	}

	clipped := s.bounds.Clip(append([]float64(nil), params...))
	key := vectorKey(clipped)

	if slot, ok := s.index[key]; ok {
		// Last write wins. Re-probing the same point with a different
		// realization of a noisy objective is legitimate.
		wasBest := slot == s.best
		s.targets[slot] = target
		if s.best < 0 || target > s.targets[s.best] {
			s.best = slot
		} else if wasBest {
			s.best = argmax(s.targets)
		}
		s.version++
		return nil
	}

	s.params = append(s.params, clipped)
	s.targets = append(s.targets, target)
	slot := len(s.params) - 1
	s.index[key] = slot
	if s.best < 0 || target > s.targets[s.best] {
		s.best = slot
	}
	s.version++
	return nil
}

// Contains reports whether the clipped vector is already registered.
// Equality is exact value match, no tolerance.
func (s *Space) Contains(params []float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(params) != s.bounds.Dim() {
		return false
	}
	clipped := s.bounds.Clip(append([]float64(nil), params...))
	_, ok := s.index[vectorKey(clipped)]
	return ok
}

// AsArrays returns all observations in insertion order as a design matrix
// and target vector. The returned data is an independent snapshot; it
// returns (nil, nil) when the store is empty.
func (s *Space) AsArrays() (*mat.Dense, *mat.VecDense) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.params)
	if n == 0 {
		return nil, nil
	}
	d := s.bounds.Dim()
	X := mat.NewDense(n, d, nil)
	y := mat.NewVecDense(n, nil)
	for i, row := range s.params {
		X.SetRow(i, row)
		y.SetVec(i, s.targets[i])
	}
	return X, y
}

// Max returns the best observation so far. ok is false when the store is
// empty; that is a valid state, not an error.
func (s *Space) Max() (optimization.Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.best < 0 {
		return optimization.Observation{}, false
	}
	return optimization.Observation{
		Params: append([]float64(nil), s.params[s.best]...),
		Target: s.targets[s.best],
	}, true
}

// RandomPoint draws one point uniformly from the current domain.
func (s *Space) RandomPoint(rng *rand.Rand) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bounds.Sample(rng)
}

// Version increments on every successful Add. The engine uses it to decide
// when the surrogate fit is stale.
func (s *Space) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// vectorKey derives the exact-match key from a clipped vector. The bit-level
// float encoding makes equality canonical without tolerating rounding noise.
func vectorKey(x []float64) string {
	var sb strings.Builder
	for i, v := range x {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(v, 'b', -1, 64))
	}
	return sb.String()
}

func argmax(xs []float64) int {
	best := -1
	bestVal := math.Inf(-1)
	for i, v := range xs {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return best
}
