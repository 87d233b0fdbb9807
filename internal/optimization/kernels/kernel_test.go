package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRBFEval(t *testing.T) {
	k := NewRBF(1.0, 2.0)

	// At zero distance the kernel returns the signal variance.
	assert.InDelta(t, 2.0, k.Eval([]float64{1, 2}, []float64{1, 2}), 1e-12)

	// Known value: |x1-x2|^2 = 2, l = 1 -> 2 * exp(-1).
	got := k.Eval([]float64{0, 0}, []float64{1, 1})
	assert.InDelta(t, 2.0*math.Exp(-1), got, 1e-12)

	// Symmetry and monotone decay with distance.
	assert.Equal(t, k.Eval([]float64{0}, []float64{3}), k.Eval([]float64{3}, []float64{0}))
	assert.Greater(t, k.Eval([]float64{0}, []float64{1}), k.Eval([]float64{0}, []float64{2}))
}

func TestMatern52Eval(t *testing.T) {
	k := NewMatern52(1.0, 1.0)

	assert.InDelta(t, 1.0, k.Eval([]float64{0.5}, []float64{0.5}), 1e-12)

	// Known value at r = 1.
	r := 1.0
	sqrt5 := math.Sqrt(5)
	want := (1 + sqrt5*r + (5.0/3.0)*r*r) * math.Exp(-sqrt5*r)
	assert.InDelta(t, want, k.Eval([]float64{0}, []float64{1}), 1e-12)

	assert.Equal(t, k.Eval([]float64{0, 0}, []float64{1, 2}), k.Eval([]float64{1, 2}, []float64{0, 0}))
	assert.Greater(t, k.Eval([]float64{0}, []float64{0.5}), k.Eval([]float64{0}, []float64{1.5}))
}

func TestLengthScaleControlsDecay(t *testing.T) {
	short := NewRBF(0.5, 1.0)
	long := NewRBF(2.0, 1.0)

	x1, x2 := []float64{0}, []float64{1}
	assert.Less(t, short.Eval(x1, x2), long.Eval(x1, x2))
}

func TestHyperparameterRoundTrip(t *testing.T) {
	for _, k := range []Kernel{NewRBF(1, 1), NewMatern52(1, 1)} {
		assert.NoError(t, k.SetHyperparameters([]float64{2.5, 0.5}))
		assert.Equal(t, []float64{2.5, 0.5}, k.Hyperparameters())

		assert.Error(t, k.SetHyperparameters([]float64{1}))
		assert.Error(t, k.SetHyperparameters([]float64{-1, 1}))
		assert.Error(t, k.SetHyperparameters([]float64{1, 0}))
		// Rejected updates leave the kernel untouched.
		assert.Equal(t, []float64{2.5, 0.5}, k.Hyperparameters())
	}
}

func TestConstructorsPanicOnInvalidParameters(t *testing.T) {
	assert.Panics(t, func() { NewRBF(0, 1) })
	assert.Panics(t, func() { NewRBF(1, -1) })
	assert.Panics(t, func() { NewMatern52(-1, 1) })
	assert.Panics(t, func() { NewMatern52(1, 0) })
}
