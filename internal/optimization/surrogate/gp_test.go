package surrogate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/crestlabs/crest/internal/optimization/kernels"
)

func fitTestGP(t *testing.T, X *mat.Dense, y *mat.VecDense) *GP {
	t.Helper()
	gp := NewGP(kernels.NewMatern52(1.0, 1.0), 1e-6)
	require.NoError(t, gp.Fit(X, y))
	return gp
}

func TestGPFitValidation(t *testing.T) {
	gp := NewGP(kernels.NewRBF(1.0, 1.0), 1e-6)

	assert.Error(t, gp.Fit(nil, nil))
	assert.Error(t, gp.Fit(mat.NewDense(2, 1, []float64{0, 1}), mat.NewVecDense(3, nil)))
}

func TestGPPredictBeforeFit(t *testing.T) {
	gp := NewGP(kernels.NewRBF(1.0, 1.0), 1e-6)
	_, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0}))
	assert.Error(t, err)
}

func TestGPInterpolatesTrainingPoints(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{-1, 0, 1, 2})
	y := mat.NewVecDense(4, []float64{1, 0, 1, 4})
	gp := fitTestGP(t, X, y)

	mean, std, err := gp.Predict(X)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		// With tiny observation noise the posterior passes near the data
		// with little residual uncertainty.
		assert.InDelta(t, y.AtVec(i), mean.AtVec(i), 0.05, "mean at training point %d", i)
		assert.Less(t, std.AtVec(i), 0.1, "std at training point %d", i)
	}
}

func TestGPUncertaintyGrowsAwayFromData(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{-1, 0, 1})
	y := mat.NewVecDense(3, []float64{0.5, 1.0, 0.5})
	gp := fitTestGP(t, X, y)

	_, std, err := gp.Predict(mat.NewDense(2, 1, []float64{0.1, 5.0}))
	require.NoError(t, err)
	assert.Less(t, std.AtVec(0), std.AtVec(1), "far point must be more uncertain than a near one")
}

func TestGPStdIsNeverNegative(t *testing.T) {
	X := mat.NewDense(5, 1, []float64{0, 0.25, 0.5, 0.75, 1})
	y := mat.NewVecDense(5, []float64{0, 1, 0, 1, 0})
	gp := fitTestGP(t, X, y)

	grid := mat.NewDense(50, 1, nil)
	for i := 0; i < 50; i++ {
		grid.Set(i, 0, -1+float64(i)*0.06)
	}
	_, std, err := gp.Predict(grid)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		assert.GreaterOrEqual(t, std.AtVec(i), 0.0)
	}
}

func TestGPToleratesNearDuplicateInputs(t *testing.T) {
	// Rows this close produce an ill-conditioned kernel matrix; the jitter
	// escalation has to absorb it.
	X := mat.NewDense(4, 1, []float64{0.5, 0.5 + 1e-12, 0.5 + 2e-12, 1.0})
	y := mat.NewVecDense(4, []float64{1, 1, 1, 2})
	gp := NewGP(kernels.NewRBF(1.0, 1.0), 1e-10)

	require.NoError(t, gp.Fit(X, y))
	mean, _, err := gp.Predict(mat.NewDense(1, 1, []float64{1.0}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, mean.AtVec(0), 0.2)
}

func TestGPPredictDimensionMismatch(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	y := mat.NewVecDense(2, []float64{0, 1})
	gp := fitTestGP(t, X, y)

	_, _, err := gp.Predict(mat.NewDense(1, 3, []float64{0, 0, 0}))
	assert.Error(t, err)
}

func TestGPRefitReplacesTrainingData(t *testing.T) {
	X1 := mat.NewDense(2, 1, []float64{0, 1})
	y1 := mat.NewVecDense(2, []float64{0, 0})
	gp := fitTestGP(t, X1, y1)

	X2 := mat.NewDense(2, 1, []float64{0, 1})
	y2 := mat.NewVecDense(2, []float64{5, 5})
	require.NoError(t, gp.Fit(X2, y2))

	mean, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0.5}))
	require.NoError(t, err)
	assert.Greater(t, mean.AtVec(0), 2.0, "prediction reflects the latest fit only")
}
