package space

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestlabs/crest/internal/optimization"
)

func testBounds() optimization.Bounds {
	return optimization.Bounds{
		{Name: "x", Low: -2, High: 2},
		{Name: "y", Low: -3, High: 3},
	}
}

func TestNewRejectsInvalidBounds(t *testing.T) {
	tests := []struct {
		name   string
		bounds optimization.Bounds
	}{
		{name: "empty", bounds: optimization.Bounds{}},
		{name: "low above high", bounds: optimization.Bounds{{Name: "x", Low: 1, High: 0}}},
		{name: "duplicate name", bounds: optimization.Bounds{
			{Name: "x", Low: 0, High: 1},
			{Name: "x", Low: 2, High: 3},
		}},
		{name: "non-finite endpoint", bounds: optimization.Bounds{
			{Name: "x", Low: 0, High: math.Inf(1)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.bounds)
			assert.Error(t, err)
		})
	}
}

func TestAddClipsOutOfBoundsVectors(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	require.NoError(t, s.Add([]float64{10, -10}, 1.0))

	best, ok := s.Max()
	require.True(t, ok)
	assert.Equal(t, []float64{2, -3}, best.Params)
}

func TestAddRejectsNonFiniteTargets(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	for _, target := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := s.Add([]float64{0, 0}, target)
		assert.ErrorIs(t, err, optimization.ErrNonFiniteTarget)
	}
	assert.Equal(t, 0, s.Len(), "store must be unmodified after a rejected add")
}

func TestAddRejectsDimensionMismatch(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	assert.ErrorIs(t, s.Add([]float64{1}, 0.5), optimization.ErrInvalidDimension)
	assert.ErrorIs(t, s.Add([]float64{1, 2, 3}, 0.5), optimization.ErrInvalidDimension)
	assert.Equal(t, 0, s.Len())
}

func TestAddOverwritesDuplicateWithoutGrowing(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	require.NoError(t, s.Add([]float64{1, 1}, 0.5))
	require.NoError(t, s.Add([]float64{1, 1}, 0.9))

	assert.Equal(t, 1, s.Len())
	best, ok := s.Max()
	require.True(t, ok)
	assert.Equal(t, 0.9, best.Target, "last write wins")
}

func TestAddOverwriteCanLowerTheBest(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	require.NoError(t, s.Add([]float64{0, 0}, 0.3))
	require.NoError(t, s.Add([]float64{1, 1}, 0.9))
	// Overwriting the incumbent with a worse value must hand the lead back.
	require.NoError(t, s.Add([]float64{1, 1}, 0.1))

	best, ok := s.Max()
	require.True(t, ok)
	assert.Equal(t, 0.3, best.Target)
	assert.Equal(t, []float64{0, 0}, best.Params)
}

func TestContainsIsExactMatchAfterClipping(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)
	require.NoError(t, s.Add([]float64{1, 1}, 0.5))

	assert.True(t, s.Contains([]float64{1, 1}))
	// Clipping maps the out-of-bounds query onto a stored point.
	require.NoError(t, s.Add([]float64{2, 3}, 0.1))
	assert.True(t, s.Contains([]float64{5, 7}))

	assert.False(t, s.Contains([]float64{1, 1.0000001}))
	assert.False(t, s.Contains([]float64{1}))
}

func TestMaxOnEmptyStore(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	_, ok := s.Max()
	assert.False(t, ok)
}

func TestAsArraysSnapshot(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	X, y := s.AsArrays()
	assert.Nil(t, X)
	assert.Nil(t, y)

	require.NoError(t, s.Add([]float64{0.5, -1}, 1.5))
	require.NoError(t, s.Add([]float64{-0.5, 2}, -0.5))

	X, y = s.AsArrays()
	require.NotNil(t, X)
	rows, cols := X.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, 0.5, X.At(0, 0))
	assert.Equal(t, -1.0, X.At(0, 1))
	assert.Equal(t, 1.5, y.AtVec(0))
	assert.Equal(t, -0.5, y.AtVec(1))

	// Mutating the snapshot must not touch the store.
	X.Set(0, 0, 99)
	best, ok := s.Max()
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, -1}, best.Params)
}

func TestRandomPointStaysInBounds(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	bounds := s.Bounds()
	for i := 0; i < 200; i++ {
		x := s.RandomPoint(rng)
		assert.True(t, bounds.Contains(x), "draw %v left the domain", x)
	}
}

func TestSetBounds(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)
	require.NoError(t, s.Add([]float64{1.5, 2.5}, 1.0))

	narrower := optimization.Bounds{
		{Name: "x", Low: -1, High: 1},
		{Name: "y", Low: -1, High: 1},
	}
	require.NoError(t, s.SetBounds(narrower))

	// Existing observations are retained as given.
	best, ok := s.Max()
	require.True(t, ok)
	assert.Equal(t, []float64{1.5, 2.5}, best.Params)

	// New adds clip under the new intervals.
	require.NoError(t, s.Add([]float64{1.5, 2.5}, 0.5))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains([]float64{1, 1}))
}

func TestSetBoundsRejectsMismatch(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	err = s.SetBounds(optimization.Bounds{{Name: "x", Low: 0, High: 1}})
	assert.ErrorIs(t, err, optimization.ErrInvalidDimension)

	err = s.SetBounds(optimization.Bounds{
		{Name: "x", Low: 0, High: 1},
		{Name: "z", Low: 0, High: 1},
	})
	assert.Error(t, err)
}

func TestAsArraysRoundTrip(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)
	require.NoError(t, s.Add([]float64{0.5, -1}, 1.5))
	require.NoError(t, s.Add([]float64{-0.5, 2}, -0.5))
	require.NoError(t, s.Add([]float64{1.25, 0}, 0.75))

	// Feeding the snapshot back into a fresh store reproduces it.
	X, y := s.AsArrays()
	fresh, err := New(testBounds())
	require.NoError(t, err)
	rows, _ := X.Dims()
	for i := 0; i < rows; i++ {
		require.NoError(t, fresh.Add(X.RawRowView(i), y.AtVec(i)))
	}

	assert.Equal(t, s.Len(), fresh.Len())
	wantBest, _ := s.Max()
	gotBest, _ := fresh.Max()
	assert.Equal(t, wantBest, gotBest)
	for i := 0; i < rows; i++ {
		assert.True(t, fresh.Contains(X.RawRowView(i)))
	}
}

func TestVersionAdvancesOnEveryAdd(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	v0 := s.Version()
	require.NoError(t, s.Add([]float64{0, 0}, 1.0))
	v1 := s.Version()
	assert.Greater(t, v1, v0)

	// Overwrites bump the version too; the target changed.
	require.NoError(t, s.Add([]float64{0, 0}, 2.0))
	assert.Greater(t, s.Version(), v1)
}
