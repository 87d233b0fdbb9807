package space

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestlabs/crest/internal/optimization"
)

func TestDomainReducerNoObservations(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)

	r := NewDomainReducer(0.0)
	out, err := r.Transform(s)
	require.NoError(t, err)
	assert.Equal(t, s.Bounds(), out, "empty store leaves the domain untouched")
}

func TestDomainReducerShrinksTowardIncumbent(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)
	require.NoError(t, s.Add([]float64{1, -1}, 2.0))

	r := NewDomainReducer(0.0)
	bounds := s.Bounds()
	for i := 0; i < 8; i++ {
		bounds, err = r.Transform(s)
		require.NoError(t, err)
		require.NoError(t, s.SetBounds(bounds))
	}

	orig := testBounds()
	for i, bd := range bounds {
		width := bd.High - bd.Low
		origWidth := orig[i].High - orig[i].Low
		assert.Less(t, width, origWidth, "axis %q did not contract", bd.Name)
		// The window stays centered near the stationary incumbent.
		assert.GreaterOrEqual(t, 1.0, bd.Low)
		assert.LessOrEqual(t, 1.0, bd.High)
	}
}

func TestDomainReducerRespectsMinimumWindow(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)
	require.NoError(t, s.Add([]float64{0, 0}, 1.0))

	const minWindow = 1.5
	r := NewDomainReducer(minWindow)
	var bounds optimization.Bounds
	for i := 0; i < 50; i++ {
		bounds, err = r.Transform(s)
		require.NoError(t, err)
		require.NoError(t, s.SetBounds(bounds))
	}

	for _, bd := range bounds {
		assert.GreaterOrEqual(t, bd.High-bd.Low, minWindow-1e-12, "axis %q shrank below the floor", bd.Name)
	}
}

func TestDomainReducerStaysInsideGlobalBounds(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)
	// Incumbent pinned at a corner of the domain.
	require.NoError(t, s.Add([]float64{2, 3}, 1.0))

	r := NewDomainReducer(0.5)
	global := s.Bounds()
	for i := 0; i < 10; i++ {
		bounds, err := r.Transform(s)
		require.NoError(t, err)
		for j, bd := range bounds {
			assert.GreaterOrEqual(t, bd.Low, global[j].Low-1e-12)
			assert.LessOrEqual(t, bd.High, global[j].High+1e-12)
			assert.LessOrEqual(t, bd.Low, bd.High)
		}
		require.NoError(t, s.SetBounds(bounds))
	}
}

func TestDomainReducerPreservesAxisNames(t *testing.T) {
	s, err := New(testBounds())
	require.NoError(t, err)
	require.NoError(t, s.Add([]float64{0.5, 0.5}, 1.0))

	r := NewDomainReducer(0.0)
	bounds, err := r.Transform(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, bounds.Names())
}
