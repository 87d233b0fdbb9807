package space

import (
	"math"

	"github.com/crestlabs/crest/internal/optimization"
)

// BoundsTransformer shrinks or shifts the search domain between iterations.
// Transform is invoked once per completed iteration with the current store
// and returns the domain to use for all subsequent clipping and sampling.
// Already-stored observations are never altered.
type BoundsTransformer interface {
	Transform(s *Space) (optimization.Bounds, error)
}

// DomainReducer implements progressive trust-region reduction: the window
// around the incumbent pans when successive optima keep moving the same way
// and oscillates (contracts) when they alternate, with the window never
// shrinking below MinimumWindow per dimension and never leaving the original
// domain.
type DomainReducer struct {
	// GammaOsc is the shrinkage applied when successive optima oscillate.
	GammaOsc float64
	// GammaPan is the panning rate applied when successive optima agree.
	GammaPan float64
	// Eta is the zoom-in contraction rate.
	Eta float64
	// MinimumWindow is the smallest allowed per-dimension interval width.
	MinimumWindow float64

	global      optimization.Bounds
	window      []float64
	prevOptimal []float64
	prevDelta   []float64
	primed      bool
}

// NewDomainReducer creates a reducer with the conventional defaults
// (gamma_osc 0.7, gamma_pan 1.0, eta 0.9).
func NewDomainReducer(minimumWindow float64) *DomainReducer {
	return &DomainReducer{
		GammaOsc:      0.7,
		GammaPan:      1.0,
		Eta:           0.9,
		MinimumWindow: minimumWindow,
	}
}

// Transform computes the reduced domain from the store's incumbent. Before
// any observation exists the domain is returned unchanged.
func (r *DomainReducer) Transform(s *Space) (optimization.Bounds, error) {
	bounds := s.Bounds()
	best, ok := s.Max()
	if !ok {
		return bounds, nil
	}

	if !r.primed {
		r.prime(bounds)
	}

	d := len(r.global)
	if len(best.Params) != d {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidDimension,
			"incumbent has %d entries, domain has %d", len(best.Params), d).
			WithComponent("domain_reducer").WithOperation("Transform")
	}

	delta := make([]float64, d)
	for i := 0; i < d; i++ {
		span := r.global[i].High - r.global[i].Low
		if span <= 0 {
			delta[i] = 0
			continue
		}
		delta[i] = 2.0 * (best.Params[i] - r.prevOptimal[i]) / span
	}

	for i := 0; i < d; i++ {
		c := delta[i] * r.prevDelta[i]
		cHat := math.Sqrt(math.Abs(c)) * sign(c)
		gamma := 0.5 * (r.GammaPan*(1.0+cHat) + r.GammaOsc*(1.0-cHat))
		contraction := r.Eta + math.Abs(delta[i])*(gamma-r.Eta)
		r.window[i] *= contraction
		if r.window[i] < r.MinimumWindow {
			r.window[i] = r.MinimumWindow
		}
	}

	copy(r.prevOptimal, best.Params)
	copy(r.prevDelta, delta)

	out := make(optimization.Bounds, d)
	for i := 0; i < d; i++ {
		lo := best.Params[i] - 0.5*r.window[i]
		hi := best.Params[i] + 0.5*r.window[i]
		// Pan back inside the original domain rather than truncating the
		// window on one side only.
		if lo < r.global[i].Low {
			hi += r.global[i].Low - lo
			lo = r.global[i].Low
		}
		if hi > r.global[i].High {
			lo -= hi - r.global[i].High
			hi = r.global[i].High
		}
		if lo < r.global[i].Low {
			lo = r.global[i].Low
		}
		out[i] = optimization.Bound{Name: r.global[i].Name, Low: lo, High: hi}
	}
	return out, nil
}

func (r *DomainReducer) prime(bounds optimization.Bounds) {
	r.global = bounds.Clone()
	d := len(r.global)
	r.window = make([]float64, d)
	r.prevOptimal = make([]float64, d)
	r.prevDelta = make([]float64, d)
	for i, bd := range r.global {
		r.window[i] = bd.High - bd.Low
		// The first movement is measured from the domain midpoint.
		r.prevOptimal[i] = 0.5 * (bd.Low + bd.High)
	}
	r.primed = true
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
