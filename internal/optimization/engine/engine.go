// Package engine orchestrates the suggest/probe/register protocol on top of
// the observation store, the surrogate model, and the acquisition search.
package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/crestlabs/crest/internal/optimization"
	"github.com/crestlabs/crest/internal/optimization/acquisition"
	"github.com/crestlabs/crest/internal/optimization/event"
	"github.com/crestlabs/crest/internal/optimization/kernels"
	"github.com/crestlabs/crest/internal/optimization/search"
	"github.com/crestlabs/crest/internal/optimization/space"
	"github.com/crestlabs/crest/internal/optimization/surrogate"
)

// State tracks the Maximize loop's progress. Done only marks the loop's
// completion; the engine stays usable for manual Suggest/Register calls.
type State int

const (
	// Idle is the initial state, before any Maximize loop ran.
	Idle State = iota
	// Warmup is the pure random exploration phase.
	Warmup
	// Refine is the surrogate-guided phase.
	Refine
	// Done marks a completed Maximize loop.
	Done
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Warmup:
		return "warmup"
	case Refine:
		return "refine"
	case Done:
		return "done"
	}
	return "unknown"
}

// Config describes a new engine.
type Config struct {
	// Bounds is the search domain. Required.
	Bounds optimization.Bounds

	// Objective evaluates the black-box function during Probe and
	// Maximize. Optional when the caller only uses the decoupled
	// Suggest/Register protocol.
	Objective optimization.ObjectiveFunc

	// Surrogate overrides the default Gaussian process
	// (Matérn 5/2 kernel, noise variance 1e-6).
	Surrogate optimization.Surrogate

	// Transformer, when set, shrinks or shifts the domain once per
	// completed Maximize iteration.
	Transformer space.BoundsTransformer

	// RandomSeed seeds the engine's random source. Zero seeds from the
	// wall clock.
	RandomSeed int64

	// WarmupDraws and Restarts tune the acquisition search. Non-positive
	// values fall back to the search defaults.
	WarmupDraws int
	Restarts    int

	// Logger receives engine and surrogate diagnostics.
	Logger *zap.Logger
}

// Engine owns the observation store and the surrogate handle and drives the
// suggest/probe/register state machine. Suggest and Register may be called
// concurrently from multiple goroutines; Suggest fits against a
// point-in-time snapshot of the store, so a suggestion one registration
// behind fresh is acceptable.
type Engine struct {
	mu        sync.Mutex
	space     *space.Space
	model     optimization.Surrogate
	maximizer *search.Maximizer
	bus       *event.Bus
	rng       *rand.Rand

	objective   optimization.ObjectiveFunc
	transformer space.BoundsTransformer

	hasFit        bool
	fittedVersion uint64

	state  State
	logger *zap.Logger
}

// New creates an engine over the given domain.
func New(cfg Config) (*Engine, error) {
	sp, err := space.New(cfg.Bounds)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")

	model := cfg.Surrogate
	if model == nil {
		model = surrogate.NewGP(kernels.NewMatern52(1.0, 1.0), 1e-6, surrogate.WithLogger(logger))
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	return &Engine{
		space:       sp,
		model:       model,
		maximizer:   search.New(cfg.WarmupDraws, cfg.Restarts, rng),
		bus:         event.NewBus(),
		rng:         rng,
		objective:   cfg.Objective,
		transformer: cfg.Transformer,
		state:       Idle,
		logger:      logger,
	}, nil
}

// Events returns the engine's event bus for subscriptions.
func (e *Engine) Events() *event.Bus { return e.bus }

// Space returns the observation store.
func (e *Engine) Space() *space.Space { return e.space }

// Bounds returns a copy of the current domain.
func (e *Engine) Bounds() optimization.Bounds { return e.space.Bounds() }

// SetBounds replaces the domain for all subsequent clipping and sampling.
// Stored observations are retained as given.
func (e *Engine) SetBounds(bounds optimization.Bounds) error {
	return e.space.SetBounds(bounds)
}

// Best returns the best observation so far; ok is false while no
// observation exists.
func (e *Engine) Best() (optimization.Observation, bool) { return e.space.Max() }

// Observations returns the number of stored observations.
func (e *Engine) Observations() int { return e.space.Len() }

// State reports the Maximize loop's progress.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Suggest returns the next point worth probing. With zero observations it
// short-circuits to a uniform random draw without touching the surrogate.
// Otherwise it refits the surrogate if observations arrived since the last
// fit and maximizes the acquisition over the domain.
func (e *Engine) Suggest(acq *acquisition.Function) ([]float64, error) {
	const op = "Suggest"
	if acq == nil {
		return nil, optimization.NewError("acquisition function must not be nil").
			WithComponent("engine").WithOperation(op)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acq.Decay()

	if e.space.Len() == 0 {
		return e.space.RandomPoint(e.rng), nil
	}

	if err := e.refitLocked(); err != nil {
		return nil, err
	}

	return e.maximizer.Maximize(acq, e.model, e.space)
}

// refitLocked refits the surrogate when the store moved past the last fit.
// A failed fit is retried once with a small input jitter; a second failure
// is fatal, since a meaningless surrogate would poison every later
// suggestion. Caller holds e.mu.
func (e *Engine) refitLocked() error {
	version := e.space.Version()
	if e.hasFit && version == e.fittedVersion {
		return nil
	}

	X, y := e.space.AsArrays()
	if X == nil {
		return nil
	}

	err := e.model.Fit(X, y)
	if err != nil {
		e.logger.Warn("surrogate fit failed, retrying with jittered inputs", zap.Error(err))
		if retryErr := e.model.Fit(e.jitterInputs(X), y); retryErr != nil {
			return optimization.WrapErrorf(optimization.ErrDegenerateFit,
				"fit failed after jitter retry: %v (original: %v)", retryErr, err).
				WithComponent("engine").WithOperation("refit")
		}
	}

	e.hasFit = true
	e.fittedVersion = version
	return nil
}

// jitterInputs returns a copy of X with per-dimension noise proportional to
// the domain span, breaking exact ties between near-duplicate rows.
func (e *Engine) jitterInputs(X *mat.Dense) *mat.Dense {
	bounds := e.space.Bounds()
	n, d := X.Dims()
	out := mat.DenseCopyOf(X)
	for j := 0; j < d; j++ {
		span := bounds[j].High - bounds[j].Low
		if span <= 0 {
			span = 1
		}
		for i := 0; i < n; i++ {
			out.Set(i, j, out.At(i, j)+e.rng.NormFloat64()*1e-8*span)
		}
	}
	return out
}

// Register records an externally evaluated observation and fires a step
// event. It backs the decoupled evaluation pattern: any worker that
// produced a (params, value) pair may call it directly.
func (e *Engine) Register(params []float64, target float64) error {
	if err := e.space.Add(params, target); err != nil {
		return err
	}
	e.fire(event.Step)
	return nil
}

// RegisterParams is Register for a name-keyed parameter assignment.
func (e *Engine) RegisterParams(params map[string]float64, target float64) error {
	x, err := e.space.Bounds().ToVector(params)
	if err != nil {
		return err
	}
	return e.Register(x, target)
}

// Probe evaluates the objective at params. A failed evaluation fires a
// skip event and leaves the store untouched; a successful one is registered
// and fires a step event.
func (e *Engine) Probe(params []float64) (float64, error) {
	const op = "Probe"
	if e.objective == nil {
		return 0, optimization.NewError("no objective function configured").
			WithComponent("engine").WithOperation(op)
	}

	named, err := e.space.Bounds().ToMap(params)
	if err != nil {
		return 0, err
	}

	value, err := e.objective(named)
	if err != nil {
		e.fire(event.Skip)
		return 0, optimization.WrapErrorf(optimization.ErrEvaluationFailed, "%v", err).
			WithComponent("engine").WithOperation(op)
	}

	if err := e.Register(params, value); err != nil {
		return 0, err
	}
	return value, nil
}

// Maximize runs initPoints random explorations followed by nIter
// surrogate-guided iterations. Failed evaluations are skipped without
// aborting the loop. A nil acq selects UCB with kappa 2.576. Equivalent to
// repeated Suggest, external evaluation, Register.
func (e *Engine) Maximize(ctx context.Context, initPoints, nIter int, acq *acquisition.Function) error {
	if acq == nil {
		var err error
		acq, err = acquisition.New(acquisition.UCB, 2.576, 0)
		if err != nil {
			return err
		}
	}

	e.fire(event.Start)

	e.setState(Warmup)
	for i := 0; i < initPoints; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.step(e.randomPoint()); err != nil {
			return err
		}
	}

	e.setState(Refine)
	for i := 0; i < nIter; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		x, err := e.Suggest(acq)
		if err != nil {
			return err
		}
		if err := e.step(x); err != nil {
			return err
		}
	}

	e.setState(Done)
	e.fire(event.End)
	return nil
}

// step probes one point, tolerating failed evaluations, then applies the
// bounds transformer for the completed iteration.
func (e *Engine) step(x []float64) error {
	if _, err := e.Probe(x); err != nil {
		if !errors.Is(err, optimization.ErrEvaluationFailed) {
			return err
		}
		e.logger.Debug("evaluation failed, skipping", zap.Float64s("params", x))
	}

	if e.transformer != nil {
		bounds, err := e.transformer.Transform(e.space)
		if err != nil {
			return err
		}
		if err := e.space.SetBounds(bounds); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) randomPoint() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.space.RandomPoint(e.rng)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// fire dispatches an event. A panicking subscriber is isolated by the bus;
// the surfaced failure is logged, never allowed to corrupt the loop.
func (e *Engine) fire(kind event.Kind) {
	if err := e.bus.Fire(kind, e); err != nil {
		e.logger.Warn("event subscriber failed", zap.Stringer("event", kind), zap.Error(err))
	}
}
