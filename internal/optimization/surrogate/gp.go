// Package surrogate implements the default Gaussian process regression
// model fit over the observation history.
package surrogate

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/crestlabs/crest/internal/optimization"
	"github.com/crestlabs/crest/internal/optimization/kernels"
)

// GP is a Gaussian process regressor. It satisfies optimization.Surrogate:
// Fit conditions the posterior on the training data, Predict returns the
// posterior mean and standard deviation at test points.
//
// A GP is not safe for concurrent use; the engine serializes Fit/Predict.
type GP struct {
	kernel   kernels.Kernel
	noiseVar float64

	X     *mat.Dense
	y     *mat.VecDense
	alpha *mat.VecDense
	chol  *mat.Cholesky

	pool   *matrixPool
	logger *zap.Logger
}

// Option configures a GP.
type Option func(*GP)

// WithLogger routes the GP's diagnostics through the given zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(gp *GP) { gp.logger = logger }
}

// NewGP creates a Gaussian process with the given kernel and observation
// noise variance. A small noise variance (1e-6) keeps the kernel matrix
// well-conditioned even for close-together inputs.
func NewGP(kernel kernels.Kernel, noiseVar float64, opts ...Option) *GP {
	gp := &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		pool:     newMatrixPool(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(gp)
	}
	gp.logger = gp.logger.Named("gaussian_process")
	return gp
}

// Fit conditions the GP on training inputs X (one row per observation) and
// targets y. Ill-conditioned kernel matrices are retried with escalating
// diagonal jitter before Fit reports failure.
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return optimization.WrapError(errors.New("training data must not be nil"),
			"gaussian_process: "+op)
	}
	n, d := X.Dims()
	if n == 0 || d == 0 {
		return optimization.WrapError(errors.New("training matrix must not be empty"),
			"gaussian_process: "+op)
	}
	if y.Len() != n {
		return optimization.WrapError(
			fmt.Errorf("dimension mismatch: X has %d rows but y has length %d", n, y.Len()),
			"gaussian_process: "+op)
	}

	gp.logger.Debug("fitting",
		zap.Int("samples", n),
		zap.Int("features", d),
		zap.Float64("noise_var", gp.noiseVar),
	)

	K := gp.pool.getSym(n)
	defer gp.pool.putSym(K)
	for i := 0; i < n; i++ {
		xi := X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(xi, xi)+gp.noiseVar)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(xi, X.RawRowView(j)))
		}
	}

	chol, alpha, err := gp.factorize(K, y, n)
	if err != nil {
		return optimization.WrapError(err, "gaussian_process: "+op)
	}

	gp.X = mat.DenseCopyOf(X)
	gp.y = mat.VecDenseCopyOf(y)
	gp.chol = chol
	gp.alpha = alpha
	return nil
}

// factorize Cholesky-decomposes K and solves K alpha = y, escalating the
// diagonal jitter tenfold per failed attempt.
func (gp *GP) factorize(K *mat.SymDense, y *mat.VecDense, n int) (*mat.Cholesky, *mat.VecDense, error) {
	jitter := 0.0
	scale := math.Max(mat.Trace(K)/float64(n), 1.0)

	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		Kj := mat.NewSymDense(n, nil)
		Kj.CopySym(K)
		if jitter > 0 {
			for i := 0; i < n; i++ {
				Kj.SetSym(i, i, Kj.At(i, i)+jitter)
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(Kj); !ok {
			gp.logger.Debug("cholesky factorization failed, increasing jitter",
				zap.Int("attempt", attempt+1),
				zap.Float64("jitter", jitter),
			)
			jitter = nextJitter(jitter, scale)
			continue
		}

		alpha := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(alpha, y); err != nil {
			gp.logger.Debug("cholesky solve failed, increasing jitter",
				zap.Error(err),
				zap.Int("attempt", attempt+1),
			)
			jitter = nextJitter(jitter, scale)
			continue
		}
		return &chol, alpha, nil
	}

	return nil, nil, fmt.Errorf("kernel matrix not positive definite after %d jitter attempts (last jitter %g)",
		maxAttempts, jitter)
}

func nextJitter(jitter, scale float64) float64 {
	if jitter == 0 {
		return 1e-10 * scale
	}
	return jitter * 10
}

// Predict returns the posterior mean and standard deviation at each row of
// X. The GP must have been fit first.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, optimization.WrapError(errors.New("test matrix must not be nil"),
			"gaussian_process: "+op)
	}
	if gp.X == nil || gp.alpha == nil || gp.chol == nil {
		return nil, nil, optimization.WrapError(errors.New("model not fitted"),
			"gaussian_process: "+op)
	}

	m, d := X.Dims()
	nTrain, dTrain := gp.X.Dims()
	if d != dTrain {
		return nil, nil, optimization.WrapError(
			fmt.Errorf("test points have %d features, training data has %d", d, dTrain),
			"gaussian_process: "+op)
	}

	// Cross-covariance between test and training points, and the prior
	// variance at each test point.
	Kstar := mat.NewDense(m, nTrain, nil)
	kss := make([]float64, m)
	for i := 0; i < m; i++ {
		xs := X.RawRowView(i)
		kss[i] = gp.kernel.Eval(xs, xs) + gp.noiseVar
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(xs, gp.X.RawRowView(j)))
		}
	}

	mean := mat.NewVecDense(m, nil)
	mean.MulVec(Kstar, gp.alpha)

	// Posterior variance: kss - diag(Kstar K^-1 Kstar^T) via the Cholesky
	// factor, clamped at zero against round-off.
	v := mat.NewDense(nTrain, m, nil)
	if err := v.Solve(gp.chol, Kstar.T()); err != nil {
		return nil, nil, optimization.WrapError(
			fmt.Errorf("variance solve failed: %w", err),
			"gaussian_process: "+op)
	}

	std := mat.NewVecDense(m, nil)
	for i := 0; i < m; i++ {
		var reduction float64
		for j := 0; j < nTrain; j++ {
			val := v.At(j, i)
			reduction += val * val
		}
		variance := kss[i] - reduction
		if variance < 0 {
			gp.logger.Debug("negative posterior variance clamped",
				zap.Float64("variance", variance),
				zap.Int("test_point", i),
			)
			variance = 0
		}
		std.SetVec(i, math.Sqrt(variance))
	}

	return mean, std, nil
}
