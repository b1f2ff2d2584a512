package sigma

import (
	"errors"
	"fmt"
	"math"

	"github.com/spkf-go/spkf"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNonPositiveDefiniteCovariance is returned when a covariance matrix
	// fails its Cholesky factorization.
	ErrNonPositiveDefiniteCovariance = errors.New("covariance matrix is not positive definite")
	// ErrInvalidSpreadFactor is returned when a variant supplies a negative
	// sigma point spread factor.
	ErrInvalidSpreadFactor = errors.New("negative sigma point spread factor")
)

// Variant supplies the filter variant specific pieces of a sigma point
// filter: the spread factor, the mean weights and the covariance algebra.
// The core calls these hooks but never implements them; this is what keeps
// the sampling mechanics shared between the standard unscented filter and
// its square-root siblings.
type Variant interface {
	// Gamma returns the sigma point spread factor. It must be non-negative.
	Gamma() float64
	// Wm0 returns the mean weight of the centre sigma point
	Wm0() float64
	// Wmi returns the mean weight shared by all off-centre sigma points
	Wmi() float64
	// ProcessCov assembles the predicted state covariance from the
	// propagated state sigma points
	ProcessCov(c *Core) (*mat.SymDense, error)
	// InnovationCov assembles the innovation covariance from the
	// observation sigma points
	InnovationCov(c *Core) (*mat.SymDense, error)
	// KalmanGain computes the Kalman gain; it refreshes the core cross
	// covariance as a side effect
	KalmanGain(c *Core) (*mat.Dense, error)
	// UpdateCov produces the posterior state covariance from the gain
	// and the prior covariance factor
	UpdateCov(c *Core) (*mat.SymDense, error)
}

// Core implements the sigma point mechanics shared by unscented Kalman
// filter variants: augmented state assembly, deterministic sigma point
// generation and propagation through the nonlinear system model.
//
// Core storage is overwritten in place on every regeneration and must not
// be shared between concurrent filter steps; concurrent estimation needs
// independent Core instances.
type Core struct {
	// model is the nonlinear system model
	model spkf.Model
	// variant supplies weights, spread and covariance algebra
	variant Variant
	// nx, nu, nz are state, control and observation dimensions
	nx, nu, nz int
	// l is the augmented dimension nx+nx+nz, r is the sigma point count 2l+1
	l, r int
	// x is the state estimate; overwritten by Process with the predicted mean
	x *mat.VecDense
	// p is the state covariance
	p *mat.SymDense
	// augVec is the augmented vector [state; 0; 0]
	augVec *mat.VecDense
	// augMat is the block diagonal Cholesky factor of the augmented covariance
	augMat *mat.Dense
	// augSigmas stores the 2l+1 augmented sigma points in its columns
	augSigmas *mat.Dense
	// obsSigmas stores propagated observation sigma points
	obsSigmas *mat.Dense
	// zMean is the predicted observation mean
	zMean *mat.VecDense

	// row bands of augSigmas; aliases, never resized
	stateSigmas     *mat.Dense
	procNoiseSigmas *mat.Dense
	obsNoiseSigmas  *mat.Dense

	// diagonal blocks of augMat; aliases, never resized.
	// cholCov is refactorized on every regeneration, the noise factors are
	// computed once at construction.
	cholCov     *mat.Dense
	cholProcCov *mat.Dense
	cholObsCov  *mat.Dense

	// crossCov is state/observation cross covariance, refreshed by Gain
	crossCov *mat.Dense
	// innCov caches the innovation covariance between InnovationCov and Gain
	innCov *mat.SymDense
	// gain caches the Kalman gain between Gain and UpdateCov
	gain *mat.Dense

	// scratch for Cholesky factorizations
	chol   mat.Cholesky
	cholNx *mat.TriDense
	cholNz *mat.TriDense
}

// New creates a new sigma point core for the given model and filter variant
// and returns it. The initial condition seeds the state estimate and its
// covariance; q and r supply the process and observation noise covariances
// whose Cholesky factors are computed once here and assumed time-invariant
// for the life of the core.
// It returns error if the model or noise dimensions do not agree or if
// either noise covariance fails to factorize.
func New(model spkf.Model, variant Variant, init spkf.InitCond, q, r spkf.Noise) (*Core, error) {
	nx, nu, nz := model.Dims()
	if nx <= 0 || nz <= 0 || nu < 0 {
		return nil, fmt.Errorf("invalid model dimensions: [%d x %d x %d]", nx, nu, nz)
	}

	if init.State().Len() != nx {
		return nil, fmt.Errorf("invalid initial state dimension: %d", init.State().Len())
	}

	if init.Cov().SymmetricDim() != nx {
		return nil, fmt.Errorf("invalid initial covariance dimension: %d", init.Cov().SymmetricDim())
	}

	if q.Cov().SymmetricDim() != nx {
		return nil, fmt.Errorf("invalid process noise dimension: %d", q.Cov().SymmetricDim())
	}

	if r.Cov().SymmetricDim() != nz {
		return nil, fmt.Errorf("invalid observation noise dimension: %d", r.Cov().SymmetricDim())
	}

	l := nx + nx + nz
	rr := 2*l + 1

	c := &Core{
		model:     model,
		variant:   variant,
		nx:        nx,
		nu:        nu,
		nz:        nz,
		l:         l,
		r:         rr,
		x:         mat.NewVecDense(nx, nil),
		p:         mat.NewSymDense(nx, nil),
		augVec:    mat.NewVecDense(l, nil),
		augMat:    mat.NewDense(l, l, nil),
		augSigmas: mat.NewDense(l, rr, nil),
		obsSigmas: mat.NewDense(nz, rr, nil),
		zMean:     mat.NewVecDense(nz, nil),
		crossCov:  mat.NewDense(nx, nz, nil),
		cholNx:    mat.NewTriDense(nx, mat.Lower, nil),
		cholNz:    mat.NewTriDense(nz, mat.Lower, nil),
	}

	c.x.CloneFromVec(init.State())
	c.p.CopySym(init.Cov())

	// row bands of the augmented sigma point matrix
	c.stateSigmas = c.augSigmas.Slice(0, nx, 0, rr).(*mat.Dense)
	c.procNoiseSigmas = c.augSigmas.Slice(nx, 2*nx, 0, rr).(*mat.Dense)
	c.obsNoiseSigmas = c.augSigmas.Slice(2*nx, l, 0, rr).(*mat.Dense)

	// diagonal blocks of the augmented Cholesky factor
	c.cholCov = c.augMat.Slice(0, nx, 0, nx).(*mat.Dense)
	c.cholProcCov = c.augMat.Slice(nx, 2*nx, nx, 2*nx).(*mat.Dense)
	c.cholObsCov = c.augMat.Slice(2*nx, l, 2*nx, l).(*mat.Dense)

	// noise covariances are factorized once; their factors live in the
	// lower-right diagonal blocks of the augmented matrix
	if err := c.factorize(q.Cov(), c.cholProcCov); err != nil {
		return nil, fmt.Errorf("process noise covariance: %w", err)
	}

	if err := c.factorize(r.Cov(), c.cholObsCov); err != nil {
		return nil, fmt.Errorf("observation noise covariance: %w", err)
	}

	return c, nil
}

// Process advances the state estimate one step through the process model
// given control input u and time increment dt, and returns the predicted
// state mean. It regenerates the sigma points around the current state and
// covariance, pushes every state/process-noise sigma pair through the model
// and overwrites the state estimate with the weighted sigma mean.
// It returns error if the sigma points fail to be generated or if the
// process model fails.
func (c *Core) Process(u mat.Vector, dt float64) (mat.Vector, error) {
	if err := c.generateSigmas(); err != nil {
		return nil, err
	}

	c.x.Zero()
	for i := 0; i < c.r; i++ {
		xi, err := c.model.Propagate(c.stateSigmas.ColView(i), u, c.procNoiseSigmas.ColView(i), dt)
		if err != nil {
			return nil, fmt.Errorf("failed to propagate sigma point: %v", err)
		}

		// propagation overwrites the pre-image sigma point with its image
		for j := 0; j < c.nx; j++ {
			c.stateSigmas.Set(j, i, xi.AtVec(j))
		}

		if i == 0 {
			c.x.AddScaledVec(c.x, c.variant.Wm0(), xi)
		} else {
			c.x.AddScaledVec(c.x, c.variant.Wmi(), xi)
		}
	}

	return c.State(), nil
}

// ProcessCov computes the predicted state covariance from the sigma points
// generated during Process, stores it as the new state covariance and
// returns it. It must be called after Process and before Observe.
// It returns error if the variant covariance formula fails.
func (c *Core) ProcessCov() (mat.Symmetric, error) {
	cov, err := c.variant.ProcessCov(c)
	if err != nil {
		return nil, err
	}
	c.p.CopySym(cov)

	return cov, nil
}

// Observe predicts the system observation from the current state estimate
// and covariance and returns the predicted observation mean. It regenerates
// the sigma points and pushes every state/observation-noise sigma pair
// through the observation model.
// It returns error if the sigma points fail to be generated or if the
// observation model fails.
func (c *Core) Observe() (mat.Vector, error) {
	if err := c.generateSigmas(); err != nil {
		return nil, err
	}

	c.zMean.Zero()
	for i := 0; i < c.r; i++ {
		zi, err := c.model.Observe(c.stateSigmas.ColView(i), c.obsNoiseSigmas.ColView(i))
		if err != nil {
			return nil, fmt.Errorf("failed to observe sigma point: %v", err)
		}

		for j := 0; j < c.nz; j++ {
			c.obsSigmas.Set(j, i, zi.AtVec(j))
		}

		if i == 0 {
			c.zMean.AddScaledVec(c.zMean, c.variant.Wm0(), zi)
		} else {
			c.zMean.AddScaledVec(c.zMean, c.variant.Wmi(), zi)
		}
	}

	return c.ObservationMean(), nil
}

// InnovationCov computes the innovation covariance from the observation
// sigma points and returns it. It must be called after Observe.
// It returns error if the variant covariance formula fails.
func (c *Core) InnovationCov() (mat.Symmetric, error) {
	cov, err := c.variant.InnovationCov(c)
	if err != nil {
		return nil, err
	}
	c.innCov = cov

	return cov, nil
}

// Gain computes the Kalman gain and returns it. The variant refreshes the
// cross covariance as a side effect. It must be called after InnovationCov.
// It returns error if called out of order or if the variant gain formula fails.
func (c *Core) Gain() (mat.Matrix, error) {
	if c.innCov == nil {
		return nil, fmt.Errorf("innovation covariance has not been computed")
	}

	gain, err := c.variant.KalmanGain(c)
	if err != nil {
		return nil, err
	}
	c.gain = gain

	g := &mat.Dense{}
	g.CloneFrom(gain)

	return g, nil
}

// UpdateCov computes the posterior state covariance, stores it as the new
// state covariance and returns it. It must be called after Gain.
// It returns error if called out of order or if the variant formula fails.
func (c *Core) UpdateCov() (mat.Symmetric, error) {
	if c.gain == nil {
		return nil, fmt.Errorf("kalman gain has not been computed")
	}

	cov, err := c.variant.UpdateCov(c)
	if err != nil {
		return nil, err
	}
	c.p.CopySym(cov)

	return cov, nil
}

// generateSigmas populates the augmented sigma point matrix from the current
// state estimate and covariance. Column 0 is the augmented vector; columns
// i and i+l are its mirror images spread along the scaled columns of the
// augmented Cholesky factor.
func (c *Core) generateSigmas() error {
	gamma := c.variant.Gamma()
	if gamma < 0 {
		return fmt.Errorf("%w: %f", ErrInvalidSpreadFactor, gamma)
	}

	// lower Cholesky factor of the state covariance; the noise blocks were
	// factorized at construction and never change
	if err := c.factorize(c.p, c.cholCov); err != nil {
		return fmt.Errorf("state covariance: %w", err)
	}

	// the noise rows of the augmented vector stay zero: noise enters with
	// zero mean and its spread is captured by the augmented factor
	for j := 0; j < c.nx; j++ {
		c.augVec.SetVec(j, c.x.AtVec(j))
	}

	sqrtGamma := math.Sqrt(gamma)
	for j := 0; j < c.l; j++ {
		c.augSigmas.Set(j, 0, c.augVec.AtVec(j))
	}
	for i := 1; i <= c.l; i++ {
		for j := 0; j < c.l; j++ {
			a := c.augVec.AtVec(j)
			d := sqrtGamma * c.augMat.At(j, i-1)
			c.augSigmas.Set(j, i, a+d)
			c.augSigmas.Set(j, i+c.l, a-d)
		}
	}

	return nil
}

// factorize computes the lower Cholesky factor of cov and copies it into
// dst, one of the diagonal blocks of the augmented matrix. A zero
// covariance has the zero matrix as its factor and is passed through;
// anything else that fails to factorize is not positive definite.
func (c *Core) factorize(cov mat.Symmetric, dst *mat.Dense) error {
	if mat.Norm(cov, 1) == 0 {
		dst.Zero()
		return nil
	}

	if ok := c.chol.Factorize(cov); !ok {
		return ErrNonPositiveDefiniteCovariance
	}

	ltri := c.cholNx
	if cov.SymmetricDim() == c.nz {
		ltri = c.cholNz
	}
	c.chol.LTo(ltri)
	dst.Copy(ltri)

	return nil
}

// SetState overwrites the state estimate with x.
// The filter driver calls it after correcting the state with the gain.
func (c *Core) SetState(x mat.Vector) error {
	if x.Len() != c.nx {
		return fmt.Errorf("invalid state dimension: %d", x.Len())
	}
	c.x.CloneFromVec(x)

	return nil
}

// State returns a copy of the state estimate.
func (c *Core) State() mat.Vector {
	x := &mat.VecDense{}
	x.CloneFromVec(c.x)

	return x
}

// Cov returns a copy of the state covariance.
func (c *Core) Cov() mat.Symmetric {
	p := mat.NewSymDense(c.p.SymmetricDim(), nil)
	p.CopySym(c.p)

	return p
}

// ObservationMean returns a copy of the predicted observation mean.
func (c *Core) ObservationMean() mat.Vector {
	z := &mat.VecDense{}
	z.CloneFromVec(c.zMean)

	return z
}

// Dims returns the state, control and observation dimensions of the core.
func (c *Core) Dims() (nx, nu, nz int) {
	return c.nx, c.nu, c.nz
}

// SigmaDims returns the augmented dimension and the sigma point count.
func (c *Core) SigmaDims() (l, r int) {
	return c.l, c.r
}

// StateSigmas returns the state rows of the augmented sigma point matrix.
// The returned matrix aliases core storage.
func (c *Core) StateSigmas() *mat.Dense {
	return c.stateSigmas
}

// ProcNoiseSigmas returns the process noise rows of the augmented sigma
// point matrix. The returned matrix aliases core storage.
func (c *Core) ProcNoiseSigmas() *mat.Dense {
	return c.procNoiseSigmas
}

// ObsNoiseSigmas returns the observation noise rows of the augmented sigma
// point matrix. The returned matrix aliases core storage.
func (c *Core) ObsNoiseSigmas() *mat.Dense {
	return c.obsNoiseSigmas
}

// ObsSigmas returns the propagated observation sigma points.
// The returned matrix aliases core storage.
func (c *Core) ObsSigmas() *mat.Dense {
	return c.obsSigmas
}

// CholCov returns the lower Cholesky factor of the state covariance as of
// the last sigma point regeneration. The returned matrix aliases the
// augmented matrix.
func (c *Core) CholCov() *mat.Dense {
	return c.cholCov
}

// CholProcCov returns the cached lower Cholesky factor of the process noise
// covariance. The returned matrix aliases the augmented matrix.
func (c *Core) CholProcCov() *mat.Dense {
	return c.cholProcCov
}

// CholObsCov returns the cached lower Cholesky factor of the observation
// noise covariance. The returned matrix aliases the augmented matrix.
func (c *Core) CholObsCov() *mat.Dense {
	return c.cholObsCov
}

// CrossCov returns the state/observation cross covariance storage for the
// variant gain formula to fill in. The returned matrix aliases core storage.
func (c *Core) CrossCov() *mat.Dense {
	return c.crossCov
}

// InnovationCovCache returns the innovation covariance cached by the last
// InnovationCov call, or nil if none was computed yet.
func (c *Core) InnovationCovCache() *mat.SymDense {
	return c.innCov
}

// GainCache returns the Kalman gain cached by the last Gain call, or nil
// if none was computed yet.
func (c *Core) GainCache() *mat.Dense {
	return c.gain
}
