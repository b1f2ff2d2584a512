package ukf

import (
	"fmt"
	"math"

	"github.com/spkf-go/spkf"
	"github.com/spkf-go/spkf/estimate"
	"github.com/spkf-go/spkf/matrix"
	"github.com/spkf-go/spkf/noise"
	"github.com/spkf-go/spkf/sigma"
	"gonum.org/v1/gonum/mat"
)

// weightTol is the tolerance on the mean weight sum invariant
const weightTol = 1e-9

// Config contains UKF [unitless] configuration parameters
type Config struct {
	// Alpha is alpha parameter (0,1]
	Alpha float64
	// Beta is beta parameter (2 is optimal choice for Gaussian)
	Beta float64
	// Kappa is kappa parameter (must be non-negative)
	Kappa float64
}

// UKF is an Unscented (aka Sigma Point) Kalman Filter.
// It supplies the classical unscented parameterization to the sigma point
// core: the spread factor, the mean/covariance weights and the additive
// outer-product covariance formulas.
type UKF struct {
	// core implements the shared sigma point mechanics
	core *sigma.Core
	// gamma is the sigma point spread factor L+lambda
	gamma float64
	// wm0 is the mean weight of the centre sigma point
	wm0 float64
	// wc0 is the covariance weight of the centre sigma point
	wc0 float64
	// w is the weight shared by all off-centre sigma points
	w float64
	// inn is the innovation vector
	inn *mat.VecDense
	// k is the Kalman gain
	k *mat.Dense
}

// New creates a new UKF and returns it.
// It accepts the following parameters:
//   - m:      dynamical system model
//   - init:   initial condition of the filter
//   - q:      state noise a.k.a. process noise
//   - r:      output noise a.k.a. measurement noise
//   - c:      UKF configuration
//
// It returns error if the model dimensions are invalid, if the
// configuration yields a negative spread factor or breaks the mean weight
// sum invariant, or if the sigma point core fails to be created.
func New(m spkf.Model, init spkf.InitCond, q, r spkf.Noise, c *Config) (*UKF, error) {
	nx, _, nz := m.Dims()
	if nx <= 0 || nz <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: [%d x %d]", nx, nz)
	}

	if c.Alpha <= 0 || c.Alpha > 1.0 {
		return nil, fmt.Errorf("invalid config alpha: %f", c.Alpha)
	}

	if c.Beta < 0 || c.Kappa < 0 {
		return nil, fmt.Errorf("invalid config supplied: %v", c)
	}

	if q == nil {
		q, _ = noise.NewZero(nx)
	}

	if r == nil {
		r, _ = noise.NewZero(nz)
	}

	// augmented dimension: state + process noise + observation noise
	l := float64(nx + nx + nz)

	// lambda and gamma per the classical unscented transform
	lambda := c.Alpha*c.Alpha*(l+c.Kappa) - l
	gamma := l + lambda
	if gamma < 0 {
		return nil, fmt.Errorf("%w: %f", sigma.ErrInvalidSpreadFactor, gamma)
	}

	// weight of the centre sigma point mean and covariance
	wm0 := lambda / (l + lambda)
	wc0 := wm0 + (1 - c.Alpha*c.Alpha + c.Beta)
	// weight of the remaining sigma points and covariances
	w := 1 / (2 * (l + lambda))

	// the weighted mean is unbiased only if the weights sum up to 1
	if math.Abs(wm0+2*l*w-1) > weightTol {
		return nil, fmt.Errorf("invalid mean weights: wm0 %f, wmi %f", wm0, w)
	}

	f := &UKF{
		gamma: gamma,
		wm0:   wm0,
		wc0:   wc0,
		w:     w,
		inn:   mat.NewVecDense(nz, nil),
		k:     mat.NewDense(nx, nz, nil),
	}

	core, err := sigma.New(m, f, init, q, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create sigma point core: %v", err)
	}
	f.core = core

	return f, nil
}

// Gamma returns the sigma point spread factor.
func (f *UKF) Gamma() float64 {
	return f.gamma
}

// Wm0 returns the mean weight of the centre sigma point.
func (f *UKF) Wm0() float64 {
	return f.wm0
}

// Wmi returns the mean weight shared by the off-centre sigma points.
func (f *UKF) Wmi() float64 {
	return f.w
}

// ProcessCov assembles the predicted state covariance as the weighted
// outer-product sum of the propagated state sigma point deviations from the
// predicted mean. The process noise needs no separate additive term: it is
// already spread through the sigma points by the augmented factor.
func (f *UKF) ProcessCov(c *sigma.Core) (*mat.SymDense, error) {
	nx, _, _ := c.Dims()
	_, r := c.SigmaDims()

	xs := c.StateSigmas()
	xMean := c.State()

	cov := mat.NewDense(nx, nx, nil)
	outer := mat.NewDense(nx, nx, nil)
	dx := mat.NewVecDense(nx, nil)

	for i := 0; i < r; i++ {
		dx.SubVec(xs.ColView(i), xMean)
		outer.Mul(dx, dx.T())

		if i == 0 {
			outer.Scale(f.wc0, outer)
		} else {
			outer.Scale(f.w, outer)
		}

		cov.Add(cov, outer)
	}

	return matrix.ToSym(cov), nil
}

// InnovationCov assembles the innovation covariance as the weighted
// outer-product sum of the observation sigma point deviations from the
// predicted observation mean.
func (f *UKF) InnovationCov(c *sigma.Core) (*mat.SymDense, error) {
	_, _, nz := c.Dims()
	_, r := c.SigmaDims()

	zs := c.ObsSigmas()
	zMean := c.ObservationMean()

	cov := mat.NewDense(nz, nz, nil)
	outer := mat.NewDense(nz, nz, nil)
	dz := mat.NewVecDense(nz, nil)

	for i := 0; i < r; i++ {
		dz.SubVec(zs.ColView(i), zMean)
		outer.Mul(dz, dz.T())

		if i == 0 {
			outer.Scale(f.wc0, outer)
		} else {
			outer.Scale(f.w, outer)
		}

		cov.Add(cov, outer)
	}

	return matrix.ToSym(cov), nil
}

// KalmanGain computes the Kalman gain from the cross covariance and the
// innovation covariance. The cross covariance between state and observation
// is refreshed into the core storage as a side effect.
func (f *UKF) KalmanGain(c *sigma.Core) (*mat.Dense, error) {
	nx, _, nz := c.Dims()
	_, r := c.SigmaDims()

	xs := c.StateSigmas()
	zs := c.ObsSigmas()
	xMean := c.State()
	zMean := c.ObservationMean()

	pxz := c.CrossCov()
	pxz.Zero()

	outer := mat.NewDense(nx, nz, nil)
	dx := mat.NewVecDense(nx, nil)
	dz := mat.NewVecDense(nz, nil)

	for i := 0; i < r; i++ {
		dx.SubVec(xs.ColView(i), xMean)
		dz.SubVec(zs.ColView(i), zMean)
		outer.Mul(dx, dz.T())

		if i == 0 {
			outer.Scale(f.wc0, outer)
		} else {
			outer.Scale(f.w, outer)
		}

		pxz.Add(pxz, outer)
	}

	sInv := &mat.Dense{}
	if err := sInv.Inverse(c.InnovationCovCache()); err != nil {
		return nil, fmt.Errorf("failed to invert innovation covariance: %v", err)
	}

	gain := mat.NewDense(nx, nz, nil)
	gain.Mul(pxz, sInv)

	return gain, nil
}

// UpdateCov produces the posterior state covariance P - K*S*K' from the
// prior covariance, the Kalman gain and the innovation covariance.
func (f *UKF) UpdateCov(c *sigma.Core) (*mat.SymDense, error) {
	gain := c.GainCache()
	ks := &mat.Dense{}
	ks.Mul(gain, c.InnovationCovCache())

	ksk := &mat.Dense{}
	ksk.Mul(ks, gain.T())

	cov := mat.DenseCopyOf(c.Cov())
	cov.Sub(cov, ksk)

	return matrix.ToSym(cov), nil
}

// Predict estimates the next state of the system given the state x, the
// control input u and the time increment dt, and returns its estimate.
// It returns error if the sigma points fail to be generated or propagated.
func (f *UKF) Predict(x, u mat.Vector, dt float64) (spkf.Estimate, error) {
	if x != nil {
		if err := f.core.SetState(x); err != nil {
			return nil, err
		}
	}

	xNext, err := f.core.Process(u, dt)
	if err != nil {
		return nil, fmt.Errorf("failed to propagate system state: %v", err)
	}

	cov, err := f.core.ProcessCov()
	if err != nil {
		return nil, fmt.Errorf("failed to predict system covariance: %v", err)
	}

	return estimate.NewBaseWithCov(xNext, cov)
}

// Update corrects state x using the measurement z and returns the corrected
// estimate. It must be called after Predict.
// It returns error if the sigma points fail to be regenerated or observed
// or if the gain fails to be computed.
func (f *UKF) Update(x, u, z mat.Vector) (spkf.Estimate, error) {
	_, _, nz := f.core.Dims()
	if z.Len() != nz {
		return nil, fmt.Errorf("invalid measurement dimension: %d", z.Len())
	}

	if x != nil {
		if err := f.core.SetState(x); err != nil {
			return nil, err
		}
	}

	zMean, err := f.core.Observe()
	if err != nil {
		return nil, fmt.Errorf("failed to observe system output: %v", err)
	}

	if _, err := f.core.InnovationCov(); err != nil {
		return nil, fmt.Errorf("failed to compute innovation covariance: %v", err)
	}

	gain, err := f.core.Gain()
	if err != nil {
		return nil, fmt.Errorf("failed to compute kalman gain: %v", err)
	}

	// innovation vector
	inn := &mat.VecDense{}
	inn.SubVec(z, zMean)

	// correct the predicted state with the weighted innovation
	nx, _, _ := f.core.Dims()
	corr := mat.NewVecDense(nx, nil)
	corr.MulVec(gain, inn)

	xNew := &mat.VecDense{}
	xNew.AddVec(f.core.State(), corr)

	if err := f.core.SetState(xNew); err != nil {
		return nil, err
	}

	cov, err := f.core.UpdateCov()
	if err != nil {
		return nil, fmt.Errorf("failed to update system covariance: %v", err)
	}

	f.inn.CopyVec(inn)
	f.k.Copy(gain)

	return estimate.NewBaseWithCov(xNew, cov)
}

// Cov returns UKF state covariance.
func (f *UKF) Cov() mat.Symmetric {
	return f.core.Cov()
}

// Gain returns the Kalman gain of the last Update.
func (f *UKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(f.k)

	return gain
}

// Core returns the sigma point core of the filter.
func (f *UKF) Core() *sigma.Core {
	return f.core
}
