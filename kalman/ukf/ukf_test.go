package ukf

import (
	"math"
	"os"
	"testing"

	"github.com/spkf-go/spkf"
	"github.com/spkf-go/spkf/model"
	"github.com/spkf-go/spkf/noise"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

var (
	c       *Config
	ic      *model.InitCond
	okModel *model.Base
	u       *mat.VecDense
	z       *mat.VecDense
	sNoise  spkf.Noise
	oNoise  spkf.Noise
)

func setup() {
	u = mat.NewVecDense(1, []float64{-1.0})
	z = mat.NewVecDense(1, []float64{-1.5})

	// initial condition
	state := mat.NewVecDense(2, []float64{1.0, 3.0})
	stateCov := mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25})

	sCov := mat.NewSymDense(2, []float64{0.01, 0, 0, 0.01})
	sNoise, _ = noise.NewGaussian([]float64{0, 0}, sCov)

	oCov := mat.NewSymDense(1, []float64{0.25})
	oNoise, _ = noise.NewGaussian([]float64{0}, oCov)

	A := mat.NewDense(2, 2, []float64{1.0, 1.0, 0.0, 1.0})
	B := mat.NewDense(2, 1, []float64{0.5, 1.0})
	C := mat.NewDense(1, 2, []float64{1.0, 0.0})

	okModel, _ = model.NewBase(A, B, C)

	c = &Config{
		Alpha: 0.75,
		Beta:  2.0,
		Kappa: 3.0,
	}

	ic = model.NewInitCond(state, stateCov)
}

func TestMain(m *testing.M) {
	// set up tests
	setup()
	// run the tests
	retCode := m.Run()
	// call with result of m.Run()
	os.Exit(retCode)
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, sNoise, oNoise, c)
	assert.NotNil(f)
	assert.NoError(err)

	// invalid config
	_alpha := c.Alpha
	c.Alpha = -10.0
	f, err = New(okModel, ic, sNoise, oNoise, c)
	assert.Nil(f)
	assert.Error(err)

	c.Alpha = 1.5
	f, err = New(okModel, ic, sNoise, oNoise, c)
	assert.Nil(f)
	assert.Error(err)
	c.Alpha = _alpha

	_kappa := c.Kappa
	c.Kappa = -3.0
	f, err = New(okModel, ic, sNoise, oNoise, c)
	assert.Nil(f)
	assert.Error(err)
	c.Kappa = _kappa

	// nil state and output noise default to zero noise
	f, err = New(okModel, ic, nil, nil, c)
	assert.NotNil(f)
	assert.NoError(err)
}

func TestWeights(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, sNoise, oNoise, c)
	assert.NotNil(f)
	assert.NoError(err)

	// l = nx + nx + nz = 5
	l := 5.0
	lambda := c.Alpha*c.Alpha*(l+c.Kappa) - l
	assert.InDelta(l+lambda, f.Gamma(), 1e-12)
	assert.InDelta(lambda/(l+lambda), f.Wm0(), 1e-12)
	assert.InDelta(1/(2*(l+lambda)), f.Wmi(), 1e-12)

	// mean weights must sum up to 1
	assert.InDelta(1.0, f.Wm0()+2*l*f.Wmi(), 1e-12)
}

func TestPredict(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, sNoise, oNoise, c)
	assert.NotNil(f)
	assert.NoError(err)

	x := mat.VecDenseCopyOf(ic.State())
	est, err := f.Predict(x, u, 1.0)
	assert.NotNil(est)
	assert.NoError(err)

	// the sigma mean of a linear model equals the model propagation of the mean:
	// A*x + B*u = [3.5, 2.0]
	assert.InDelta(3.5, est.Val().AtVec(0), 1e-9)
	assert.InDelta(2.0, est.Val().AtVec(1), 1e-9)

	// invalid input vector
	_u := mat.NewVecDense(3, nil)
	est, err = f.Predict(x, _u, 1.0)
	assert.Nil(est)
	assert.Error(err)
}

func TestUpdate(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, sNoise, oNoise, c)
	assert.NotNil(f)
	assert.NoError(err)

	x := mat.VecDenseCopyOf(ic.State())
	est, err := f.Predict(x, u, 1.0)
	assert.NotNil(est)
	assert.NoError(err)

	// nil state keeps the predicted estimate in the core
	est, err = f.Update(nil, u, z)
	assert.NotNil(est)
	assert.NoError(err)

	rows, _ := est.Val().Dims()
	assert.Equal(2, rows)
	assert.Equal(2, est.Cov().SymmetricDim())

	// invalid measurement vector
	_z := mat.NewVecDense(3, nil)
	est, err = f.Update(nil, u, _z)
	assert.Nil(est)
	assert.Error(err)
}

func TestCovGain(t *testing.T) {
	assert := assert.New(t)

	f, err := New(okModel, ic, sNoise, oNoise, c)
	assert.NotNil(f)
	assert.NoError(err)

	cov := f.Cov()
	assert.NotNil(cov)
	assert.Equal(ic.Cov().SymmetricDim(), cov.SymmetricDim())

	gain := f.Gain()
	assert.NotNil(gain)
}

// TestOneDimScenario runs one full filter step of a 1-D system with
// identity drift: f(x,u,w) = x + w, h(x,v) = x + v.
func TestOneDimScenario(t *testing.T) {
	assert := assert.New(t)

	A := mat.NewDense(1, 1, []float64{1.0})
	C := mat.NewDense(1, 1, []float64{1.0})
	m, err := model.NewBase(A, nil, C)
	assert.NoError(err)

	q, err := noise.NewGaussian([]float64{0}, mat.NewSymDense(1, []float64{0.01}))
	assert.NoError(err)
	r, err := noise.NewGaussian([]float64{0}, mat.NewSymDense(1, []float64{0.1}))
	assert.NoError(err)

	init := model.NewInitCond(mat.NewVecDense(1, []float64{0.0}), mat.NewSymDense(1, []float64{1.0}))

	// alpha=1, kappa=0: lambda=0, gamma=L=3, wm0=0, wmi=1/6
	cfg := &Config{Alpha: 1.0, Beta: 2.0, Kappa: 0.0}

	f, err := New(m, init, q, r, cfg)
	assert.NotNil(f)
	assert.NoError(err)
	assert.InDelta(3.0, f.Gamma(), 1e-12)

	est, err := f.Predict(mat.NewVecDense(1, []float64{0.0}), nil, 1.0)
	assert.NotNil(est)
	assert.NoError(err)

	// identity drift keeps the predicted mean at zero; the predicted
	// covariance picks up the process noise: P = 1 + 0.01
	assert.InDelta(0.0, est.Val().AtVec(0), 1e-9)
	assert.InDelta(1.01, est.Cov().At(0, 0), 1e-9)

	// measurement at the predicted observation mean
	est, err = f.Update(nil, nil, mat.NewVecDense(1, []float64{0.0}))
	assert.NotNil(est)
	assert.NoError(err)

	// predicted observation mean stays at zero
	assert.InDelta(0.0, f.Core().ObservationMean().AtVec(0), 1e-9)

	// innovation covariance: S = P + R = 1.11
	assert.InDelta(1.11, f.Core().InnovationCovCache().At(0, 0), 1e-9)

	// gain: K = P/S
	assert.InDelta(1.01/1.11, f.Gain().At(0, 0), 1e-9)

	// zero innovation keeps the state at zero
	assert.InDelta(0.0, est.Val().AtVec(0), 1e-9)

	// posterior covariance: P - K*S*K = P - P^2/S
	assert.InDelta(1.01-1.01*1.01/1.11, est.Cov().At(0, 0), 1e-9)
}

// TestOneDimCorrection verifies the state correction against a nonzero
// measurement of the same 1-D system.
func TestOneDimCorrection(t *testing.T) {
	assert := assert.New(t)

	A := mat.NewDense(1, 1, []float64{1.0})
	C := mat.NewDense(1, 1, []float64{1.0})
	m, err := model.NewBase(A, nil, C)
	assert.NoError(err)

	q, _ := noise.NewGaussian([]float64{0}, mat.NewSymDense(1, []float64{0.01}))
	r, _ := noise.NewGaussian([]float64{0}, mat.NewSymDense(1, []float64{0.1}))

	init := model.NewInitCond(mat.NewVecDense(1, []float64{0.0}), mat.NewSymDense(1, []float64{1.0}))
	cfg := &Config{Alpha: 1.0, Beta: 2.0, Kappa: 0.0}

	f, err := New(m, init, q, r, cfg)
	assert.NoError(err)

	_, err = f.Predict(nil, nil, 1.0)
	assert.NoError(err)

	est, err := f.Update(nil, nil, mat.NewVecDense(1, []float64{0.5}))
	assert.NotNil(est)
	assert.NoError(err)

	// x+ = K*(z - 0) with K = 1.01/1.11
	want := 0.5 * 1.01 / 1.11
	assert.True(math.Abs(est.Val().AtVec(0)-want) < 1e-9)
}
