package model

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

var (
	A *mat.Dense
	B *mat.Dense
	C *mat.Dense
)

func setup() {
	A = mat.NewDense(2, 2, []float64{1.0, 1.0, 0.0, 1.0})
	B = mat.NewDense(2, 1, []float64{0.5, 1.0})
	C = mat.NewDense(1, 2, []float64{1.0, 0.0})
}

func TestMain(m *testing.M) {
	setup()
	retCode := m.Run()
	os.Exit(retCode)
}

func TestNewInitCond(t *testing.T) {
	assert := assert.New(t)

	state := mat.NewVecDense(2, []float64{1.0, 3.0})
	cov := mat.NewSymDense(2, []float64{0.25, 0.0, 0.0, 0.25})

	ic := NewInitCond(state, cov)
	assert.NotNil(ic)

	s := ic.State()
	for i := 0; i < state.Len(); i++ {
		assert.Equal(state.AtVec(i), s.AtVec(i))
	}

	c := ic.Cov()
	for i := 0; i < cov.SymmetricDim(); i++ {
		for j := 0; j < cov.SymmetricDim(); j++ {
			assert.Equal(cov.At(i, j), c.At(i, j))
		}
	}

	// returned state and covariance are copies
	s.(*mat.VecDense).SetVec(0, 100.0)
	assert.Equal(state.AtVec(0), ic.State().AtVec(0))
}

func TestNewBase(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBase(A, B, C)
	assert.NotNil(b)
	assert.NoError(err)

	// B is optional
	b, err = NewBase(A, nil, C)
	assert.NotNil(b)
	assert.NoError(err)

	// A and C are mandatory
	b, err = NewBase(nil, B, C)
	assert.Nil(b)
	assert.Error(err)

	b, err = NewBase(A, B, nil)
	assert.Nil(b)
	assert.Error(err)

	// A must be square
	b, err = NewBase(mat.NewDense(2, 3, nil), B, C)
	assert.Nil(b)
	assert.Error(err)

	// B rows must match A
	b, err = NewBase(A, mat.NewDense(3, 1, nil), C)
	assert.Nil(b)
	assert.Error(err)

	// C cols must match A
	b, err = NewBase(A, B, mat.NewDense(1, 3, nil))
	assert.Nil(b)
	assert.Error(err)
}

func TestBaseDims(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBase(A, B, C)
	assert.NotNil(b)
	assert.NoError(err)

	nx, nu, nz := b.Dims()
	assert.Equal(2, nx)
	assert.Equal(1, nu)
	assert.Equal(1, nz)

	b, err = NewBase(A, nil, C)
	assert.NotNil(b)
	assert.NoError(err)

	_, nu, _ = b.Dims()
	assert.Equal(0, nu)
}

func TestBasePropagate(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBase(A, B, C)
	assert.NotNil(b)
	assert.NoError(err)

	x := mat.NewVecDense(2, []float64{2.0, 1.0})
	u := mat.NewVecDense(1, []float64{1.0})

	// x[n+1] = A*x + B*u = [3, 1] + [0.5, 1] = [3.5, 2]
	xNext, err := b.Propagate(x, u, nil, 1.0)
	assert.NotNil(xNext)
	assert.NoError(err)
	assert.InDelta(3.5, xNext.AtVec(0), 1e-12)
	assert.InDelta(2.0, xNext.AtVec(1), 1e-12)

	// process noise is added to the propagated state
	q := mat.NewVecDense(2, []float64{0.1, -0.1})
	xNext, err = b.Propagate(x, u, q, 1.0)
	assert.NotNil(xNext)
	assert.NoError(err)
	assert.InDelta(3.6, xNext.AtVec(0), 1e-12)
	assert.InDelta(1.9, xNext.AtVec(1), 1e-12)

	// invalid state vector
	_, err = b.Propagate(mat.NewVecDense(3, nil), u, nil, 1.0)
	assert.Error(err)

	// invalid input vector
	_, err = b.Propagate(x, mat.NewVecDense(3, nil), nil, 1.0)
	assert.Error(err)
}

func TestBaseObserve(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBase(A, B, C)
	assert.NotNil(b)
	assert.NoError(err)

	x := mat.NewVecDense(2, []float64{2.0, 1.0})

	// z = C*x = [2]
	z, err := b.Observe(x, nil)
	assert.NotNil(z)
	assert.NoError(err)
	assert.InDelta(2.0, z.AtVec(0), 1e-12)

	// observation noise is added to the output
	r := mat.NewVecDense(1, []float64{0.5})
	z, err = b.Observe(x, r)
	assert.NotNil(z)
	assert.NoError(err)
	assert.InDelta(2.5, z.AtVec(0), 1e-12)

	// invalid state vector
	_, err = b.Observe(mat.NewVecDense(3, nil), nil)
	assert.Error(err)
}

func TestBaseMatrices(t *testing.T) {
	assert := assert.New(t)

	b, err := NewBase(A, B, C)
	assert.NotNil(b)
	assert.NoError(err)

	assert.True(mat.Equal(A, b.StateMatrix()))
	assert.True(mat.Equal(B, b.ControlMatrix()))
	assert.True(mat.Equal(C, b.OutputMatrix()))

	b, err = NewBase(A, nil, C)
	assert.NotNil(b)
	assert.NoError(err)
	assert.Nil(b.ControlMatrix())
}
