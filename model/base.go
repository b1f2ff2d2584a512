package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// InitCond implements spkf.InitCond
type InitCond struct {
	state *mat.VecDense
	cov   *mat.SymDense
}

// NewInitCond creates new InitCond and returns it
func NewInitCond(state mat.Vector, cov mat.Symmetric) *InitCond {
	s := &mat.VecDense{}
	s.CloneFromVec(state)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &InitCond{
		state: s,
		cov:   c,
	}
}

// State returns initial state
func (c *InitCond) State() mat.Vector {
	state := mat.NewVecDense(c.state.Len(), nil)
	state.CopyVec(c.state)

	return state
}

// Cov returns initial covariance
func (c *InitCond) Cov() mat.Symmetric {
	cov := mat.NewSymDense(c.cov.SymmetricDim(), nil)
	cov.CopySym(c.cov)

	return cov
}

// Base is a basic linear discrete-time model of a dynamical system:
//
//	x[n+1] = A*x[n] + B*u[n] + q[n]
//	z[n] = C*x[n] + r[n]
//
// The time increment is ignored: the model advances one discrete step per
// propagation.
type Base struct {
	// A is internal state matrix
	A *mat.Dense
	// B is control matrix
	B *mat.Dense
	// C is observation matrix
	C *mat.Dense
}

// NewBase creates a linear discrete-time model and returns it.
// It returns error if A is not square or if B or C dimensions do not agree
// with A.
func NewBase(A, B, C *mat.Dense) (*Base, error) {
	if A == nil || C == nil {
		return nil, fmt.Errorf("state and observation matrices must be defined")
	}

	nx, cols := A.Dims()
	if nx != cols {
		return nil, fmt.Errorf("invalid state matrix dimensions: [%d x %d]", nx, cols)
	}

	if B != nil {
		rows, _ := B.Dims()
		if rows != nx {
			return nil, fmt.Errorf("invalid control matrix dimensions: [%d x %d]", rows, nx)
		}
	}

	if _, cols := C.Dims(); cols != nx {
		return nil, fmt.Errorf("invalid observation matrix dimensions: [%d x %d]", cols, nx)
	}

	return &Base{A: A, B: B, C: C}, nil
}

// Propagate propagates internal state x of the system to the next step.
// q is process noise added to the propagated state; dt is accepted for the
// spkf.Propagator contract and ignored.
func (b *Base) Propagate(x, u, q mat.Vector, dt float64) (mat.Vector, error) {
	nx, nu, _ := b.Dims()
	if u != nil && u.Len() != nu {
		return nil, fmt.Errorf("invalid input vector")
	}

	if x.Len() != nx {
		return nil, fmt.Errorf("invalid state vector")
	}

	out := new(mat.Dense)
	out.Mul(b.A, x)

	if u != nil && b.B != nil {
		outU := new(mat.Dense)
		outU.Mul(b.B, u)

		out.Add(out, outU)
	}

	if q != nil && q.Len() == nx {
		out.Add(out, q)
	}

	return out.ColView(0), nil
}

// Observe observes external state of the system given internal state x.
// r is observation noise added to the output.
func (b *Base) Observe(x, r mat.Vector) (mat.Vector, error) {
	nx, _, nz := b.Dims()
	if x.Len() != nx {
		return nil, fmt.Errorf("invalid state vector")
	}

	out := new(mat.Dense)
	out.Mul(b.C, x)

	if r != nil && r.Len() == nz {
		out.Add(out, r)
	}

	return out.ColView(0), nil
}

// Dims returns state, control and observation dimensions of the model
func (b *Base) Dims() (nx, nu, nz int) {
	nx, _ = b.A.Dims()
	if b.B != nil {
		_, nu = b.B.Dims()
	}
	nz, _ = b.C.Dims()

	return nx, nu, nz
}

// StateMatrix returns state propagation matrix
func (b *Base) StateMatrix() mat.Matrix {
	m := &mat.Dense{}
	m.CloneFrom(b.A)

	return m
}

// ControlMatrix returns state propagation control matrix
func (b *Base) ControlMatrix() mat.Matrix {
	if b.B == nil {
		return nil
	}
	m := &mat.Dense{}
	m.CloneFrom(b.B)

	return m
}

// OutputMatrix returns observation matrix
func (b *Base) OutputMatrix() mat.Matrix {
	m := &mat.Dense{}
	m.CloneFrom(b.C)

	return m
}
