package sim

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Discrete is a basic model of a linear, discrete-time, dynamical system
type Discrete struct {
	System
}

// NewDiscrete creates a linear discrete-time model based on the control theory equations.
//
//	x[n+1] = A*x[n] + B*u[n] + E*z[n] (disturbances E not implemented yet)
//	y[n] = C*x[n]
func NewDiscrete(A, B, C, E *mat.Dense) (*Discrete, error) {
	if A == nil {
		return nil, fmt.Errorf("system matrix must be defined for a model")
	}
	return &Discrete{System: System{A: A, B: B, C: C, E: E}}, nil
}

// Propagate returns the next internal state x of a linear, discrete-time
// system given an input vector u and process noise wd. The time increment
// dt is accepted for the spkf.Propagator contract and ignored: the system
// advances one discrete step per propagation.
func (d *Discrete) Propagate(x, u, wd mat.Vector, dt float64) (mat.Vector, error) {
	nx, nu, _, _ := d.SystemDims()
	if u != nil && u.Len() != nu {
		return nil, fmt.Errorf("invalid input vector")
	}

	if x.Len() != nx {
		return nil, fmt.Errorf("invalid state vector")
	}

	out := new(mat.Dense)
	out.Mul(d.A, x)
	if u != nil && d.B != nil {
		outU := new(mat.Dense)
		outU.Mul(d.B, u)

		out.Add(out, outU)
	}

	if wd != nil && wd.Len() == nx {
		out.Add(out, wd)
	}
	return out.ColView(0), nil
}
