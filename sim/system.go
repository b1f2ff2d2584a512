package sim

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// System defines a linear model of a plant using
// traditional matrices of modern control theory.
//
// It contains the System (A), input (B), Observation/Output (C)
// and disturbance (E) matrices.
type System struct {
	// System/State matrix A
	A *mat.Dense
	// Control/Input Matrix B
	B *mat.Dense
	// Observation/Output Matrix C
	C *mat.Dense
	// Perturbation matrix (related to process noise wd) E
	E *mat.Dense
}

func newSystem(A, B, C, E mat.Matrix) System {
	sys := System{A: mat.DenseCopyOf(A)}
	if B != nil && B.(*mat.Dense) != nil {
		sys.B = mat.DenseCopyOf(B)
	}
	if C != nil && C.(*mat.Dense) != nil {
		sys.C = mat.DenseCopyOf(C)
	}
	if E != nil && E.(*mat.Dense) != nil {
		sys.E = mat.DenseCopyOf(E)
	}
	return sys
}

// SystemDims returns internal state length (nx), input vector length (nu),
// external/observable/output state length (ny) and disturbance vector length (nz).
func (s System) SystemDims() (nx, nu, ny, nz int) {
	nx, _ = s.A.Dims()
	if s.B != nil {
		_, nu = s.B.Dims()
	}
	if s.C != nil {
		ny, _ = s.C.Dims()
	}
	if s.E != nil {
		_, nz = s.E.Dims()
	}
	return nx, nu, ny, nz
}

// Dims returns state, control and observation dimensions per the
// spkf.Model contract.
func (s System) Dims() (nx, nu, nz int) {
	nx, nu, ny, _ := s.SystemDims()
	return nx, nu, ny
}

// SystemMatrix returns state propagation matrix `A`.
func (s System) SystemMatrix() (A mat.Matrix) { return s.A }

// ControlMatrix returns state propagation control matrix `B`
func (s System) ControlMatrix() (B mat.Matrix) {
	if s.B == nil {
		return nil
	}
	return s.B
}

// OutputMatrix returns observation matrix `C`
func (s System) OutputMatrix() (C mat.Matrix) {
	if s.C == nil {
		return nil
	}
	return s.C
}

// Observe returns external/observable state given internal state x.
// wn is added to the output as a noise vector.
func (s System) Observe(x, wn mat.Vector) (y mat.Vector, err error) {
	nx, _, ny, _ := s.SystemDims()
	if x.Len() != nx {
		return nil, fmt.Errorf("invalid state vector")
	}

	out := new(mat.Dense)
	out.Mul(s.C, x)

	if wn != nil && wn.Len() == ny {
		out.Add(out, wn)
	}

	return out.ColView(0), nil
}
