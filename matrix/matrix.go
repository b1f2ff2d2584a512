package matrix

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RowSums returns a slice containing m row sums.
// It panics if m is nil.
func RowSums(m *mat.Dense) []float64 {
	rows, _ := m.Dims()
	sum := make([]float64, rows)

	for i := 0; i < rows; i++ {
		sum[i] = floats.Sum(m.RawRowView(i))
	}

	return sum
}

// ColSums returns a slice containing m column sums.
// It panics if m is nil.
func ColSums(m *mat.Dense) []float64 {
	_, cols := m.Dims()
	sum := make([]float64, cols)

	for i := 0; i < cols; i++ {
		sum[i] = mat.Sum(m.ColView(i))
	}

	return sum
}

// ToSym copies the upper triangle of the square matrix m into a new
// symmetric matrix and returns it. It is meant for matrices which are
// symmetric by construction up to floating point noise, such as weighted
// outer-product sums.
// It panics if m is not square.
func ToSym(m mat.Matrix) *mat.SymDense {
	rows, cols := m.Dims()
	if rows != cols {
		panic(mat.ErrShape)
	}

	s := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := i; j < cols; j++ {
			s.SetSym(i, j, m.At(i, j))
		}
	}

	return s
}
