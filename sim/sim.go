package sim

import (
	"fmt"

	"github.com/spkf-go/spkf"
	"github.com/spkf-go/spkf/rand"
	"gonum.org/v1/gonum/mat"
)

// Measurements simulates the model for the given number of steps of length
// dt under the constant control input u and returns two matrices: the true
// model outputs and the same outputs corrupted by zero-mean measurement
// noise with covariance measCov. Both matrices store one time step per row:
// column 0 is the step time, the remaining columns are the output vector.
// It returns error if the model propagation or observation fails or if the
// measurement noise fails to be generated.
func Measurements(m spkf.Model, x0, u mat.Vector, dt float64, steps int, measCov mat.Symmetric) (*mat.Dense, *mat.Dense, error) {
	if steps <= 0 {
		return nil, nil, fmt.Errorf("invalid number of steps: %d", steps)
	}

	_, _, nz := m.Dims()
	if measCov.SymmetricDim() != nz {
		return nil, nil, fmt.Errorf("invalid measurement covariance dimension: %d", measCov.SymmetricDim())
	}

	wn, err := rand.WithCovN(measCov, steps)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate measurement noise: %v", err)
	}

	truth := mat.NewDense(steps, 1+nz, nil)
	meas := mat.NewDense(steps, 1+nz, nil)

	x := &mat.VecDense{}
	x.CloneFromVec(x0)

	for i := 0; i < steps; i++ {
		xNext, err := m.Propagate(x, u, nil, dt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to propagate system state: %v", err)
		}
		x.CloneFromVec(xNext)

		z, err := m.Observe(x, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to observe system output: %v", err)
		}

		truth.Set(i, 0, float64(i)*dt)
		meas.Set(i, 0, float64(i)*dt)
		for j := 0; j < nz; j++ {
			truth.Set(i, 1+j, z.AtVec(j))
			meas.Set(i, 1+j, z.AtVec(j)+wn.At(j, i))
		}
	}

	return truth, meas, nil
}
