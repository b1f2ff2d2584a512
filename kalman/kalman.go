package kalman

import (
	"github.com/spkf-go/spkf"
	"gonum.org/v1/gonum/mat"
)

// Kalman is a Kalman filter.
type Kalman interface {
	// spkf.Filter is a dynamical system filter
	spkf.Filter
	// Cov returns Kalman filter state covariance
	Cov() mat.Symmetric
	// Gain returns Kalman filter gain
	Gain() mat.Matrix
}
