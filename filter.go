package spkf

import "gonum.org/v1/gonum/mat"

// Filter is a dynamical system filter.
type Filter interface {
	// Predict estimates the next internal state of the system
	Predict(x, u mat.Vector, dt float64) (Estimate, error)
	// Update updates the system state based on external measurement
	Update(x, u, z mat.Vector) (Estimate, error)
}

// Propagator propagates internal state of the system to the next step.
type Propagator interface {
	// Propagate propagates state x to the next step given control input u,
	// process noise q and time increment dt.
	Propagate(x, u, q mat.Vector, dt float64) (mat.Vector, error)
}

// Observer observes external state (output) of the system.
type Observer interface {
	// Observe observes external state of the system given state x and
	// observation noise r.
	Observe(x, r mat.Vector) (mat.Vector, error)
}

// Model is a model of a dynamical system.
type Model interface {
	// Propagator is system propagator
	Propagator
	// Observer is system observer
	Observer
	// Dims returns state, control and observation dimensions of the model
	Dims() (nx, nu, nz int)
}

// InitCond is initial state condition of the filter.
type InitCond interface {
	// State returns initial filter state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Estimate is dynamical system filter estimate.
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise.
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Reset resets the noise
	Reset()
}
