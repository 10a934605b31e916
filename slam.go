package slam

import "gonum.org/v1/gonum/mat"

// Filter is a feature based SLAM filter.
// The joint state it estimates is the robot pose concatenated with the
// positions of all tracked landmarks; the caller owns the state and its
// covariance and threads them through consecutive steps.
type Filter interface {
	// Predict propagates the joint state estimate using odometry u
	Predict(eta mat.Vector, cov mat.Symmetric, u mat.Vector) (Estimate, error)
	// Update corrects the joint state estimate using the measurement batch z.
	// It returns the corrected estimate, the Normalized Innovation Squared of
	// the step and the per-detection association slice.
	Update(eta mat.Vector, cov mat.Symmetric, z mat.Vector) (Estimate, float64, []int, error)
}

// Estimate is a joint SLAM state estimate
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
}

// Associator matches raw detections to tracked landmarks.
// z is a flat vector of interleaved range/bearing detections, zpred the
// predicted measurements of all tracked landmarks in state order and s the
// innovation covariance related to zpred.
type Associator interface {
	// Associate returns a slice with one entry per detection: the index of
	// the matched landmark, or -1 when no compatible landmark was found.
	Associate(z, zpred mat.Vector, s mat.Symmetric) ([]int, error)
}
