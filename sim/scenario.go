package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/model"
)

// Scenario is a synthetic planar SLAM scenario: a robot driving a constant
// turn rate trajectory among fixed point landmarks, observed with a range
// limited range/bearing sensor. It generates the ground truth poses, the
// noisy odometry between them and the noisy detections visible from a pose,
// which is everything a SLAM filter consumes.
type Scenario struct {
	// landmarks are world frame positions, one (x, y) row per landmark
	landmarks *mat.Dense
	// maxRange limits sensor visibility
	maxRange float64
	// q corrupts odometry; nil means perfect odometry
	q slam.Noise
	// r corrupts detections; nil means perfect detections
	r slam.Noise
}

// NewScenario creates new Scenario and returns it.
// It returns error if landmarks is nil or not 2 columns wide, maxRange is not
// positive or either noise has the wrong dimension.
func NewScenario(landmarks *mat.Dense, maxRange float64, q, r slam.Noise) (*Scenario, error) {
	if landmarks == nil {
		return nil, fmt.Errorf("invalid landmarks: %v", landmarks)
	}

	if _, c := landmarks.Dims(); c != 2 {
		return nil, fmt.Errorf("invalid landmark dimensions: %d columns", c)
	}

	if maxRange <= 0 {
		return nil, fmt.Errorf("invalid sensor range: %f", maxRange)
	}

	if q != nil && q.Cov().SymmetricDim() != 3 {
		return nil, fmt.Errorf("invalid odometry noise dimension: %d", q.Cov().SymmetricDim())
	}

	if r != nil && r.Cov().SymmetricDim() != 2 {
		return nil, fmt.Errorf("invalid detection noise dimension: %d", r.Cov().SymmetricDim())
	}

	return &Scenario{
		landmarks: landmarks,
		maxRange:  maxRange,
		q:         q,
		r:         r,
	}, nil
}

// Landmarks returns the ground truth landmark positions, one row each.
func (s *Scenario) Landmarks() *mat.Dense {
	return mat.DenseCopyOf(s.landmarks)
}

// Truth returns steps ground truth poses of a constant turn rate drive from
// the origin, one (x, y, heading) row per step.
// It returns error if steps is not positive.
func (s *Scenario) Truth(steps int, speed, yawRate float64) (*mat.Dense, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("invalid number of steps: %d", steps)
	}

	truth := mat.NewDense(steps, 3, nil)

	var x, y, th float64
	for i := 0; i < steps; i++ {
		truth.Set(i, 0, x)
		truth.Set(i, 1, y)
		truth.Set(i, 2, th)

		x += speed * math.Cos(th)
		y += speed * math.Sin(th)
		th = model.WrapToPi(th + yawRate)
	}

	return truth, nil
}

// Odometry returns the body frame relative motion between consecutive truth
// poses corrupted by the scenario odometry noise, one (dx, dy, dheading) row
// per step.
// It returns error if truth does not hold at least two 3 dimensional poses.
func (s *Scenario) Odometry(truth *mat.Dense) (*mat.Dense, error) {
	rows, cols := truth.Dims()
	if rows < 2 || cols != 3 {
		return nil, fmt.Errorf("invalid truth dimensions: [%d x %d]", rows, cols)
	}

	odo := mat.NewDense(rows-1, 3, nil)

	for i := 0; i < rows-1; i++ {
		dx := truth.At(i+1, 0) - truth.At(i, 0)
		dy := truth.At(i+1, 1) - truth.At(i, 1)
		sin, cos := math.Sincos(truth.At(i, 2))

		// relative motion in the body frame of the i-th pose
		odo.Set(i, 0, cos*dx+sin*dy)
		odo.Set(i, 1, -sin*dx+cos*dy)
		odo.Set(i, 2, model.WrapToPi(truth.At(i+1, 2)-truth.At(i, 2)))

		if s.q != nil {
			n := s.q.Sample()
			for j := 0; j < 3; j++ {
				odo.Set(i, j, odo.At(i, j)+n.AtVec(j))
			}
		}
	}

	return odo, nil
}

// Observe returns the noisy detections of all landmarks within sensor range
// of the given pose as a flat vector of interleaved range/bearing pairs.
// It returns error if pose is not 3 dimensional.
func (s *Scenario) Observe(pose mat.Vector) (mat.Vector, error) {
	if pose.Len() != 3 {
		return nil, fmt.Errorf("invalid pose vector length: %d", pose.Len())
	}

	rows, _ := s.landmarks.Dims()

	var z []float64
	for i := 0; i < rows; i++ {
		dx := s.landmarks.At(i, 0) - pose.AtVec(0)
		dy := s.landmarks.At(i, 1) - pose.AtVec(1)

		rng := math.Hypot(dx, dy)
		if rng > s.maxRange {
			continue
		}
		brg := model.WrapToPi(math.Atan2(dy, dx) - pose.AtVec(2))

		if s.r != nil {
			n := s.r.Sample()
			rng += n.AtVec(0)
			brg = model.WrapToPi(brg + n.AtVec(1))
		}

		z = append(z, rng, brg)
	}

	if len(z) == 0 {
		return &mat.VecDense{}, nil
	}

	return mat.NewVecDense(len(z), z), nil
}
