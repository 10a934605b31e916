package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Motion is the planar odometry motion model.
// The robot pose is (x, y, heading) and the odometry input is the relative
// motion (dx, dy, dheading) expressed in the robot body frame. Landmarks are
// static, so the model only ever acts on the pose part of the joint state.
type Motion struct{}

// Propagate adds the odometry u to the robot pose x and returns the
// predicted pose. The resulting heading is wrapped to (-pi, pi].
// It returns error if either vector is not 3 dimensional.
func (Motion) Propagate(x, u mat.Vector) (mat.Vector, error) {
	if x.Len() != 3 {
		return nil, fmt.Errorf("invalid pose vector length: %d", x.Len())
	}

	if u.Len() != 3 {
		return nil, fmt.Errorf("invalid odometry vector length: %d", u.Len())
	}

	sin, cos := math.Sincos(x.AtVec(2))

	return mat.NewVecDense(3, []float64{
		x.AtVec(0) + cos*u.AtVec(0) - sin*u.AtVec(1),
		x.AtVec(1) + sin*u.AtVec(0) + cos*u.AtVec(1),
		WrapToPi(x.AtVec(2) + u.AtVec(2)),
	}), nil
}

// StateJacobian returns the 3x3 Jacobian of Propagate with respect to the
// pose x: identity except for the heading column of the position block, which
// is the derivative of the rotation matrix applied to the translation input.
// It returns error if either vector is not 3 dimensional.
func (Motion) StateJacobian(x, u mat.Vector) (*mat.Dense, error) {
	if x.Len() != 3 || u.Len() != 3 {
		return nil, fmt.Errorf("invalid pose or odometry vector: [%d, %d]", x.Len(), u.Len())
	}

	sin, cos := math.Sincos(x.AtVec(2))
	ux, uy := u.AtVec(0), u.AtVec(1)

	return mat.NewDense(3, 3, []float64{
		1, 0, -sin*ux - cos*uy,
		0, 1, cos*ux - sin*uy,
		0, 0, 1,
	}), nil
}

// InputJacobian returns the 3x3 Jacobian of Propagate with respect to the
// odometry u: identity with the translation block replaced by the body to
// world rotation.
// It returns error if either vector is not 3 dimensional.
func (Motion) InputJacobian(x, u mat.Vector) (*mat.Dense, error) {
	if x.Len() != 3 || u.Len() != 3 {
		return nil, fmt.Errorf("invalid pose or odometry vector: [%d, %d]", x.Len(), u.Len())
	}

	sin, cos := math.Sincos(x.AtVec(2))

	return mat.NewDense(3, 3, []float64{
		cos, -sin, 0,
		sin, cos, 0,
		0, 0, 1,
	}), nil
}

// WrapToPi wraps the angle a to the interval (-pi, pi].
func WrapToPi(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}

	return a - math.Pi
}
