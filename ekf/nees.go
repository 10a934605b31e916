package ekf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-slam/model"
)

// NEES computes the Normalized Estimation Error Squared of the robot pose
// estimate against the ground truth: the total pose NEES, the position only
// NEES and the heading only NEES. The heading error is wrapped to (-pi, pi].
// A singular covariance block, a zero heading variance or a NaN result does
// not fail the computation: the affected component is substituted with the
// sentinel value 1.
// It returns error if the vectors are not 3 dimensional, cov is not 3x3 or
// any resulting NEES is negative, which signals a non-PSD covariance.
func NEES(pose mat.Vector, cov mat.Symmetric, truth mat.Vector) (total, position, heading float64, err error) {
	if pose.Len() != 3 || truth.Len() != 3 {
		return 0, 0, 0, fmt.Errorf("invalid pose dimensions: [%d, %d]", pose.Len(), truth.Len())
	}

	if cov.SymmetricDim() != 3 {
		return 0, 0, 0, fmt.Errorf("invalid pose covariance dimension: %d", cov.SymmetricDim())
	}

	d := mat.NewVecDense(3, []float64{
		pose.AtVec(0) - truth.AtVec(0),
		pose.AtVec(1) - truth.AtVec(1),
		model.WrapToPi(pose.AtVec(2) - truth.AtVec(2)),
	})

	total, position, heading = 1.0, 1.0, 1.0

	p := mat.DenseCopyOf(cov)
	if mat.Det(p) != 0 {
		var sol mat.VecDense
		if err := sol.SolveVec(p, d); err == nil {
			total = mat.Dot(d, &sol)
		}
	}

	dp := mat.NewVecDense(2, []float64{d.AtVec(0), d.AtVec(1)})
	pp := mat.DenseCopyOf(p.Slice(0, 2, 0, 2))
	if mat.Det(pp) != 0 {
		var sol mat.VecDense
		if err := sol.SolveVec(pp, dp); err == nil {
			position = mat.Dot(dp, &sol)
		}
	}

	if ph := cov.At(2, 2); ph != 0 {
		heading = d.AtVec(2) * d.AtVec(2) / ph
	}

	if math.IsNaN(total) {
		total = 1.0
	}
	if math.IsNaN(position) {
		position = 1.0
	}
	if math.IsNaN(heading) {
		heading = 1.0
	}

	if total < 0 || position < 0 || heading < 0 {
		return 0, 0, 0, fmt.Errorf("negative NEES: [%f, %f, %f]", total, position, heading)
	}

	return total, position, heading, nil
}
