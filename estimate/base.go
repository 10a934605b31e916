package estimate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Base is a joint SLAM state estimate: the robot pose (x, y, heading)
// concatenated with the world frame positions of all tracked landmarks,
// together with its covariance. The value vector has length 3 + 2L where
// L is the number of tracked landmarks.
type Base struct {
	// val is estimated value
	val *mat.VecDense
	// cov is estimated covariance
	cov *mat.SymDense
}

// NewBase returns base estimate given val with zero covariance.
// It returns error if val does not have the 3 + 2L joint state layout.
func NewBase(val mat.Vector) (*Base, error) {
	if err := checkLayout(val.Len()); err != nil {
		return nil, err
	}

	v := &mat.VecDense{}
	v.CloneFromVec(val)

	c := mat.NewSymDense(v.Len(), nil)

	return &Base{
		val: v,
		cov: c,
	}, nil
}

// NewBaseWithCov returns base estimate given val and its covariance cov.
// It returns error if the dimensions disagree or if val does not have the
// 3 + 2L joint state layout.
func NewBaseWithCov(val mat.Vector, cov mat.Symmetric) (*Base, error) {
	if err := checkLayout(val.Len()); err != nil {
		return nil, err
	}

	if val.Len() != cov.SymmetricDim() {
		return nil, fmt.Errorf("invalid dimensions, val: %d, cov: %dx%d", val.Len(), cov.SymmetricDim(), cov.SymmetricDim())
	}

	v := &mat.VecDense{}
	v.CloneFromVec(val)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &Base{
		val: v,
		cov: c,
	}, nil
}

// Val returns estimated value
func (b *Base) Val() mat.Vector {
	v := &mat.VecDense{}
	v.CloneFromVec(b.val)

	return v
}

// Cov returns covariance estimate
func (b *Base) Cov() mat.Symmetric {
	cov := mat.NewSymDense(b.cov.SymmetricDim(), nil)
	cov.CopySym(b.cov)

	return cov
}

// Pose returns the robot pose part of the estimate: (x, y, heading).
func (b *Base) Pose() mat.Vector {
	return mat.NewVecDense(3, []float64{b.val.AtVec(0), b.val.AtVec(1), b.val.AtVec(2)})
}

// PoseCov returns the 3x3 pose covariance block.
func (b *Base) PoseCov() mat.Symmetric {
	cov := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			cov.SetSym(i, j, b.cov.At(i, j))
		}
	}

	return cov
}

// NumLandmarks returns the number of tracked landmarks.
func (b *Base) NumLandmarks() int {
	return (b.val.Len() - 3) / 2
}

// Landmark returns the world frame position of the i-th tracked landmark.
// It returns error if i is out of range.
func (b *Base) Landmark(i int) (x, y float64, err error) {
	if i < 0 || i >= b.NumLandmarks() {
		return 0, 0, fmt.Errorf("invalid landmark index: %d", i)
	}

	return b.val.AtVec(3 + 2*i), b.val.AtVec(3 + 2*i + 1), nil
}

func checkLayout(n int) error {
	if n < 3 || (n-3)%2 != 0 {
		return fmt.Errorf("invalid joint state length: %d", n)
	}

	return nil
}
