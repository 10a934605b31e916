package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RangeBearing is the range/bearing measurement model.
// It predicts, for every tracked landmark in the joint state, the range and
// bearing the sensor would report, accounting for the fixed offset of the
// sensor from the robot origin (the lever arm, expressed in the body frame).
//
// A landmark coinciding with the sensor origin makes the bearing, and the
// measurement Jacobian, undefined. By default no guard is applied and the
// Jacobian carries non-finite values in that case; WithMinRange sets a floor
// on the range used in the Jacobian denominators so the entries stay finite.
type RangeBearing struct {
	// offset is the sensor lever arm in the body frame
	offset *mat.VecDense
	// minRange floors the predicted range; 0 disables the floor
	minRange float64
}

// Option configures RangeBearing.
type Option func(*RangeBearing)

// WithMinRange sets a floor on the predicted range used when evaluating the
// measurement function and its Jacobian.
func WithMinRange(r float64) Option {
	return func(m *RangeBearing) {
		m.minRange = r
	}
}

// NewRangeBearing creates new RangeBearing measurement model with the given
// sensor offset. A nil offset means the sensor sits at the robot origin.
// It returns error if offset is not 2 dimensional.
func NewRangeBearing(offset mat.Vector, opts ...Option) (*RangeBearing, error) {
	off := mat.NewVecDense(2, nil)
	if offset != nil {
		if offset.Len() != 2 {
			return nil, fmt.Errorf("invalid sensor offset length: %d", offset.Len())
		}
		off.SetVec(0, offset.AtVec(0))
		off.SetVec(1, offset.AtVec(1))
	}

	m := &RangeBearing{offset: off}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Offset returns the sensor lever arm in the body frame.
func (m *RangeBearing) Offset() mat.Vector {
	off := mat.NewVecDense(2, nil)
	off.CopyVec(m.offset)

	return off
}

// Observe predicts the measurement of every tracked landmark in eta.
// The result is a flat vector of interleaved range/bearing pairs in
// landmark (state) order.
// It returns error if eta does not have the 3 + 2L joint state layout.
func (m *RangeBearing) Observe(eta mat.Vector) (mat.Vector, error) {
	num, err := numLandmarks(eta)
	if err != nil {
		return nil, err
	}

	if num == 0 {
		return &mat.VecDense{}, nil
	}

	x, y := eta.AtVec(0), eta.AtVec(1)
	sin, cos := math.Sincos(eta.AtVec(2))
	// sensor position offset in world frame
	offx := cos*m.offset.AtVec(0) - sin*m.offset.AtVec(1)
	offy := sin*m.offset.AtVec(0) + cos*m.offset.AtVec(1)

	zpred := mat.NewVecDense(2*num, nil)
	for i := 0; i < num; i++ {
		// landmark relative to the sensor, world frame
		ax := eta.AtVec(3+2*i) - x - offx
		ay := eta.AtVec(3+2*i+1) - y - offy

		r := math.Hypot(ax, ay)
		if m.minRange > 0 && r < m.minRange {
			r = m.minRange
		}

		// rotate into the sensor frame for the bearing
		bx := cos*ax + sin*ay
		by := -sin*ax + cos*ay

		zpred.SetVec(2*i, r)
		zpred.SetVec(2*i+1, math.Atan2(by, bx))
	}

	return zpred, nil
}

// Jacobian returns the (2L)x(3+2L) Jacobian of Observe with respect to the
// joint state eta. Each landmark contributes a 2x3 pose block and a 2x2 block
// in its own columns; one measurement depends on no other landmark, so all
// remaining columns are zero. The landmark block is the negative of the first
// two pose columns.
// It returns error if eta does not have the 3 + 2L joint state layout.
func (m *RangeBearing) Jacobian(eta mat.Vector) (*mat.Dense, error) {
	num, err := numLandmarks(eta)
	if err != nil {
		return nil, err
	}

	if num == 0 {
		return &mat.Dense{}, nil
	}

	x, y := eta.AtVec(0), eta.AtVec(1)
	sin, cos := math.Sincos(eta.AtVec(2))
	offx := cos*m.offset.AtVec(0) - sin*m.offset.AtVec(1)
	offy := sin*m.offset.AtVec(0) + cos*m.offset.AtVec(1)

	h := mat.NewDense(2*num, 3+2*num, nil)
	for i := 0; i < num; i++ {
		// landmark relative to the robot and to the sensor, world frame
		dx := eta.AtVec(3+2*i) - x
		dy := eta.AtVec(3+2*i+1) - y
		ax := dx - offx
		ay := dy - offy

		q := ax*ax + ay*ay
		r := math.Sqrt(q)
		if m.minRange > 0 && r < m.minRange {
			r = m.minRange
			q = r * r
		}

		// range row
		h.Set(2*i, 0, -ax/r)
		h.Set(2*i, 1, -ay/r)
		h.Set(2*i, 2, (ax*dy-ay*dx)/r)
		// bearing row
		h.Set(2*i+1, 0, ay/q)
		h.Set(2*i+1, 1, -ax/q)
		h.Set(2*i+1, 2, -(ax*dx+ay*dy)/q)
		// own landmark block
		h.Set(2*i, 3+2*i, ax/r)
		h.Set(2*i, 3+2*i+1, ay/r)
		h.Set(2*i+1, 3+2*i, -ay/q)
		h.Set(2*i+1, 3+2*i+1, ax/q)
	}

	return h, nil
}

func numLandmarks(eta mat.Vector) (int, error) {
	n := eta.Len()
	if n < 3 || (n-3)%2 != 0 {
		return 0, fmt.Errorf("invalid joint state length: %d", n)
	}

	return (n - 3) / 2, nil
}
