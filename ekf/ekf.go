package ekf

import (
	"fmt"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/estimate"
	mtx "github.com/milosgajdos/go-slam/matrix"
	"github.com/milosgajdos/go-slam/model"
)

// EKF is an Extended Kalman Filter for feature based SLAM.
// It estimates the joint state of the robot pose and a growing map of point
// landmarks. The state vector eta has length 3 + 2L: the pose (x, y, heading)
// followed by the world frame positions of the L tracked landmarks in
// discovery order; the landmark index is its identity. The caller owns eta
// and its covariance and threads them through consecutive steps; the filter
// holds no mutable state of its own.
type EKF struct {
	// m is the range/bearing measurement model
	m *model.RangeBearing
	// g is the odometry motion model
	g model.Motion
	// q is process a.k.a. odometry noise
	q slam.Noise
	// r is per detection measurement noise
	r slam.Noise
	// a matches detections to tracked landmarks; nil disables association
	a slam.Associator
}

// New creates new SLAM EKF and returns it.
// It accepts the following parameters:
//   - m: range/bearing measurement model
//   - q: process a.k.a. odometry noise; its covariance must be 3x3
//   - r: per detection measurement noise; its covariance must be 2x2
//   - a: detection to landmark associator; nil disables association, in which
//     case every detection is treated as a new landmark candidate
//
// It returns error if the model is missing or either noise has the wrong
// dimension.
func New(m *model.RangeBearing, q, r slam.Noise, a slam.Associator) (*EKF, error) {
	if m == nil {
		return nil, fmt.Errorf("invalid measurement model: %v", m)
	}

	if q == nil || q.Cov().SymmetricDim() != 3 {
		return nil, fmt.Errorf("invalid process noise: covariance must be 3x3")
	}

	if r == nil || r.Cov().SymmetricDim() != 2 {
		return nil, fmt.Errorf("invalid measurement noise: covariance must be 2x2")
	}

	return &EKF{
		m: m,
		q: q,
		r: r,
		a: a,
	}, nil
}

// Predict propagates the joint state estimate using the odometry u and
// returns the predicted estimate. Landmarks are static so only the pose part
// of the mean and the pose related covariance blocks change; the
// landmark-landmark block passes through untouched and the map-pose block is
// set by transposition to keep the covariance exactly symmetric.
// It returns error if the supplied state, covariance or odometry have
// invalid dimensions.
func (k *EKF) Predict(eta mat.Vector, cov mat.Symmetric, u mat.Vector) (slam.Estimate, error) {
	n := eta.Len()
	if err := checkJoint(eta, cov); err != nil {
		return nil, err
	}

	if u.Len() != 3 {
		return nil, fmt.Errorf("invalid odometry vector length: %d", u.Len())
	}

	pose := mat.NewVecDense(3, []float64{eta.AtVec(0), eta.AtVec(1), eta.AtVec(2)})

	poseNext, err := k.g.Propagate(pose, u)
	if err != nil {
		return nil, fmt.Errorf("pose propagation failed: %v", err)
	}

	etaNext := mat.VecDenseCopyOf(eta)
	for i := 0; i < 3; i++ {
		etaNext.SetVec(i, poseNext.AtVec(i))
	}

	fx, err := k.g.StateJacobian(pose, u)
	if err != nil {
		return nil, err
	}

	fu, err := k.g.InputJacobian(pose, u)
	if err != nil {
		return nil, err
	}

	p := mat.DenseCopyOf(cov)

	// pose block: Fx*Pxx*Fx' + Fu*Q*Fu'
	var fp, pxx mat.Dense
	fp.Mul(fx, p.Slice(0, 3, 0, 3))
	pxx.Mul(&fp, fx.T())

	var fq, quu mat.Dense
	fq.Mul(fu, k.q.Cov())
	quu.Mul(&fq, fu.T())
	pxx.Add(&pxx, &quu)

	// pose-map cross block: Fx*Pxm, mirrored into the map-pose block
	if n > 3 {
		var pxm mat.Dense
		pxm.Mul(fx, p.Slice(0, 3, 3, n))
		for i := 0; i < 3; i++ {
			for j := 3; j < n; j++ {
				v := pxm.At(i, j-3)
				p.Set(i, j, v)
				p.Set(j, i, v)
			}
		}
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p.Set(i, j, pxx.At(i, j))
		}
	}

	return estimate.NewBaseWithCov(etaNext, mtx.ToSym(p))
}

// Update corrects the joint state estimate using the measurement batch z, a
// flat vector of interleaved range/bearing detections. It associates the
// detections with the tracked landmarks, applies the Kalman correction to the
// matched subset and initializes a new landmark from every unmatched
// detection. It returns the corrected estimate, the Normalized Innovation
// Squared of the step and the per-detection association slice (-1 marks a
// detection that produced a new landmark). When no landmarks are tracked yet
// or no detection could be matched, the Kalman step is skipped and NIS
// defaults to 1.
// It returns error on invalid dimensions, when the associator fails or when
// the innovation covariance is not positive definite (a sign of filter
// divergence, surfaced rather than masked).
func (k *EKF) Update(eta mat.Vector, cov mat.Symmetric, z mat.Vector) (slam.Estimate, float64, []int, error) {
	if err := checkJoint(eta, cov); err != nil {
		return nil, 0, nil, err
	}

	if z.Len()%2 != 0 {
		return nil, 0, nil, fmt.Errorf("invalid measurement batch length: %d", z.Len())
	}

	nd := z.Len() / 2
	nl := (eta.Len() - 3) / 2

	a := make([]int, nd)
	for i := range a {
		a[i] = -1
	}

	nis := 1.0
	etaUpd := mat.VecDenseCopyOf(eta)
	pUpd := mat.DenseCopyOf(cov)

	if nl > 0 && nd > 0 {
		zpred, err := k.m.Observe(eta)
		if err != nil {
			return nil, 0, nil, err
		}

		h, err := k.m.Jacobian(eta)
		if err != nil {
			return nil, 0, nil, err
		}

		// innovation covariance S = H*P*H' + R
		var ph, s mat.Dense
		ph.Mul(pUpd, h.T())
		s.Mul(h, &ph)
		s.Add(&s, mtx.BlockDiag(k.r.Cov(), nl))

		if k.a != nil {
			a, err = k.a.Associate(z, zpred, mtx.ToSym(&s))
			if err != nil {
				return nil, 0, nil, fmt.Errorf("association failed: %v", err)
			}
			if len(a) != nd {
				return nil, 0, nil, fmt.Errorf("invalid association length: %d", len(a))
			}
		}

		// expand landmark associations into interleaved row index pairs
		var zRows, predRows []int
		for i, ai := range a {
			if ai < 0 {
				continue
			}
			if ai >= nl {
				return nil, 0, nil, fmt.Errorf("association index out of range: %d", ai)
			}
			zRows = append(zRows, 2*i, 2*i+1)
			predRows = append(predRows, 2*ai, 2*ai+1)
		}

		if len(zRows) > 0 {
			nis, err = k.correct(etaUpd, pUpd, z, zpred, h, &s, zRows, predRows)
			if err != nil {
				return nil, 0, nil, err
			}
		}
	}

	// initialize a new landmark from every unmatched detection
	var zNew []float64
	for i, ai := range a {
		if ai == -1 {
			zNew = append(zNew, z.AtVec(2*i), z.AtVec(2*i+1))
		}
	}

	if len(zNew) > 0 {
		var err error
		etaUpd, pUpd, err = k.addLandmarks(etaUpd, pUpd, zNew)
		if err != nil {
			return nil, 0, nil, err
		}
	}

	est, err := estimate.NewBaseWithCov(etaUpd, mtx.ToSym(pUpd))
	if err != nil {
		return nil, 0, nil, err
	}

	return est, nis, a, nil
}

// correct applies the Kalman correction for the matched detections in place
// and returns the NIS of the step. zRows indexes the rows of z and predRows
// the rows of zpred, h and s belonging to the matched pairs; s is subset by
// permutation, never re-derived.
func (k *EKF) correct(eta *mat.VecDense, p *mat.Dense, z, zpred mat.Vector, h, s *mat.Dense, zRows, predRows []int) (float64, error) {
	n := eta.Len()
	nm := len(zRows)

	// innovation with wrapped bearings
	v := mat.NewVecDense(nm, nil)
	for r := 0; r < nm; r++ {
		d := z.AtVec(zRows[r]) - zpred.AtVec(predRows[r])
		if r%2 == 1 {
			d = model.WrapToPi(d)
		}
		v.SetVec(r, d)
	}

	// reorder/subset H and S to the surviving association order
	ha := mat.NewDense(nm, n, nil)
	for r, ri := range predRows {
		for c := 0; c < n; c++ {
			ha.Set(r, c, h.At(ri, c))
		}
	}

	sa := mat.NewSymDense(nm, nil)
	for r, ri := range predRows {
		for c := r; c < nm; c++ {
			ci := predRows[c]
			sa.SetSym(r, c, (s.At(ri, ci)+s.At(ci, ri))/2)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sa); !ok {
		return 0, fmt.Errorf("failed to factorize innovation covariance")
	}

	// Kalman gain W = P*Ha'*Sa^-1 via the factorization: solve Sa*X = Ha*P'
	var hp mat.Dense
	hp.Mul(ha, p.T())

	var wt mat.Dense
	if err := chol.SolveTo(&wt, &hp); err != nil {
		return 0, fmt.Errorf("failed to compute Kalman gain: %v", err)
	}
	w := wt.T()

	// mean update
	var corr mat.VecDense
	corr.MulVec(w, v)
	eta.AddVec(eta, &corr)

	// Joseph form covariance update: (I - W*Ha)*P*(I - W*Ha)' + W*Ra*W'
	eye, err := matrix.NewDenseValIdentity(n, 1.0)
	if err != nil {
		return 0, err
	}

	var wh mat.Dense
	wh.Mul(w, ha)

	var j mat.Dense
	j.Sub(eye, &wh)

	var jp, jpj mat.Dense
	jp.Mul(&j, p)
	jpj.Mul(&jp, j.T())

	var wr, wrw mat.Dense
	wr.Mul(w, mtx.BlockDiag(k.r.Cov(), nm/2))
	wrw.Mul(&wr, w.T())
	jpj.Add(&jpj, &wrw)

	p.Copy(&jpj)

	// NIS from the same factorization
	var sv mat.VecDense
	if err := chol.SolveVecTo(&sv, v); err != nil {
		return 0, fmt.Errorf("failed to compute NIS: %v", err)
	}

	return mat.Dot(v, &sv), nil
}

func checkJoint(eta mat.Vector, cov mat.Symmetric) error {
	n := eta.Len()
	if n < 3 || (n-3)%2 != 0 {
		return fmt.Errorf("invalid joint state length: %d", n)
	}

	if cov.SymmetricDim() != n {
		return fmt.Errorf("mismatched state and covariance dimensions: %d, %d", n, cov.SymmetricDim())
	}

	return nil
}
