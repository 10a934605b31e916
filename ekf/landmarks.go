package ekf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	slam "github.com/milosgajdos/go-slam"
	"github.com/milosgajdos/go-slam/estimate"
	mtx "github.com/milosgajdos/go-slam/matrix"
)

// AddLandmarks appends a new landmark to the joint state for every
// range/bearing pair in z and returns the grown estimate. It lets callers
// seed the filter with a known map; during filtering unmatched detections go
// through the same computation as part of Update.
// It returns error if the supplied state, covariance or measurement batch
// have invalid dimensions.
func (k *EKF) AddLandmarks(eta mat.Vector, cov mat.Symmetric, z mat.Vector) (slam.Estimate, error) {
	if err := checkJoint(eta, cov); err != nil {
		return nil, err
	}

	if z.Len() == 0 || z.Len()%2 != 0 {
		return nil, fmt.Errorf("invalid measurement batch length: %d", z.Len())
	}

	zNew := make([]float64, z.Len())
	for i := range zNew {
		zNew[i] = z.AtVec(i)
	}

	etaNew, pNew, err := k.addLandmarks(mat.VecDenseCopyOf(eta), mat.DenseCopyOf(cov), zNew)
	if err != nil {
		return nil, err
	}

	return estimate.NewBaseWithCov(etaNew, mtx.ToSym(pNew))
}

// addLandmarks grows eta and p with one landmark per range/bearing pair in z.
// The new landmark position is the measurement projected into the world frame
// through the current pose and the sensor offset. Its covariance block is the
// measurement noise transformed from polar to cartesian coordinates plus the
// pose uncertainty propagated through the initialization Jacobian; the cross
// covariance against the rest of the state is set by transposition to keep p
// exactly symmetric. Landmarks within one batch carry no cross term between
// each other: their measurement noises are independent.
func (k *EKF) addLandmarks(eta *mat.VecDense, p *mat.Dense, z []float64) (*mat.VecDense, *mat.Dense, error) {
	n := eta.Len()
	num := len(z) / 2

	sin, cos := math.Sincos(eta.AtVec(2))
	off := k.m.Offset()
	ox, oy := off.AtVec(0), off.AtVec(1)

	// sensor offset in world frame and its derivative wrt heading
	offx := cos*ox - sin*oy
	offy := sin*ox + cos*oy
	doffx := -sin*ox - cos*oy
	doffy := cos*ox - sin*oy

	etaNew := mat.NewVecDense(n+2*num, nil)
	for i := 0; i < n; i++ {
		etaNew.SetVec(i, eta.AtVec(i))
	}

	// initialization Jacobian wrt the pose and the polar-to-cartesian
	// transformed measurement noise of every new landmark
	gx := mat.NewDense(2*num, 3, nil)
	rall := mat.NewDense(2*num, 2*num, nil)

	for j := 0; j < num; j++ {
		rng, brg := z[2*j], z[2*j+1]
		sb, cb := math.Sincos(brg + eta.AtVec(2))

		etaNew.SetVec(n+2*j, eta.AtVec(0)+rng*cb+offx)
		etaNew.SetVec(n+2*j+1, eta.AtVec(1)+rng*sb+offy)

		gx.Set(2*j, 0, 1)
		gx.Set(2*j+1, 1, 1)
		gx.Set(2*j, 2, -rng*sb+doffx)
		gx.Set(2*j+1, 2, rng*cb+doffy)

		// Gz = Rot(bearing + heading) * diag(1, range)
		gz := mat.NewDense(2, 2, []float64{
			cb, -rng * sb,
			sb, rng * cb,
		})

		var gr, blk mat.Dense
		gr.Mul(gz, k.r.Cov())
		blk.Mul(&gr, gz.T())

		for r := 0; r < 2; r++ {
			for c := 0; c < 2; c++ {
				rall.Set(2*j+r, 2*j+c, blk.At(r, c))
			}
		}
	}

	pNew := mat.NewDense(n+2*num, n+2*num, nil)
	pNew.Slice(0, n, 0, n).(*mat.Dense).Copy(p)

	// new landmark block: Gx*Pxx*Gx' + Rall
	var gp, gpg mat.Dense
	gp.Mul(gx, p.Slice(0, 3, 0, 3))
	gpg.Mul(&gp, gx.T())
	gpg.Add(&gpg, rall)

	for i := 0; i < 2*num; i++ {
		for j := 0; j < 2*num; j++ {
			pNew.Set(n+i, n+j, gpg.At(i, j))
		}
	}

	// cross covariance: Gx*P[pose,:], mirrored into the upper right block
	var gpr mat.Dense
	gpr.Mul(gx, p.Slice(0, 3, 0, n))

	for i := 0; i < 2*num; i++ {
		for j := 0; j < n; j++ {
			v := gpr.At(i, j)
			pNew.Set(n+i, j, v)
			pNew.Set(j, n+i, v)
		}
	}

	return etaNew, pNew, nil
}
