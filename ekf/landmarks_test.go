package ekf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-slam/model"
)

func TestAddLandmarks(t *testing.T) {
	assert := assert.New(t)

	f, err := New(rb, q, r, nil)
	assert.NoError(err)

	eta := mat.NewVecDense(3, nil)
	cov := mat.NewSymDense(3, []float64{
		0.01, 0, 0,
		0, 0.01, 0,
		0, 0, 0.001,
	})

	// range 5, bearing 0 from the origin lands at (5, 0)
	z := mat.NewVecDense(2, []float64{5, 0})

	est, err := f.AddLandmarks(eta, cov, z)
	assert.NoError(err)
	assert.Equal(5, est.Val().Len())
	assert.InDelta(5.0, est.Val().AtVec(3), 1e-12)
	assert.InDelta(0.0, est.Val().AtVec(4), 1e-12)

	// new landmark block: Gx*Pxx*Gx' + Gz*R*Gz'
	// Gx = [1 0 0; 0 1 5], Gz = diag(1, 5)
	c := est.Cov()
	assert.InDelta(0.01+0.01, c.At(3, 3), 1e-12)
	assert.InDelta(0.01+25*0.001+25*1e-4, c.At(4, 4), 1e-12)
	assert.InDelta(0.0, c.At(3, 4), 1e-12)

	// cross covariance against the pose: Gx*P[pose,:]
	assert.InDelta(0.01, c.At(3, 0), 1e-12)
	assert.InDelta(0.01, c.At(4, 1), 1e-12)
	assert.InDelta(5*0.001, c.At(4, 2), 1e-12)
	assert.InDelta(c.At(0, 3), c.At(3, 0), 1e-12)

	assertSym(t, c)
	assertPSD(t, c)
}

func TestAddLandmarksOffset(t *testing.T) {
	assert := assert.New(t)

	offRb, err := model.NewRangeBearing(mat.NewVecDense(2, []float64{1, 0}))
	assert.NoError(err)

	f, err := New(offRb, q, r, nil)
	assert.NoError(err)

	eta := mat.NewVecDense(3, nil)
	cov := mat.NewSymDense(3, nil)

	// sensor 1m ahead of the robot origin shifts the landmark accordingly
	z := mat.NewVecDense(2, []float64{5, 0})

	est, err := f.AddLandmarks(eta, cov, z)
	assert.NoError(err)
	assert.InDelta(6.0, est.Val().AtVec(3), 1e-12)
	assert.InDelta(0.0, est.Val().AtVec(4), 1e-12)

	// rotated robot: measurement along the sensor x axis
	eta = mat.NewVecDense(3, []float64{0, 0, math.Pi / 2})
	est, err = f.AddLandmarks(eta, cov, z)
	assert.NoError(err)
	assert.InDelta(0.0, est.Val().AtVec(3), 1e-9)
	assert.InDelta(6.0, est.Val().AtVec(4), 1e-12)
}

func TestAddLandmarksBatch(t *testing.T) {
	assert := assert.New(t)

	f, err := New(rb, q, r, nil)
	assert.NoError(err)

	// one landmark already tracked
	eta := mat.NewVecDense(5, []float64{0, 0, 0, 5, 0})
	cov := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		cov.SetSym(i, i, 0.01)
	}

	z := mat.NewVecDense(4, []float64{2, math.Pi / 2, 3, -math.Pi / 2})

	est, err := f.AddLandmarks(eta, cov, z)
	assert.NoError(err)

	// the state grows by exactly 2 entries per new landmark and keeps
	// the existing entries in place
	assert.Equal(9, est.Val().Len())
	assert.InDelta(5.0, est.Val().AtVec(3), 1e-12)
	assert.InDelta(0.0, est.Val().AtVec(5), 1e-9)
	assert.InDelta(2.0, est.Val().AtVec(6), 1e-12)
	assert.InDelta(0.0, est.Val().AtVec(7), 1e-9)
	assert.InDelta(-3.0, est.Val().AtVec(8), 1e-12)

	assertSym(t, est.Cov())
	assertPSD(t, est.Cov())

	// no cross term between the two new landmarks from the measurement
	// noise: only the propagated pose uncertainty correlates them.
	// Gx rows are (1, 0, -2) and (1, 0, 3): 0.01 - 6*0.01 = -0.05
	assert.InDelta(-0.05, est.Cov().At(5, 7), 1e-9)
}

func TestAddLandmarksInvalid(t *testing.T) {
	assert := assert.New(t)

	f, err := New(rb, q, r, nil)
	assert.NoError(err)

	eta := mat.NewVecDense(3, nil)
	cov := mat.NewSymDense(3, nil)

	_, err = f.AddLandmarks(eta, cov, &mat.VecDense{})
	assert.Error(err)

	_, err = f.AddLandmarks(eta, cov, mat.NewVecDense(3, nil))
	assert.Error(err)

	_, err = f.AddLandmarks(mat.NewVecDense(4, nil), mat.NewSymDense(4, nil), mat.NewVecDense(2, nil))
	assert.Error(err)
}
