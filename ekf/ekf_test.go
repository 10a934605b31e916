package ekf

import (
	"math"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-slam/assoc"
	"github.com/milosgajdos/go-slam/model"
	"github.com/milosgajdos/go-slam/noise"
)

var (
	rb *model.RangeBearing
	q  *noise.Gaussian
	r  *noise.Gaussian
)

func setup() {
	rb, _ = model.NewRangeBearing(nil)
	q, _ = noise.NewGaussian([]float64{0, 0, 0}, mat.NewSymDense(3, []float64{
		1e-4, 0, 0,
		0, 1e-4, 0,
		0, 0, 1e-5,
	}))
	r, _ = noise.NewGaussian([]float64{0, 0}, mat.NewSymDense(2, []float64{
		1e-2, 0,
		0, 1e-4,
	}))
}

func TestMain(m *testing.M) {
	setup()
	os.Exit(m.Run())
}

// randPSD returns a random symmetric positive definite matrix.
func randPSD(rnd *rand.Rand, n int) *mat.SymDense {
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rnd.NormFloat64())
		}
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)

	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := ata.At(i, j)
			if i == j {
				v += 1e-3
			}
			s.SetSym(i, j, v)
		}
	}

	return s
}

func assertSym(t *testing.T, cov mat.Symmetric) {
	t.Helper()

	n := cov.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			assert.InDelta(t, cov.At(i, j), cov.At(j, i), 1e-10)
		}
	}
}

func assertPSD(t *testing.T, cov mat.Symmetric) {
	t.Helper()

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, false); !ok {
		t.Fatal("eigendecomposition failed")
	}

	for _, v := range eig.Values(nil) {
		assert.GreaterOrEqual(t, v, -1e-9)
	}
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	f, err := New(rb, q, r, nil)
	assert.NotNil(f)
	assert.NoError(err)

	f, err = New(nil, q, r, nil)
	assert.Nil(f)
	assert.Error(err)

	// swapped noise dimensions
	f, err = New(rb, r, q, nil)
	assert.Nil(f)
	assert.Error(err)

	f, err = New(rb, nil, r, nil)
	assert.Nil(f)
	assert.Error(err)

	f, err = New(rb, q, nil, nil)
	assert.Nil(f)
	assert.Error(err)
}

func TestPredict(t *testing.T) {
	assert := assert.New(t)

	f, err := New(rb, q, r, nil)
	assert.NoError(err)

	// empty map, odometry (1, 0, 0) from the origin
	eta := mat.NewVecDense(3, nil)
	cov := mat.NewSymDense(3, nil)
	u := mat.NewVecDense(3, []float64{1, 0, 0})

	est, err := f.Predict(eta, cov, u)
	assert.NoError(err)
	assert.InDelta(1.0, est.Val().AtVec(0), 1e-12)
	assert.InDelta(0.0, est.Val().AtVec(1), 1e-12)
	assert.InDelta(0.0, est.Val().AtVec(2), 1e-12)
	assertSym(t, est.Cov())
	assertPSD(t, est.Cov())

	// landmarks pass through the prediction untouched
	eta = mat.NewVecDense(5, []float64{0, 0, 0, 5, -2})
	cov5 := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		cov5.SetSym(i, i, 0.1)
	}

	est, err = f.Predict(eta, cov5, u)
	assert.NoError(err)
	assert.InDelta(5.0, est.Val().AtVec(3), 1e-12)
	assert.InDelta(-2.0, est.Val().AtVec(4), 1e-12)
	// landmark covariance block is untouched
	assert.InDelta(0.1, est.Cov().At(3, 3), 1e-12)
	assert.InDelta(0.1, est.Cov().At(4, 4), 1e-12)
	// pose covariance grew by the process noise
	assert.True(est.Cov().At(0, 0) > 0.1)

	// invalid inputs
	_, err = f.Predict(mat.NewVecDense(4, nil), mat.NewSymDense(4, nil), u)
	assert.Error(err)

	_, err = f.Predict(eta, cov, u)
	assert.Error(err)

	_, err = f.Predict(eta, cov5, mat.NewVecDense(2, nil))
	assert.Error(err)
}

func TestPredictRandomized(t *testing.T) {
	f, err := New(rb, q, r, nil)
	assert.NoError(t, err)

	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 20; i++ {
		nl := rnd.Intn(5)
		n := 3 + 2*nl

		vals := make([]float64, n)
		for j := range vals {
			vals[j] = rnd.NormFloat64() * 5
		}
		eta := mat.NewVecDense(n, vals)
		cov := randPSD(rnd, n)
		u := mat.NewVecDense(3, []float64{rnd.NormFloat64(), rnd.NormFloat64(), rnd.NormFloat64()})

		est, err := f.Predict(eta, cov, u)
		assert.NoError(t, err)
		assertSym(t, est.Cov())
		assertPSD(t, est.Cov())
	}
}

func TestUpdateNoLandmarks(t *testing.T) {
	assert := assert.New(t)

	nn, err := assoc.NewNN(0.001)
	assert.NoError(err)

	f, err := New(rb, q, r, nn)
	assert.NoError(err)

	eta := mat.NewVecDense(3, nil)
	cov := mat.NewSymDense(3, []float64{
		1e-4, 0, 0,
		0, 1e-4, 0,
		0, 0, 1e-5,
	})

	// two detections, nothing tracked yet: both become new landmarks
	z := mat.NewVecDense(4, []float64{5, 0, 3, math.Pi / 2})

	est, nis, a, err := f.Update(eta, cov, z)
	assert.NoError(err)
	assert.Equal(1.0, nis)
	assert.Equal([]int{-1, -1}, a)
	assert.Equal(7, est.Val().Len())
	assert.InDelta(5.0, est.Val().AtVec(3), 1e-12)
	assert.InDelta(0.0, est.Val().AtVec(4), 1e-12)
	assert.InDelta(0.0, est.Val().AtVec(5), 1e-9)
	assert.InDelta(3.0, est.Val().AtVec(6), 1e-12)
	assertSym(t, est.Cov())
	assertPSD(t, est.Cov())
}

func TestUpdateEmptyBatch(t *testing.T) {
	assert := assert.New(t)

	nn, err := assoc.NewNN(0.001)
	assert.NoError(err)

	f, err := New(rb, q, r, nn)
	assert.NoError(err)

	eta := mat.NewVecDense(5, []float64{0, 0, 0, 5, 0})
	cov := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		cov.SetSym(i, i, 0.01)
	}

	est, nis, a, err := f.Update(eta, cov, &mat.VecDense{})
	assert.NoError(err)
	assert.Equal(1.0, nis)
	assert.Len(a, 0)
	assert.True(mat.EqualApprox(eta, est.Val(), 1e-12))
	assert.True(mat.EqualApprox(cov, est.Cov(), 1e-12))
}

func TestUpdateMatched(t *testing.T) {
	assert := assert.New(t)

	nn, err := assoc.NewNN(0.001)
	assert.NoError(err)

	f, err := New(rb, q, r, nn)
	assert.NoError(err)

	// one tightly tracked landmark straight ahead, measured exactly where
	// it is predicted: the correction must be (numerically) zero
	eta := mat.NewVecDense(5, []float64{0, 0, 0, 5, 0})
	cov := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		cov.SetSym(i, i, 1e-4)
	}

	z := mat.NewVecDense(2, []float64{5, 0})

	est, nis, a, err := f.Update(eta, cov, z)
	assert.NoError(err)
	assert.Equal([]int{0}, a)
	assert.InDelta(0.0, nis, 1e-9)
	assert.Equal(5, est.Val().Len())
	assert.True(mat.EqualApprox(eta, est.Val(), 1e-9))
	assertSym(t, est.Cov())
	assertPSD(t, est.Cov())

	// the update must not inflate the covariance
	assert.LessOrEqual(est.Cov().At(3, 3), cov.At(3, 3)+1e-12)
}

func TestUpdateMatchedAndNew(t *testing.T) {
	assert := assert.New(t)

	nn, err := assoc.NewNN(0.001)
	assert.NoError(err)

	f, err := New(rb, q, r, nn)
	assert.NoError(err)

	eta := mat.NewVecDense(5, []float64{0, 0, 0, 5, 0})
	cov := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		cov.SetSym(i, i, 1e-4)
	}

	// first detection matches the tracked landmark, second is far away
	z := mat.NewVecDense(4, []float64{5.001, 0, 2, -math.Pi / 2})

	est, nis, a, err := f.Update(eta, cov, z)
	assert.NoError(err)
	assert.Equal([]int{0, -1}, a)
	assert.True(nis >= 0)
	// state grew by exactly one landmark
	assert.Equal(7, est.Val().Len())
	assert.InDelta(0.0, est.Val().AtVec(5), 1e-2)
	assert.InDelta(-2.0, est.Val().AtVec(6), 1e-2)
	assertSym(t, est.Cov())
	assertPSD(t, est.Cov())
}

func TestUpdateAssociationDisabled(t *testing.T) {
	assert := assert.New(t)

	// nil associator: every detection is a new landmark candidate
	f, err := New(rb, q, r, nil)
	assert.NoError(err)

	eta := mat.NewVecDense(5, []float64{0, 0, 0, 5, 0})
	cov := mat.NewSymDense(5, nil)
	for i := 0; i < 5; i++ {
		cov.SetSym(i, i, 1e-4)
	}

	// the detection matches the tracked landmark exactly, but with
	// association disabled it still becomes a new landmark
	z := mat.NewVecDense(2, []float64{5, 0})

	est, nis, a, err := f.Update(eta, cov, z)
	assert.NoError(err)
	assert.Equal(1.0, nis)
	assert.Equal([]int{-1}, a)
	assert.Equal(7, est.Val().Len())
	assert.InDelta(5.0, est.Val().AtVec(5), 1e-12)
}

func TestUpdateInvalid(t *testing.T) {
	assert := assert.New(t)

	f, err := New(rb, q, r, nil)
	assert.NoError(err)

	eta := mat.NewVecDense(3, nil)
	cov := mat.NewSymDense(3, nil)

	// odd batch length
	_, _, _, err = f.Update(eta, cov, mat.NewVecDense(3, nil))
	assert.Error(err)

	// mismatched covariance
	_, _, _, err = f.Update(eta, mat.NewSymDense(5, nil), &mat.VecDense{})
	assert.Error(err)

	// invalid state layout
	_, _, _, err = f.Update(mat.NewVecDense(4, nil), mat.NewSymDense(4, nil), &mat.VecDense{})
	assert.Error(err)
}

func TestUpdateRandomized(t *testing.T) {
	nn, err := assoc.NewNN(0.001)
	assert.NoError(t, err)

	f, err := New(rb, q, r, nn)
	assert.NoError(t, err)

	rnd := rand.New(rand.NewSource(7))

	for i := 0; i < 10; i++ {
		nl := 1 + rnd.Intn(4)
		n := 3 + 2*nl

		vals := make([]float64, n)
		for j := 3; j < n; j++ {
			vals[j] = rnd.NormFloat64() * 10
		}
		eta := mat.NewVecDense(n, vals)

		cov := mat.NewSymDense(n, nil)
		for j := 0; j < n; j++ {
			cov.SetSym(j, j, 1e-3)
		}

		// measure every landmark at its predicted location
		zpred, err := rb.Observe(eta)
		assert.NoError(t, err)

		est, nis, a, err := f.Update(eta, cov, zpred)
		assert.NoError(t, err)
		assert.True(t, nis >= 0)
		assert.Len(t, a, nl)
		assertSym(t, est.Cov())
		assertPSD(t, est.Cov())
	}
}
