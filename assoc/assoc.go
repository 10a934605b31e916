package assoc

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/milosgajdos/go-slam/model"
)

// NN is a gated nearest neighbour associator.
// Each detection is matched to the compatible landmark with the smallest
// Mahalanobis distance under that landmark's 2x2 innovation covariance block,
// subject to a chi-squared gate; conflicts are resolved one-to-one in best
// distance order. Detections with no compatible landmark are reported as -1.
type NN struct {
	// gate is the squared Mahalanobis distance gate
	gate float64
}

// NewNN creates new NN associator with the gate set to the chi-squared (2 dof)
// quantile at significance level alpha.
// It returns error if alpha is outside (0, 1).
func NewNN(alpha float64) (*NN, error) {
	if alpha <= 0 || alpha >= 1 {
		return nil, fmt.Errorf("invalid significance level: %f", alpha)
	}

	chi2 := distuv.ChiSquared{K: 2}

	return &NN{gate: chi2.Quantile(1 - alpha)}, nil
}

// Associate implements slam.Associator.
func (n *NN) Associate(z, zpred mat.Vector, s mat.Symmetric) ([]int, error) {
	if z.Len()%2 != 0 {
		return nil, fmt.Errorf("invalid measurement vector length: %d", z.Len())
	}

	if zpred.Len()%2 != 0 || s.SymmetricDim() != zpred.Len() {
		return nil, fmt.Errorf("mismatched prediction dimensions: zpred %d, s %d", zpred.Len(), s.SymmetricDim())
	}

	nd := z.Len() / 2
	nl := zpred.Len() / 2

	a := make([]int, nd)
	for i := range a {
		a[i] = -1
	}

	type pair struct {
		det, lm int
		d2      float64
	}

	var pairs []pair
	for i := 0; i < nd; i++ {
		for j := 0; j < nl; j++ {
			// 2x2 innovation block of landmark j
			s00 := s.At(2*j, 2*j)
			s01 := s.At(2*j, 2*j+1)
			s11 := s.At(2*j+1, 2*j+1)

			det := s00*s11 - s01*s01
			if det <= 0 {
				continue
			}

			vr := z.AtVec(2*i) - zpred.AtVec(2*j)
			vb := model.WrapToPi(z.AtVec(2*i+1) - zpred.AtVec(2*j+1))

			d2 := (s11*vr*vr - 2*s01*vr*vb + s00*vb*vb) / det
			if d2 <= n.gate {
				pairs = append(pairs, pair{det: i, lm: j, d2: d2})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].d2 < pairs[j].d2 })

	usedDet := make([]bool, nd)
	usedLm := make([]bool, nl)
	for _, p := range pairs {
		if usedDet[p.det] || usedLm[p.lm] {
			continue
		}
		a[p.det] = p.lm
		usedDet[p.det] = true
		usedLm[p.lm] = true
	}

	return a, nil
}

// None is the disabled associator: every detection is reported unmatched,
// making each one a candidate for a new landmark.
type None struct{}

// Associate implements slam.Associator.
func (None) Associate(z, zpred mat.Vector, s mat.Symmetric) ([]int, error) {
	if z.Len()%2 != 0 {
		return nil, fmt.Errorf("invalid measurement vector length: %d", z.Len())
	}

	a := make([]int, z.Len()/2)
	for i := range a {
		a[i] = -1
	}

	return a, nil
}
