package matrix

import (
	"gonum.org/v1/gonum/mat"
)

// BlockDiag returns a block diagonal matrix with n copies of b on its diagonal.
// It panics if b is nil or n is not positive.
func BlockDiag(b mat.Matrix, n int) *mat.Dense {
	r, c := b.Dims()
	out := mat.NewDense(n*r, n*c, nil)

	for k := 0; k < n; k++ {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.Set(k*r+i, k*c+j, b.At(i, j))
			}
		}
	}

	return out
}

// ToSym returns the symmetric part of the square matrix m: (m + mᵀ)/2.
// It is used to restore exact symmetry after chains of dense products.
// It panics if m is nil or not square.
func ToSym(m mat.Matrix) *mat.SymDense {
	r, c := m.Dims()
	if r != c {
		panic("matrix: matrix is not square")
	}

	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			s.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}

	return s
}
