package domain

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrInvalidMatrix = errors.New("invalid matrix")

// InterpolateMatrix returns d0 + f*(d1 - d0).
func InterpolateMatrix(d0, d1 *mat.Dense, f float64) (*mat.Dense, error) {
	if err := sameShape(d0, d1); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Sub(d1, d0)
	out.Scale(f, &out)
	out.Add(d0, &out)
	return &out, nil
}

// AverageMatrix returns the elementwise mean of a and b.
func AverageMatrix(a, b *mat.Dense) (*mat.Dense, error) {
	if err := sameShape(a, b); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Add(a, b)
	out.Scale(0.5, &out)
	return &out, nil
}

// MaxAbsDiff returns the largest |a_ij - b_ij|.
func MaxAbsDiff(a, b *mat.Dense) (float64, error) {
	if err := sameShape(a, b); err != nil {
		return 0, err
	}
	var diff mat.Dense
	diff.Sub(a, b)
	r, c := diff.Dims()
	var m float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m = math.Max(m, math.Abs(diff.At(i, j)))
		}
	}
	return m, nil
}

func sameShape(a, b *mat.Dense) error {
	if a == nil || b == nil {
		return ErrInvalidMatrix
	}
	ra, ca := a.Dims()
	rb, cb := b.Dims()
	if ra != rb || ca != cb {
		return ErrInvalidMatrix
	}
	return nil
}
