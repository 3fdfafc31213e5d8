package embedding

import (
	"fmt"
	"math"

	"faceattend/internal/apperror"
)

// scoreResolution bounds the precision of reported scores so that identical
// directions score exactly 1.0.
const scoreResolution = 1e12

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsDegenerate reports a vector that cannot be normalized.
func IsDegenerate(v []float32) bool {
	n := Norm(v)
	return n == 0 || math.IsNaN(n) || math.IsInf(n, 0)
}

// Cosine returns the cosine similarity of a and b remapped to [0,1] as (cos+1)/2.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 || math.IsNaN(na*nb) || math.IsInf(na*nb, 0) {
		return 0, apperror.ErrDegenerateVector
	}
	var dot float64
	for i := range a {
		dot += (float64(a[i]) / na) * (float64(b[i]) / nb)
	}
	dot = math.Max(-1, math.Min(1, dot))
	return math.Round((dot+1)/2*scoreResolution) / scoreResolution, nil
}
