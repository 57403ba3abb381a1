package embedcache

import (
	stderrors "errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors have different lengths.
var ErrDimensionMismatch = stderrors.New("vectors must have the same dimensions")

// CosineSimilarity returns dot(a,b) / (|a| * |b|).
//
// Zero vectors are not special-cased: the division yields NaN, which callers
// must handle.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
