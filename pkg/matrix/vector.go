package matrix

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

func Norm2(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Norm(x, 2)
}

func NormInf(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Norm(x, math.Inf(1))
}

// HasNonFinite reports whether x holds a NaN or an infinity.
func HasNonFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func Copy(x []float64) []float64 {
	if x == nil {
		return nil
	}
	out := make([]float64, len(x))
	copy(out, x)
	return out
}

func Fill(x []float64, v float64) {
	for i := range x {
		x[i] = v
	}
}
