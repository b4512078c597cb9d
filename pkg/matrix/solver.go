package matrix

import (
	"math"

	"github.com/edp1096/transim/pkg/simerr"
)

// Solver is the linear-solve service. Solve removes row and column ground from
// sys, solves the reduced system and returns the full-length solution with 0 at
// the ground index. A singular system is reported as a simerr.SingularMatrix
// error; a solver never hands back NaN.
type Solver interface {
	Solve(sys *System, ground int) ([]float64, error)
}

func singular(op, format string, args ...any) error {
	return simerr.New(simerr.SingularMatrix, op, format, args...)
}

// checkResidual verifies the reduced solution against the reduced system. It
// catches pivots that were accepted but turned out too small to be trusted.
func checkResidual(sys *System, ground int, x []float64, tol float64) bool {
	r := sys.Residual(x)
	r[ground] = 0
	scale := NormInf(sys.RHS())
	for i := 0; i < sys.Size(); i++ {
		if i == ground {
			continue
		}
		sys.Row(i, func(j int, v float64) {
			if j == ground {
				return
			}
			if m := math.Abs(v * x[j]); m > scale {
				scale = m
			}
		})
	}
	if scale == 0 {
		scale = 1
	}
	return NormInf(r) <= tol*scale
}
