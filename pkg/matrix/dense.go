package matrix

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DenseSolver factors the reduced system with gonum's dense LU. It is the
// reference implementation of Solver and the fallback of SparseSolver.
type DenseSolver struct {
	// MaxCond is the largest condition number accepted; above it the system is
	// reported singular. Zero means mat.ConditionTolerance.
	MaxCond float64

	lastCond float64
}

var _ Solver = (*DenseSolver)(nil)

func NewDenseSolver() *DenseSolver {
	return &DenseSolver{MaxCond: mat.ConditionTolerance}
}

// Cond returns the condition number estimate of the last factorization.
func (d *DenseSolver) Cond() float64 { return d.lastCond }

func (d *DenseSolver) Solve(sys *System, ground int) ([]float64, error) {
	if ground < 0 || ground >= sys.Size() {
		return nil, singular("solve/dense", "ground index %d outside system of size %d", ground, sys.Size())
	}
	sub := sys.Submatrix(ground)
	n := sub.Size()
	if n == 0 {
		return []float64{0}, nil
	}

	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		sub.Row(i, func(j int, v float64) {
			a.Set(i, j, v)
		})
	}

	var lu mat.LU
	lu.Factorize(a)
	d.lastCond = lu.Cond()

	maxCond := d.MaxCond
	if maxCond <= 0 {
		maxCond = mat.ConditionTolerance
	}
	if math.IsInf(d.lastCond, 1) || math.IsNaN(d.lastCond) || d.lastCond > maxCond {
		return nil, singular("solve/dense", "condition number %g", d.lastCond)
	}

	b := mat.NewVecDense(n, Copy(sub.RHS()))
	var x mat.VecDense
	if err := lu.SolveVecTo(&x, false, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, singular("solve/dense", "%v", err)
		}
	}

	reduced := make([]float64, n)
	for i := range reduced {
		reduced[i] = x.AtVec(i)
	}
	if HasNonFinite(reduced) {
		return nil, singular("solve/dense", "non-finite solution")
	}
	return Expand(reduced, ground, 0), nil
}
