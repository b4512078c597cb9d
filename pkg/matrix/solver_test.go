package matrix

import (
	"errors"
	"math"
	"testing"

	"github.com/edp1096/transim/pkg/simerr"
)

// withGround embeds a reduced matrix in a system whose row/column 0 is the
// pinned ground.
func withGround(a [][]float64, b []float64) *System {
	n := len(a) + 1
	sys := NewSystem(n)
	for i := range a {
		for j, v := range a[i] {
			if v != 0 {
				sys.AddElement(i+1, j+1, v)
			}
		}
		sys.AddRHS(i+1, b[i])
	}
	sys.AddElement(0, 0, 1)
	return sys
}

func solvers() map[string]Solver {
	noFallback := NewSparseSolver()
	noFallback.Fallback = nil
	reuse := NewSparseSolver()
	reuse.ReuseOrdering = true
	return map[string]Solver{
		"dense":        NewDenseSolver(),
		"sparse":       NewSparseSolver(),
		"sparse-bare":  noFallback,
		"sparse-reuse": reuse,
	}
}

func TestSolversAgree(t *testing.T) {
	tests := []struct {
		name string
		a    [][]float64
		b    []float64
		want []float64
	}{
		{
			name: "diagonal",
			a:    [][]float64{{2, 0}, {0, 4}},
			b:    []float64{2, 2},
			want: []float64{1, 0.5},
		},
		{
			name: "symmetric",
			a:    [][]float64{{4, -1, 0}, {-1, 4, -1}, {0, -1, 4}},
			b:    []float64{2, 2, 10},
			want: []float64{6.0 / 7.0, 10.0 / 7.0, 20.0 / 7.0},
		},
		{
			name: "needs pivoting",
			a:    [][]float64{{0, 1}, {1, 0}},
			b:    []float64{3, 5},
			want: []float64{5, 3},
		},
		{
			name: "asymmetric",
			a:    [][]float64{{10, -1, 0, 1}, {-2, 15, -3, 0}, {0, -4, 20, -5}, {2, 0, -6, 12}},
			b:    []float64{1, 2, 3, 4},
		},
	}

	for _, tt := range tests {
		for sname, s := range solvers() {
			t.Run(tt.name+"/"+sname, func(t *testing.T) {
				sys := withGround(tt.a, tt.b)
				x, err := s.Solve(sys, 0)
				if err != nil {
					t.Fatalf("Solve: %v", err)
				}
				if x[0] != 0 {
					t.Errorf("ground entry = %g, want 0", x[0])
				}
				if tt.want != nil {
					for i, w := range tt.want {
						if math.Abs(x[i+1]-w) > 1e-9 {
							t.Errorf("x[%d] = %g, want %g", i+1, x[i+1], w)
						}
					}
				}
				r := sys.Residual(x)
				r[0] = 0
				if NormInf(r) > 1e-9 {
					t.Errorf("residual %g too large", NormInf(r))
				}
			})
		}
	}
}

func TestSolverRepeatedCalls(t *testing.T) {
	s := NewSparseSolver()
	s.ReuseOrdering = true
	sys := withGround([][]float64{{3, 1}, {1, 2}}, []float64{5, 5})

	for k := 1; k <= 3; k++ {
		sys.Clear()
		sys.AddElement(0, 0, 1)
		sys.AddElement(1, 1, 3*float64(k))
		sys.AddElement(1, 2, 1)
		sys.AddElement(2, 1, 1)
		sys.AddElement(2, 2, 2)
		sys.AddRHS(1, 5)
		sys.AddRHS(2, 5)

		x, err := s.Solve(sys, 0)
		if err != nil {
			t.Fatalf("iteration %d: %v", k, err)
		}
		r := sys.Residual(x)
		r[0] = 0
		if NormInf(r) > 1e-9 {
			t.Errorf("iteration %d: residual %g", k, NormInf(r))
		}
	}
}

func TestSolverSingular(t *testing.T) {
	for sname, s := range solvers() {
		t.Run(sname, func(t *testing.T) {
			// Node 2 has no connection at all.
			sys := withGround([][]float64{{1, 0}, {0, 0}}, []float64{1, 0})
			x, err := s.Solve(sys, 0)
			if err == nil {
				t.Fatalf("expected singular error, got %v", x)
			}
			if !errors.Is(err, simerr.ErrSingular) {
				t.Errorf("error %v is not a singular-matrix error", err)
			}
			if simerr.KindOf(err) != simerr.SingularMatrix {
				t.Errorf("kind = %v", simerr.KindOf(err))
			}
		})
	}
}

func TestSolverGroundOnly(t *testing.T) {
	sys := NewSystem(1)
	sys.AddElement(0, 0, 1)
	for sname, s := range solvers() {
		x, err := s.Solve(sys, 0)
		if err != nil || len(x) != 1 || x[0] != 0 {
			t.Errorf("%s: x=%v err=%v", sname, x, err)
		}
	}
}
