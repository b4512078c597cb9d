package matrix

import (
	"fmt"

	"github.com/edp1096/sparse"
)

// SparseSolver solves the reduced MNA system with the Sparse 1.3 port. Element
// pointers are fetched once per structural pattern; they stay valid after the
// library reorders rows and columns, external indices do not.
type SparseSolver struct {
	// ReuseOrdering keeps the pivot order between calls while the pattern is
	// unchanged. A zero pivot under a stale order triggers one full re-ordering.
	ReuseOrdering bool
	// Fallback is tried when factorization fails or the solution does not
	// satisfy the system. Nil disables it.
	Fallback Solver
	// ResidualTol is the relative residual accepted before falling back.
	ResidualTol float64

	matrix   *sparse.Matrix
	config   *sparse.Configuration
	owner    *System
	version  int
	ground   int
	elements [][]*sparse.Element // per full row, aligned with the row's columns
	rhs      []float64           // 1-based
}

var _ Solver = (*SparseSolver)(nil)

func NewSparseSolver() *SparseSolver {
	return &SparseSolver{
		Fallback:    NewDenseSolver(),
		ResidualTol: 1e-9,
	}
}

func (s *SparseSolver) Solve(sys *System, ground int) ([]float64, error) {
	n := sys.Size()
	if ground < 0 || ground >= n {
		return nil, singular("solve/sparse", "ground index %d outside system of size %d", ground, n)
	}
	if n == 1 {
		return []float64{0}, nil
	}

	x, err := s.factorAndSolve(sys, ground)
	if err == nil && !checkResidual(sys, ground, x, s.residualTol()) {
		err = fmt.Errorf("residual check failed")
	}
	if err != nil {
		s.Destroy()
		if s.Fallback == nil {
			return nil, singular("solve/sparse", "%v", err)
		}
		return s.Fallback.Solve(sys, ground)
	}
	return x, nil
}

func (s *SparseSolver) residualTol() float64 {
	if s.ResidualTol <= 0 {
		return 1e-9
	}
	return s.ResidualTol
}

func (s *SparseSolver) factorAndSolve(sys *System, ground int) (x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, fmt.Errorf("sparse kernel: %v", r)
		}
	}()

	fresh := false
	if !s.ReuseOrdering || s.matrix == nil || s.owner != sys || s.version != sys.Version() || s.ground != ground {
		if err := s.build(sys, ground); err != nil {
			return nil, err
		}
		fresh = true
	}

	s.load(sys)
	err = s.matrix.Factor()
	if err != nil && !fresh {
		if err = s.build(sys, ground); err != nil {
			return nil, err
		}
		s.load(sys)
		err = s.matrix.Factor()
	}
	if err != nil {
		return nil, fmt.Errorf("matrix factorization failed: %v", err)
	}

	solution, err := s.matrix.Solve(s.rhs)
	if err != nil {
		return nil, fmt.Errorf("matrix solve failed: %v", err)
	}
	if HasNonFinite(solution[1:]) {
		return nil, fmt.Errorf("non-finite solution")
	}

	x = make([]float64, sys.Size())
	for i := range x {
		if i == ground {
			continue
		}
		x[i] = solution[s.external(i)]
	}
	return x, nil
}

// external maps a full 0-based index to the library's 1-based reduced index.
func (s *SparseSolver) external(i int) int {
	if i < s.ground {
		return i + 1
	}
	return i
}

func (s *SparseSolver) build(sys *System, ground int) error {
	s.Destroy()

	size := sys.Size() - 1
	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 false,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           true,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	mat, err := sparse.Create(int64(size), config)
	if err != nil {
		return fmt.Errorf("creating sparse matrix: %v", err)
	}

	s.matrix = mat
	s.config = config
	s.owner = sys
	s.version = sys.Version()
	s.ground = ground
	s.rhs = make([]float64, size+1)
	s.elements = make([][]*sparse.Element, sys.Size())

	for i := 0; i < sys.Size(); i++ {
		if i == ground {
			continue
		}
		row := i
		sys.Row(i, func(j int, _ float64) {
			if j == ground {
				s.elements[row] = append(s.elements[row], nil)
				return
			}
			e := mat.GetElement(int64(s.external(row)), int64(s.external(j)))
			s.elements[row] = append(s.elements[row], e)
		})
	}
	return nil
}

func (s *SparseSolver) load(sys *System) {
	s.matrix.Clear()
	clear(s.rhs)
	for i := 0; i < sys.Size(); i++ {
		if i == s.ground {
			continue
		}
		elems := s.elements[i]
		k := 0
		sys.Row(i, func(_ int, v float64) {
			if e := elems[k]; e != nil {
				e.Real += v
			}
			k++
		})
		s.rhs[s.external(i)] = sys.RHS()[i]
	}
}

func (s *SparseSolver) Destroy() {
	if s.matrix != nil {
		s.matrix.Destroy()
	}
	s.matrix = nil
	s.owner = nil
	s.elements = nil
}
