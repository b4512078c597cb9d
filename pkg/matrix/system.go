package matrix

import (
	"fmt"
	"sort"
	"strings"
)

// row keeps its columns sorted so that products and residuals sum in a fixed
// order on every call.
type row struct {
	cols []int
	vals []float64
}

func (r *row) find(j int) (int, bool) {
	k := sort.SearchInts(r.cols, j)
	return k, k < len(r.cols) && r.cols[k] == j
}

// System is the square MNA matrix with its right-hand side. Values are rebuilt on
// every assembly; the structural pattern only grows.
type System struct {
	size    int
	rows    []row
	rhs     []float64
	version int
}

var _ DeviceMatrix = (*System)(nil)

func NewSystem(size int) *System {
	return &System{
		size: size,
		rows: make([]row, size),
		rhs:  make([]float64, size),
	}
}

func (s *System) Size() int { return s.size }

// Version changes whenever a new structural position is created.
func (s *System) Version() int { return s.version }

func (s *System) AddElement(i, j int, value float64) {
	if i < 0 || j < 0 || i >= s.size || j >= s.size {
		panic(fmt.Sprintf("matrix: index out of bounds (i=%d, j=%d, size=%d)", i, j, s.size))
	}
	r := &s.rows[i]
	k, ok := r.find(j)
	if ok {
		r.vals[k] += value
		return
	}
	if value == 0 {
		return
	}
	r.cols = append(r.cols, 0)
	r.vals = append(r.vals, 0)
	copy(r.cols[k+1:], r.cols[k:])
	copy(r.vals[k+1:], r.vals[k:])
	r.cols[k] = j
	r.vals[k] = value
	s.version++
}

func (s *System) AddRHS(i int, value float64) {
	if i < 0 || i >= s.size {
		panic(fmt.Sprintf("matrix: rhs index out of bounds (i=%d, size=%d)", i, s.size))
	}
	s.rhs[i] += value
}

func (s *System) At(i, j int) float64 {
	r := &s.rows[i]
	if k, ok := r.find(j); ok {
		return r.vals[k]
	}
	return 0
}

func (s *System) RHS() []float64 { return s.rhs }

// Row calls fn for every stored entry of row i in column order.
func (s *System) Row(i int, fn func(j int, v float64)) {
	r := &s.rows[i]
	for k, j := range r.cols {
		fn(j, r.vals[k])
	}
}

// NonZeros counts stored positions.
func (s *System) NonZeros() int {
	n := 0
	for i := range s.rows {
		n += len(s.rows[i].cols)
	}
	return n
}

// Clear zeroes all values and the RHS, keeping the pattern.
func (s *System) Clear() {
	for i := range s.rows {
		clear(s.rows[i].vals)
	}
	clear(s.rhs)
}

// PinIdentity overwrites row and column k with the identity and sets RHS[k] = 0.
func (s *System) PinIdentity(k int) {
	for i := range s.rows {
		if i == k {
			continue
		}
		r := &s.rows[i]
		if p, ok := r.find(k); ok {
			r.vals[p] = 0
		}
	}
	r := &s.rows[k]
	clear(r.vals)
	if p, ok := r.find(k); ok {
		r.vals[p] = 1
	} else {
		s.AddElement(k, k, 1)
	}
	s.rhs[k] = 0
}

// MulVec returns A*x.
func (s *System) MulVec(x []float64) []float64 {
	y := make([]float64, s.size)
	for i := range s.rows {
		r := &s.rows[i]
		sum := 0.0
		for k, j := range r.cols {
			sum += r.vals[k] * x[j]
		}
		y[i] = sum
	}
	return y
}

// Residual returns b - A*x.
func (s *System) Residual(x []float64) []float64 {
	y := s.MulVec(x)
	for i := range y {
		y[i] = s.rhs[i] - y[i]
	}
	return y
}

// Submatrix returns the (n-1)x(n-1) system with row and column skip removed.
// Entries of the removed column are dropped, not folded into the RHS.
func (s *System) Submatrix(skip int) *System {
	sub := NewSystem(s.size - 1)
	for i := range s.rows {
		if i == skip {
			continue
		}
		ri := reduceIndex(i, skip)
		r := &s.rows[i]
		for k, j := range r.cols {
			if j == skip || r.vals[k] == 0 {
				continue
			}
			sub.AddElement(ri, reduceIndex(j, skip), r.vals[k])
		}
		sub.rhs[ri] = s.rhs[i]
	}
	return sub
}

func reduceIndex(i, skip int) int {
	if i > skip {
		return i - 1
	}
	return i
}

// Expand inserts value at position skip, the inverse of Submatrix on vectors.
func Expand(x []float64, skip int, value float64) []float64 {
	out := make([]float64, len(x)+1)
	copy(out, x[:skip])
	out[skip] = value
	copy(out[skip+1:], x[skip:])
	return out
}

func (s *System) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "System (%dx%d):\n", s.size, s.size)
	for i := range s.rows {
		fmt.Fprintf(&sb, "  row %d:", i)
		s.Row(i, func(j int, v float64) {
			fmt.Fprintf(&sb, " %+g*x%d", v, j)
		})
		fmt.Fprintf(&sb, " = %g\n", s.rhs[i])
	}
	return sb.String()
}
