package matrix

import (
	"math"
	"testing"
)

func TestSystemAdditiveStamping(t *testing.T) {
	sys := NewSystem(3)
	sys.AddElement(1, 1, 2)
	sys.AddElement(1, 1, 3)
	sys.AddRHS(2, 1)
	sys.AddRHS(2, -0.5)

	if got := sys.At(1, 1); got != 5 {
		t.Errorf("At(1,1) = %g, want 5", got)
	}
	if got := sys.RHS()[2]; got != 0.5 {
		t.Errorf("RHS[2] = %g, want 0.5", got)
	}
	if got := sys.At(0, 2); got != 0 {
		t.Errorf("At(0,2) = %g, want 0", got)
	}
}

func TestSystemPatternVersion(t *testing.T) {
	sys := NewSystem(3)
	sys.AddElement(0, 1, 1)
	v := sys.Version()

	sys.AddElement(0, 1, 4)
	sys.AddElement(2, 2, 0)
	if sys.Version() != v {
		t.Errorf("version changed without a new position")
	}

	sys.AddElement(2, 2, 1)
	if sys.Version() == v {
		t.Errorf("version not bumped for a new position")
	}

	sys.Clear()
	if sys.At(0, 1) != 0 || sys.NonZeros() != 2 {
		t.Errorf("Clear must zero values and keep the pattern, nnz=%d", sys.NonZeros())
	}
}

func TestSystemPinIdentity(t *testing.T) {
	sys := NewSystem(3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sys.AddElement(i, j, float64(1+i+j))
		}
		sys.AddRHS(i, 7)
	}

	sys.PinIdentity(0)

	for j := 0; j < 3; j++ {
		want := 0.0
		if j == 0 {
			want = 1
		}
		if got := sys.At(0, j); got != want {
			t.Errorf("row 0 col %d = %g, want %g", j, got, want)
		}
		if j > 0 {
			if got := sys.At(j, 0); got != 0 {
				t.Errorf("row %d col 0 = %g, want 0", j, got)
			}
		}
	}
	if sys.RHS()[0] != 0 {
		t.Errorf("RHS[0] = %g, want 0", sys.RHS()[0])
	}
	if sys.At(1, 2) != 4 {
		t.Errorf("unrelated entry changed: %g", sys.At(1, 2))
	}
}

func TestSystemOutOfBoundsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic")
		}
	}()
	NewSystem(2).AddElement(2, 0, 1)
}

func TestSystemResidual(t *testing.T) {
	sys := NewSystem(2)
	sys.AddElement(0, 0, 2)
	sys.AddElement(0, 1, 1)
	sys.AddElement(1, 1, 3)
	sys.AddRHS(0, 5)
	sys.AddRHS(1, 6)

	r := sys.Residual([]float64{1.5, 2})
	if math.Abs(r[0]) > 1e-15 || math.Abs(r[1]) > 1e-15 {
		t.Errorf("residual = %v, want zeros", r)
	}
}

func TestSubmatrixAndExpand(t *testing.T) {
	sys := NewSystem(3)
	sys.AddElement(0, 0, 1)
	sys.AddElement(1, 1, 2)
	sys.AddElement(1, 2, 3)
	sys.AddElement(2, 0, 9)
	sys.AddElement(2, 2, 4)
	sys.AddRHS(2, 8)

	sub := sys.Submatrix(0)
	if sub.Size() != 2 {
		t.Fatalf("size = %d", sub.Size())
	}
	if sub.At(0, 0) != 2 || sub.At(0, 1) != 3 || sub.At(1, 1) != 4 || sub.RHS()[1] != 8 {
		t.Errorf("unexpected submatrix:\n%s", sub)
	}

	x := Expand([]float64{1, 2}, 0, 0)
	if len(x) != 3 || x[0] != 0 || x[1] != 1 || x[2] != 2 {
		t.Errorf("Expand = %v", x)
	}
	x = Expand([]float64{1, 2}, 2, -1)
	if x[2] != -1 || x[1] != 2 {
		t.Errorf("Expand tail = %v", x)
	}
}

func TestVectorHelpers(t *testing.T) {
	x := []float64{3, -4}
	if Norm2(x) != 5 {
		t.Errorf("Norm2 = %g", Norm2(x))
	}
	if NormInf(x) != 4 {
		t.Errorf("NormInf = %g", NormInf(x))
	}
	if Norm2(nil) != 0 || NormInf(nil) != 0 {
		t.Errorf("norms of empty vector")
	}
	if HasNonFinite(x) || !HasNonFinite([]float64{1, math.NaN()}) || !HasNonFinite([]float64{math.Inf(-1)}) {
		t.Errorf("HasNonFinite")
	}
	c := Copy(x)
	c[0] = 0
	if x[0] != 3 {
		t.Errorf("Copy aliases its input")
	}
}
