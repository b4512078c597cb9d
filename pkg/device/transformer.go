package device

import (
	"fmt"
	"math"

	"github.com/edp1096/transim/pkg/util"
)

// Transformer is a pair of magnetically coupled windings. Each winding current
// is an extra unknown ("primary", "secondary"); both flow into the dotted first
// terminal of their winding.
type Transformer struct {
	BaseDevice
	L1, L2      float64
	Coefficient float64
	primary     int
	secondary   int
}

var (
	_ ExtraVariableUser = (*Transformer)(nil)
	_ StorageElement    = (*Transformer)(nil)
	_ CurrentReporter   = (*Transformer)(nil)
)

// NewTransformer takes the nodes as primary+, primary-, secondary+, secondary-.
func NewTransformer(name string, nodeNames []string, l1, l2, k float64) *Transformer {
	return &Transformer{
		BaseDevice:  NewBaseDevice(name, l1, nodeNames),
		L1:          l1,
		L2:          l2,
		Coefficient: k,
	}
}

func (x *Transformer) GetType() string { return "K" }

func (x *Transformer) ExtraRoles() []string { return []string{"primary", "secondary"} }

func (x *Transformer) BindExtra(lookup func(role string) (int, error)) error {
	var err error
	if x.primary, err = lookup("primary"); err != nil {
		return err
	}
	x.secondary, err = lookup("secondary")
	return err
}

// Mutual returns M = k*sqrt(L1*L2).
func (x *Transformer) Mutual() float64 {
	return x.Coefficient * math.Sqrt(x.L1*x.L2)
}

func (x *Transformer) Stamp(ctx *Context) error {
	if err := x.requireNodes(4); err != nil {
		return err
	}
	if x.Coefficient < 0 || x.Coefficient >= 1 {
		return fmt.Errorf("transformer %s: coupling coefficient %g outside [0, 1)", x.Name, x.Coefficient)
	}
	p, err := ctx.Extra(x.Name, "primary")
	if err != nil {
		return err
	}
	s, err := ctx.Extra(x.Name, "secondary")
	if err != nil {
		return err
	}

	prim := TwoTerminal{N1: x.Nodes[0], N2: x.Nodes[1]}
	sec := TwoTerminal{N1: x.Nodes[2], N2: x.Nodes[3]}
	prim.StampBranch(ctx.Matrix, p)
	sec.StampBranch(ctx.Matrix, s)
	prim.StampConductance(ctx.Matrix, ctx.ShuntGmin())
	sec.StampConductance(ctx.Matrix, ctx.ShuntGmin())

	if !ctx.Transient() {
		return nil
	}

	// v_p = L1 di_p/dt + M di_s/dt, v_s = M di_p/dt + L2 di_s/dt
	c := util.CompanionCoeff(ctx.TimeStep)
	m := x.Mutual()
	ip, is := ctx.PreviousValue(p), ctx.PreviousValue(s)

	ctx.Matrix.AddElement(p, p, -c*x.L1)
	ctx.Matrix.AddElement(p, s, -c*m)
	ctx.Matrix.AddRHS(p, -c*(x.L1*ip+m*is))

	ctx.Matrix.AddElement(s, s, -c*x.L2)
	ctx.Matrix.AddElement(s, p, -c*m)
	ctx.Matrix.AddRHS(s, -c*(m*ip+x.L2*is))
	return nil
}

func (x *Transformer) ZeroState(v []float64) {
	for _, idx := range []int{x.primary, x.secondary} {
		if idx > 0 && idx < len(v) {
			v[idx] = 0
		}
	}
}

// Current reports the primary winding current.
func (x *Transformer) Current(ctx *Context) float64 {
	if x.primary <= 0 || x.primary >= len(ctx.Solution) {
		return 0
	}
	return ctx.Solution[x.primary]
}

func (x *Transformer) SecondaryCurrent(ctx *Context) float64 {
	if x.secondary <= 0 || x.secondary >= len(ctx.Solution) {
		return 0
	}
	return ctx.Solution[x.secondary]
}
