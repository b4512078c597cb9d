package device

import "github.com/edp1096/transim/pkg/util"

// Inductor carries its current as an extra unknown. The current is positive
// when it flows from the first node through the inductor to the second.
type Inductor struct {
	BaseDevice
	branchIdx int
}

var (
	_ ExtraVariableUser = (*Inductor)(nil)
	_ StorageElement    = (*Inductor)(nil)
	_ CurrentReporter   = (*Inductor)(nil)
)

func NewInductor(name string, nodeNames []string, value float64) *Inductor {
	return &Inductor{BaseDevice: NewBaseDevice(name, value, nodeNames)}
}

func (l *Inductor) GetType() string { return "L" }

func (l *Inductor) ExtraRoles() []string { return []string{"current"} }

func (l *Inductor) BindExtra(lookup func(role string) (int, error)) error {
	idx, err := lookup("current")
	if err != nil {
		return err
	}
	l.branchIdx = idx
	return nil
}

func (l *Inductor) Stamp(ctx *Context) error {
	if err := l.requireNodes(2); err != nil {
		return err
	}
	bIdx, err := ctx.Extra(l.Name, "current")
	if err != nil {
		return err
	}
	pins := l.pins()

	pins.StampBranch(ctx.Matrix, bIdx)
	pins.StampConductance(ctx.Matrix, ctx.ShuntGmin())

	// DC: the branch row reads v1 - v2 = 0.
	if !ctx.Transient() {
		return nil
	}

	// v1 - v2 - (L/h) i = -(L/h) i_prev
	req := util.CompanionCoeff(ctx.TimeStep) * l.Value
	ctx.Matrix.AddElement(bIdx, bIdx, -req)
	ctx.Matrix.AddRHS(bIdx, -req*ctx.PreviousValue(bIdx))
	return nil
}

func (l *Inductor) ZeroState(x []float64) {
	if l.branchIdx > 0 && l.branchIdx < len(x) {
		x[l.branchIdx] = 0
	}
}

func (l *Inductor) Current(ctx *Context) float64 {
	if l.branchIdx <= 0 || l.branchIdx >= len(ctx.Solution) {
		return 0
	}
	return ctx.Solution[l.branchIdx]
}

func (l *Inductor) BranchIndex() int {
	return l.branchIdx
}
