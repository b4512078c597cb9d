package device

import "github.com/edp1096/transim/pkg/util"

// Capacitor is stamped with a backward Euler companion in transient mode. The
// previous voltage comes from the context snapshot so the device keeps no
// per-step state.
type Capacitor struct {
	BaseDevice
}

var (
	_ StorageElement  = (*Capacitor)(nil)
	_ CurrentReporter = (*Capacitor)(nil)
)

func NewCapacitor(name string, nodeNames []string, value float64) *Capacitor {
	return &Capacitor{BaseDevice: NewBaseDevice(name, value, nodeNames)}
}

func (c *Capacitor) GetType() string { return "C" }

func (c *Capacitor) Stamp(ctx *Context) error {
	if err := c.requireNodes(2); err != nil {
		return err
	}
	pins := c.pins()

	// Keeps floating capacitor nodes solvable in DC and during transients.
	pins.StampConductance(ctx.Matrix, ctx.ShuntGmin())

	if !ctx.Transient() {
		return nil
	}

	geq := util.CompanionCoeff(ctx.TimeStep) * c.Value
	ieq := geq * pins.PreviousVoltage(ctx)
	pins.StampConductance(ctx.Matrix, geq)
	pins.StampCurrent(ctx.Matrix, -ieq)
	return nil
}

// ZeroState discharges the capacitor by pulling its first node to its second.
func (c *Capacitor) ZeroState(x []float64) {
	n1, n2 := c.Nodes[0], c.Nodes[1]
	switch {
	case n1 > 0 && n1 < len(x):
		x[n1] = at(x, n2)
	case n2 > 0 && n2 < len(x):
		x[n2] = 0
	}
}

func (c *Capacitor) Current(ctx *Context) float64 {
	if !ctx.Transient() {
		return 0
	}
	pins := c.pins()
	return c.Value * (pins.Voltage(ctx) - pins.PreviousVoltage(ctx)) / ctx.TimeStep
}
