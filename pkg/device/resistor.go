package device

import (
	"fmt"

	"github.com/edp1096/transim/internal/consts"
)

type Resistor struct {
	BaseDevice
	Tc1  float64
	Tc2  float64
	Tnom float64
}

var _ CurrentReporter = (*Resistor)(nil)

func NewResistor(name string, nodeNames []string, value float64) *Resistor {
	return &Resistor{
		BaseDevice: NewBaseDevice(name, value, nodeNames),
		Tnom:       consts.ROOMTEMP,
	}
}

func (r *Resistor) GetType() string { return "R" }

func (r *Resistor) Stamp(ctx *Context) error {
	if err := r.requireNodes(2); err != nil {
		return err
	}
	value := r.temperatureAdjustedValue(ctx.Temp)
	if value <= 0 {
		return fmt.Errorf("resistor %s: non-positive resistance %g", r.Name, value)
	}

	r.pins().StampConductance(ctx.Matrix, 1.0/value)
	return nil
}

// Current flows from the first node to the second.
func (r *Resistor) Current(ctx *Context) float64 {
	return r.pins().Voltage(ctx) / r.temperatureAdjustedValue(ctx.Temp)
}

func (r *Resistor) temperatureAdjustedValue(temp float64) float64 {
	if temp <= 0 {
		return r.Value
	}
	dt := temp - r.Tnom
	factor := 1.0 + r.Tc1*dt + r.Tc2*dt*dt
	return r.Value * factor
}
