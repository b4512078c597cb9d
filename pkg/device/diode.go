package device

import (
	"math"

	"github.com/edp1096/transim/internal/consts"
)

// maxExpArg is where the exponential characteristic continues as a straight
// line with matching slope.
const maxExpArg = 40.0

type Diode struct {
	BaseDevice
	// Model parameters
	Is   float64 // Saturation current
	N    float64 // Emission coefficient
	Gmin float64 // Parallel conductance

	// Temperature parameters
	Eg  float64 // Energy gap (eV)
	Xti float64 // Saturation current temperature exponent
}

var (
	_ ConvergenceLimiter = (*Diode)(nil)
	_ CurrentReporter    = (*Diode)(nil)
)

func NewDiode(name string, nodeNames []string) *Diode {
	d := &Diode{BaseDevice: NewBaseDevice(name, 0, nodeNames)}
	d.setDefaultParameters()
	return d
}

func (d *Diode) GetType() string { return "D" }

func (d *Diode) setDefaultParameters() {
	d.Is = 1e-14
	d.N = 1.0
	d.Gmin = consts.GMIN

	d.Eg = 1.11 // Silicon bandgap
	d.Xti = 3.0
}

func (d *Diode) SetModelParameters(params map[string]float64) {
	if is, ok := params["is"]; ok {
		d.Is = is
	}
	if n, ok := params["n"]; ok {
		d.N = n
	}
	if eg, ok := params["eg"]; ok {
		d.Eg = eg
	}
	if xti, ok := params["xti"]; ok {
		d.Xti = xti
	}
	if gmin, ok := params["gmin"]; ok {
		d.Gmin = gmin
	}
}

func (d *Diode) thermalVoltage(temp float64) float64 {
	if temp <= 0 {
		temp = consts.ROOMTEMP
	}

	return consts.BOLTZMANN * temp / consts.CHARGE
}

func (d *Diode) temperatureAdjustedIs(temp float64) float64 {
	if temp <= 0 {
		temp = consts.ROOMTEMP
	}
	vt := d.thermalVoltage(temp)

	// is(T2) = is(T1) * (T2/T1)^(XTI/N) * exp(-(Eg/(2*Vt))*(T2/T1 - 1))
	ratio := temp / consts.ROOMTEMP
	egfact := -d.Eg / (2 * vt) * (ratio - 1.0)

	return d.Is * math.Pow(ratio, d.Xti/d.N) * math.Exp(egfact)
}

// evaluate returns the junction current and its derivative at vd.
func (d *Diode) evaluate(vd, temp float64) (id, gd float64) {
	nvt := d.N * d.thermalVoltage(temp)
	is := d.temperatureAdjustedIs(temp)

	arg := vd / nvt
	if arg > maxExpArg {
		e := math.Exp(maxExpArg)
		id = is * (e*(1+arg-maxExpArg) - 1)
		gd = is * e / nvt
	} else {
		e := math.Exp(arg)
		id = is * (e - 1)
		gd = is * e / nvt
	}

	return id + d.Gmin*vd, gd + d.Gmin
}

func (d *Diode) Stamp(ctx *Context) error {
	if err := d.requireNodes(2); err != nil {
		return err
	}
	pins := d.pins()

	vd := pins.Voltage(ctx)
	id, gd := d.evaluate(vd, ctx.Temp)

	pins.StampConductance(ctx.Matrix, gd)
	pins.StampCurrent(ctx.Matrix, id-gd*vd)
	return nil
}

func (d *Diode) Current(ctx *Context) float64 {
	id, _ := d.evaluate(d.pins().Voltage(ctx), ctx.Temp)
	return id
}

// StepLimit applies junction voltage limiting: a forward step beyond the
// critical voltage is cut to a logarithmic advance.
func (d *Diode) StepLimit(old, delta []float64) float64 {
	pins := d.pins()
	vold := pins.VoltageOf(old)
	dv := pins.VoltageOf(delta)
	vnew := vold + dv

	nvt := d.N * d.thermalVoltage(consts.ROOMTEMP)
	vcrit := nvt * math.Log(nvt/(math.Sqrt2*d.Is))
	if vnew <= vcrit || dv <= 2*nvt {
		return 1
	}

	var vlim float64
	if vold > 0 {
		vlim = vold + nvt*math.Log(1+dv/nvt)
	} else {
		vlim = nvt * math.Log(vnew/nvt)
	}

	frac := (vlim - vold) / dv
	if frac <= 0 || frac > 1 || math.IsNaN(frac) {
		return 1
	}
	return frac
}
