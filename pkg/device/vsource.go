package device

import "fmt"

// VoltageSource forces v(n+) - v(n-) through a branch-current unknown. The
// branch current is positive when it flows into the + terminal.
type VoltageSource struct {
	BaseDevice
	Waveform  SourceWaveform
	scale     float64
	branchIdx int
}

var (
	_ ExtraVariableUser = (*VoltageSource)(nil)
	_ SourceScaler      = (*VoltageSource)(nil)
	_ Breakpointer      = (*VoltageSource)(nil)
	_ CurrentReporter   = (*VoltageSource)(nil)
	_ Sweepable         = (*VoltageSource)(nil)
)

func NewVoltageSource(name string, nodeNames []string, waveform SourceWaveform) *VoltageSource {
	return &VoltageSource{
		BaseDevice: NewBaseDevice(name, waveform.Value(0), nodeNames),
		Waveform:   waveform,
		scale:      1,
	}
}

func NewDCVoltageSource(name string, nodeNames []string, value float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, DCWaveform(value))
}

func NewSinVoltageSource(name string, nodeNames []string, offset, amplitude, freq, phase float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, SinWaveform(offset, amplitude, freq, phase))
}

func NewPulseVoltageSource(name string, nodeNames []string, v1, v2, delay, rise, fall, pWidth, period float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, PulseWaveform(v1, v2, delay, rise, fall, pWidth, period))
}

func NewPWLVoltageSource(name string, nodeNames []string, times []float64, values []float64) *VoltageSource {
	return NewVoltageSource(name, nodeNames, PWLWaveform(times, values))
}

func (v *VoltageSource) GetType() string { return "V" }

func (v *VoltageSource) ExtraRoles() []string { return []string{"current"} }

func (v *VoltageSource) BindExtra(lookup func(role string) (int, error)) error {
	idx, err := lookup("current")
	if err != nil {
		return err
	}
	v.branchIdx = idx
	return nil
}

func (v *VoltageSource) GetVoltage(t float64) float64 {
	return v.scale * v.Waveform.Value(t)
}

func (v *VoltageSource) Stamp(ctx *Context) error {
	if err := v.requireNodes(2); err != nil {
		return err
	}
	if err := v.Waveform.Validate(); err != nil {
		return fmt.Errorf("voltage source %s: %w", v.Name, err)
	}
	bIdx, err := ctx.Extra(v.Name, "current")
	if err != nil {
		return err
	}

	v.pins().StampBranch(ctx.Matrix, bIdx)
	ctx.Matrix.AddRHS(bIdx, v.GetVoltage(ctx.Time))
	return nil
}

func (v *VoltageSource) SetScale(factor float64) { v.scale = factor }

func (v *VoltageSource) RestoreScale() { v.scale = 1 }

func (v *VoltageSource) NextBreakpoint(t float64) (float64, bool) {
	return v.Waveform.NextBreakpoint(t)
}

// Current is the current delivered out of the + terminal, so V*I is the power
// supplied by the source.
func (v *VoltageSource) Current(ctx *Context) float64 {
	if v.branchIdx <= 0 || v.branchIdx >= len(ctx.Solution) {
		return 0
	}
	return -ctx.Solution[v.branchIdx]
}

func (v *VoltageSource) BranchIndex() int {
	return v.branchIdx
}

func (v *VoltageSource) SetValue(value float64) {
	v.Value = value
	v.Waveform = DCWaveform(value)
}

func (v *VoltageSource) GetWaveform() SourceWaveform { return v.Waveform }

func (v *VoltageSource) SetWaveform(w SourceWaveform) {
	v.Waveform = w
	v.Value = w.Value(0)
}
