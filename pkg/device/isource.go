package device

import "fmt"

// CurrentSource drives its current into the first node and draws it from the
// second.
type CurrentSource struct {
	BaseDevice
	Waveform SourceWaveform
	scale    float64
}

var (
	_ SourceScaler    = (*CurrentSource)(nil)
	_ Breakpointer    = (*CurrentSource)(nil)
	_ CurrentReporter = (*CurrentSource)(nil)
	_ Sweepable       = (*CurrentSource)(nil)
)

func NewCurrentSource(name string, nodeNames []string, waveform SourceWaveform) *CurrentSource {
	return &CurrentSource{
		BaseDevice: NewBaseDevice(name, waveform.Value(0), nodeNames),
		Waveform:   waveform,
		scale:      1,
	}
}

func NewDCCurrentSource(name string, nodeNames []string, value float64) *CurrentSource {
	return NewCurrentSource(name, nodeNames, DCWaveform(value))
}

func NewPulseCurrentSource(name string, nodeNames []string, i1, i2, delay, rise, fall, pWidth, period float64) *CurrentSource {
	return NewCurrentSource(name, nodeNames, PulseWaveform(i1, i2, delay, rise, fall, pWidth, period))
}

func (c *CurrentSource) GetType() string { return "I" }

func (c *CurrentSource) GetCurrent(t float64) float64 {
	return c.scale * c.Waveform.Value(t)
}

func (c *CurrentSource) Stamp(ctx *Context) error {
	if err := c.requireNodes(2); err != nil {
		return err
	}
	if err := c.Waveform.Validate(); err != nil {
		return fmt.Errorf("current source %s: %w", c.Name, err)
	}

	current := c.GetCurrent(ctx.Time)
	ctx.Matrix.AddRHS(c.Nodes[0], current)
	ctx.Matrix.AddRHS(c.Nodes[1], -current)
	return nil
}

func (c *CurrentSource) SetScale(factor float64) { c.scale = factor }

func (c *CurrentSource) RestoreScale() { c.scale = 1 }

func (c *CurrentSource) NextBreakpoint(t float64) (float64, bool) {
	return c.Waveform.NextBreakpoint(t)
}

func (c *CurrentSource) Current(ctx *Context) float64 {
	return c.GetCurrent(ctx.Time)
}

func (c *CurrentSource) SetValue(value float64) {
	c.Value = value
	c.Waveform = DCWaveform(value)
}

func (c *CurrentSource) GetWaveform() SourceWaveform { return c.Waveform }

func (c *CurrentSource) SetWaveform(w SourceWaveform) {
	c.Waveform = w
	c.Value = w.Value(0)
}
