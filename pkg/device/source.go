package device

import (
	"fmt"
	"math"
)

// SourceWaveform is the time function shared by the independent voltage and
// current sources.
type SourceWaveform struct {
	Type SourceType
	// DC, SIN offset
	DC float64
	// SIN params
	Amplitude float64
	Freq      float64
	Phase     float64 // degrees
	// PULSE params
	V1     float64
	V2     float64
	Delay  float64
	Rise   float64
	Fall   float64
	PWidth float64
	Period float64
	// PWL params
	Times  []float64
	Values []float64
}

func DCWaveform(value float64) SourceWaveform {
	return SourceWaveform{Type: DC, DC: value}
}

func SinWaveform(offset, amplitude, freq, phase float64) SourceWaveform {
	return SourceWaveform{Type: SIN, DC: offset, Amplitude: amplitude, Freq: freq, Phase: phase}
}

func PulseWaveform(v1, v2, delay, rise, fall, pWidth, period float64) SourceWaveform {
	return SourceWaveform{Type: PULSE, V1: v1, V2: v2, Delay: delay, Rise: rise, Fall: fall, PWidth: pWidth, Period: period}
}

func PWLWaveform(times, values []float64) SourceWaveform {
	return SourceWaveform{Type: PWL, Times: times, Values: values}
}

func (w *SourceWaveform) Validate() error {
	switch w.Type {
	case PULSE:
		if w.Rise < 0 || w.Fall < 0 || w.PWidth < 0 || w.Period < 0 {
			return fmt.Errorf("pulse timing must be non-negative")
		}
	case PWL:
		if len(w.Times) == 0 || len(w.Times) != len(w.Values) {
			return fmt.Errorf("pwl needs matching, non-empty time and value lists")
		}
		for i := 1; i < len(w.Times); i++ {
			if w.Times[i] <= w.Times[i-1] {
				return fmt.Errorf("pwl times must be strictly increasing")
			}
		}
	}
	return nil
}

func (w *SourceWaveform) Value(t float64) float64 {
	switch w.Type {
	case DC:
		return w.DC
	case SIN:
		phaseRad := w.Phase * math.Pi / 180.0
		return w.DC + w.Amplitude*math.Sin(2.0*math.Pi*w.Freq*t+phaseRad)
	case PULSE:
		return w.pulse(t)
	case PWL:
		return w.pwl(t)
	default:
		return 0
	}
}

func (w *SourceWaveform) pulse(t float64) float64 {
	if t < w.Delay {
		return w.V1
	}

	t = t - w.Delay
	if w.Period > 0 {
		t = math.Mod(t, w.Period)
	}

	if t < w.Rise {
		return w.V1 + (w.V2-w.V1)*t/w.Rise
	}

	if t < w.Rise+w.PWidth {
		return w.V2
	}

	fallStart := w.Rise + w.PWidth
	if t < fallStart+w.Fall {
		return w.V2 - (w.V2-w.V1)*(t-fallStart)/w.Fall
	}

	return w.V1
}

func (w *SourceWaveform) pwl(t float64) float64 {
	if t <= w.Times[0] {
		return w.Values[0]
	}

	lastIdx := len(w.Times) - 1
	if t >= w.Times[lastIdx] {
		return w.Values[lastIdx]
	}

	for i := 1; i < len(w.Times); i++ {
		if t <= w.Times[i] {
			t1, t2 := w.Times[i-1], w.Times[i]
			v1, v2 := w.Values[i-1], w.Values[i]
			slope := (v2 - v1) / (t2 - t1)
			return v1 + slope*(t-t1)
		}
	}

	return w.Values[lastIdx]
}

// NextBreakpoint returns the first waveform corner strictly after t.
func (w *SourceWaveform) NextBreakpoint(t float64) (float64, bool) {
	eps := 1e-12 * math.Max(1, math.Abs(t))
	switch w.Type {
	case PULSE:
		corners := []float64{0, w.Rise, w.Rise + w.PWidth, w.Rise + w.PWidth + w.Fall}
		if t+eps < w.Delay {
			return w.Delay, true
		}
		base := w.Delay
		if w.Period > 0 {
			base += math.Floor((t-w.Delay)/w.Period) * w.Period
		}
		for cycle := 0; cycle < 2; cycle++ {
			for _, c := range corners {
				if bp := base + c; bp > t+eps {
					return bp, true
				}
			}
			if w.Period <= 0 {
				break
			}
			base += w.Period
		}
	case PWL:
		for _, bp := range w.Times {
			if bp > t+eps {
				return bp, true
			}
		}
	}
	return 0, false
}
