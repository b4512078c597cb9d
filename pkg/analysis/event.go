package analysis

import (
	"github.com/edp1096/transim/pkg/device"
)

// Interpolator returns the solution at any time inside the last step.
type Interpolator interface {
	Interpolate(t float64) []float64
}

type eventSource interface {
	device.Device
	device.EventCapable
}

// EventDetector finds indicator sign changes over a step and bisects them to
// Tol against an interpolation of the step.
type EventDetector struct {
	Tol     float64
	devices []eventSource
}

func NewEventDetector(devs []device.Device, tol float64) *EventDetector {
	d := &EventDetector{Tol: tol}
	for _, dev := range devs {
		if ec, ok := dev.(eventSource); ok {
			d.devices = append(d.devices, ec)
		}
	}
	return d
}

// Len is the number of event-capable devices.
func (d *EventDetector) Len() int { return len(d.devices) }

func positive(g float64) bool { return g >= 0 }

// Detect returns the earliest event in [t0, t1] given the endpoint solutions.
// The bracket of the returned event is no wider than Tol, its THigh is where
// the state change is applied.
func (d *EventDetector) Detect(t0, t1 float64, x0, x1 []float64, oracle Interpolator) (device.Event, bool) {
	var best device.Event
	found := false

	for _, dev := range d.devices {
		if !dev.HasEvents() {
			continue
		}
		g0 := dev.EventIndicator(t0, x0)
		g1 := dev.EventIndicator(t1, x1)
		if positive(g0) == positive(g1) {
			continue
		}

		lo, hi := d.bisect(dev, t0, t1, positive(g0), oracle)
		kind := device.RisingCrossing
		if positive(g0) {
			kind = device.FallingCrossing
		}
		if !found || hi < best.THigh {
			best = device.Event{Device: dev, Kind: kind, TLow: lo, THigh: hi}
			found = true
		}
	}
	return best, found
}

func (d *EventDetector) bisect(dev eventSource, lo, hi float64, loSign bool, oracle Interpolator) (float64, float64) {
	for hi-lo > d.Tol {
		mid := lo + (hi-lo)/2
		if mid <= lo || mid >= hi {
			break
		}
		if positive(dev.EventIndicator(mid, oracle.Interpolate(mid))) == loSign {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, hi
}
