package device

import (
	"fmt"
	"sort"
)

// Switch is an ideal two-state resistor. Its state changes either on a fixed
// time schedule or when a control voltage crosses a threshold, always through
// the event mechanism so the discontinuity lands on a step boundary.
type Switch struct {
	BaseDevice
	Ron, Roff     float64
	InitialClosed bool

	// Time-controlled: toggle instants.
	Toggles []float64
	// Voltage-controlled: close above Von, open below Voff.
	Von, Voff  float64
	controlled bool

	closed bool
	next   int
}

var (
	_ EventCapable    = (*Switch)(nil)
	_ Breakpointer    = (*Switch)(nil)
	_ CurrentReporter = (*Switch)(nil)
	_ Resetter        = (*Switch)(nil)
	_ InitialStater   = (*Switch)(nil)
)

// NewTimedSwitch toggles at every instant in toggles, starting from closed.
func NewTimedSwitch(name string, nodeNames []string, ron, roff float64, closed bool, toggles []float64) *Switch {
	ts := append([]float64(nil), toggles...)
	sort.Float64s(ts)
	return &Switch{
		BaseDevice:    NewBaseDevice(name, ron, nodeNames),
		Ron:           ron,
		Roff:          roff,
		InitialClosed: closed,
		Toggles:       ts,
		closed:        closed,
	}
}

// NewVoltageSwitch takes the nodes as n+, n-, control+, control-.
func NewVoltageSwitch(name string, nodeNames []string, ron, roff, von, voff float64) *Switch {
	return &Switch{
		BaseDevice: NewBaseDevice(name, ron, nodeNames),
		Ron:        ron,
		Roff:       roff,
		Von:        von,
		Voff:       voff,
		controlled: true,
	}
}

func (s *Switch) GetType() string { return "S" }

func (s *Switch) Closed() bool { return s.closed }

func (s *Switch) Reset() {
	s.closed = s.InitialClosed
	s.next = 0
}

// InitState closes a voltage-controlled switch whose control voltage is already
// past Von. A closed switch only opens below Voff, as in EventIndicator.
func (s *Switch) InitState(x []float64) bool {
	if !s.controlled {
		return false
	}
	vc := TwoTerminal{N1: s.Nodes[2], N2: s.Nodes[3]}.VoltageOf(x)
	closed := vc >= s.Von
	if s.closed {
		closed = vc >= s.Voff
	}
	changed := closed != s.closed
	s.closed = closed
	return changed
}

func (s *Switch) conductance() float64 {
	if s.closed {
		return 1.0 / s.Ron
	}
	return 1.0 / s.Roff
}

func (s *Switch) Stamp(ctx *Context) error {
	want := 2
	if s.controlled {
		want = 4
	}
	if err := s.requireNodes(want); err != nil {
		return err
	}
	if s.Ron <= 0 || s.Roff <= 0 {
		return fmt.Errorf("switch %s: resistances must be positive", s.Name)
	}

	s.pins().StampConductance(ctx.Matrix, s.conductance())
	return nil
}

func (s *Switch) Current(ctx *Context) float64 {
	return s.pins().Voltage(ctx) * s.conductance()
}

func (s *Switch) HasEvents() bool {
	return s.controlled || s.next < len(s.Toggles)
}

func (s *Switch) EventIndicator(t float64, x []float64) float64 {
	if s.controlled {
		vc := TwoTerminal{N1: s.Nodes[2], N2: s.Nodes[3]}.VoltageOf(x)
		if s.closed {
			return vc - s.Voff
		}
		return vc - s.Von
	}
	if s.next >= len(s.Toggles) {
		return -1
	}
	return t - s.Toggles[s.next]
}

func (s *Switch) HandleEvent(ev Event, ctx *Context) error {
	if s.controlled {
		s.closed = ev.Kind == RisingCrossing
		return nil
	}
	if s.next >= len(s.Toggles) {
		return fmt.Errorf("switch %s: no pending toggle at t=%g", s.Name, ev.THigh)
	}
	s.closed = !s.closed
	s.next++
	return nil
}

func (s *Switch) NextBreakpoint(t float64) (float64, bool) {
	if s.controlled {
		return 0, false
	}
	for i := s.next; i < len(s.Toggles); i++ {
		if s.Toggles[i] > t {
			return s.Toggles[i], true
		}
	}
	return 0, false
}
