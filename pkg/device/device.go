package device

import (
	"fmt"

	"github.com/edp1096/transim/internal/consts"
	"github.com/edp1096/transim/pkg/matrix"
	"github.com/edp1096/transim/pkg/simerr"
)

// Device is the contribution contract every component implements. Stamp must
// only add to ctx.Matrix and must not change the device's own state: it is
// called once per Newton iteration and rejected iterations leave no trace.
type Device interface {
	GetName() string
	GetType() string
	GetNodeNames() []string
	GetNodes() []int
	SetNodes(nodes []int)
	Stamp(ctx *Context) error
}

// ExtraVariableUser is implemented by devices that need unknowns beyond the node
// voltages (branch currents). Roles are reported once during the pre-scan and
// the assigned indices are handed back through BindExtra.
type ExtraVariableUser interface {
	ExtraRoles() []string
	BindExtra(lookup func(role string) (int, error)) error
}

// EventCapable devices own a discrete state that changes when their indicator
// function changes sign.
type EventCapable interface {
	HasEvents() bool
	// EventIndicator is evaluated at time t on solution x. A sign change between
	// two times brackets an event. Values >= 0 count as positive.
	EventIndicator(t float64, x []float64) float64
	HandleEvent(ev Event, ctx *Context) error
}

// InitialStater devices derive their discrete state from the operating point
// before integration starts. InitState reports whether the state changed, in
// which case the operating point has to be solved again.
type InitialStater interface {
	InitState(x []float64) bool
}

// SourceScaler is implemented by independent sources for source stepping.
type SourceScaler interface {
	SetScale(factor float64)
	RestoreScale()
}

// Sweepable sources can be forced to a DC value for a sweep and put back.
type Sweepable interface {
	SetValue(value float64)
	GetWaveform() SourceWaveform
	SetWaveform(w SourceWaveform)
}

// StorageElement devices can clear their stored energy in a solution vector for a
// zero-initial-condition start.
type StorageElement interface {
	ZeroState(x []float64)
}

// Resetter devices restore their discrete state before a new run.
type Resetter interface {
	Reset()
}

// CurrentReporter reports the device current for waveform recording.
type CurrentReporter interface {
	Current(ctx *Context) float64
}

// Breakpointer reports the next time after t where the device's excitation has a
// corner. Steps are clipped so they land on it.
type Breakpointer interface {
	NextBreakpoint(t float64) (float64, bool)
}

// ConvergenceLimiter devices damp Newton updates that would move them too far
// along a steep characteristic. StepLimit returns the fraction of delta that may
// be applied from old, 1 meaning no limit.
type ConvergenceLimiter interface {
	StepLimit(old, delta []float64) float64
}

type SourceType int

const (
	DC SourceType = iota
	SIN
	PULSE
	PWL
)

type AnalysisMode int

const (
	OperatingPointAnalysis AnalysisMode = iota
	TransientAnalysis
)

func (m AnalysisMode) String() string {
	if m == TransientAnalysis {
		return "tran"
	}
	return "op"
}

type EventKind int

const (
	RisingCrossing EventKind = iota + 1
	FallingCrossing
)

func (k EventKind) String() string {
	switch k {
	case RisingCrossing:
		return "rising"
	case FallingCrossing:
		return "falling"
	}
	return "none"
}

// Event is a located discrete transition. The crossing lies in [TLow, THigh];
// the state change is applied at THigh.
type Event struct {
	Device Device
	Kind   EventKind
	TLow   float64
	THigh  float64
}

// ExtraLookup resolves (device, role) to an unknown index.
type ExtraLookup interface {
	Lookup(name, role string) (int, bool)
}

// Context is the shared assembly context lent to every Stamp call.
type Context struct {
	Matrix   matrix.DeviceMatrix
	Nodes    map[string]int
	Extras   ExtraLookup
	Mode     AnalysisMode
	Time     float64
	TimeStep float64
	Gmin     float64
	Temp     float64
	Solution []float64 // linearization point
	Previous []float64 // accepted solution at Time-TimeStep
}

// Voltage returns x[node] from the linearization point.
func (ctx *Context) Voltage(node int) float64 {
	if node == consts.GROUND || node >= len(ctx.Solution) {
		return 0
	}
	return ctx.Solution[node]
}

// PreviousValue returns entry i of the previous-step snapshot, 0 without one.
func (ctx *Context) PreviousValue(i int) float64 {
	if i == consts.GROUND || i >= len(ctx.Previous) {
		return 0
	}
	return ctx.Previous[i]
}

// Extra resolves an extra variable at assembly time. A role that was not
// reported during the pre-scan is a configuration error.
func (ctx *Context) Extra(name, role string) (int, error) {
	if ctx.Extras != nil {
		if idx, ok := ctx.Extras.Lookup(name, role); ok {
			return idx, nil
		}
	}
	return 0, simerr.New(simerr.ConfigurationError, "assemble", "extra variable %s/%s was not scanned", name, role)
}

// Transient reports whether companion models must be stamped.
func (ctx *Context) Transient() bool {
	return ctx.Mode == TransientAnalysis && ctx.TimeStep > 0
}

// ShuntGmin is the conductance energy-storage devices put across their
// terminals, never below consts.GMIN.
func (ctx *Context) ShuntGmin() float64 {
	if ctx.Gmin > consts.GMIN {
		return ctx.Gmin
	}
	return consts.GMIN
}

type BaseDevice struct {
	Name      string
	Nodes     []int
	Value     float64
	NodeNames []string
}

func (d *BaseDevice) GetName() string {
	return d.Name
}

func (d *BaseDevice) GetNodes() []int {
	return d.Nodes
}

func (d *BaseDevice) GetNodeNames() []string {
	return d.NodeNames
}

func (d *BaseDevice) GetValue() float64 {
	return d.Value
}

func (d *BaseDevice) SetNodes(nodes []int) {
	d.Nodes = nodes
}

func NewBaseDevice(name string, value float64, nodeNames []string) BaseDevice {
	return BaseDevice{
		Name:      name,
		Value:     value,
		NodeNames: nodeNames,
		Nodes:     make([]int, len(nodeNames)),
	}
}

func (d *BaseDevice) requireNodes(n int) error {
	if len(d.Nodes) != n {
		return fmt.Errorf("%s: requires exactly %d nodes, got %d", d.Name, n, len(d.Nodes))
	}
	return nil
}

// pins returns the first two terminals as a TwoTerminal.
func (d *BaseDevice) pins() TwoTerminal {
	return TwoTerminal{N1: d.Nodes[0], N2: d.Nodes[1]}
}
