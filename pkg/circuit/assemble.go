package circuit

import (
	"fmt"

	"github.com/edp1096/transim/internal/consts"
	"github.com/edp1096/transim/pkg/device"
	"github.com/edp1096/transim/pkg/matrix"
	"github.com/edp1096/transim/pkg/simerr"
)

// Request carries the per-call inputs of one assembly.
type Request struct {
	Guess    []float64
	Previous []float64
	Time     float64
	StepSize float64
	Gmin     float64
	Mode     device.AnalysisMode
}

// Assembler folds every device contribution into one system. The system is
// owned by the assembler and rebuilt on every call.
type Assembler struct {
	circuit *Circuit
	sys     *matrix.System
	Temp    float64
}

func NewAssembler(c *Circuit) (*Assembler, error) {
	if !c.Frozen() {
		return nil, simerr.New(simerr.ConfigurationError, "assemble", "circuit %q is not set up", c.Name())
	}
	return &Assembler{
		circuit: c,
		sys:     matrix.NewSystem(c.Size()),
		Temp:    consts.ROOMTEMP,
	}, nil
}

func (a *Assembler) Size() int { return a.sys.Size() }

func (a *Assembler) System() *matrix.System { return a.sys }

func (a *Assembler) Circuit() *Circuit { return a.circuit }

// Context builds the device context for req without touching the matrix.
func (a *Assembler) Context(req Request) *device.Context {
	return &device.Context{
		Matrix:   a.sys,
		Nodes:    a.circuit.nodeMap,
		Extras:   a.circuit.extras,
		Mode:     req.Mode,
		Time:     req.Time,
		TimeStep: req.StepSize,
		Gmin:     req.Gmin,
		Temp:     a.Temp,
		Solution: req.Guess,
		Previous: req.Previous,
	}
}

// Assemble clears the system, stamps every device at req, adds the global
// gmin shunt to each node and finally pins the ground row and column.
func (a *Assembler) Assemble(req Request) (sys *matrix.System, err error) {
	if len(req.Guess) != a.sys.Size() {
		return nil, simerr.New(simerr.ConfigurationError, "assemble", "solution length %d, system size %d", len(req.Guess), a.sys.Size())
	}

	defer func() {
		if r := recover(); r != nil {
			sys, err = nil, simerr.New(simerr.ConfigurationError, "assemble", "%v", r)
		}
	}()

	a.sys.Clear()
	ctx := a.Context(req)
	for _, dev := range a.circuit.devices {
		if err := dev.Stamp(ctx); err != nil {
			err = fmt.Errorf("stamping device %s: %w", dev.GetName(), err)
			if simerr.KindOf(err) == 0 {
				err = simerr.Wrap(simerr.ConfigurationError, "assemble", err)
			}
			return nil, err
		}
	}

	if req.Gmin > 0 {
		for i := 1; i <= a.circuit.numNodes; i++ {
			a.sys.AddElement(i, i, req.Gmin)
		}
	}

	a.sys.PinIdentity(consts.GROUND)
	return a.sys, nil
}
