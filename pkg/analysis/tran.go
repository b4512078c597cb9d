package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/edp1096/transim/pkg/circuit"
	"github.com/edp1096/transim/pkg/config"
	"github.com/edp1096/transim/pkg/device"
	"github.com/edp1096/transim/pkg/matrix"
	"github.com/edp1096/transim/pkg/simerr"
	"github.com/edp1096/transim/pkg/waveform"
)

// maxEventRepeats bounds consecutive events handled at the same instant.
const maxEventRepeats = 64

// maxSettlePasses bounds the initial-state fixed point.
const maxSettlePasses = 4

// Transient runs the DC operating point, then integrates to EndTime while
// handling discrete events and recording every accepted point.
type Transient struct {
	BaseAnalysis
	runID    uuid.UUID
	state    atomic.Int32
	pause    atomic.Bool
	recorder *waveform.Recorder
	sink     waveform.Sink
	extra    waveform.Sink

	asm      *circuit.Assembler
	solver   matrix.Solver
	op       *OperatingPoint
	integ    *GeneralizedAlpha
	detector *EventDetector
	meters   []meter
	bps      []device.Breakpointer

	time         float64
	timeStep     float64
	steps        int
	rejected     int
	events       int
	dcTier       Tier
	lastEvent    float64
	eventRepeats int
	elapsed      time.Duration
	err          error
}

type meter struct {
	name string
	dev  device.CurrentReporter
}

func NewTransient(cfg config.Config) *Transient {
	tr := &Transient{
		BaseAnalysis: *NewBaseAnalysis(cfg),
		runID:        uuid.New(),
		recorder:     waveform.NewRecorder(),
	}
	tr.sink = tr.recorder
	return tr
}

func (tr *Transient) Setup(ckt *circuit.Circuit) error {
	if tr.State() != Idle {
		return fmt.Errorf("transient already started")
	}
	tr.Circuit = ckt
	return nil
}

// SetSink adds a sink that receives every sample next to the in-memory
// recorder.
func (tr *Transient) SetSink(s waveform.Sink) {
	tr.extra = s
	tr.sink = waveform.Multi(tr.recorder, s)
}

func (tr *Transient) RunID() uuid.UUID { return tr.runID }

func (tr *Transient) Recorder() *waveform.Recorder { return tr.recorder }

func (tr *Transient) State() State { return State(tr.state.Load()) }

func (tr *Transient) setState(s State) { tr.state.Store(int32(s)) }

// Pause asks the running loop to stop after the current step. It is safe to
// call from another goroutine.
func (tr *Transient) Pause() { tr.pause.Store(true) }

// Execute runs the transient to completion and reports failure as an error.
func (tr *Transient) Execute() error {
	res := tr.Run(context.Background())
	if !res.Success {
		if res.Err != nil {
			return res.Err
		}
		return errors.New(res.Message)
	}
	return nil
}

// Run initializes and integrates. A paused run is resumed instead.
func (tr *Transient) Run(ctx context.Context) Result {
	switch tr.State() {
	case Paused:
		return tr.Resume(ctx)
	case Idle:
	default:
		return tr.result()
	}

	started := time.Now()
	defer func() { tr.elapsed += time.Since(started) }()

	tr.setState(Initializing)
	if err := tr.guard(tr.initialize); err != nil {
		return tr.fail(err)
	}
	return tr.loop(ctx)
}

// Resume continues a paused run.
func (tr *Transient) Resume(ctx context.Context) Result {
	if tr.State() != Paused {
		res := tr.result()
		res.Err = ErrNotPaused
		return res
	}
	started := time.Now()
	defer func() { tr.elapsed += time.Since(started) }()
	return tr.loop(ctx)
}

// guard turns a panic inside fn into an error.
func (tr *Transient) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return fn()
}

func (tr *Transient) initialize() error {
	asm, solver, err := tr.prepare()
	if err != nil {
		return err
	}
	tr.asm, tr.solver = asm, solver

	devs := tr.Circuit.GetDevices()
	for _, dev := range devs {
		if r, ok := dev.(device.Resetter); ok {
			r.Reset()
		}
	}

	tr.op = NewOP(tr.cfg)
	tr.op.SetLogger(tr.logger)
	tr.op.use(asm, solver)
	x, tier, err := tr.op.Solve()
	if err != nil {
		return err
	}
	tr.dcTier = tier
	tr.logger.Info("dc operating point", "tier", tier, "unknowns", asm.Size())

	if x, err = tr.settle(devs, x); err != nil {
		return err
	}

	tr.integ = NewGeneralizedAlpha(asm, solver, tr.cfg)
	tr.integ.SetLogger(tr.logger)
	tr.integ.Seed(0, x)
	tr.detector = NewEventDetector(devs, tr.cfg.EventTolerance())

	tr.meters = tr.meters[:0]
	tr.bps = tr.bps[:0]
	for _, dev := range devs {
		if p, ok := dev.(device.CurrentReporter); ok {
			tr.meters = append(tr.meters, meter{name: dev.GetName(), dev: p})
		}
		if b, ok := dev.(device.Breakpointer); ok {
			tr.bps = append(tr.bps, b)
		}
	}

	tr.time = 0
	tr.timeStep = tr.safeStep()
	tr.lastEvent = math.Inf(-1)

	if s, ok := tr.extra.(*waveform.Store); ok {
		attrs := map[string]string{"circuit": tr.Circuit.Name(), "dc_tier": tier.String()}
		if err := s.SetMeta(tr.Circuit.GetNodeMap(), attrs); err != nil {
			return fmt.Errorf("recording run metadata: %w", err)
		}
	}
	return tr.record(0, x, nil, 0)
}

// settle prepares the starting vector: stored energy is cleared when zero
// initial conditions are requested, then event-capable devices pick their state
// from it. A state change re-solves the operating point. A device that keeps
// flipping is left to the event detector.
func (tr *Transient) settle(devs []device.Device, x []float64) ([]float64, error) {
	for pass := 0; ; pass++ {
		if tr.cfg.ZeroInitialConditions {
			for _, dev := range devs {
				if s, ok := dev.(device.StorageElement); ok {
					s.ZeroState(x)
				}
			}
		}
		if pass == maxSettlePasses {
			return x, nil
		}

		changed := false
		for _, dev := range devs {
			if s, ok := dev.(device.InitialStater); ok && s.InitState(x) {
				tr.logger.Debug("initial state changed", "device", dev.GetName())
				changed = true
			}
		}
		if !changed {
			return x, nil
		}

		next, _, err := tr.op.SolveFrom(x)
		if err != nil {
			return nil, err
		}
		x = next
	}
}

// safeStep is the step used at the start and after every event.
func (tr *Transient) safeStep() float64 {
	return math.Min(tr.cfg.InitialStep, tr.cfg.StepCeiling())
}

func (tr *Transient) done() bool {
	return tr.cfg.EndTime-tr.time <= tr.cfg.MinStep*1e-3
}

func (tr *Transient) loop(ctx context.Context) Result {
	tr.setState(Running)
	tr.pause.Store(false)

	for !tr.done() {
		if err := ctx.Err(); err != nil {
			tr.setState(Paused)
			tr.logger.Info("transient interrupted", "t", tr.time, "err", err)
			res := tr.result()
			res.Err = err
			return res
		}
		if tr.pause.Swap(false) {
			tr.setState(Paused)
			tr.logger.Info("transient paused", "t", tr.time)
			return tr.result()
		}

		if err := tr.guard(tr.advance); err != nil {
			return tr.fail(err)
		}
	}

	if s, ok := tr.extra.(*waveform.Store); ok {
		if err := s.Flush(); err != nil {
			return tr.fail(err)
		}
	}
	tr.setState(Completed)
	tr.logger.Info("transient completed", "t", tr.time, "steps", tr.steps, "rejected", tr.rejected, "events", tr.events)
	return tr.result()
}

// clip shortens h so the step lands on the end time or the next breakpoint.
func (tr *Transient) clip(h float64) (float64, bool) {
	h = math.Min(h, tr.cfg.StepCeiling())
	h = math.Min(h, tr.cfg.EndTime-tr.time)

	landing := false
	for _, b := range tr.bps {
		bp, ok := b.NextBreakpoint(tr.time)
		if !ok || bp <= tr.time+tr.cfg.MinStep {
			continue
		}
		if bp-tr.time <= h {
			h = bp - tr.time
			landing = true
		}
	}
	return h, landing
}

// advance takes one step, retrying with smaller steps until one is accepted.
func (tr *Transient) advance() error {
	h, landing := tr.clip(tr.timeStep)
	res, err := tr.integ.Step(h)
	if err != nil {
		if !simerr.IsRecoverable(err) {
			return err
		}
		tr.rejected++
		tr.timeStep = h / 2
		if tr.timeStep < tr.cfg.MinStep {
			return simerr.Wrap(simerr.ConvergenceFailure, "tran", fmt.Errorf("step size %g below minimum %g: %w", tr.timeStep, tr.cfg.MinStep, err)).At(tr.time)
		}
		tr.logger.Debug("halving step", "t", tr.time, "h", tr.timeStep, "err", err)
		return nil
	}
	if !res.Accepted {
		tr.rejected++
		tr.timeStep = res.Next
		return nil
	}

	x0 := tr.integ.Previous()
	x1 := tr.integ.Solution()
	if ev, ok := tr.detector.Detect(res.T0, res.T1, x0, x1, tr.integ); ok {
		return tr.handleEvent(ev, res)
	}

	tr.steps++
	tr.time = res.T1
	if err := tr.record(tr.time, x1, x0, h); err != nil {
		return err
	}

	if tr.cfg.Adaptive {
		tr.timeStep = res.Next
	} else {
		tr.timeStep = tr.safeStep()
	}

	// Source corners break the derivative history.
	if landing {
		tr.integ.Restart(tr.time, x1, tr.integ.Velocity())
	}
	return nil
}

// handleEvent applies ev found inside the accepted step res. Events at the
// start of the step are applied without advancing, events at its end in place,
// anything else after re-integrating exactly to the event time.
func (tr *Transient) handleEvent(ev device.Event, res StepResult) error {
	tol := tr.detector.Tol
	tE := ev.THigh

	if math.Abs(tE-tr.lastEvent) <= tol {
		tr.eventRepeats++
		if tr.eventRepeats > maxEventRepeats {
			return simerr.Wrap(simerr.NumericalInstability, "tran/event", fmt.Errorf("%w: %s", ErrChattering, ev.Device.GetName())).At(tE)
		}
	} else {
		tr.eventRepeats = 1
	}
	tr.lastEvent = tE

	switch {
	case tE-res.T0 <= tol:
		if err := tr.integ.Rollback(); err != nil {
			return err
		}
		x0 := tr.integ.Solution()
		if err := tr.apply(ev, res.T0, x0); err != nil {
			return err
		}
		tr.integ.Restart(res.T0, x0, tr.integ.Velocity())

	case res.T1-tE <= tol:
		x1 := tr.integ.Solution()
		if err := tr.apply(ev, res.T1, x1); err != nil {
			return err
		}
		tr.steps++
		tr.time = res.T1
		if err := tr.record(tr.time, x1, tr.integ.Previous(), res.Step); err != nil {
			return err
		}
		tr.integ.Restart(res.T1, x1, tr.integ.Velocity())

	default:
		if err := tr.integ.Rollback(); err != nil {
			return err
		}
		exact, err := tr.integ.StepExact(tE - res.T0)
		if err != nil {
			if !simerr.IsRecoverable(err) {
				return err
			}
			// Approach the event with ordinary steps instead.
			tr.rejected++
			tr.lastEvent = math.Inf(-1)
			tr.timeStep = (tE - res.T0) / 2
			return nil
		}
		xE := tr.integ.Solution()
		if err := tr.apply(ev, exact.T1, xE); err != nil {
			return err
		}
		tr.steps++
		tr.time = exact.T1
		if err := tr.record(tr.time, xE, tr.integ.Previous(), exact.Step); err != nil {
			return err
		}
		tr.integ.Restart(exact.T1, xE, tr.integ.Velocity())
	}

	tr.events++
	tr.timeStep = tr.safeStep()
	tr.logger.Debug("event", "device", ev.Device.GetName(), "kind", ev.Kind, "t", tE)
	return nil
}

func (tr *Transient) apply(ev device.Event, t float64, x []float64) error {
	ctx := tr.asm.Context(circuit.Request{Guess: x, Time: t, Mode: device.TransientAnalysis})
	ec, ok := ev.Device.(device.EventCapable)
	if !ok {
		return simerr.New(simerr.ConfigurationError, "tran/event", "device %s cannot handle events", ev.Device.GetName())
	}
	if err := ec.HandleEvent(ev, ctx); err != nil {
		return fmt.Errorf("handling %s event of %s: %w", ev.Kind, ev.Device.GetName(), err)
	}
	return nil
}

// record appends the point at t to the sinks and enforces the memory ceiling.
func (tr *Transient) record(t float64, x, prev []float64, h float64) error {
	mode := device.TransientAnalysis
	if prev == nil {
		mode = device.OperatingPointAnalysis
	}
	ctx := tr.asm.Context(circuit.Request{Guess: x, Previous: prev, Time: t, StepSize: h, Mode: mode})

	currents := make(map[string]float64, len(tr.meters))
	for _, p := range tr.meters {
		currents[p.name] = p.dev.Current(ctx)
	}
	sample := waveform.Sample{
		Time:     t,
		Voltages: matrix.Copy(x[:tr.Circuit.GetNumNodes()+1]),
		Currents: currents,
	}
	if err := tr.sink.Append(sample); err != nil {
		return fmt.Errorf("recording t=%g: %w", t, err)
	}

	if limit := tr.cfg.MaxMemoryBytes; limit > 0 && tr.recorder.Bytes() > limit {
		return fmt.Errorf("%w: %d bytes over %d at t=%g", ErrMemoryCeiling, tr.recorder.Bytes(), limit, t)
	}
	return nil
}

func (tr *Transient) fail(err error) Result {
	tr.err = err
	tr.setState(Failed)
	tr.logger.Error("transient failed", "t", tr.time, "err", err)
	return tr.result()
}

func (tr *Transient) result() Result {
	res := Result{
		Success:  tr.State() == Completed,
		State:    tr.State(),
		LastTime: tr.time,
		Steps:    tr.steps,
		Rejected: tr.rejected,
		Events:   tr.events,
		DCTier:   tr.dcTier,
		RunID:    tr.runID,
		Elapsed:  tr.elapsed,
		Err:      tr.err,
	}
	switch {
	case tr.err != nil:
		res.Message = tr.err.Error()
	case res.Success:
		res.Message = "completed"
	default:
		res.Message = res.State.String()
	}
	return res
}

// GetResults returns the recorded waveforms keyed "TIME", "V(node)" and
// "I(device)".
func (tr *Transient) GetResults() map[string][]float64 {
	results := make(map[string][]float64)
	if tr.recorder.Len() == 0 || tr.Circuit == nil {
		return results
	}
	results["TIME"] = tr.recorder.Times()
	for name, idx := range tr.Circuit.GetNodeMap() {
		if v, err := tr.recorder.Voltage(idx); err == nil {
			results[fmt.Sprintf("V(%s)", name)] = v
		}
	}
	for _, name := range tr.recorder.CurrentNames() {
		if i, err := tr.recorder.Current(name); err == nil {
			results[fmt.Sprintf("I(%s)", name)] = i
		}
	}
	return results
}

// SetLogger also reaches the solvers of a running analysis.
func (tr *Transient) SetLogger(logger *slog.Logger) {
	tr.BaseAnalysis.SetLogger(logger)
	if tr.integ != nil {
		tr.integ.SetLogger(tr.logger)
	}
	if tr.op != nil {
		tr.op.SetLogger(tr.logger)
	}
}
