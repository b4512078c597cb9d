package analysis

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/edp1096/transim/pkg/circuit"
	"github.com/edp1096/transim/pkg/config"
	"github.com/edp1096/transim/pkg/device"
	"github.com/edp1096/transim/pkg/simerr"
	"github.com/edp1096/transim/pkg/waveform"
)

func runTransient(t *testing.T, ckt *circuit.Circuit, cfg config.Config) (*Transient, Result) {
	t.Helper()
	tr := NewTransient(cfg)
	tr.SetLogger(quiet())
	if err := tr.Setup(ckt); err != nil {
		t.Fatal(err)
	}
	return tr, tr.Run(context.Background())
}

func mustSucceed(t *testing.T, res Result) {
	t.Helper()
	if !res.Success || res.State != Completed {
		t.Fatalf("run failed: %s", res)
	}
}

func TestTransientRCStepResponse(t *testing.T) {
	ckt := rcCircuit(t)
	tr, res := runTransient(t, ckt, testConfig())
	mustSucceed(t, res)

	if math.Abs(res.LastTime-1e-3) > 1e-15 {
		t.Errorf("LastTime = %g, want 1e-3", res.LastTime)
	}
	if res.DCTier != TierGmin {
		t.Errorf("DC tier = %v", res.DCTier)
	}

	rec := tr.Recorder()
	v, err := rec.Voltage(node(t, ckt, "out"))
	if err != nil {
		t.Fatal(err)
	}
	if v[0] != 0 {
		t.Errorf("zero initial condition not applied: v(0) = %g", v[0])
	}
	want := 10 * (1 - math.Exp(-1))
	if got := rec.ValueAt(v, 1e-3); !within(got, want, 0.03) {
		t.Errorf("v(out) at tau = %g, want %g +-3%%", got, want)
	}
}

func TestTransientRLStepResponse(t *testing.T) {
	cfg := testConfig()
	cfg.EndTime = 100e-6
	cfg.MaxStep = 2e-6
	cfg.InitialStep = 1e-8

	tr, res := runTransient(t, rlCircuit(t), cfg)
	mustSucceed(t, res)

	rec := tr.Recorder()
	i, err := rec.Current("L1")
	if err != nil {
		t.Fatal(err)
	}
	if i[0] != 0 {
		t.Errorf("inductor current at t=0 is %g", i[0])
	}
	want := 0.1 * (1 - math.Exp(-1))
	if got := rec.ValueAt(i, 100e-6); !within(got, want, 0.03) {
		t.Errorf("i(L1) at tau = %g, want %g +-3%%", got, want)
	}
}

func trapz(ts, ys []float64) float64 {
	sum := 0.0
	for k := 1; k < len(ts); k++ {
		sum += 0.5 * (ys[k] + ys[k-1]) * (ts[k] - ts[k-1])
	}
	return sum
}

func TestTransientRCEnergyBalance(t *testing.T) {
	cfg := testConfig()
	cfg.EndTime = 5e-3

	ckt := rcCircuit(t)
	tr, res := runTransient(t, ckt, cfg)
	mustSucceed(t, res)

	rec := tr.Recorder()
	ts := rec.Times()
	vin, _ := rec.Voltage(node(t, ckt, "in"))
	vout, _ := rec.Voltage(node(t, ckt, "out"))
	iSrc, err := rec.Current("V1")
	if err != nil {
		t.Fatal(err)
	}
	iR, err := rec.Current("R1")
	if err != nil {
		t.Fatal(err)
	}

	pSrc := make([]float64, len(ts))
	pR := make([]float64, len(ts))
	for k := range ts {
		pSrc[k] = vin[k] * iSrc[k]
		pR[k] = (vin[k] - vout[k]) * iR[k]
	}
	source := trapz(ts, pSrc)
	resistor := trapz(ts, pR)
	stored := 0.5 * 1e-6 * vout[len(vout)-1] * vout[len(vout)-1]

	if !within(resistor+stored, source, 0.05) {
		t.Errorf("energy: source %g J, resistor %g J + capacitor %g J", source, resistor, stored)
	}
	if !within(stored, 0.5*1e-6*100, 0.05) {
		t.Errorf("capacitor energy %g J after 5 tau", stored)
	}
}

func TestTransientTimedSwitch(t *testing.T) {
	sw := device.NewTimedSwitch("S1", []string{"in", "out"}, 1, 1e9, false, []float64{6e-4, 2e-4})
	ckt := build(t, "switch",
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		sw,
		device.NewResistor("R1", []string{"out", "0"}, 1e3),
	)
	cfg := testConfig()
	cfg.ZeroInitialConditions = false

	tr, res := runTransient(t, ckt, cfg)
	mustSucceed(t, res)
	if res.Events != 2 {
		t.Fatalf("events = %d, want 2", res.Events)
	}
	if sw.Closed() {
		t.Error("switch should be open again")
	}

	rec := tr.Recorder()
	v, _ := rec.Voltage(node(t, ckt, "out"))
	closed := 10 * 1e3 / (1e3 + 1)
	checks := []struct {
		t, want, tol float64
	}{
		{1e-4, 0, 1e-3},
		{4e-4, closed, 1e-6},
		{9e-4, 0, 1e-3},
	}
	for _, c := range checks {
		if got := rec.ValueAt(v, c.t); math.Abs(got-c.want) > c.tol {
			t.Errorf("v(out) at %g = %g, want %g", c.t, got, c.want)
		}
	}

	// The toggles are breakpoints, so samples land on them.
	found := 0
	for _, ts := range rec.Times() {
		if math.Abs(ts-2e-4) < 1e-12 || math.Abs(ts-6e-4) < 1e-12 {
			found++
		}
	}
	if found < 2 {
		t.Errorf("only %d samples on the toggle instants", found)
	}
}

func TestTransientVoltageSwitchEvent(t *testing.T) {
	sw := device.NewVoltageSwitch("S1", []string{"ld", "0", "out", "0"}, 1, 1e9, 5, 2)
	ckt := build(t, "threshold",
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		device.NewResistor("R1", []string{"in", "out"}, 1e3),
		device.NewCapacitor("C1", []string{"out", "0"}, 1e-6),
		device.NewResistor("R2", []string{"in", "ld"}, 1e3),
		sw,
	)
	tr, res := runTransient(t, ckt, testConfig())
	mustSucceed(t, res)
	if res.Events != 1 {
		t.Fatalf("events = %d, want 1", res.Events)
	}
	if !sw.Closed() {
		t.Fatal("switch did not close")
	}

	rec := tr.Recorder()
	ts := rec.Times()
	ld, _ := rec.Voltage(node(t, ckt, "ld"))
	k := 0
	for k < len(ld) && ld[k] > 1 {
		k++
	}
	if k == 0 || k == len(ld) {
		t.Fatalf("no switching edge in v(ld)")
	}

	// v(out) = 5 V at tau*ln2.
	tStar := 1e-3 * math.Ln2
	if tE := ts[k-1]; !within(tE, tStar, 0.02) {
		t.Errorf("switch closed at %g, want %g", tE, tStar)
	}
}

func TestTransientVoltageSwitchStartsClosed(t *testing.T) {
	sw := device.NewVoltageSwitch("S1", []string{"ld", "0", "c", "0"}, 1, 1e9, 5, 2)
	ckt := build(t, "preclosed",
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		device.NewDCVoltageSource("VC", []string{"c", "0"}, 10),
		device.NewResistor("R2", []string{"in", "ld"}, 1e3),
		sw,
	)
	tr, res := runTransient(t, ckt, testConfig())
	mustSucceed(t, res)
	if !sw.Closed() {
		t.Fatal("switch driven above Von from t=0 is open")
	}
	if res.Events != 0 {
		t.Errorf("events = %d, want 0", res.Events)
	}

	want := 10 * 1 / (1e3 + 1)
	ld, _ := tr.Recorder().Voltage(node(t, ckt, "ld"))
	for _, k := range []int{0, len(ld) - 1} {
		if !within(ld[k], want, 1e-6) {
			t.Errorf("v(ld)[%d] = %g, want %g", k, ld[k], want)
		}
	}
}

// lateEdge crosses a hair after its own breakpoint, so the crossing is found
// at the very start of the step that follows the breakpoint.
type lateEdge struct {
	device.BaseDevice
	bp, at    float64
	handledAt []float64
}

func (e *lateEdge) GetType() string { return "E" }

func (e *lateEdge) Stamp(*device.Context) error { return nil }

func (e *lateEdge) HasEvents() bool { return len(e.handledAt) == 0 }

func (e *lateEdge) EventIndicator(t float64, _ []float64) float64 { return t - e.at }

func (e *lateEdge) HandleEvent(_ device.Event, ctx *device.Context) error {
	e.handledAt = append(e.handledAt, ctx.Time)
	return nil
}

func (e *lateEdge) NextBreakpoint(t float64) (float64, bool) {
	return e.bp, e.bp > t
}

func TestTransientEventAtStepStart(t *testing.T) {
	const tol = 1e-9
	edge := &lateEdge{BaseDevice: device.NewBaseDevice("E1", 0, nil), bp: 3e-4, at: 3e-4 + 1e-12}
	ckt := build(t, "edge",
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		device.NewResistor("R1", []string{"in", "out"}, 1e3),
		device.NewCapacitor("C1", []string{"out", "0"}, 1e-6),
		edge,
	)
	cfg := testConfig()
	cfg.EventTol = tol

	tr, res := runTransient(t, ckt, cfg)
	mustSucceed(t, res)
	if res.Events != 1 || len(edge.handledAt) != 1 {
		t.Fatalf("events = %d, handled %d times", res.Events, len(edge.handledAt))
	}

	// Applied at the breakpoint sample without taking the step past it.
	at := edge.handledAt[0]
	if math.Abs(at-edge.bp) > 1e-15 {
		t.Errorf("event applied at %g, want %g", at, edge.bp)
	}
	onSample := false
	for _, ts := range tr.Recorder().Times() {
		if ts == at {
			onSample = true
		}
		if ts > at && ts-at <= tol {
			t.Errorf("sample at %g recorded inside the event tolerance", ts)
		}
	}
	if !onSample {
		t.Errorf("no recorded sample at the event time %g", at)
	}
	if n := tr.Recorder().Len(); n != res.Steps+1 {
		t.Errorf("%d samples for %d steps", n, res.Steps)
	}
}

// chatter re-arms itself a hair after every event it handles.
type chatter struct {
	device.BaseDevice
	at float64
}

func (c *chatter) GetType() string { return "E" }

func (c *chatter) Stamp(*device.Context) error { return nil }

func (c *chatter) HasEvents() bool { return true }

func (c *chatter) EventIndicator(t float64, _ []float64) float64 { return t - c.at }

func (c *chatter) HandleEvent(_ device.Event, ctx *device.Context) error {
	c.at = ctx.Time + 1e-12
	return nil
}

func TestTransientChattering(t *testing.T) {
	ckt := build(t, "chatter",
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		device.NewResistor("R1", []string{"in", "out"}, 1e3),
		device.NewCapacitor("C1", []string{"out", "0"}, 1e-6),
		&chatter{BaseDevice: device.NewBaseDevice("E1", 0, nil), at: 2.5e-4},
	)
	cfg := testConfig()
	cfg.EventTol = 1e-9

	_, res := runTransient(t, ckt, cfg)
	if res.Success || res.State != Failed {
		t.Fatalf("result = %s", res)
	}
	if !errors.Is(res.Err, ErrChattering) {
		t.Errorf("err = %v, want chattering", res.Err)
	}
	if res.Events < maxEventRepeats {
		t.Errorf("failed after %d events, want at least %d", res.Events, maxEventRepeats)
	}
	if math.Abs(res.LastTime-2.5e-4) > 1e-8 {
		t.Errorf("LastTime = %g, want about 2.5e-4", res.LastTime)
	}
}

func TestTransientNonAdaptive(t *testing.T) {
	cfg := testConfig()
	cfg.Adaptive = false
	cfg.EndTime = 1e-4
	cfg.InitialStep = 1e-5

	_, res := runTransient(t, rcCircuit(t), cfg)
	mustSucceed(t, res)
	if res.Steps != 10 {
		t.Errorf("steps = %d, want 10", res.Steps)
	}
	if res.Rejected != 0 {
		t.Errorf("rejected = %d, want 0", res.Rejected)
	}
}

func TestTransientDiodeRectifier(t *testing.T) {
	ckt := build(t, "rectifier",
		device.NewSinVoltageSource("V1", []string{"in", "0"}, 0, 5, 1e3, 0),
		device.NewDiode("D1", []string{"in", "out"}),
		device.NewResistor("R1", []string{"out", "0"}, 1e3),
		device.NewCapacitor("C1", []string{"out", "0"}, 10e-6),
	)
	cfg := testConfig()
	cfg.EndTime = 2e-3
	cfg.ZeroInitialConditions = false

	tr, res := runTransient(t, ckt, cfg)
	mustSucceed(t, res)

	v, _ := tr.Recorder().Voltage(node(t, ckt, "out"))
	peak := 0.0
	for _, x := range v {
		peak = math.Max(peak, x)
	}
	if peak < 3.8 || peak > 4.9 {
		t.Errorf("rectified peak %g V, want about 4.3 V", peak)
	}
}

func TestTransientInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.EndTime = -1

	_, res := runTransient(t, rcCircuit(t), cfg)
	if res.Success || res.State != Failed {
		t.Fatalf("result = %s", res)
	}
	if !errors.Is(res.Err, simerr.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", res.Err)
	}
	if res.Message == "" {
		t.Error("empty failure message")
	}
}

func TestTransientEmptyCircuit(t *testing.T) {
	_, res := runTransient(t, circuit.New("empty"), testConfig())
	if res.Success || simerr.KindOf(res.Err) != simerr.ConfigurationError {
		t.Errorf("result = %s, err = %v", res, res.Err)
	}
}

func TestTransientStepFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MinStep = 1e-9

	ckt := build(t, "diverging",
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		device.NewResistor("R1", []string{"in", "out"}, 1e3),
		newStiff(func(ctx *device.Context) bool { return ctx.Transient() }),
	)
	_, res := runTransient(t, ckt, cfg)
	if res.Success || res.State != Failed {
		t.Fatalf("result = %s", res)
	}
	if simerr.KindOf(res.Err) != simerr.ConvergenceFailure {
		t.Errorf("err = %v, want convergence failure", res.Err)
	}
	if res.LastTime != 0 || res.Rejected == 0 {
		t.Errorf("LastTime = %g, rejected = %d", res.LastTime, res.Rejected)
	}
}

func TestTransientMemoryCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMemoryBytes = 1024

	_, res := runTransient(t, rcCircuit(t), cfg)
	if res.Success {
		t.Fatal("expected the memory ceiling to stop the run")
	}
	if !errors.Is(res.Err, ErrMemoryCeiling) {
		t.Errorf("err = %v", res.Err)
	}
	if res.LastTime <= 0 || res.LastTime >= cfg.EndTime {
		t.Errorf("LastTime = %g", res.LastTime)
	}
}

type pauseAfter struct {
	n  int
	tr *Transient
}

func (p *pauseAfter) Append(waveform.Sample) error {
	p.n--
	if p.n == 0 {
		p.tr.Pause()
	}
	return nil
}

func TestTransientPauseResume(t *testing.T) {
	tr := NewTransient(testConfig())
	tr.SetLogger(quiet())
	tr.SetSink(&pauseAfter{n: 10, tr: tr})
	if err := tr.Setup(rcCircuit(t)); err != nil {
		t.Fatal(err)
	}

	res := tr.Run(context.Background())
	if res.State != Paused || res.Success {
		t.Fatalf("after pause: %s", res)
	}
	if res.Steps != 9 {
		t.Errorf("paused after %d steps, want 9", res.Steps)
	}
	paused := res.LastTime

	res = tr.Resume(context.Background())
	mustSucceed(t, res)
	if res.LastTime <= paused {
		t.Errorf("resume did not advance: %g", res.LastTime)
	}

	if again := tr.Resume(context.Background()); !errors.Is(again.Err, ErrNotPaused) {
		t.Errorf("resume of a completed run: %v", again.Err)
	}
}

func TestTransientContextCancel(t *testing.T) {
	tr := NewTransient(testConfig())
	tr.SetLogger(quiet())
	if err := tr.Setup(rcCircuit(t)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := tr.Run(ctx)
	if res.State != Paused || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("cancelled run: %s, %v", res, res.Err)
	}
	if res.Steps != 0 || tr.Recorder().Len() != 1 {
		t.Errorf("cancelled run advanced: %d steps", res.Steps)
	}

	res = tr.Run(context.Background())
	mustSucceed(t, res)
}

func TestTransientStore(t *testing.T) {
	tr := NewTransient(testConfig())
	tr.SetLogger(quiet())

	st, err := waveform.Open(filepath.Join(t.TempDir(), "db"), tr.RunID())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	tr.SetSink(st)

	if err := tr.Setup(rcCircuit(t)); err != nil {
		t.Fatal(err)
	}
	if err := tr.Execute(); err != nil {
		t.Fatal(err)
	}

	loaded, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != tr.Recorder().Len() {
		t.Errorf("store has %d samples, recorder %d", loaded.Len(), tr.Recorder().Len())
	}
	nodes, attrs, err := st.Meta()
	if err != nil {
		t.Fatal(err)
	}
	if nodes["out"] == 0 || attrs["circuit"] != "rc" {
		t.Errorf("meta = %v, %v", nodes, attrs)
	}
}

func TestTransientGetResults(t *testing.T) {
	tr, res := runTransient(t, rcCircuit(t), testConfig())
	mustSucceed(t, res)

	results := tr.GetResults()
	n := len(results["TIME"])
	if n != res.Steps+1 {
		t.Errorf("%d time points for %d steps", n, res.Steps)
	}
	for _, key := range []string{"V(in)", "V(out)", "I(V1)", "I(R1)", "I(C1)"} {
		if len(results[key]) != n {
			t.Errorf("%s has %d points, want %d", key, len(results[key]), n)
		}
	}
}
