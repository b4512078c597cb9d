package analysis

import (
	"log/slog"
	"math"

	"github.com/edp1096/transim/internal/consts"
	"github.com/edp1096/transim/pkg/circuit"
	"github.com/edp1096/transim/pkg/config"
	"github.com/edp1096/transim/pkg/device"
	"github.com/edp1096/transim/pkg/matrix"
	"github.com/edp1096/transim/pkg/simerr"
	"github.com/edp1096/transim/pkg/util"
)

const (
	stepSafety    = 0.9
	stepGrowMax   = 2.0
	stepShrinkMin = 0.2
	// C and L stamp backward Euler companions, so the local error the
	// estimate measures is O(h^2).
	companionOrder = 1
	// Accepted steps after a seed or restart that use the current solution as
	// prediction and are judged on the residual alone.
	coldSteps = 2
)

type IntegratorState int

const (
	Uninitialized IntegratorState = iota
	Stepping
)

type timePoint struct {
	t       float64
	x, v, a []float64
}

func (p *timePoint) clone() *timePoint {
	if p == nil {
		return nil
	}
	return &timePoint{t: p.t, x: matrix.Copy(p.x), v: matrix.Copy(p.v), a: matrix.Copy(p.a)}
}

// StepResult describes one attempted step.
type StepResult struct {
	Accepted   bool
	T0, T1     float64
	Step       float64
	Next       float64 // proposed size of the next step
	Error      float64 // normalized error estimate, accepted when <= 1
	Iterations int
}

type undoRecord struct {
	cur, prev    *timePoint
	lastStep     float64
	sinceRestart int
}

// GeneralizedAlpha advances the circuit in time. Devices stamp backward Euler
// companions; the Chung-Hulbert parameters drive the predictor that both seeds
// Newton and measures the local error.
type GeneralizedAlpha struct {
	coeffs   util.GeneralizedAlpha
	asm      *circuit.Assembler
	solver   matrix.Solver
	cfg      config.Config
	logger   *slog.Logger
	limiters []device.ConvergenceLimiter
	absTol   []float64

	state        IntegratorState
	cur, prev    *timePoint
	undo         *undoRecord
	lastStep     float64
	sinceRestart int

	Accepted         int
	Rejected         int
	NewtonIterations int
}

func NewGeneralizedAlpha(asm *circuit.Assembler, solver matrix.Solver, cfg config.Config) *GeneralizedAlpha {
	g := &GeneralizedAlpha{
		coeffs: util.GeneralizedAlphaCoeffs(cfg.SpectralRadius),
		asm:    asm,
		solver: solver,
		cfg:    cfg,
		logger: slog.Default(),
		absTol: make([]float64, asm.Size()),
	}

	ckt := asm.Circuit()
	for i := range g.absTol {
		if i <= ckt.GetNumNodes() {
			g.absTol[i] = cfg.VoltageAbsTol
		} else {
			g.absTol[i] = cfg.CurrentAbsTol
		}
	}
	for _, dev := range ckt.GetDevices() {
		if l, ok := dev.(device.ConvergenceLimiter); ok {
			g.limiters = append(g.limiters, l)
		}
	}
	return g
}

func (g *GeneralizedAlpha) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

func (g *GeneralizedAlpha) Coefficients() util.GeneralizedAlpha { return g.coeffs }

func (g *GeneralizedAlpha) State() IntegratorState { return g.state }

// Seed installs the initial solution with zero velocity and acceleration.
func (g *GeneralizedAlpha) Seed(t float64, x []float64) {
	g.Restart(t, x, nil)
}

// Restart replaces the current state after a discontinuity. Acceleration is
// zeroed, the previous point and all counters are dropped.
func (g *GeneralizedAlpha) Restart(t float64, x, dx []float64) {
	n := len(x)
	v := make([]float64, n)
	if dx != nil {
		copy(v, dx)
	}
	g.cur = &timePoint{t: t, x: matrix.Copy(x), v: v, a: make([]float64, n)}
	g.prev = nil
	g.undo = nil
	g.lastStep = 0
	g.sinceRestart = 0
	g.Accepted, g.Rejected, g.NewtonIterations = 0, 0, 0
	g.state = Stepping
}

func (g *GeneralizedAlpha) Time() float64 { return g.cur.t }

func (g *GeneralizedAlpha) Solution() []float64 { return g.cur.x }

func (g *GeneralizedAlpha) Velocity() []float64 { return g.cur.v }

// Previous returns the solution before the last accepted step, nil right after
// a seed or restart.
func (g *GeneralizedAlpha) Previous() []float64 {
	if g.prev == nil {
		return nil
	}
	return g.prev.x
}

func (g *GeneralizedAlpha) LastStep() float64 { return g.lastStep }

// Step attempts one step of size h. A Newton failure is returned as an error;
// a converged step whose error estimate is too large comes back not accepted
// with a smaller proposal.
func (g *GeneralizedAlpha) Step(h float64) (StepResult, error) {
	return g.step(h, false)
}

// StepExact takes a step of exactly h and accepts it whenever Newton converges.
func (g *GeneralizedAlpha) StepExact(h float64) (StepResult, error) {
	return g.step(h, true)
}

func (g *GeneralizedAlpha) step(h float64, exact bool) (StepResult, error) {
	if g.state != Stepping {
		return StepResult{}, simerr.New(simerr.ConfigurationError, "tran/step", "integrator not seeded")
	}
	if !(h > 0) {
		return StepResult{}, simerr.New(simerr.ConfigurationError, "tran/step", "step size %g", h).At(g.cur.t)
	}

	t0, t1 := g.cur.t, g.cur.t+h
	res := StepResult{T0: t0, T1: t1, Step: h}

	xp := g.predict(h)
	x, resid, iters, err := g.correct(t1, h, matrix.Copy(xp))
	res.Iterations = iters
	g.NewtonIterations += iters
	if err != nil {
		g.Rejected++
		if e, ok := err.(*simerr.Error); ok {
			err = e.At(t1)
		}
		g.logger.Debug("newton failed", "t", t1, "h", h, "err", err)
		return res, err
	}

	res.Error = resid
	if g.sinceRestart >= coldSteps {
		res.Error = math.Max(resid, g.truncationError(x, xp))
	}

	canShrink := h > g.cfg.MinStep*(1+1e-9)
	if !exact && g.cfg.Adaptive && res.Error > 1 && canShrink {
		g.Rejected++
		res.Next = math.Max(h*math.Min(stepFactor(res.Error), 1), g.cfg.MinStep)
		g.logger.Debug("step rejected", "t", t1, "h", h, "err", res.Error)
		return res, nil
	}

	g.accept(t1, h, x)
	res.Accepted = true
	res.Next = h
	if g.cfg.Adaptive {
		res.Next = h * stepFactor(res.Error)
	}
	return res, nil
}

// predict extrapolates the current state over h. Right after a seed or restart
// the derivatives are not trustworthy and the current solution is used.
func (g *GeneralizedAlpha) predict(h float64) []float64 {
	if g.lastStep == 0 || g.sinceRestart < coldSteps {
		return matrix.Copy(g.cur.x)
	}
	xp := make([]float64, len(g.cur.x))
	for i := range xp {
		xp[i] = g.coeffs.Predict(g.cur.x[i], g.cur.v[i], g.cur.a[i], h)
	}
	xp[consts.GROUND] = 0
	return xp
}

// correct runs Newton at t1 from x. It returns the final residual norm as a
// fraction of the convergence threshold.
func (g *GeneralizedAlpha) correct(t1, h float64, x []float64) ([]float64, float64, int, error) {
	maxIter := g.cfg.MaxNewtonIterations
	for iter := 1; iter <= maxIter; iter++ {
		sys, err := g.asm.Assemble(circuit.Request{
			Guess:    x,
			Previous: g.cur.x,
			Time:     t1,
			StepSize: h,
			Mode:     device.TransientAnalysis,
		})
		if err != nil {
			return nil, 0, iter, err
		}

		r := sys.Residual(x)
		if matrix.HasNonFinite(r) {
			return nil, 0, iter, simerr.New(simerr.NumericalInstability, "tran/newton", "non-finite residual")
		}
		threshold := g.cfg.NewtonTol * (1 + matrix.NormInf(sys.RHS()))
		rn := matrix.NormInf(r)
		if rn <= threshold {
			return x, rn / threshold, iter, nil
		}

		copy(sys.RHS(), r)
		dx, err := g.solver.Solve(sys, consts.GROUND)
		if err != nil {
			return nil, 0, iter, err
		}

		lambda := limitStep(g.limiters, x, dx)
		for i := range x {
			x[i] += lambda * dx[i]
		}
		if matrix.HasNonFinite(x) {
			return nil, 0, iter, simerr.New(simerr.NumericalInstability, "tran/newton", "non-finite update")
		}

		// Round-off floor: the update no longer moves the solution.
		if lambda == 1 && matrix.NormInf(dx) <= g.cfg.NewtonTol*(1+matrix.NormInf(x)) {
			return x, 1, iter, nil
		}
	}
	return nil, 0, maxIter, simerr.New(simerr.ConvergenceFailure, "tran/newton", "failed to converge in %d iterations", maxIter)
}

// truncationError compares the corrected solution with the prediction, scaled
// per unknown by its absolute and relative tolerance.
func (g *GeneralizedAlpha) truncationError(x, xp []float64) float64 {
	worst := 0.0
	for i := 1; i < len(x); i++ {
		tol := g.cfg.TruncationTol * (g.absTol[i] + g.cfg.RelTol*math.Max(math.Abs(x[i]), math.Abs(g.cur.x[i])))
		if e := math.Abs(x[i]-xp[i]) / tol; e > worst {
			worst = e
		}
	}
	return worst
}

// stepFactor is the controller gain for a normalized error.
func stepFactor(err float64) float64 {
	if err <= 0 {
		return stepGrowMax
	}
	f := stepSafety * math.Pow(err, -1.0/(companionOrder+1))
	return util.Clamp(f, stepShrinkMin, stepGrowMax)
}

func (g *GeneralizedAlpha) accept(t1, h float64, x []float64) {
	g.undo = &undoRecord{
		cur:          g.cur.clone(),
		prev:         g.prev.clone(),
		lastStep:     g.lastStep,
		sinceRestart: g.sinceRestart,
	}

	n := len(x)
	v := make([]float64, n)
	a := make([]float64, n)
	for i := range x {
		v[i] = (x[i] - g.cur.x[i]) / h
	}
	// Acceleration needs two velocities that both come from real steps.
	if g.sinceRestart >= coldSteps {
		for i := range x {
			a[i] = (v[i] - g.cur.v[i]) / h
		}
	}

	g.prev = g.cur
	g.cur = &timePoint{t: t1, x: x, v: v, a: a}
	g.lastStep = h
	g.sinceRestart++
	g.Accepted++
}

// Rollback discards the last accepted step. Only one level is kept.
func (g *GeneralizedAlpha) Rollback() error {
	if g.undo == nil {
		return simerr.New(simerr.ConfigurationError, "tran/rollback", "no accepted step to roll back")
	}
	g.cur = g.undo.cur
	g.prev = g.undo.prev
	g.lastStep = g.undo.lastStep
	g.sinceRestart = g.undo.sinceRestart
	g.undo = nil
	g.Accepted--
	return nil
}

// Interpolate evaluates the cubic Hermite polynomial through the previous and
// current points. Times outside the interval are clamped.
func (g *GeneralizedAlpha) Interpolate(t float64) []float64 {
	if g.prev == nil || g.cur.t <= g.prev.t {
		return matrix.Copy(g.cur.x)
	}
	p0, p1 := g.prev, g.cur
	H := p1.t - p0.t
	s := util.Clamp((t-p0.t)/H, 0.0, 1.0)

	s2, s3 := s*s, s*s*s
	h00 := 2*s3 - 3*s2 + 1
	h10 := s3 - 2*s2 + s
	h01 := -2*s3 + 3*s2
	h11 := s3 - s2

	x := make([]float64, len(p1.x))
	for i := range x {
		x[i] = h00*p0.x[i] + h10*H*p0.v[i] + h01*p1.x[i] + h11*H*p1.v[i]
	}
	return x
}
