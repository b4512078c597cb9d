package analysis

import (
	"fmt"
	"math"

	"github.com/edp1096/transim/internal/consts"
	"github.com/edp1096/transim/pkg/circuit"
	"github.com/edp1096/transim/pkg/config"
	"github.com/edp1096/transim/pkg/device"
	"github.com/edp1096/transim/pkg/matrix"
	"github.com/edp1096/transim/pkg/simerr"
)

// Tier names the continuation strategy that produced a DC solution.
type Tier int

const (
	TierNone Tier = iota
	TierGmin
	TierSource
	TierNewton
)

func (t Tier) String() string {
	switch t {
	case TierGmin:
		return "gmin-stepping"
	case TierSource:
		return "source-stepping"
	case TierNewton:
		return "newton"
	}
	return "none"
}

const (
	gminStart  = 1e-2
	gminSteps  = 10 // decades down to 1e-12, 11 checkpoints
	gminFactor = 10.0
)

var sourceScales = []float64{0, 0.25, 0.5, 0.75, 1.0}

type OperatingPoint struct {
	BaseAnalysis
	asm      *circuit.Assembler
	solver   matrix.Solver
	limiters []device.ConvergenceLimiter
	scalers  []device.SourceScaler
	solution []float64
	tier     Tier
}

func NewOP(cfg config.Config) *OperatingPoint {
	return &OperatingPoint{BaseAnalysis: *NewBaseAnalysis(cfg)}
}

func (op *OperatingPoint) Setup(ckt *circuit.Circuit) error {
	op.Circuit = ckt
	asm, solver, err := op.prepare()
	if err != nil {
		return err
	}
	op.use(asm, solver)
	return nil
}

// use attaches an already prepared assembler, so the transient can share it.
func (op *OperatingPoint) use(asm *circuit.Assembler, solver matrix.Solver) {
	op.asm = asm
	op.solver = solver
	op.Circuit = asm.Circuit()
	op.limiters = op.limiters[:0]
	op.scalers = op.scalers[:0]
	for _, dev := range op.Circuit.GetDevices() {
		if l, ok := dev.(device.ConvergenceLimiter); ok {
			op.limiters = append(op.limiters, l)
		}
		if s, ok := dev.(device.SourceScaler); ok {
			op.scalers = append(op.scalers, s)
		}
	}
}

func (op *OperatingPoint) Execute() error {
	if op.asm == nil {
		return simerr.New(simerr.ConfigurationError, "dc", "operating point not set up")
	}
	x, _, err := op.Solve()
	if err != nil {
		return err
	}
	op.storeResults(x)
	return nil
}

// Solution returns the last solution found by Execute or Solve.
func (op *OperatingPoint) Solution() []float64 { return op.solution }

// Tier reports which strategy produced the last solution.
func (op *OperatingPoint) Tier() Tier { return op.tier }

// Solve runs gmin stepping, then source stepping, then plain Newton, each from
// the same small uniform guess. It fails only when all three do, or at once on
// a configuration error.
func (op *OperatingPoint) Solve() ([]float64, Tier, error) {
	tiers := []struct {
		tier Tier
		run  func() ([]float64, error)
	}{
		{TierGmin, op.gminStepping},
		{TierSource, op.sourceStepping},
		{TierNewton, func() ([]float64, error) { return op.newton(op.initialGuess(), 0) }},
	}

	var lastErr error
	for _, t := range tiers {
		x, err := t.run()
		if err == nil {
			op.solution, op.tier = x, t.tier
			op.logger.Debug("dc converged", "tier", t.tier)
			return x, t.tier, nil
		}
		if simerr.KindOf(err) == simerr.ConfigurationError {
			return nil, TierNone, err
		}
		op.logger.Info("dc tier failed", "tier", t.tier, "err", err)
		lastErr = err
	}

	return nil, TierNone, simerr.Wrap(simerr.ConvergenceFailure, "dc", fmt.Errorf("all continuation tiers failed, last: %w", lastErr))
}

// SolveFrom tries plain Newton from a warm start and falls back to Solve.
func (op *OperatingPoint) SolveFrom(x0 []float64) ([]float64, Tier, error) {
	if len(x0) == op.asm.Size() {
		x, err := op.newton(matrix.Copy(x0), 0)
		if err == nil {
			op.solution, op.tier = x, TierNewton
			return x, TierNewton, nil
		}
		if simerr.KindOf(err) == simerr.ConfigurationError {
			return nil, TierNone, err
		}
	}
	return op.Solve()
}

func (op *OperatingPoint) initialGuess() []float64 {
	x := make([]float64, op.asm.Size())
	matrix.Fill(x, consts.INITIALGUESS)
	x[consts.GROUND] = 0
	return x
}

func (op *OperatingPoint) gminStepping() ([]float64, error) {
	x := op.initialGuess()
	gmin := gminStart
	var err error

	for i := 0; i <= gminSteps; i++ {
		x, err = op.newton(x, gmin)
		if err != nil {
			return nil, fmt.Errorf("gmin stepping failed at %g: %w", gmin, err)
		}
		gmin /= gminFactor
	}

	x, err = op.newton(x, 0)
	if err != nil {
		return nil, fmt.Errorf("final solution failed with zero gmin: %w", err)
	}
	return x, nil
}

func (op *OperatingPoint) sourceStepping() (x []float64, err error) {
	defer func() {
		for _, s := range op.scalers {
			s.RestoreScale()
		}
	}()

	x = op.initialGuess()
	for _, scale := range sourceScales {
		for _, s := range op.scalers {
			s.SetScale(scale)
		}
		x, err = op.newton(x, 0)
		if err != nil {
			return nil, fmt.Errorf("source stepping failed at scale %g: %w", scale, err)
		}
	}
	return x, nil
}

// newton iterates J*dx = -(J*x - b) from x. It converges on an undamped update
// with |dx| < reltol*|x| + abstol.
func (op *OperatingPoint) newton(x []float64, gmin float64) ([]float64, error) {
	maxIter := op.cfg.MaxNewtonIterations
	for iter := 0; iter < maxIter; iter++ {
		sys, err := op.asm.Assemble(circuit.Request{
			Guess: x,
			Gmin:  gmin,
			Mode:  device.OperatingPointAnalysis,
		})
		if err != nil {
			return nil, err
		}

		r := sys.Residual(x)
		if matrix.HasNonFinite(r) {
			return nil, simerr.New(simerr.NumericalInstability, "dc/newton", "non-finite residual at iteration %d", iter)
		}
		copy(sys.RHS(), r)

		dx, err := op.solver.Solve(sys, consts.GROUND)
		if err != nil {
			return nil, err
		}
		if matrix.HasNonFinite(dx) {
			return nil, simerr.New(simerr.NumericalInstability, "dc/newton", "non-finite update at iteration %d", iter)
		}

		lambda := limitStep(op.limiters, x, dx)
		for i := range x {
			x[i] += lambda * dx[i]
		}

		if lambda == 1 && matrix.Norm2(dx) < op.cfg.RelTol*matrix.Norm2(x)+op.cfg.VoltageAbsTol {
			op.logger.Debug("dc newton converged", "gmin", gmin, "iter", iter+1)
			return x, nil
		}
	}

	return nil, simerr.New(simerr.ConvergenceFailure, "dc/newton", "failed to converge in %d iterations", maxIter)
}

// limitStep is the smallest damping fraction requested by any limiter.
func limitStep(limiters []device.ConvergenceLimiter, x, dx []float64) float64 {
	lambda := 1.0
	for _, l := range limiters {
		if f := l.StepLimit(x, dx); f > 0 && f < lambda {
			lambda = f
		}
	}
	return lambda
}

func (op *OperatingPoint) storeResults(solution []float64) {
	for name, value := range op.Circuit.GetSolution(solution) {
		op.results[name] = []float64{value}
	}

	ctx := op.asm.Context(circuit.Request{Guess: solution, Mode: device.OperatingPointAnalysis})
	for _, dev := range op.Circuit.GetDevices() {
		if p, ok := dev.(device.CurrentReporter); ok {
			if i := p.Current(ctx); !math.IsNaN(i) {
				op.results[fmt.Sprintf("I(%s)", dev.GetName())] = []float64{i}
			}
		}
	}
}
