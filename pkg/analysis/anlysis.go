package analysis

import (
	"log/slog"

	"github.com/edp1096/transim/pkg/circuit"
	"github.com/edp1096/transim/pkg/config"
	"github.com/edp1096/transim/pkg/matrix"
	"github.com/edp1096/transim/pkg/simerr"
)

type Analysis interface {
	Setup(ckt *circuit.Circuit) error
	Execute() error
	GetResults() map[string][]float64
}

type BaseAnalysis struct {
	Circuit *circuit.Circuit
	cfg     config.Config
	logger  *slog.Logger
	results map[string][]float64 // key: variable name, value: result by sweep point or time
}

func NewBaseAnalysis(cfg config.Config) *BaseAnalysis {
	return &BaseAnalysis{
		cfg:     cfg,
		logger:  slog.Default(),
		results: make(map[string][]float64),
	}
}

func (a *BaseAnalysis) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	a.logger = logger
}

func (a *BaseAnalysis) Config() config.Config { return a.cfg }

// prepare validates the settings, freezes the circuit if needed and builds the
// assembler and linear solver shared by every analysis.
func (a *BaseAnalysis) prepare() (*circuit.Assembler, matrix.Solver, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if a.Circuit == nil {
		return nil, nil, simerr.New(simerr.ConfigurationError, "setup", "circuit not set")
	}
	if !a.Circuit.Frozen() {
		if err := a.Circuit.Setup(a.cfg.MaxNodes); err != nil {
			return nil, nil, err
		}
	}

	asm, err := circuit.NewAssembler(a.Circuit)
	if err != nil {
		return nil, nil, err
	}
	asm.Temp = a.cfg.Temp
	return asm, newSolver(a.cfg), nil
}

func newSolver(cfg config.Config) matrix.Solver {
	if cfg.Solver == config.DenseSolver {
		return matrix.NewDenseSolver()
	}
	return matrix.NewSparseSolver()
}

// StoreResult appends one labelled solution under the abscissa key ("TIME",
// "SWEEP1").
func (a *BaseAnalysis) StoreResult(key string, at float64, solution map[string]float64) {
	a.results[key] = append(a.results[key], at)

	for name, value := range solution {
		a.results[name] = append(a.results[name], value)
	}
}

func (a *BaseAnalysis) GetResults() map[string][]float64 {
	return a.results
}
