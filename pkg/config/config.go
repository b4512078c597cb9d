// Package config holds the simulation settings and loads them from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/edp1096/transim/internal/consts"
	"github.com/edp1096/transim/pkg/simerr"
	"github.com/edp1096/transim/pkg/units"
)

const (
	SparseSolver = "sparse"
	DenseSolver  = "dense"
)

type Config struct {
	EndTime     float64
	InitialStep float64
	MinStep     float64
	MaxStep     float64 // 0 means EndTime/50

	VoltageAbsTol float64
	CurrentAbsTol float64
	RelTol        float64
	NewtonTol     float64
	TruncationTol float64

	MaxNewtonIterations int
	SpectralRadius      float64
	Adaptive            bool
	Verbose             bool

	ZeroInitialConditions bool
	EventTol              float64 // 0 means MinStep
	MaxNodes              int
	MaxMemoryBytes        int64
	Temp                  float64
	Solver                string
}

func Default() Config {
	return Config{
		EndTime:             1e-3,
		InitialStep:         1e-6,
		MinStep:             1e-14,
		VoltageAbsTol:       1e-6,
		CurrentAbsTol:       1e-9,
		RelTol:              1e-3,
		NewtonTol:           1e-9,
		TruncationTol:       7,
		MaxNewtonIterations: 50,
		SpectralRadius:      0.8,
		Adaptive:            true,
		EventTol:            1e-12,
		MaxNodes:            100000,
		MaxMemoryBytes:      256 << 20,
		Temp:                consts.ROOMTEMP,
		Solver:              SparseSolver,
	}
}

// StepCeiling resolves MaxStep.
func (c Config) StepCeiling() float64 {
	if c.MaxStep > 0 {
		return c.MaxStep
	}
	return c.EndTime / 50
}

// EventTolerance resolves EventTol.
func (c Config) EventTolerance() float64 {
	if c.EventTol > 0 {
		return c.EventTol
	}
	return c.MinStep
}

func invalid(format string, args ...any) error {
	return simerr.New(simerr.ConfigurationError, "config", format, args...)
}

func (c Config) Validate() error {
	switch {
	case !(c.EndTime > 0):
		return invalid("end time must be positive, got %g", c.EndTime)
	case !(c.MinStep > 0):
		return invalid("minimum step must be positive, got %g", c.MinStep)
	case !(c.InitialStep >= c.MinStep):
		return invalid("initial step %g below minimum step %g", c.InitialStep, c.MinStep)
	case c.MaxStep < 0:
		return invalid("maximum step must not be negative, got %g", c.MaxStep)
	case c.StepCeiling() < c.MinStep:
		return invalid("maximum step %g below minimum step %g", c.StepCeiling(), c.MinStep)
	case !(c.VoltageAbsTol > 0) || !(c.CurrentAbsTol > 0) || !(c.RelTol > 0):
		return invalid("tolerances must be positive")
	case !(c.NewtonTol > 0):
		return invalid("newton tolerance must be positive, got %g", c.NewtonTol)
	case !(c.TruncationTol > 0):
		return invalid("truncation tolerance must be positive, got %g", c.TruncationTol)
	case c.MaxNewtonIterations < 1:
		return invalid("max newton iterations must be at least 1, got %d", c.MaxNewtonIterations)
	case !(c.SpectralRadius >= 0 && c.SpectralRadius <= 1):
		return invalid("spectral radius must be in [0, 1], got %g", c.SpectralRadius)
	case c.EventTol < 0:
		return invalid("event tolerance must not be negative, got %g", c.EventTol)
	case c.MaxNodes < 0 || c.MaxMemoryBytes < 0:
		return invalid("limits must not be negative")
	case c.Solver != SparseSolver && c.Solver != DenseSolver:
		return invalid("unknown solver %q", c.Solver)
	}
	return nil
}

// FromEnv starts from Default, loads .env files when present and overrides
// every field that has a PREFIX_NAME variable, e.g. TRANSIM_END_TIME=5m.
func FromEnv(prefix string, files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return Config{}, invalid("loading %s: %v", f, err)
			}
		}
	}

	cfg := Default()
	l := loader{prefix: strings.ToUpper(prefix)}
	l.float("END_TIME", &cfg.EndTime)
	l.float("INITIAL_STEP", &cfg.InitialStep)
	l.float("MIN_STEP", &cfg.MinStep)
	l.float("MAX_STEP", &cfg.MaxStep)
	l.float("VOLTAGE_ABSTOL", &cfg.VoltageAbsTol)
	l.float("CURRENT_ABSTOL", &cfg.CurrentAbsTol)
	l.float("RELTOL", &cfg.RelTol)
	l.float("NEWTON_TOL", &cfg.NewtonTol)
	l.float("TRTOL", &cfg.TruncationTol)
	l.integer("MAX_NEWTON_ITERATIONS", &cfg.MaxNewtonIterations)
	l.float("SPECTRAL_RADIUS", &cfg.SpectralRadius)
	l.boolean("ADAPTIVE", &cfg.Adaptive)
	l.boolean("VERBOSE", &cfg.Verbose)
	l.boolean("ZERO_IC", &cfg.ZeroInitialConditions)
	l.float("EVENT_TOL", &cfg.EventTol)
	l.integer("MAX_NODES", &cfg.MaxNodes)
	l.int64("MAX_MEMORY_BYTES", &cfg.MaxMemoryBytes)
	l.float("TEMP", &cfg.Temp)
	l.str("SOLVER", &cfg.Solver)
	if l.err != nil {
		return Config{}, l.err
	}

	return cfg, cfg.Validate()
}

type loader struct {
	prefix string
	err    error
}

func (l *loader) lookup(name string) (string, bool) {
	if l.err != nil {
		return "", false
	}
	key := name
	if l.prefix != "" {
		key = l.prefix + "_" + name
	}
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (l *loader) fail(name, v string, err error) {
	l.err = invalid("%s_%s=%q: %v", l.prefix, name, v, err)
}

func (l *loader) float(name string, dst *float64) {
	if v, ok := l.lookup(name); ok {
		f, err := units.ParseValue(v)
		if err != nil {
			l.fail(name, v, err)
			return
		}
		*dst = f
	}
}

func (l *loader) integer(name string, dst *int) {
	if v, ok := l.lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			l.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (l *loader) int64(name string, dst *int64) {
	if v, ok := l.lookup(name); ok {
		f, err := units.ParseValue(v)
		if err != nil {
			l.fail(name, v, err)
			return
		}
		*dst = int64(f)
	}
}

func (l *loader) boolean(name string, dst *bool) {
	if v, ok := l.lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			l.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (l *loader) str(name string, dst *string) {
	if v, ok := l.lookup(name); ok {
		*dst = strings.ToLower(v)
	}
}

func (c Config) String() string {
	return fmt.Sprintf("end=%g h0=%g hmin=%g hmax=%g reltol=%g newtontol=%g rho=%g adaptive=%v solver=%s",
		c.EndTime, c.InitialStep, c.MinStep, c.StepCeiling(), c.RelTol, c.NewtonTol, c.SpectralRadius, c.Adaptive, c.Solver)
}
