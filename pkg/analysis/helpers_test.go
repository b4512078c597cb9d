package analysis

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/edp1096/transim/pkg/circuit"
	"github.com/edp1096/transim/pkg/config"
	"github.com/edp1096/transim/pkg/device"
	"github.com/edp1096/transim/pkg/matrix"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func build(t *testing.T, name string, devs ...device.Device) *circuit.Circuit {
	t.Helper()
	ckt := circuit.New(name)
	if err := ckt.Add(devs...); err != nil {
		t.Fatal(err)
	}
	return ckt
}

// rcCircuit is a 10 V step into R=1k, C=1u (tau = 1 ms).
func rcCircuit(t *testing.T) *circuit.Circuit {
	return build(t, "rc",
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		device.NewResistor("R1", []string{"in", "out"}, 1e3),
		device.NewCapacitor("C1", []string{"out", "0"}, 1e-6),
	)
}

// rlCircuit is a 10 V step into R=100, L=10m (tau = 100 us).
func rlCircuit(t *testing.T) *circuit.Circuit {
	return build(t, "rl",
		device.NewDCVoltageSource("V1", []string{"in", "0"}, 10),
		device.NewResistor("R1", []string{"in", "a"}, 100),
		device.NewInductor("L1", []string{"a", "0"}, 10e-3),
	)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.EndTime = 1e-3
	cfg.InitialStep = 1e-6
	cfg.MaxStep = 2e-5
	cfg.ZeroInitialConditions = true
	return cfg
}

func newIntegrator(t *testing.T, ckt *circuit.Circuit, cfg config.Config) (*GeneralizedAlpha, *circuit.Assembler) {
	t.Helper()
	if err := ckt.Setup(0); err != nil {
		t.Fatal(err)
	}
	asm, err := circuit.NewAssembler(ckt)
	if err != nil {
		t.Fatal(err)
	}
	g := NewGeneralizedAlpha(asm, matrix.NewDenseSolver(), cfg)
	g.SetLogger(quiet())
	return g, asm
}

func node(t *testing.T, ckt *circuit.Circuit, name string) int {
	t.Helper()
	idx, ok := ckt.NodeIndex(name)
	if !ok {
		t.Fatalf("node %s not found", name)
	}
	return idx
}

func within(got, want, rel float64) bool {
	return math.Abs(got-want) <= rel*math.Abs(want)
}
