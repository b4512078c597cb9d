package analysis

import (
	"fmt"

	"github.com/edp1096/transim/pkg/circuit"
	"github.com/edp1096/transim/pkg/config"
	"github.com/edp1096/transim/pkg/device"
)

// DCSweep steps one or two sources through a range and solves the operating
// point at every value, warm-starting from the previous point.
type DCSweep struct {
	BaseAnalysis
	op          *OperatingPoint
	sourceNames []string          // Names of voltage/current sources to sweep
	sweepVals   [][]float64       // Generated sweep values for each source
	sources     []device.Sweepable
	origWaves   []device.SourceWaveform
}

func NewDCSweep(cfg config.Config, sources []string, starts, stops, increments []float64) (*DCSweep, error) {
	if len(sources) != len(starts) || len(sources) != len(stops) || len(sources) != len(increments) {
		return nil, fmt.Errorf("inconsistent parameter lengths")
	}
	if len(sources) == 0 || len(sources) > 2 {
		return nil, fmt.Errorf("unsupported number of sweep sources: %d", len(sources))
	}

	dc := &DCSweep{
		BaseAnalysis: *NewBaseAnalysis(cfg),
		op:           NewOP(cfg),
		sourceNames:  sources,
		sweepVals:    make([][]float64, len(sources)),
	}

	for i := range sources {
		vals, err := sweepValues(starts[i], stops[i], increments[i])
		if err != nil {
			return nil, fmt.Errorf("sweep %s: %w", sources[i], err)
		}
		dc.sweepVals[i] = vals
	}
	return dc, nil
}

// sweepValues lists start, start+inc, ... up to stop, in either direction.
func sweepValues(start, stop, inc float64) ([]float64, error) {
	if inc == 0 || (stop-start)*inc < 0 {
		return nil, fmt.Errorf("increment %g cannot reach %g from %g", inc, stop, start)
	}
	n := int((stop-start)/inc+1e-9) + 1
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = start + float64(i)*inc
	}
	return vals, nil
}

func (dc *DCSweep) Setup(ckt *circuit.Circuit) error {
	dc.Circuit = ckt
	if err := dc.op.Setup(ckt); err != nil {
		return err
	}
	dc.op.SetLogger(dc.logger)

	dc.sources = make([]device.Sweepable, len(dc.sourceNames))
	dc.origWaves = make([]device.SourceWaveform, len(dc.sourceNames))
	for i, name := range dc.sourceNames {
		found := false
		for _, dev := range ckt.GetDevices() {
			if dev.GetName() != name {
				continue
			}
			if s, ok := dev.(device.Sweepable); ok {
				dc.sources[i] = s
				dc.origWaves[i] = s.GetWaveform()
				found = true
			}
			break
		}
		if !found {
			return fmt.Errorf("source %s not found", name)
		}
	}

	return nil
}

func (dc *DCSweep) Execute() error {
	if dc.sources == nil {
		return fmt.Errorf("circuit not set")
	}
	defer dc.restore()

	var warm []float64
	first := dc.sweepVals[0]
	inner := []float64{0}
	if len(dc.sources) == 2 {
		inner = dc.sweepVals[1]
	}

	for _, val1 := range first {
		dc.sources[0].SetValue(val1)
		for _, val2 := range inner {
			if len(dc.sources) == 2 {
				dc.sources[1].SetValue(val2)
			}

			x, tier, err := dc.op.SolveFrom(warm)
			if err != nil {
				return fmt.Errorf("convergence error at %s: %w", dc.pointName(val1, val2), err)
			}
			dc.logger.Debug("dc sweep point", "at", dc.pointName(val1, val2), "tier", tier)
			warm = x

			dc.storePoint(val1, val2, x)
		}
	}

	return nil
}

func (dc *DCSweep) pointName(val1, val2 float64) string {
	if len(dc.sources) == 2 {
		return fmt.Sprintf("%s=%g, %s=%g", dc.sourceNames[0], val1, dc.sourceNames[1], val2)
	}
	return fmt.Sprintf("%s=%g", dc.sourceNames[0], val1)
}

func (dc *DCSweep) storePoint(val1, val2 float64, x []float64) {
	if len(dc.sources) == 2 {
		dc.results["SWEEP2"] = append(dc.results["SWEEP2"], val2)
	}
	dc.StoreResult("SWEEP1", val1, dc.Circuit.GetSolution(x))
}

func (dc *DCSweep) restore() {
	for i, s := range dc.sources {
		s.SetWaveform(dc.origWaves[i])
	}
}
