package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edp1096/transim/pkg/circuit"
	"github.com/edp1096/transim/pkg/device"
	"github.com/edp1096/transim/pkg/waveform"
)

// demo is a built-in test circuit plus the traces worth plotting.
type demo struct {
	build  func(src device.SourceWaveform) ([]device.Device, error)
	source device.SourceWaveform
	watch  []string // node names
}

var demos = map[string]demo{
	// V1 in 0, R1 in out 1k, C1 out 0 1u
	"rc": {
		build: func(src device.SourceWaveform) ([]device.Device, error) {
			return []device.Device{
				device.NewVoltageSource("V1", []string{"in", "0"}, src),
				device.NewResistor("R1", []string{"in", "out"}, 1e3),
				device.NewCapacitor("C1", []string{"out", "0"}, 1e-6),
			}, nil
		},
		source: device.PulseWaveform(0, 5, 0, 1e-6, 1e-6, 5e-4, 1e-3),
		watch:  []string{"in", "out"},
	},
	// V1 in 0, R1 in a 100, L1 a 0 10m
	"rl": {
		build: func(src device.SourceWaveform) ([]device.Device, error) {
			return []device.Device{
				device.NewVoltageSource("V1", []string{"in", "0"}, src),
				device.NewResistor("R1", []string{"in", "a"}, 100),
				device.NewInductor("L1", []string{"a", "0"}, 10e-3),
			}, nil
		},
		source: device.DCWaveform(10),
		watch:  []string{"in", "a"},
	},
	// half-wave rectifier with a smoothing capacitor
	"diode": {
		build: func(src device.SourceWaveform) ([]device.Device, error) {
			d1 := device.NewDiode("D1", []string{"in", "out"})
			d1.SetModelParameters(map[string]float64{"is": 1e-14, "n": 1.05})
			return []device.Device{
				device.NewVoltageSource("V1", []string{"in", "0"}, src),
				d1,
				device.NewResistor("RL", []string{"out", "0"}, 1e3),
				device.NewCapacitor("C1", []string{"out", "0"}, 10e-6),
			}, nil
		},
		source: device.SinWaveform(0, 5, 1e3, 0),
		watch:  []string{"in", "out"},
	},
	// RC charge interrupted by a switch open between 0.3 ms and 0.6 ms
	"switch": {
		build: func(src device.SourceWaveform) ([]device.Device, error) {
			return []device.Device{
				device.NewVoltageSource("V1", []string{"in", "0"}, src),
				device.NewTimedSwitch("S1", []string{"in", "a"}, 1, 1e9, true, []float64{3e-4, 6e-4}),
				device.NewResistor("R1", []string{"a", "out"}, 1e3),
				device.NewCapacitor("C1", []string{"out", "0"}, 1e-6),
			}, nil
		},
		source: device.DCWaveform(5),
		watch:  []string{"a", "out"},
	},
}

func demoNames() string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func buildCircuit(name string, src *device.SourceWaveform) (*circuit.Circuit, demo, error) {
	d, ok := demos[name]
	if !ok {
		return nil, demo{}, fmt.Errorf("unknown circuit %q (have %s)", name, demoNames())
	}
	w := d.source
	if src != nil {
		w = *src
	}

	devs, err := d.build(w)
	if err != nil {
		return nil, demo{}, err
	}
	ckt := circuit.New(name)
	if err := ckt.Add(devs...); err != nil {
		return nil, demo{}, fmt.Errorf("building %s: %w", name, err)
	}
	return ckt, d, nil
}

// traces resolves the watched demo nodes after Setup has numbered the nodes.
func (d demo) traces(ckt *circuit.Circuit) []waveform.Trace {
	var traces []waveform.Trace
	for _, name := range d.watch {
		if idx, ok := ckt.NodeIndex(name); ok {
			traces = append(traces, waveform.Trace{Label: "V(" + name + ")", Node: idx})
		}
	}
	return traces
}
