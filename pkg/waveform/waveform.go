// Package waveform holds the append-only time series produced by a transient
// run: node voltages keyed by node index and device currents keyed by name.
package waveform

import (
	"errors"
	"fmt"
	"sort"
)

type Sample struct {
	Time     float64            `json:"t"`
	Voltages []float64          `json:"v"` // by node index, ground included
	Currents map[string]float64 `json:"i,omitempty"`
}

// Sink receives accepted samples in increasing time order.
type Sink interface {
	Append(s Sample) error
}

var ErrUnknownSeries = errors.New("waveform: unknown series")

// Recorder keeps every sample in memory.
type Recorder struct {
	times    []float64
	voltages [][]float64 // [node][sample]
	currents map[string][]float64
	bytes    int64
}

var _ Sink = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{currents: make(map[string][]float64)}
}

func (r *Recorder) Append(s Sample) error {
	if n := len(r.times); n > 0 && s.Time < r.times[n-1] {
		return fmt.Errorf("waveform: sample at t=%g after t=%g", s.Time, r.times[n-1])
	}
	if len(r.times) > 0 && len(s.Voltages) != len(r.voltages) {
		return fmt.Errorf("waveform: sample has %d voltages, expected %d", len(s.Voltages), len(r.voltages))
	}
	if len(r.times) == 0 {
		r.voltages = make([][]float64, len(s.Voltages))
	}

	r.times = append(r.times, s.Time)
	for i, v := range s.Voltages {
		r.voltages[i] = append(r.voltages[i], v)
	}
	for name, i := range s.Currents {
		series, ok := r.currents[name]
		if !ok {
			// Pad late series so every series lines up with times.
			series = make([]float64, len(r.times)-1)
		}
		r.currents[name] = append(series, i)
	}
	for name, series := range r.currents {
		if len(series) < len(r.times) {
			r.currents[name] = append(series, series[len(series)-1])
		}
	}

	r.bytes += int64(8 * (1 + len(s.Voltages) + len(s.Currents)))
	return nil
}

func (r *Recorder) Len() int { return len(r.times) }

func (r *Recorder) Times() []float64 { return r.times }

func (r *Recorder) Voltage(node int) ([]float64, error) {
	if node < 0 || node >= len(r.voltages) {
		return nil, fmt.Errorf("%w: node %d", ErrUnknownSeries, node)
	}
	return r.voltages[node], nil
}

func (r *Recorder) Current(name string) ([]float64, error) {
	series, ok := r.currents[name]
	if !ok {
		return nil, fmt.Errorf("%w: current %s", ErrUnknownSeries, name)
	}
	return series, nil
}

// CurrentNames lists the recorded current series in sorted order.
func (r *Recorder) CurrentNames() []string {
	names := make([]string, 0, len(r.currents))
	for name := range r.currents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bytes estimates the memory held by the samples.
func (r *Recorder) Bytes() int64 { return r.bytes }

// ValueAt linearly interpolates series at t. Times outside the recorded range
// are clamped to the end samples.
func (r *Recorder) ValueAt(series []float64, t float64) float64 {
	n := len(r.times)
	if n == 0 || len(series) != n {
		return 0
	}
	if t <= r.times[0] {
		return series[0]
	}
	if t >= r.times[n-1] {
		return series[n-1]
	}
	k := sort.SearchFloat64s(r.times, t)
	t0, t1 := r.times[k-1], r.times[k]
	if t1 == t0 {
		return series[k]
	}
	return series[k-1] + (series[k]-series[k-1])*(t-t0)/(t1-t0)
}

// Multi fans every sample out to all sinks and stops at the first error.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Append(s Sample) error {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Append(s); err != nil {
			return err
		}
	}
	return nil
}
