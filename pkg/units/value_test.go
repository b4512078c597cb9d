package units

import (
	"math"
	"testing"

	"github.com/edp1096/transim/pkg/device"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1k", 1e3},
		{"4.7K", 4.7e3},
		{"10meg", 1e7},
		{"1u", 1e-6},
		{"1us", 1e-6},
		{"100n", 1e-7},
		{"2.5", 2.5},
		{"-3m", -3e-3},
		{"1e-3", 1e-3},
		{" 5p ", 5e-12},
		{"10V", 10},
	}
	for _, tt := range tests {
		got, err := ParseValue(tt.in)
		if err != nil {
			t.Errorf("ParseValue(%q): %v", tt.in, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-12*math.Abs(tt.want) {
			t.Errorf("ParseValue(%q) = %g, want %g", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "abc", "1..2"} {
		if _, err := ParseValue(bad); err == nil {
			t.Errorf("ParseValue(%q) accepted", bad)
		}
	}
}

func TestParseWaveform(t *testing.T) {
	w, err := ParseWaveform("PULSE(0 10 0 1n 1n 1m 2m)")
	if err != nil {
		t.Fatal(err)
	}
	if w.Type != device.PULSE || w.V2 != 10 || w.Period != 2e-3 {
		t.Errorf("pulse = %+v", w)
	}

	w, err = ParseWaveform("SIN(0 1 50)")
	if err != nil || w.Type != device.SIN || w.Freq != 50 {
		t.Errorf("sin = %+v, %v", w, err)
	}

	w, err = ParseWaveform("PWL(0 0 1m 5 2m 0)")
	if err != nil || w.Type != device.PWL || len(w.Times) != 3 {
		t.Errorf("pwl = %+v, %v", w, err)
	}

	w, err = ParseWaveform("DC 5")
	if err != nil || w.Type != device.DC || w.DC != 5 {
		t.Errorf("dc = %+v, %v", w, err)
	}

	w, err = ParseWaveform("12")
	if err != nil || w.DC != 12 {
		t.Errorf("bare = %+v, %v", w, err)
	}

	if _, err := ParseWaveform("PWL(0 0 0 5)"); err == nil {
		t.Errorf("non-increasing PWL accepted")
	}
	if _, err := ParseWaveform("PULSE(0 1)"); err == nil {
		t.Errorf("short PULSE accepted")
	}
	if _, err := ParseWaveform("AC 1"); err == nil {
		t.Errorf("AC source accepted")
	}
}
