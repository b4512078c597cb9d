// Package units parses SPICE-style engineering values ("4.7k", "10meg", "1us")
// and independent-source waveform specifications ("PULSE(0 10 0 1n 1n 1m 2m)").
package units

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/edp1096/transim/pkg/device"
)

var unitMap = map[string]float64{
	"T":   1e12,  // tera
	"G":   1e9,   // giga
	"meg": 1e6,   // mega
	"K":   1e3,   // kilo
	"k":   1e3,   // kilo
	"m":   1e-3,  // milli
	"u":   1e-6,  // micro
	"n":   1e-9,  // nano
	"p":   1e-12, // pico
	"f":   1e-15, // femto
}

var valueRe = regexp.MustCompile(`^([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)(meg|[TGMKkmunpf])?[a-zA-Z]*$`)

// ParseValue parses a number with an optional scale factor. Trailing unit
// letters after the factor are ignored, so "1ms" and "1m" are equal.
func ParseValue(val string) (float64, error) {
	s := strings.TrimSpace(val)
	matches := valueRe.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("invalid value format: %s", val)
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	if matches[2] != "" {
		if multiplier, ok := unitMap[matches[2]]; ok {
			num *= multiplier
		}
	}

	return num, nil
}

func parseValues(params string, min int, kind string) ([]float64, error) {
	fields := strings.Fields(params)
	if len(fields) < min {
		return nil, fmt.Errorf("insufficient %s parameters", kind)
	}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := ParseValue(f)
		if err != nil {
			return nil, fmt.Errorf("invalid %s parameter %d: %v", kind, i+1, err)
		}
		values[i] = v
	}
	return values, nil
}

// ParseWaveform parses "DC v", a bare value, "SIN(off amp freq [phase])",
// "PULSE(v1 v2 delay rise fall width period)" or "PWL(t1 v1 t2 v2 ...)".
func ParseWaveform(spec string) (device.SourceWaveform, error) {
	spec = strings.ReplaceAll(spec, "(", " ( ")
	spec = strings.ReplaceAll(spec, ")", " ) ")
	spec = strings.ReplaceAll(spec, ",", " ")
	words := strings.Fields(spec)
	if len(words) == 0 {
		return device.SourceWaveform{}, fmt.Errorf("missing source type")
	}

	params := strings.Trim(strings.Join(words[1:], " "), "() ")

	switch strings.ToUpper(words[0]) {
	case "DC":
		if len(words) < 2 {
			return device.SourceWaveform{}, fmt.Errorf("missing DC value")
		}
		v, err := ParseValue(words[1])
		if err != nil {
			return device.SourceWaveform{}, err
		}
		return device.DCWaveform(v), nil

	case "SIN":
		p, err := parseValues(params, 3, "SIN")
		if err != nil {
			return device.SourceWaveform{}, err
		}
		phase := 0.0
		if len(p) > 3 {
			phase = p[3]
		}
		return device.SinWaveform(p[0], p[1], p[2], phase), nil

	case "PULSE":
		p, err := parseValues(params, 7, "PULSE")
		if err != nil {
			return device.SourceWaveform{}, err
		}
		w := device.PulseWaveform(p[0], p[1], p[2], p[3], p[4], p[5], p[6])
		return w, w.Validate()

	case "PWL":
		p, err := parseValues(params, 4, "PWL")
		if err != nil {
			return device.SourceWaveform{}, err
		}
		if len(p)%2 != 0 {
			return device.SourceWaveform{}, fmt.Errorf("PWL needs time-value pairs")
		}
		times := make([]float64, len(p)/2)
		values := make([]float64, len(p)/2)
		for i := range times {
			times[i], values[i] = p[2*i], p[2*i+1]
		}
		w := device.PWLWaveform(times, values)
		return w, w.Validate()
	}

	if len(words) == 1 {
		if v, err := ParseValue(words[0]); err == nil {
			return device.DCWaveform(v), nil
		}
	}
	return device.SourceWaveform{}, fmt.Errorf("unsupported source type: %s", words[0])
}
