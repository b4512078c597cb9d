package waveform

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Trace selects one series of a Recorder for plotting.
type Trace struct {
	Label   string
	Node    int    // used when Current is empty
	Current string // device name
}

// Plot draws the traces against time and saves the image; the format follows
// the file extension (.png, .svg, .pdf).
func Plot(rec *Recorder, path, title string, traces ...Trace) error {
	if rec.Len() == 0 {
		return fmt.Errorf("waveform: nothing to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Add(plotter.NewGrid())

	times := rec.Times()
	for i, tr := range traces {
		var series []float64
		var err error
		if tr.Current != "" {
			series, err = rec.Current(tr.Current)
		} else {
			series, err = rec.Voltage(tr.Node)
		}
		if err != nil {
			return err
		}

		pts := make(plotter.XYs, len(times))
		for k := range times {
			pts[k].X = times[k]
			pts[k].Y = series[k]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("trace %s: %w", tr.Label, err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(0)
		p.Add(line)
		p.Legend.Add(tr.Label, line)
	}
	p.Legend.Top = true

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
