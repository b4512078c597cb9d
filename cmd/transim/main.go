package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/edp1096/transim/pkg/analysis"
	"github.com/edp1096/transim/pkg/config"
	"github.com/edp1096/transim/pkg/device"
	"github.com/edp1096/transim/pkg/units"
	"github.com/edp1096/transim/pkg/util"
	"github.com/edp1096/transim/pkg/waveform"
)

type options struct {
	circuit  string
	source   string
	endTime  string
	maxStep  string
	plotPath string
	dbDir    string
	envFile  string
	points   int
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.circuit, "circuit", "rc", "built-in circuit: "+demoNames())
	flag.StringVar(&o.source, "source", "", `override the V1 waveform, e.g. "PULSE(0 5 0 1u 1u 0.5m 1m)"`)
	flag.StringVar(&o.endTime, "t", "", "end time, e.g. 2m")
	flag.StringVar(&o.maxStep, "maxstep", "", "step ceiling, e.g. 10u")
	flag.StringVar(&o.plotPath, "plot", "", "write the node voltages to a .png/.svg file")
	flag.StringVar(&o.dbDir, "db", "", "also store the waveform in a LevelDB directory")
	flag.StringVar(&o.envFile, "env", ".env", "dotenv file read before TRANSIM_* variables")
	flag.IntVar(&o.points, "n", 10, "rows printed from the waveform")
	flag.Parse()
	return o
}

func loadConfig(o options) (config.Config, error) {
	cfg, err := config.FromEnv("TRANSIM", o.envFile)
	if err != nil {
		return cfg, err
	}
	if o.endTime != "" {
		if cfg.EndTime, err = units.ParseValue(o.endTime); err != nil {
			return cfg, fmt.Errorf("-t: %v", err)
		}
	}
	if o.maxStep != "" {
		if cfg.MaxStep, err = units.ParseValue(o.maxStep); err != nil {
			return cfg, fmt.Errorf("-maxstep: %v", err)
		}
	}
	return cfg, cfg.Validate()
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	o := parseFlags()

	cfg, err := loadConfig(o)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	ok, err := run(o, cfg, newLogger(cfg.Verbose))
	if err != nil {
		log.Fatal(err)
	}
	if !ok {
		os.Exit(1)
	}
}

func run(o options, cfg config.Config, logger *slog.Logger) (bool, error) {
	var src *device.SourceWaveform
	if o.source != "" {
		w, err := units.ParseWaveform(o.source)
		if err != nil {
			return false, fmt.Errorf("parsing source: %w", err)
		}
		src = &w
	}

	ckt, d, err := buildCircuit(o.circuit, src)
	if err != nil {
		return false, err
	}

	tran := analysis.NewTransient(cfg)
	tran.SetLogger(logger)
	if err := tran.Setup(ckt); err != nil {
		return false, fmt.Errorf("analysis setup failed: %w", err)
	}

	if o.dbDir != "" {
		store, err := waveform.Open(o.dbDir, tran.RunID())
		if err != nil {
			return false, err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("closing waveform store", "err", err)
			}
		}()
		tran.SetSink(store)
	}

	// Ctrl-C pauses the run; the partial waveform is still printed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res := tran.Run(ctx)
	logger.Info("transient finished", "state", res.State, "steps", res.Steps, "elapsed", res.Elapsed)

	printSummary(ckt.Name(), res, tran.Recorder().Bytes())
	printWaveform(tran.GetResults(), o.points)

	if o.plotPath != "" && tran.Recorder().Len() > 0 {
		title := fmt.Sprintf("%s (%s)", ckt.Name(), res.RunID)
		if err := waveform.Plot(tran.Recorder(), o.plotPath, title, d.traces(ckt)...); err != nil {
			return false, fmt.Errorf("writing plot: %w", err)
		}
		fmt.Printf("\nPlot written to %s\n", o.plotPath)
	}
	return res.Success, nil
}

func printSummary(name string, res analysis.Result, bytes int64) {
	fmt.Printf("\nTransient Analysis: %s\n", name)
	fmt.Println("================")
	fmt.Printf("Run:       %s\n", res.RunID)
	fmt.Printf("State:     %s\n", res.State)
	fmt.Printf("Reached:   %s\n", util.FormatTime(res.LastTime))
	fmt.Printf("Steps:     %d (%d rejected)\n", res.Steps, res.Rejected)
	fmt.Printf("Events:    %d\n", res.Events)
	fmt.Printf("DC tier:   %s\n", res.DCTier)
	fmt.Printf("Waveform:  %s\n", util.FormatBytes(bytes))
	if res.Message != "" {
		fmt.Printf("Message:   %s\n", res.Message)
	}
}

// printWaveform prints up to n evenly spaced rows, always including the last.
func printWaveform(results map[string][]float64, n int) {
	times := results["TIME"]
	if len(times) == 0 || n <= 0 {
		return
	}

	var voltageNames, currentNames []string
	for name := range results {
		if strings.HasPrefix(name, "V(") {
			voltageNames = append(voltageNames, name)
		} else if strings.HasPrefix(name, "I(") {
			currentNames = append(currentNames, name)
		}
	}
	sort.Strings(voltageNames)
	sort.Strings(currentNames)

	fmt.Printf("\nWaveform (%d time points):\n", len(times))
	fmt.Println("Time        Node Voltages        Branch Currents")
	fmt.Println("------------------------------------------------")

	stride := max(1, len(times)/n)
	for i := 0; i < len(times); i += stride {
		printRow(results, i, voltageNames, currentNames)
		if i+stride >= len(times) && i != len(times)-1 {
			printRow(results, len(times)-1, voltageNames, currentNames)
		}
	}
}

func printRow(results map[string][]float64, i int, voltageNames, currentNames []string) {
	fmt.Printf("%11s  ", util.FormatTime(results["TIME"][i]))
	for _, name := range voltageNames {
		fmt.Printf("%s=%s  ", name, util.FormatValueFactor(results[name][i], "V"))
	}
	for _, name := range currentNames {
		fmt.Printf("%s=%s  ", name, util.FormatValueFactor(results[name][i], "A"))
	}
	fmt.Println()
}
