package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/goguardml/pkg/config"
	"github.com/hed1ad/goguardml/pkg/engine"
	anomio "github.com/hed1ad/goguardml/pkg/io"
	"github.com/hed1ad/goguardml/pkg/io/csv"
	"github.com/hed1ad/goguardml/pkg/io/pcap"
)

// app carries the global flags and the objects built from them.
type app struct {
	configFile string
	outputJSON bool
	noColor    bool
	quiet      bool

	file     string
	pcapFile string
	column   int
	noHeader bool
	interval time.Duration

	cfg    *config.Config
	logger *zap.SugaredLogger
	engine *engine.Engine
	stdin  io.Reader
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "anomalyctl",
		Short: "Detect anomalies in numeric series and packet captures",
		Long: `anomalyctl runs statistical detectors (z-score, spikes, trend breaks) over a
single series and an isolation forest over multi-column data.

Series come from one column of a CSV file (--file, "-" for stdin) or from the
per-interval packet rate of a capture (--pcap). Rows for the forest are all CSV
columns or per-packet features.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.noColor {
				color.NoColor = true
			}
			a.stdin = cmd.InOrStdin()
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file path (YAML)")
	flags.BoolVar(&a.outputJSON, "json", false, "Output JSON lines")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&a.quiet, "quiet", false, "Suppress non-essential output")
	flags.StringVarP(&a.file, "file", "f", "", "CSV input file, - for stdin")
	flags.StringVar(&a.pcapFile, "pcap", "", "Packet capture input file")
	flags.IntVarP(&a.column, "column", "c", 0, "CSV column holding the series")
	flags.BoolVar(&a.noHeader, "no-header", false, "CSV input has no header row")
	flags.DurationVar(&a.interval, "interval", time.Second, "Bucket width of the packet rate series")
	root.MarkFlagsMutuallyExclusive("file", "pcap")

	root.AddCommand(
		newDetectCmd(a),
		newSpikesCmd(a),
		newTrendsCmd(a),
		newForestCmd(a),
		newCheckCmd(a),
		newConfigCmd(a),
	)

	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.logger = logger.Sugar()

	a.engine, err = engine.FromConfig(cfg, engine.WithLogger(a.logger.Named("engine")))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	return nil
}

// openReader returns the reader selected by --file or --pcap.
func (a *app) openReader() (anomio.Reader, error) {
	var (
		r   anomio.Reader
		err error
	)
	switch {
	case a.pcapFile != "":
		r, err = pcap.NewFileReader(a.pcapFile)
	case a.file == "-":
		r, err = csv.New(a.stdin, csv.WithHeader(!a.noHeader))
	case a.file != "":
		r, err = csv.NewReader(a.file, csv.WithHeader(!a.noHeader))
	default:
		return nil, fmt.Errorf("no input: pass --file or --pcap")
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// loadRows reads every row of the input.
func (a *app) loadRows() ([][]float64, error) {
	r, err := a.openReader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rows, err := r.Read()
	if err != nil {
		return nil, err
	}
	a.logSkipped(r)
	a.logger.Debugw("input loaded", "rows", len(rows))
	return rows, nil
}

// loadSeries reads the one-dimensional series of the input: the selected CSV
// column or the packet rate of the capture.
func (a *app) loadSeries() ([]float64, error) {
	r, err := a.openReader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if pr, ok := r.(*pcap.Reader); ok {
		return pr.RateSeries(a.interval)
	}

	rows, err := r.Read()
	if err != nil {
		return nil, err
	}
	a.logSkipped(r)
	return anomio.Column(rows, a.column)
}

func (a *app) logSkipped(r anomio.Reader) {
	if cr, ok := r.(*csv.Reader); ok && cr.Skipped() > 0 {
		a.logger.Warnw("skipped malformed rows", "count", cr.Skipped())
	}
}
