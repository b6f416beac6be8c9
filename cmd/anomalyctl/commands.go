package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/goguardml/pkg/engine"
	anomio "github.com/hed1ad/goguardml/pkg/io"
)

func newDetectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Report z-score outliers, fence outliers and deviating runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := a.loadSeries()
			if err != nil {
				return err
			}
			anomalies, err := a.engine.Detect(series)
			if err != nil {
				return err
			}
			return a.output(cmd, engine.OpDetect, anomio.FromAnomalies(engine.OpDetect, anomalies))
		},
	}
}

func newSpikesCmd(a *app) *cobra.Command {
	var sensitivity float64

	cmd := &cobra.Command{
		Use:   "spikes",
		Short: "Report points that stand out from their four neighbours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := a.loadSeries()
			if err != nil {
				return err
			}
			anomalies, err := a.engine.DetectSpikes(series, sensitivity)
			if err != nil {
				return err
			}
			return a.output(cmd, engine.OpDetectSpikes, anomio.FromAnomalies(engine.OpDetectSpikes, anomalies))
		},
	}

	cmd.Flags().Float64Var(&sensitivity, "sensitivity", 0, "Spike sensitivity, 0 uses the configured value")
	return cmd
}

func newTrendsCmd(a *app) *cobra.Command {
	var window int

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Report slope changes between adjacent windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := a.loadSeries()
			if err != nil {
				return err
			}
			anomalies, err := a.engine.DetectTrendBreaks(series, window)
			if err != nil {
				return err
			}
			return a.output(cmd, engine.OpDetectTrendBreaks, anomio.FromAnomalies(engine.OpDetectTrendBreaks, anomalies))
		},
	}

	cmd.Flags().IntVarP(&window, "window", "w", 0, "Window size, 0 uses the configured value")
	return cmd
}

func newForestCmd(a *app) *cobra.Command {
	var contamination float64

	cmd := &cobra.Command{
		Use:   "forest",
		Short: "Fit an isolation forest and report the rows it isolates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := a.loadRows()
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			if !a.quiet && !a.outputJSON {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = fmt.Sprintf(" fitting %d trees on %d rows", a.cfg.Forest.Trees, len(rows))
				s.Start()
			}

			indices, err := a.engine.DetectWithIsolationForest(rows, contamination)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}
			return a.output(cmd, engine.OpIsolationForest, anomio.FromIndices(engine.OpIsolationForest, rows, indices))
		},
	}

	cmd.Flags().Float64Var(&contamination, "contamination", 0.1, "Expected share of anomalous rows, in (0, 1)")
	return cmd
}

func newCheckCmd(a *app) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "check <value>...",
		Short: "Build a baseline from the input series and judge values against it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make([]float64, len(args))
			for i, arg := range args {
				v, err := strconv.ParseFloat(arg, 64)
				if err != nil {
					return fmt.Errorf("value %q: %w", arg, err)
				}
				values[i] = v
			}

			series, err := a.loadSeries()
			if err != nil {
				return err
			}
			if err := a.engine.UpdateBaseline(id, series); err != nil {
				return err
			}

			results := make([]anomio.Result, 0, len(values))
			for i, v := range values {
				isAnomaly, score, err := a.engine.CheckAgainstBaseline(id, v)
				if err != nil {
					return err
				}
				results = append(results, anomio.Result{
					Timestamp: time.Now().UnixMilli(),
					Operation: engine.OpCheckBaseline,
					Index:     i,
					Value:     v,
					Score:     score,
					IsAnomaly: isAnomaly,
					Metadata:  map[string]any{"baseline": id},
				})
			}
			return a.output(cmd, engine.OpCheckBaseline, results)
		},
	}

	cmd.Flags().StringVar(&id, "id", "input", "Baseline identifier")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
