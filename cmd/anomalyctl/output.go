package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	anomio "github.com/hed1ad/goguardml/pkg/io"
	"github.com/hed1ad/goguardml/pkg/io/jsonl"
)

var (
	headerColor  = color.New(color.FgBlue, color.Bold)
	anomalyColor = color.New(color.FgRed, color.Bold)
	normalColor  = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
)

// output writes results as JSON lines or as a table, depending on --json.
func (a *app) output(cmd *cobra.Command, op string, results []anomio.Result) error {
	out := cmd.OutOrStdout()
	if a.outputJSON {
		return jsonl.NewWriter(out).WriteAll(results)
	}
	renderResults(out, op, results)
	return nil
}

// renderResults displays results in a formatted table.
func renderResults(w io.Writer, op string, results []anomio.Result) {
	if len(results) == 0 {
		warningColor.Fprintf(w, "%s: no anomalies\n", op)
		return
	}

	headerColor.Fprintln(w, strings.ToUpper(strings.ReplaceAll(op, "_", " ")))
	headerColor.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "%-8s %-12s %-8s %-10s %s\n", "INDEX", "VALUE", "SCORE", "TYPE", "STATUS")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, r := range results {
		value := fmt.Sprintf("%.4g", r.Value)
		if len(r.Features) > 1 {
			value = formatFeatures(r.Features)
		}

		kind := r.Kind
		if kind == "" {
			kind = "-"
		}

		status := normalColor.Sprint("normal")
		if r.IsAnomaly {
			status = anomalyColor.Sprint("ANOMALY")
		}

		fmt.Fprintf(w, "%-8d %-12s %-8.3f %-10s %s\n", r.Index, value, r.Score, kind, status)
	}

	headerColor.Fprintln(w, strings.Repeat("=", 72))
}

func formatFeatures(features []float64) string {
	parts := make([]string, len(features))
	for i, f := range features {
		parts[i] = fmt.Sprintf("%.4g", f)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
