package statistical

import (
	"fmt"
	"math"

	"github.com/hed1ad/goguardml/pkg/detectors"
	"github.com/hed1ad/goguardml/pkg/stats"
)

// DetectTrendBreaks slides a boundary across the sequence and compares the OLS
// slope of the window before it with the window after it. Boundaries where the
// slope changes by more than cfg.SlopeDelta are reported as Pattern anomalies.
func DetectTrendBreaks(data []float64, window int, cfg Config) ([]detectors.Anomaly, error) {
	if window < 2 {
		return nil, fmt.Errorf("trend window must be at least 2, got %d: %w", window, detectors.ErrInvalidArgument)
	}
	if len(data) < 2*window {
		return nil, insufficient("trend break detection", 2*window, len(data))
	}

	var anomalies []detectors.Anomaly
	for i := window; i <= len(data)-window; i++ {
		before := stats.Slope(data[i-window : i])
		after := stats.Slope(data[i : i+window])

		delta := math.Abs(after - before)
		if delta <= cfg.SlopeDelta {
			continue
		}
		anomalies = append(anomalies, detectors.Anomaly{
			Index: i,
			Value: data[i],
			Score: detectors.Clamp01(delta),
			Kind:  detectors.Pattern,
		})
	}

	return anomalies, nil
}
