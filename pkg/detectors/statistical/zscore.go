package statistical

import (
	"math"

	"github.com/hed1ad/goguardml/pkg/detectors"
	"github.com/hed1ad/goguardml/pkg/stats"
)

// Detect flags points whose global z-score exceeds cfg.Threshold and runs of
// consecutive deviating points. On sequences too short for any z-score to
// exceed cfg.Threshold, points outside the Tukey fence are flagged instead.
// The result is sorted by descending score.
func Detect(data []float64, cfg Config) ([]detectors.Anomaly, error) {
	if len(data) < MinDetectLength {
		return nil, insufficient("z-score detection", MinDetectLength, len(data))
	}

	summary, err := stats.Describe(data)
	if err != nil {
		return nil, err
	}

	anomalies := pointAnomalies(data, summary, cfg)
	anomalies = append(anomalies, patternAnomalies(data, summary, cfg)...)
	detectors.SortByScore(anomalies)

	return anomalies, nil
}

func pointAnomalies(data []float64, s stats.Summary, cfg Config) []detectors.Anomaly {
	var anomalies []detectors.Anomaly
	flagged := make([]bool, len(data))

	for i, x := range data {
		z := math.Abs(x-s.Mean) / s.StdDev
		if z <= cfg.Threshold {
			continue
		}
		flagged[i] = true
		anomalies = append(anomalies, detectors.Anomaly{
			Index: i,
			Value: x,
			Score: detectors.ScoreFromZ(z),
			Kind:  classify(data, i),
		})
	}

	// The largest population z-score a sequence of n points can reach is
	// sqrt(n-1). The fence only runs where that bound keeps the z-score rule
	// from ever firing.
	if cfg.FenceMultiplier <= 0 || !zScoreUnreachable(len(data), cfg.Threshold) {
		return anomalies
	}
	lower := s.Q1 - cfg.FenceMultiplier*s.IQR
	upper := s.Q3 + cfg.FenceMultiplier*s.IQR
	for i, x := range data {
		if flagged[i] || (x >= lower && x <= upper) {
			continue
		}
		anomalies = append(anomalies, detectors.Anomaly{
			Index: i,
			Value: x,
			Score: detectors.ScoreFromZ(math.Abs(x-s.Mean) / s.StdDev),
			Kind:  detectors.Outlier,
		})
	}

	return anomalies
}

// zScoreUnreachable reports whether no point of an n-point sequence can have a
// population z-score above threshold.
func zScoreUnreachable(n int, threshold float64) bool {
	return math.Sqrt(float64(n-1)) <= threshold
}

// classify labels a point by comparing it with its immediate neighbours.
func classify(data []float64, i int) detectors.Kind {
	if i == 0 || i == len(data)-1 {
		return detectors.Outlier
	}
	prev, x, next := data[i-1], data[i], data[i+1]
	switch {
	case x > prev && x > next:
		return detectors.Spike
	case x < prev && x < next:
		return detectors.Drop
	default:
		return detectors.Outlier
	}
}

// patternAnomalies reports every run of at least cfg.MinRunLength consecutive
// points deviating from the mean by more than cfg.PatternDeviation standard
// deviations. Each run yields one anomaly at its first index.
func patternAnomalies(data []float64, s stats.Summary, cfg Config) []detectors.Anomaly {
	var anomalies []detectors.Anomaly
	limit := cfg.PatternDeviation * s.StdDev
	start, run := 0, 0

	flush := func() {
		if run >= cfg.MinRunLength {
			anomalies = append(anomalies, detectors.Anomaly{
				Index: start,
				Value: data[start],
				Score: detectors.Clamp01(float64(run) / 10.0),
				Kind:  detectors.Pattern,
			})
		}
		run = 0
	}

	for i, x := range data {
		if math.Abs(x-s.Mean) > limit {
			if run == 0 {
				start = i
			}
			run++
			continue
		}
		flush()
	}
	flush()

	return anomalies
}
