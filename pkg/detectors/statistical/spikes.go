package statistical

import (
	"fmt"
	"math"

	"github.com/hed1ad/goguardml/pkg/detectors"
	"github.com/hed1ad/goguardml/pkg/stats"
)

// DetectSpikes compares every interior point with the two points on each
// side of it. A point is reported when its local z-score exceeds
// cfg.Threshold / sensitivity; higher sensitivity reports more points.
func DetectSpikes(data []float64, sensitivity float64, cfg Config) ([]detectors.Anomaly, error) {
	if len(data) < MinSpikeLength {
		return nil, insufficient("spike detection", MinSpikeLength, len(data))
	}
	if !(sensitivity > 0) || math.IsInf(sensitivity, 0) {
		return nil, fmt.Errorf("sensitivity must be a positive number, got %v: %w", sensitivity, detectors.ErrInvalidArgument)
	}

	threshold := cfg.Threshold / sensitivity
	neighbours := make([]float64, 4)

	var anomalies []detectors.Anomaly
	for i := 2; i <= len(data)-3; i++ {
		neighbours[0], neighbours[1] = data[i-2], data[i-1]
		neighbours[2], neighbours[3] = data[i+1], data[i+2]

		localMean := stats.Mean(neighbours)
		localStd := stats.RawStdDev(neighbours)

		var localZ float64
		if localStd > 0 {
			localZ = math.Abs(data[i]-localMean) / localStd
		}
		if localZ <= threshold {
			continue
		}

		kind := detectors.Drop
		if data[i] > localMean {
			kind = detectors.Spike
		}
		anomalies = append(anomalies, detectors.Anomaly{
			Index: i,
			Value: data[i],
			Score: detectors.ScoreFromZ(localZ),
			Kind:  kind,
		})
	}

	return anomalies, nil
}
