package detectors

import (
	"fmt"
	"math"
	"sort"
)

// Kind classifies an anomaly.
type Kind int

const (
	// Outlier is a point far from the sequence mean with no local shape.
	Outlier Kind = iota
	// Spike is a point above both of its neighbours.
	Spike
	// Drop is a point below both of its neighbours.
	Drop
	// Pattern marks a run or a trend break starting at the anomaly index.
	Pattern
)

var kindNames = [...]string{"outlier", "spike", "drop", "pattern"}

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(kindNames) {
		return nil, fmt.Errorf("unknown anomaly kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown anomaly kind %q", text)
}

// Anomaly is a single flagged point of a sequence.
type Anomaly struct {
	// Index is the position in the input sequence.
	Index int `json:"index"`
	// Value is the input value at Index.
	Value float64 `json:"value"`
	// Score is in [0, 1], higher is more anomalous.
	Score float64 `json:"score"`
	// Kind is the classification.
	Kind Kind `json:"type"`
}

// ScoreFromZ maps a z-like statistic onto [0, 1], saturating at 5.
func ScoreFromZ(z float64) float64 {
	return Clamp01(z / 5.0)
}

// Clamp01 bounds v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SortByScore orders anomalies by descending score, keeping input order on ties.
func SortByScore(anomalies []Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Score > anomalies[j].Score
	})
}
