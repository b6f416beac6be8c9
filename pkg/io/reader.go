// Package io provides input/output utilities for data ingestion and for
// emitting detection results.
package io

import (
	"context"
	"fmt"
	"time"

	"github.com/hed1ad/goguardml/pkg/detectors"
)

// Reader is the interface for reading data from various sources.
type Reader interface {
	// Read returns the complete dataset.
	Read() ([][]float64, error)

	// Stream returns a channel of samples for real-time processing.
	Stream(ctx context.Context) (<-chan []float64, error)

	// Close releases resources.
	Close() error
}

// Schema is implemented by readers that can name the columns of their rows.
type Schema interface {
	// FeatureNames returns the names of the columns, in order.
	FeatureNames() []string
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close releases resources.
	Close() error
}

// Result is one reported finding, in a form suitable for output.
type Result struct {
	Timestamp int64          `json:"timestamp,omitempty"`
	Operation string         `json:"operation"`
	Index     int            `json:"index"`
	Value     float64        `json:"value"`
	Score     float64        `json:"score"`
	IsAnomaly bool           `json:"is_anomaly"`
	Kind      string         `json:"type,omitempty"`
	Features  []float64      `json:"features,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FromAnomalies converts detector output into results, keeping its order.
func FromAnomalies(op string, anomalies []detectors.Anomaly) []Result {
	now := time.Now().UnixMilli()
	results := make([]Result, len(anomalies))
	for i, a := range anomalies {
		results[i] = Result{
			Timestamp: now,
			Operation: op,
			Index:     a.Index,
			Value:     a.Value,
			Score:     a.Score,
			IsAnomaly: true,
			Kind:      a.Kind.String(),
		}
	}
	return results
}

// FromIndices converts the flagged row indices of a multi-dimensional
// detection into results carrying the rows themselves.
func FromIndices(op string, rows [][]float64, indices []int) []Result {
	now := time.Now().UnixMilli()
	results := make([]Result, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(rows) {
			continue
		}
		results = append(results, Result{
			Timestamp: now,
			Operation: op,
			Index:     idx,
			IsAnomaly: true,
			Kind:      detectors.Outlier.String(),
			Features:  rows[idx],
		})
	}
	return results
}

// FromScore converts a streaming score into a result.
func FromScore(op string, index int, s detectors.Score) Result {
	r := Result{
		Timestamp: time.Now().UnixMilli(),
		Operation: op,
		Index:     index,
		Score:     s.Value,
		IsAnomaly: s.IsAnomaly,
		Features:  s.Features,
		Metadata:  s.Metadata,
	}
	if len(s.Features) == 1 {
		r.Value = s.Features[0]
	}
	return r
}

// Column extracts column i of rows as a one-dimensional series.
func Column(rows [][]float64, i int) ([]float64, error) {
	if i < 0 {
		return nil, fmt.Errorf("column %d: %w", i, detectors.ErrInvalidArgument)
	}
	series := make([]float64, len(rows))
	for r, row := range rows {
		if i >= len(row) {
			return nil, fmt.Errorf("row %d has %d columns, want column %d: %w", r, len(row), i, detectors.ErrShapeMismatch)
		}
		series[r] = row[i]
	}
	return series, nil
}
