// Package statistical implements the sequence detectors: global z-score with
// run-length patterns, local spike/drop and windowed trend breaks.
//
// The detectors hold no state between calls. Every detector rejects inputs
// shorter than its minimum length with detectors.ErrInsufficientData before
// doing any work.
package statistical

import (
	"fmt"

	"github.com/hed1ad/goguardml/pkg/detectors"
)

const (
	// MinDetectLength is the shortest sequence accepted by Detect.
	MinDetectLength = 3
	// MinSpikeLength is the shortest sequence accepted by DetectSpikes.
	MinSpikeLength = 5
	// DefaultSensitivity is the neutral spike sensitivity.
	DefaultSensitivity = 1.0
	// DefaultTrendWindow is the default window of DetectTrendBreaks.
	DefaultTrendWindow = 10
)

// Config holds the cut-offs used by the detectors.
type Config struct {
	// Threshold is the z-score cut-off for point anomalies.
	Threshold float64
	// PatternDeviation is the deviation, in standard deviations, that every
	// point of a pattern run must exceed.
	PatternDeviation float64
	// MinRunLength is the shortest run reported as a pattern.
	MinRunLength int
	// FenceMultiplier scales the IQR for the Tukey fence pass, which only runs
	// on sequences of n points where sqrt(n-1) <= Threshold. Zero disables it.
	FenceMultiplier float64
	// SlopeDelta is the minimum slope change reported as a trend break.
	SlopeDelta float64
}

// DefaultConfig returns the standard cut-offs.
func DefaultConfig() Config {
	return Config{
		Threshold:        2.5,
		PatternDeviation: 1.5,
		MinRunLength:     3,
		FenceMultiplier:  1.5,
		SlopeDelta:       0.5,
	}
}

// Validate reports parameters that would make the detectors meaningless.
func (c Config) Validate() error {
	switch {
	case c.Threshold <= 0:
		return fmt.Errorf("threshold must be positive, got %v: %w", c.Threshold, detectors.ErrInvalidArgument)
	case c.PatternDeviation <= 0:
		return fmt.Errorf("pattern deviation must be positive, got %v: %w", c.PatternDeviation, detectors.ErrInvalidArgument)
	case c.MinRunLength < 1:
		return fmt.Errorf("minimum run length must be at least 1, got %d: %w", c.MinRunLength, detectors.ErrInvalidArgument)
	case c.FenceMultiplier < 0:
		return fmt.Errorf("fence multiplier must not be negative, got %v: %w", c.FenceMultiplier, detectors.ErrInvalidArgument)
	case c.SlopeDelta <= 0:
		return fmt.Errorf("slope delta must be positive, got %v: %w", c.SlopeDelta, detectors.ErrInvalidArgument)
	}
	return nil
}

func insufficient(op string, need, got int) error {
	return fmt.Errorf("%s needs at least %d points, got %d: %w", op, need, got, detectors.ErrInsufficientData)
}
