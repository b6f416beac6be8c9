// Package stats provides the descriptive statistics shared by the detectors.
//
// All functions are pure: they never modify their input and return the same
// result for the same sequence.
package stats

import (
	"errors"
	"math"
	"sort"

	mstats "github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MinStdDev is the floor applied to StdDev so that z-scores never divide by zero.
const MinStdDev = 0.001

// ErrEmpty is returned when a summary is requested for an empty sequence.
var ErrEmpty = errors.New("empty sequence")

// Summary holds the descriptive statistics of a sequence.
type Summary struct {
	Mean   float64
	StdDev float64
	Median float64
	Q1     float64
	Q3     float64
	IQR    float64
	Min    float64
	Max    float64
	Count  int
}

// Describe computes every statistic of data in one call.
func Describe(data []float64) (Summary, error) {
	if len(data) == 0 {
		return Summary{}, ErrEmpty
	}

	sorted := sortedCopy(data)
	q1, q3 := quartilesSorted(sorted)

	return Summary{
		Mean:   Mean(data),
		StdDev: StdDev(data),
		Median: Median(data),
		Q1:     q1,
		Q3:     q3,
		IQR:    q3 - q1,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Count:  len(data),
	}, nil
}

// Mean returns the arithmetic mean of data, or 0 for an empty sequence.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// RawStdDev returns the population standard deviation without any floor.
func RawStdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(data, nil)
	return std
}

// StdDev returns the population standard deviation floored at MinStdDev.
func StdDev(data []float64) float64 {
	return math.Max(RawStdDev(data), MinStdDev)
}

// Median returns the middle value of data, averaging the two central values
// when the length is even.
func Median(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m, err := mstats.Median(data)
	if err != nil {
		return 0
	}
	return m
}

// Quartiles returns Q1 and Q3 taken at sorted indices n/4 and 3n/4.
// No interpolation is applied, so small samples produce biased quartiles.
func Quartiles(data []float64) (q1, q3 float64) {
	if len(data) == 0 {
		return 0, 0
	}
	return quartilesSorted(sortedCopy(data))
}

// IQR returns Q3 - Q1 as computed by Quartiles.
func IQR(data []float64) float64 {
	q1, q3 := Quartiles(data)
	return q3 - q1
}

// MinMax returns the smallest and largest values of data.
func MinMax(data []float64) (lo, hi float64) {
	if len(data) == 0 {
		return 0, 0
	}
	return floats.Min(data), floats.Max(data)
}

// Trend fits y = a + slope*x by ordinary least squares, with x the element
// index, and reports R² clamped to [0, 1] as the strength of the fit.
func Trend(data []float64) (slope, strength float64) {
	if len(data) < 2 {
		return 0, 0
	}

	xs := make([]float64, len(data))
	for i := range xs {
		xs[i] = float64(i)
	}

	alpha, beta := stat.LinearRegression(xs, data, nil, false)
	r2 := stat.RSquared(xs, data, nil, alpha, beta)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		r2 = 0
	}

	return beta, math.Max(0, math.Min(1, r2))
}

// Slope returns only the OLS slope of data against its index.
func Slope(data []float64) float64 {
	slope, _ := Trend(data)
	return slope
}

func sortedCopy(data []float64) []float64 {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	return sorted
}

func quartilesSorted(sorted []float64) (float64, float64) {
	n := len(sorted)
	return sorted[n/4], sorted[3*n/4]
}
