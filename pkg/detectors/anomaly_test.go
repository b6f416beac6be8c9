package detectors

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "outlier", Outlier.String())
	assert.Equal(t, "spike", Spike.String())
	assert.Equal(t, "drop", Drop.String())
	assert.Equal(t, "pattern", Pattern.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestAnomalyJSON(t *testing.T) {
	a := Anomaly{Index: 4, Value: 100, Score: 0.5, Kind: Spike}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"index":4,"value":100,"score":0.5,"type":"spike"}`, string(data))

	var decoded Anomaly
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, a, decoded)

	assert.Error(t, json.Unmarshal([]byte(`{"type":"bogus"}`), &decoded))
}

func TestClamp01(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-1, 0},
		{0, 0},
		{0.3, 0.3},
		{1, 1},
		{7, 1},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clamp01(tt.in))
	}
}

func TestScoreFromZ(t *testing.T) {
	assert.InDelta(t, 0.5, ScoreFromZ(2.5), 1e-12)
	assert.Equal(t, 1.0, ScoreFromZ(12))
}

func TestSortByScoreStable(t *testing.T) {
	anomalies := []Anomaly{
		{Index: 0, Score: 0.2},
		{Index: 1, Score: 0.9},
		{Index: 2, Score: 0.2},
		{Index: 3, Score: 0.5},
	}
	SortByScore(anomalies)

	var order []int
	for _, a := range anomalies {
		order = append(order, a.Index)
	}
	assert.Equal(t, []int{1, 3, 0, 2}, order)
}
