package engine

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goguardml/pkg/config"
	"github.com/hed1ad/goguardml/pkg/detectors"
	"github.com/hed1ad/goguardml/pkg/metrics"
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(append([]Option{WithTrees(50)}, opts...)...)
	require.NoError(t, err)
	return e
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{name: "defaults"},
		{name: "custom threshold", opts: []Option{WithThreshold(3)}},
		{name: "bounded baselines", opts: []Option{WithBaselineCapacity(4)}},
		{name: "zero threshold", opts: []Option{WithThreshold(0)}, wantErr: detectors.ErrInvalidArgument},
		{name: "negative sensitivity", opts: []Option{WithSpikeSensitivity(-1)}, wantErr: detectors.ErrInvalidArgument},
		{name: "window too small", opts: []Option{WithTrendWindow(1)}, wantErr: detectors.ErrInvalidArgument},
		{name: "negative capacity", opts: []Option{WithBaselineCapacity(-1)}, wantErr: detectors.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.opts...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, e)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, e)
		})
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.ZThreshold = 3
	cfg.Forest.Trees = 10
	cfg.Forest.Workers = 2

	e, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3.0, e.detector.Threshold)
	assert.Equal(t, 10, e.trees)
	assert.Equal(t, 2, e.workers)

	e, err = FromConfig(nil, WithTrees(7))
	require.NoError(t, err)
	assert.Equal(t, 7, e.trees)
}

func TestDetect(t *testing.T) {
	e := newEngine(t)

	anomalies, err := e.Detect([]float64{0, 0, 0, 0, 0, 100})
	require.NoError(t, err)
	require.NotEmpty(t, anomalies)

	var found bool
	for _, a := range anomalies {
		assert.NotEqual(t, 0.0, a.Value, "zeros must not be reported")
		if a.Value == 100 {
			found = true
			assert.Equal(t, 5, a.Index)
			assert.Contains(t, []detectors.Kind{detectors.Outlier, detectors.Spike}, a.Kind)
			assert.Greater(t, a.Score, 0.0)
			assert.LessOrEqual(t, a.Score, 1.0)
		}
	}
	assert.True(t, found)
}

func TestDetectSortedAndBounded(t *testing.T) {
	e := newEngine(t)

	rng := rand.New(rand.NewSource(7))
	data := make([]float64, 200)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	data[50] = 40
	data[120], data[121], data[122], data[123] = 6, 6, 6, 6

	anomalies, err := e.Detect(data)
	require.NoError(t, err)
	require.NotEmpty(t, anomalies)

	for i, a := range anomalies {
		assert.GreaterOrEqual(t, a.Score, 0.0)
		assert.LessOrEqual(t, a.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, anomalies[i-1].Score, a.Score)
		}
	}
	assert.Equal(t, 50, anomalies[0].Index)
}

func TestBaselineRoundTrip(t *testing.T) {
	e := newEngine(t)

	require.NoError(t, e.UpdateBaseline("x", []float64{1, 2, 3, 4, 5}))
	assert.Equal(t, []string{"x"}, e.Baselines())

	isAnomaly, score, err := e.CheckAgainstBaseline("x", 3)
	require.NoError(t, err)
	assert.False(t, isAnomaly)
	assert.Equal(t, 0.0, score)

	isAnomaly, score, err = e.CheckAgainstBaseline("x", 1000)
	require.NoError(t, err)
	assert.True(t, isAnomaly)
	assert.Equal(t, 1.0, score)

	_, _, err = e.CheckAgainstBaseline("unseen", 0)
	assert.ErrorIs(t, err, detectors.ErrBaselineNotFound)
}

func TestFailedUpdateKeepsBaselines(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.UpdateBaseline("x", []float64{1, 2, 3, 4, 5}))

	err := e.UpdateBaseline("x", []float64{1, 2})
	assert.ErrorIs(t, err, detectors.ErrInsufficientData)

	isAnomaly, _, err := e.CheckAgainstBaseline("x", 3)
	require.NoError(t, err)
	assert.False(t, isAnomaly)

	err = e.UpdateBaseline("y", nil)
	assert.ErrorIs(t, err, detectors.ErrInsufficientData)
	assert.Equal(t, []string{"x"}, e.Baselines())
}

func TestIsAnomalous(t *testing.T) {
	e := newEngine(t)

	isAnomaly, _, err := e.IsAnomalous(3, []float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.False(t, isAnomaly)

	isAnomaly, score, err := e.IsAnomalous(1000, []float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.True(t, isAnomaly)
	assert.Equal(t, 1.0, score)

	assert.Empty(t, e.Baselines())
}

func TestIdempotentReset(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.UpdateBaseline("a", []float64{1, 2, 3}))
	require.NoError(t, e.UpdateBaseline("b", []float64{4, 5, 6}))

	e.Reset()
	e.Reset()

	assert.Empty(t, e.Baselines())
	for _, id := range []string{"a", "b"} {
		_, _, err := e.CheckAgainstBaseline(id, 1)
		assert.ErrorIs(t, err, detectors.ErrBaselineNotFound)
	}
}

func TestDetectWithIsolationForest(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	points := make([][]float64, 0, 21)
	for i := 0; i < 20; i++ {
		points = append(points, []float64{rng.Float64()*2 - 1, rng.Float64()*2 - 1})
	}
	points = append(points, []float64{100, 100})

	e := newEngine(t)
	indices, err := e.DetectWithIsolationForest(points, 0.1)
	require.NoError(t, err)
	assert.Contains(t, indices, 20)
	assert.IsIncreasing(t, indices)

	t.Run("reproducible across engines", func(t *testing.T) {
		a := newEngine(t, WithSeed(3))
		b := newEngine(t, WithSeed(3))

		got, err := a.DetectWithIsolationForest(points, 0.1)
		require.NoError(t, err)
		want, err := b.DetectWithIsolationForest(points, 0.1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("invalid contamination", func(t *testing.T) {
		for _, c := range []float64{0, 1, -0.1, 1.5, math.NaN()} {
			_, err := e.DetectWithIsolationForest(points, c)
			assert.ErrorIs(t, err, detectors.ErrInvalidArgument, "contamination %v", c)
		}
	})

	t.Run("ragged rows", func(t *testing.T) {
		ragged := append([][]float64{{1}}, points[:10]...)
		_, err := e.DetectWithIsolationForest(ragged, 0.1)
		assert.ErrorIs(t, err, detectors.ErrShapeMismatch)
	})
}

func TestScorePoint(t *testing.T) {
	e := newEngine(t)

	_, _, err := e.ScorePoint([]float64{0, 0})
	assert.ErrorIs(t, err, detectors.ErrModelNotTrained)

	rng := rand.New(rand.NewSource(5))
	points := make([][]float64, 100)
	for i := range points {
		points[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
	}
	_, err = e.DetectWithIsolationForest(points, 0.05)
	require.NoError(t, err)

	isAnomaly, outlierScore, err := e.ScorePoint([]float64{50, 50})
	require.NoError(t, err)
	assert.True(t, isAnomaly)

	_, inlierScore, err := e.ScorePoint([]float64{0, 0})
	require.NoError(t, err)
	assert.Greater(t, outlierScore, inlierScore)

	_, _, err = e.ScorePoint([]float64{1, 2, 3})
	assert.ErrorIs(t, err, detectors.ErrShapeMismatch)

	e.Reset()
	_, _, err = e.ScorePoint([]float64{0, 0})
	assert.ErrorIs(t, err, detectors.ErrModelNotTrained)
}

func TestDetectSpikes(t *testing.T) {
	e := newEngine(t)
	data := []float64{1, 2, 1, 2, 1, 20, 1, 2, 1, 2}

	anomalies, err := e.DetectSpikes(data, 0)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, 5, anomalies[0].Index)
	assert.Equal(t, detectors.Spike, anomalies[0].Kind)

	_, err = e.DetectSpikes(data, -1)
	assert.ErrorIs(t, err, detectors.ErrInvalidArgument)
}

func TestDetectTrendBreaks(t *testing.T) {
	e := newEngine(t)

	data := make([]float64, 20)
	for i := 0; i < 10; i++ {
		data[i] = float64(i)
	}
	for i := 10; i < 20; i++ {
		data[i] = 9
	}

	anomalies, err := e.DetectTrendBreaks(data, 0)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, 10, anomalies[0].Index)
	assert.Equal(t, detectors.Pattern, anomalies[0].Kind)
	assert.Equal(t, 1.0, anomalies[0].Score)
}

func TestInsufficientLength(t *testing.T) {
	e := newEngine(t)

	calls := map[string]func() error{
		"detect": func() error {
			_, err := e.Detect(make([]float64, 2))
			return err
		},
		"is anomalous": func() error {
			_, _, err := e.IsAnomalous(1, make([]float64, 2))
			return err
		},
		"isolation forest": func() error {
			_, err := e.DetectWithIsolationForest(make([][]float64, MinForestSamples-1), 0.1)
			return err
		},
		"update baseline": func() error {
			return e.UpdateBaseline("x", make([]float64, 2))
		},
		"spikes": func() error {
			_, err := e.DetectSpikes(make([]float64, 4), 1)
			return err
		},
		"trend breaks": func() error {
			_, err := e.DetectTrendBreaks(make([]float64, 19), 10)
			return err
		},
		"trend breaks small window": func() error {
			_, err := e.DetectTrendBreaks(make([]float64, 5), 3)
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), detectors.ErrInsufficientData)
		})
	}
}

func TestWatchBaseline(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.UpdateBaseline("latency", []float64{1, 2, 3, 4, 5}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	input := make(chan float64, 3)
	output := make(chan detectors.Score, 3)
	input <- 3
	input <- 1000
	input <- 2
	close(input)

	require.NoError(t, e.WatchBaseline(ctx, "latency", input, output))
	close(output)

	var results []detectors.Score
	for s := range output {
		results = append(results, s)
	}
	require.Len(t, results, 3)
	assert.False(t, results[0].IsAnomaly)
	assert.True(t, results[1].IsAnomaly)
	assert.Equal(t, []float64{1000}, results[1].Features)
	assert.Equal(t, "latency", results[1].Metadata["baseline"])

	t.Run("unknown baseline", func(t *testing.T) {
		in := make(chan float64, 1)
		in <- 1
		err := e.WatchBaseline(ctx, "missing", in, make(chan detectors.Score, 1))
		assert.ErrorIs(t, err, detectors.ErrBaselineNotFound)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, ccancel := context.WithCancel(context.Background())
		ccancel()
		err := e.WatchBaseline(cctx, "latency", make(chan float64), make(chan detectors.Score))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConcurrentOperations(t *testing.T) {
	e := newEngine(t, WithTrees(10))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, e.UpdateBaseline("shared", []float64{1, 2, 3, float64(j)}))
				_, _, err := e.CheckAgainstBaseline("shared", 2)
				assert.NoError(t, err)
				_, err = e.Detect([]float64{1, 2, 3, 4, float64(j)})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"shared"}, e.Baselines())
}

func TestOperationMetrics(t *testing.T) {
	e := newEngine(t)

	ok := metrics.OperationsTotal.WithLabelValues(OpDetectSpikes, metrics.StatusOK)
	failed := metrics.OperationsTotal.WithLabelValues(OpDetectSpikes, metrics.StatusError)
	spikes := metrics.AnomaliesDetected.WithLabelValues(OpDetectSpikes, detectors.Spike.String())

	okBefore := testutil.ToFloat64(ok)
	failedBefore := testutil.ToFloat64(failed)
	spikesBefore := testutil.ToFloat64(spikes)

	_, err := e.DetectSpikes([]float64{1, 2, 1, 2, 1, 20, 1, 2, 1, 2}, 0)
	require.NoError(t, err)
	_, err = e.DetectSpikes([]float64{1, 2}, 0)
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
	assert.Equal(t, spikesBefore+1, testutil.ToFloat64(spikes))
}

func TestBaselinesGaugeAcrossEngines(t *testing.T) {
	first := newEngine(t)
	second := newEngine(t)
	start := testutil.ToFloat64(metrics.BaselinesStored)

	require.NoError(t, first.UpdateBaseline("cpu", []float64{1, 2, 3}))
	require.NoError(t, first.UpdateBaseline("cpu", []float64{4, 5, 6}))
	require.NoError(t, second.UpdateBaseline("cpu", []float64{1, 2, 3}))
	require.NoError(t, second.UpdateBaseline("mem", []float64{1, 2, 3}))
	assert.Equal(t, start+3, testutil.ToFloat64(metrics.BaselinesStored))

	require.Error(t, second.UpdateBaseline("disk", []float64{1}))
	assert.Equal(t, start+3, testutil.ToFloat64(metrics.BaselinesStored))

	second.Reset()
	second.Reset()
	assert.Equal(t, start+1, testutil.ToFloat64(metrics.BaselinesStored))

	first.Reset()
	assert.Equal(t, start, testutil.ToFloat64(metrics.BaselinesStored))
}
