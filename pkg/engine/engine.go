// Package engine is the single entry point to the detectors. An Engine owns a
// baseline store and the most recently fitted isolation forest and serializes
// every public operation behind one mutex.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hed1ad/goguardml/pkg/baseline"
	"github.com/hed1ad/goguardml/pkg/config"
	"github.com/hed1ad/goguardml/pkg/detectors"
	"github.com/hed1ad/goguardml/pkg/detectors/iforest"
	"github.com/hed1ad/goguardml/pkg/detectors/statistical"
	"github.com/hed1ad/goguardml/pkg/metrics"
)

// MinForestSamples is the smallest data set accepted by DetectWithIsolationForest.
const MinForestSamples = 10

// Operation names used in logs and metric labels.
const (
	OpDetect            = "detect"
	OpIsAnomalous       = "is_anomalous"
	OpIsolationForest   = "isolation_forest"
	OpUpdateBaseline    = "update_baseline"
	OpCheckBaseline     = "check_baseline"
	OpDetectSpikes      = "detect_spikes"
	OpDetectTrendBreaks = "detect_trend_breaks"
	OpScorePoint        = "score_point"
	OpWatchBaseline     = "watch_baseline"
)

// Engine runs the statistical detectors and the isolation forest.
type Engine struct {
	mu sync.Mutex

	logger      *zap.SugaredLogger
	detector    statistical.Config
	sensitivity float64
	trendWindow int

	trees            int
	maxSampleSize    int
	workers          int
	seed             int64
	baselineCapacity int

	rng       *rand.Rand
	baselines *baseline.Store
	forest    *iforest.IsolationForest
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStatisticalConfig replaces the cut-offs of the statistical detectors.
func WithStatisticalConfig(c statistical.Config) Option {
	return func(e *Engine) {
		e.detector = c
	}
}

// WithThreshold sets the z-score cut-off shared by Detect, DetectSpikes and
// the baseline checks.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		e.detector.Threshold = t
	}
}

// WithSpikeSensitivity sets the sensitivity used when DetectSpikes is called with 0.
func WithSpikeSensitivity(s float64) Option {
	return func(e *Engine) {
		e.sensitivity = s
	}
}

// WithTrendWindow sets the window used when DetectTrendBreaks is called with 0.
func WithTrendWindow(w int) Option {
	return func(e *Engine) {
		e.trendWindow = w
	}
}

// WithTrees sets the number of trees of every fitted forest.
func WithTrees(n int) Option {
	return func(e *Engine) {
		e.trees = n
	}
}

// WithMaxSampleSize bounds the per-tree subsample of every fitted forest.
func WithMaxSampleSize(n int) Option {
	return func(e *Engine) {
		e.maxSampleSize = n
	}
}

// WithWorkers bounds the number of trees built concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithSeed seeds the generator that derives per-fit forest seeds.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.seed = seed
	}
}

// WithBaselineCapacity bounds the number of stored baselines. Zero means unbounded.
func WithBaselineCapacity(n int) Option {
	return func(e *Engine) {
		e.baselineCapacity = n
	}
}

// New creates an Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:        zap.NewNop().Sugar(),
		detector:      statistical.DefaultConfig(),
		sensitivity:   statistical.DefaultSensitivity,
		trendWindow:   statistical.DefaultTrendWindow,
		trees:         iforest.DefaultTrees,
		maxSampleSize: iforest.DefaultSampleSize,
		seed:          42,
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := e.detector.Validate(); err != nil {
		return nil, err
	}
	if !(e.sensitivity > 0) {
		return nil, fmt.Errorf("spike sensitivity must be positive, got %v: %w", e.sensitivity, detectors.ErrInvalidArgument)
	}
	if e.trendWindow < 2 {
		return nil, fmt.Errorf("trend window must be at least 2, got %d: %w", e.trendWindow, detectors.ErrInvalidArgument)
	}

	store, err := baseline.NewStore(&baseline.Config{
		Capacity: e.baselineCapacity,
		Logger:   e.logger.Named("baseline"),
	})
	if err != nil {
		return nil, err
	}
	e.baselines = store
	e.rng = rand.New(rand.NewSource(e.seed))

	return e, nil
}

// FromConfig creates an Engine from loaded configuration. Extra options are
// applied after the configured values.
func FromConfig(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	base := []Option{
		WithStatisticalConfig(statistical.Config{
			Threshold:        cfg.Engine.ZThreshold,
			PatternDeviation: cfg.Engine.PatternDeviation,
			MinRunLength:     cfg.Engine.PatternMinRun,
			FenceMultiplier:  cfg.Engine.FenceMultiplier,
			SlopeDelta:       cfg.Engine.TrendSlopeDelta,
		}),
		WithSpikeSensitivity(cfg.Engine.SpikeSensitivity),
		WithTrendWindow(cfg.Engine.TrendWindow),
		WithTrees(cfg.Forest.Trees),
		WithMaxSampleSize(cfg.Forest.MaxSampleSize),
		WithWorkers(cfg.Forest.Workers),
		WithSeed(cfg.Forest.Seed),
		WithBaselineCapacity(cfg.Baseline.Capacity),
	}

	return New(append(base, opts...)...)
}

// Detect runs global z-score, fence and pattern detection over data. The
// result is sorted by descending score.
func (e *Engine) Detect(data []float64) (_ []detectors.Anomaly, err error) {
	defer e.observe(OpDetect, time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	anomalies, err := statistical.Detect(data, e.detector)
	if err != nil {
		return nil, err
	}

	e.record(OpDetect, anomalies)
	e.logger.Debugw("detection finished", "points", len(data), "anomalies", len(anomalies))
	return anomalies, nil
}

// IsAnomalous judges value against a baseline computed from reference on the
// fly. Nothing is stored.
func (e *Engine) IsAnomalous(value float64, reference []float64) (_ bool, _ float64, err error) {
	defer e.observe(OpIsAnomalous, time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := baseline.Compute(reference)
	if err != nil {
		return false, 0, err
	}

	isAnomaly, score := st.Check(value, e.detector.Threshold)
	if isAnomaly {
		metrics.AnomaliesDetected.WithLabelValues(OpIsAnomalous, detectors.Outlier.String()).Inc()
	}
	return isAnomaly, score, nil
}

// DetectWithIsolationForest fits a fresh forest on data and returns the
// ascending indices of the rows scoring above the contamination threshold.
// The fitted forest is kept for ScorePoint.
func (e *Engine) DetectWithIsolationForest(data [][]float64, contamination float64) (_ []int, err error) {
	defer e.observe(OpIsolationForest, time.Now(), &err)

	if len(data) < MinForestSamples {
		return nil, fmt.Errorf("isolation forest needs at least %d samples, got %d: %w", MinForestSamples, len(data), detectors.ErrInsufficientData)
	}
	if !(contamination > 0 && contamination < 1) {
		return nil, fmt.Errorf("contamination must lie in (0, 1), got %v: %w", contamination, detectors.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	opts := []iforest.Option{
		iforest.WithTrees(e.trees),
		iforest.WithSampleSize(e.maxSampleSize),
		iforest.WithContamination(contamination),
		iforest.WithSeed(e.rng.Int63()),
		iforest.WithLogger(e.logger.Named("iforest")),
	}
	if e.workers > 0 {
		opts = append(opts, iforest.WithWorkers(e.workers))
	}
	forest := iforest.New(opts...)

	start := time.Now()
	if err := forest.Fit(data); err != nil {
		return nil, err
	}
	metrics.ForestFitDuration.Observe(time.Since(start).Seconds())

	indices, err := forest.Anomalies(data)
	if err != nil {
		return nil, err
	}
	e.forest = forest

	metrics.AnomaliesDetected.WithLabelValues(OpIsolationForest, detectors.Outlier.String()).Add(float64(len(indices)))
	e.logger.Infow("isolation forest detection finished",
		"samples", len(data),
		"contamination", contamination,
		"threshold", forest.Threshold(),
		"anomalies", len(indices))

	return indices, nil
}

// ScorePoint scores sample against the forest fitted by the last
// DetectWithIsolationForest call.
func (e *Engine) ScorePoint(sample []float64) (_ bool, _ float64, err error) {
	defer e.observe(OpScorePoint, time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.forest == nil {
		return false, 0, fmt.Errorf("score point: %w", detectors.ErrModelNotTrained)
	}
	return e.forest.IsAnomaly(sample)
}

// UpdateBaseline computes a baseline from data and stores it under id,
// replacing any previous one. On error the stored baselines are unchanged.
func (e *Engine) UpdateBaseline(id string, data []float64) (err error) {
	defer e.observe(OpUpdateBaseline, time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.baselines.Len()
	if _, err := e.baselines.Update(id, data); err != nil {
		return err
	}
	metrics.BaselinesStored.Add(float64(e.baselines.Len() - before))
	return nil
}

// CheckAgainstBaseline judges value against the baseline stored under id.
func (e *Engine) CheckAgainstBaseline(id string, value float64) (_ bool, _ float64, err error) {
	defer e.observe(OpCheckBaseline, time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	isAnomaly, score, err := e.baselines.Check(id, value, e.detector.Threshold)
	if err != nil {
		return false, 0, err
	}
	if isAnomaly {
		metrics.AnomaliesDetected.WithLabelValues(OpCheckBaseline, detectors.Outlier.String()).Inc()
		e.logger.Debugw("value deviates from baseline", "id", id, "value", value, "score", score)
	}
	return isAnomaly, score, nil
}

// Baselines returns the stored baseline identifiers in lexical order.
func (e *Engine) Baselines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baselines.IDs()
}

// DetectSpikes reports local spikes and drops. A sensitivity of 0 selects
// the configured default.
func (e *Engine) DetectSpikes(data []float64, sensitivity float64) (_ []detectors.Anomaly, err error) {
	defer e.observe(OpDetectSpikes, time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	if sensitivity == 0 {
		sensitivity = e.sensitivity
	}

	anomalies, err := statistical.DetectSpikes(data, sensitivity, e.detector)
	if err != nil {
		return nil, err
	}

	e.record(OpDetectSpikes, anomalies)
	return anomalies, nil
}

// DetectTrendBreaks reports slope changes between adjacent windows. A window
// of 0 selects the configured default.
func (e *Engine) DetectTrendBreaks(data []float64, window int) (_ []detectors.Anomaly, err error) {
	defer e.observe(OpDetectTrendBreaks, time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	if window == 0 {
		window = e.trendWindow
	}

	anomalies, err := statistical.DetectTrendBreaks(data, window, e.detector)
	if err != nil {
		return nil, err
	}

	e.record(OpDetectTrendBreaks, anomalies)
	return anomalies, nil
}

// Reset drops every baseline and the fitted forest and reseeds the forest
// seed generator. It never fails and is idempotent.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	metrics.BaselinesStored.Sub(float64(e.baselines.Len()))
	e.baselines.Reset()
	e.forest = nil
	e.rng = rand.New(rand.NewSource(e.seed))

	e.logger.Debugw("engine reset")
}

// WatchBaseline checks every value received from input against the baseline
// stored under id and sends the result to output. The baseline is looked up
// per value, so updates made while watching take effect immediately. It
// returns when input is closed, ctx is done or the baseline disappears.
// output is not closed.
func (e *Engine) WatchBaseline(ctx context.Context, id string, input <-chan float64, output chan<- detectors.Score) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case value, ok := <-input:
			if !ok {
				return nil
			}

			isAnomaly, score, err := e.CheckAgainstBaseline(id, value)
			if err != nil {
				return fmt.Errorf("%s %q: %w", OpWatchBaseline, id, err)
			}

			select {
			case output <- detectors.Score{
				Value:     score,
				IsAnomaly: isAnomaly,
				Features:  []float64{value},
				Metadata:  map[string]any{"baseline": id},
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	status := metrics.StatusOK
	if *err != nil {
		status = metrics.StatusError
		e.logger.Debugw("operation failed", "operation", op, "error", *err)
	}
	metrics.OperationsTotal.WithLabelValues(op, status).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *Engine) record(op string, anomalies []detectors.Anomaly) {
	for _, a := range anomalies {
		metrics.AnomaliesDetected.WithLabelValues(op, a.Kind.String()).Inc()
	}
}
