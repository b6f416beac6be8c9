// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/goguardml/pkg/detectors"
)

const (
	// DefaultTrees is the default ensemble size.
	DefaultTrees = 100
	// DefaultSampleSize is the default upper bound of the per-tree subsample.
	DefaultSampleSize = 256
	// DefaultContamination is the default expected share of anomalies.
	DefaultContamination = 0.1

	eulerGamma = 0.5772156649
)

var _ detectors.StreamDetector = (*IsolationForest)(nil)

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	maxSampleSize int
	contamination float64
	seed          int64
	workers       int
	logger        *zap.SugaredLogger

	// Trained model
	trees      []*iTree
	trained    bool
	nFeatures  int
	sampleSize int
	maxDepth   int
	threshold  float64

	// c(sampleSize), the normalizer of the anomaly score
	avgPathLength float64
}

// iTree represents a single isolation tree.
type iTree struct {
	root *node
}

// node is a node in the isolation tree. A node without children is a leaf.
type node struct {
	// Split parameters (for internal nodes)
	splitFeature int
	splitValue   float64

	// Children
	left  *node
	right *node

	// Leaf information
	size int // number of samples that reached this leaf
}

func (n *node) isLeaf() bool {
	return n.left == nil && n.right == nil
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the upper bound of the subsample drawn for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.maxSampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// WithWorkers bounds the number of trees built concurrently.
func WithWorkers(n int) Option {
	return func(f *IsolationForest) {
		f.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(f *IsolationForest) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        DefaultTrees,
		maxSampleSize: DefaultSampleSize,
		contamination: DefaultContamination,
		seed:          42,
		workers:       runtime.GOMAXPROCS(0),
		logger:        zap.NewNop().Sugar(),
		threshold:     0.5,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.nTrees < 1 {
		f.nTrees = 1
	}
	if f.maxSampleSize < 1 {
		f.maxSampleSize = DefaultSampleSize
	}
	if f.workers < 1 {
		f.workers = 1
	}

	return f
}

// Fit trains the Isolation Forest on the provided data, replacing any earlier
// model, and calibrates the threshold so that the top contamination share of
// the training points score above it.
func (f *IsolationForest) Fit(data [][]float64) error {
	nFeatures, err := validate(data)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	nSamples := len(data)
	sampleSize := min(f.maxSampleSize, nSamples)
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	// One seed per tree keeps the forest reproducible however the trees are scheduled.
	master := rand.New(rand.NewSource(f.seed))
	seeds := make([]int64, f.nTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*iTree, f.nTrees)
	var g errgroup.Group
	g.SetLimit(f.workers)
	for i := range trees {
		i := i // per-iteration copy: preserves Go 1.22+ loop semantics under go 1.21
		g.Go(func() error {
			b := builder{
				rng:       rand.New(rand.NewSource(seeds[i])),
				nFeatures: nFeatures,
				maxDepth:  maxDepth,
			}
			// Sample without replacement
			indices := b.rng.Perm(nSamples)[:sampleSize]
			sample := make([][]float64, sampleSize)
			for j, idx := range indices {
				sample[j] = data[idx]
			}
			trees[i] = &iTree{root: b.buildNode(sample, 0)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.trees = trees
	f.nFeatures = nFeatures
	f.sampleSize = sampleSize
	f.maxDepth = maxDepth
	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.trained = true

	scores := f.predict(data)
	f.threshold = contaminationThreshold(scores, f.contamination)

	f.logger.Debugw("isolation forest fitted",
		"samples", nSamples,
		"features", nFeatures,
		"trees", f.nTrees,
		"sample_size", sampleSize,
		"max_depth", maxDepth,
		"threshold", f.threshold)

	return nil
}

// validate checks that data is non-empty and rectangular and returns its arity.
func validate(data [][]float64) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty training data: %w", detectors.ErrInsufficientData)
	}
	nFeatures := len(data[0])
	if nFeatures == 0 {
		return 0, fmt.Errorf("samples have no features: %w", detectors.ErrShapeMismatch)
	}
	for i, row := range data {
		if len(row) != nFeatures {
			return 0, fmt.Errorf("sample %d has %d features, want %d: %w", i, len(row), nFeatures, detectors.ErrShapeMismatch)
		}
	}
	return nFeatures, nil
}

// builder grows one tree. Each tree owns its builder so trees can grow in parallel.
type builder struct {
	rng       *rand.Rand
	nFeatures int
	maxDepth  int
}

func (b *builder) buildNode(data [][]float64, depth int) *node {
	n := len(data)

	// Terminal conditions
	if depth >= b.maxDepth || n <= 1 {
		return &node{size: n}
	}

	// Random feature and split value
	feature := b.rng.Intn(b.nFeatures)

	// Find min/max for this feature
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		minVal = math.Min(minVal, row[feature])
		maxVal = math.Max(maxVal, row[feature])
	}

	// If all values are the same, return leaf
	if minVal == maxVal {
		return &node{size: n}
	}

	splitValue := minVal + b.rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         b.buildNode(leftData, depth+1),
		right:        b.buildNode(rightData, depth+1),
	}
}

// Predict returns anomaly scores for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrModelNotTrained
	}
	for i, sample := range data {
		if len(sample) != f.nFeatures {
			return nil, fmt.Errorf("sample %d has %d features, want %d: %w", i, len(sample), f.nFeatures, detectors.ErrShapeMismatch)
		}
	}

	return f.predict(data), nil
}

func (f *IsolationForest) predict(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.score(sample)
	}
	return scores
}

// PredictOne returns the anomaly score for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, detectors.ErrModelNotTrained
	}
	if len(sample) != f.nFeatures {
		return 0, fmt.Errorf("sample has %d features, want %d: %w", len(sample), f.nFeatures, detectors.ErrShapeMismatch)
	}

	return f.score(sample), nil
}

// IsAnomaly scores sample and reports whether it lies above the threshold.
func (f *IsolationForest) IsAnomaly(sample []float64) (bool, float64, error) {
	score, err := f.PredictOne(sample)
	if err != nil {
		return false, 0, err
	}
	return score > f.Threshold(), score, nil
}

// Anomalies returns the ascending indices of the samples scoring above the threshold.
func (f *IsolationForest) Anomalies(data [][]float64) ([]int, error) {
	scores, err := f.Predict(data)
	if err != nil {
		return nil, err
	}

	threshold := f.Threshold()
	indices := []int{}
	for i, score := range scores {
		if score > threshold {
			indices = append(indices, i)
		}
	}
	return indices, nil
}

func (f *IsolationForest) score(sample []float64) float64 {
	// Average path length across all trees
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))

	// A single-sample forest has no normalizer; every point is equally (un)usual.
	if f.avgPathLength == 0 {
		return 0.5
	}

	// Anomaly score: 2^(-avgPath / c(n))
	// Higher score = more anomalous
	return math.Pow(2, -avgPath/f.avgPathLength)
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *node, currentDepth int) float64 {
	if n.isLeaf() {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.size))
	}

	if sample[n.splitFeature] < n.splitValue {
		return pathLength(sample, n.left, currentDepth+1)
	}
	return pathLength(sample, n.right, currentDepth+1)
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, with H(i) ≈ ln(i) + γ
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

// contaminationThreshold returns the score at rank floor(contamination*n) of
// the descending scores.
func contaminationThreshold(scores []float64, contamination float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	rank := int(math.Floor(contamination * float64(len(sorted))))
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

// PredictStream processes samples from a channel.
func (f *IsolationForest) PredictStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	f.mu.RLock()
	trained := f.trained
	f.mu.RUnlock()
	if !trained {
		return detectors.ErrModelNotTrained
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			isAnomaly, score, err := f.IsAnomaly(sample)
			if err != nil {
				f.logger.Warnw("skipping sample", "features", len(sample), "error", err)
				continue
			}

			select {
			case output <- detectors.Score{
				Value:     score,
				IsAnomaly: isAnomaly,
				Features:  sample,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// SetThreshold updates the anomaly threshold.
func (f *IsolationForest) SetThreshold(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = t
}

// Trained reports whether Fit has completed.
func (f *IsolationForest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trained
}
