// Package baseline keeps per-identifier statistical baselines and judges single
// values against them.
package baseline

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hed1ad/goguardml/pkg/detectors"
	"github.com/hed1ad/goguardml/pkg/stats"
)

const (
	// MinSamples is the shortest sequence a baseline can be computed from.
	MinSamples = 3
	// DefaultThreshold is the z-score above which a value is anomalous.
	DefaultThreshold = 2.5
)

// Statistics is the summary stored for one identifier.
type Statistics struct {
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"std_dev"`
	Median    float64   `json:"median"`
	IQR       float64   `json:"iqr"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Compute summarizes data. At least MinSamples values are required.
func Compute(data []float64) (Statistics, error) {
	if len(data) < MinSamples {
		return Statistics{}, fmt.Errorf("baseline needs at least %d points, got %d: %w", MinSamples, len(data), detectors.ErrInsufficientData)
	}

	s, err := stats.Describe(data)
	if err != nil {
		return Statistics{}, err
	}

	return Statistics{
		Mean:      s.Mean,
		StdDev:    s.StdDev,
		Median:    s.Median,
		IQR:       s.IQR,
		Min:       s.Min,
		Max:       s.Max,
		Count:     s.Count,
		UpdatedAt: time.Now(),
	}, nil
}

// ZScore returns how many standard deviations value lies from the mean.
func (s Statistics) ZScore(value float64) float64 {
	return math.Abs(value-s.Mean) / math.Max(s.StdDev, stats.MinStdDev)
}

// Check reports whether value deviates from the baseline by more than
// threshold standard deviations, together with a score in [0, 1].
func (s Statistics) Check(value, threshold float64) (bool, float64) {
	z := s.ZScore(value)
	return z > threshold, detectors.ScoreFromZ(z)
}

// backend is the keyed storage behind Store.
type backend interface {
	Get(id string) (Statistics, bool)
	Add(id string, s Statistics) bool
	Keys() []string
	Len() int
	Purge()
}

// mapBackend is the unbounded backend.
type mapBackend map[string]Statistics

func (m mapBackend) Get(id string) (Statistics, bool) {
	s, ok := m[id]
	return s, ok
}

func (m mapBackend) Add(id string, s Statistics) bool {
	m[id] = s
	return false
}

func (m mapBackend) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func (m mapBackend) Len() int { return len(m) }

func (m mapBackend) Purge() { clear(m) }

// Store maps identifiers to baselines. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	entries  backend
	capacity int
	logger   *zap.SugaredLogger
}

// Config configures a Store.
type Config struct {
	// Capacity bounds the number of baselines; the least recently used one is
	// evicted when full. Zero means unbounded.
	Capacity int
	Logger   *zap.SugaredLogger
}

// NewStore creates a baseline store.
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.Capacity < 0 {
		return nil, fmt.Errorf("baseline capacity must not be negative, got %d: %w", config.Capacity, detectors.ErrInvalidArgument)
	}

	s := &Store{
		capacity: config.Capacity,
		logger:   config.Logger,
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if s.capacity == 0 {
		s.entries = mapBackend{}
		return nil
	}

	cache, err := lru.NewWithEvict[string, Statistics](s.capacity, func(id string, _ Statistics) {
		s.logger.Debugw("baseline evicted", "id", id)
	})
	if err != nil {
		return fmt.Errorf("create baseline cache: %w", err)
	}
	s.entries = lruBackend{cache}
	return nil
}

// lruBackend adapts the LRU cache to backend.
type lruBackend struct {
	cache *lru.Cache[string, Statistics]
}

func (b lruBackend) Get(id string) (Statistics, bool) { return b.cache.Get(id) }
func (b lruBackend) Add(id string, s Statistics) bool { return b.cache.Add(id, s) }
func (b lruBackend) Keys() []string { return b.cache.Keys() }
func (b lruBackend) Len() int { return b.cache.Len() }
func (b lruBackend) Purge() { b.cache.Purge() }

// Update computes the baseline of data and stores it under id, replacing any
// previous entry. On error the store is left unchanged.
func (s *Store) Update(id string, data []float64) (Statistics, error) {
	if id == "" {
		return Statistics{}, fmt.Errorf("baseline id must not be empty: %w", detectors.ErrInvalidArgument)
	}

	st, err := Compute(data)
	if err != nil {
		return Statistics{}, err
	}

	s.mu.Lock()
	evicted := s.entries.Add(id, st)
	s.mu.Unlock()

	s.logger.Debugw("baseline updated",
		"id", id,
		"count", st.Count,
		"mean", st.Mean,
		"std_dev", st.StdDev,
		"evicted", evicted)

	return st, nil
}

// Get returns the baseline stored under id.
func (s *Store) Get(id string) (Statistics, error) {
	// The LRU backend records recency on reads, so take the write lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.entries.Get(id)
	if !ok {
		return Statistics{}, fmt.Errorf("baseline %q: %w", id, detectors.ErrBaselineNotFound)
	}
	return st, nil
}

// Check judges value against the baseline stored under id.
func (s *Store) Check(id string, value, threshold float64) (bool, float64, error) {
	st, err := s.Get(id)
	if err != nil {
		return false, 0, err
	}
	isAnomaly, score := st.Check(value, threshold)
	return isAnomaly, score, nil
}

// IDs returns the stored identifiers in lexical order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := s.entries.Keys()
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of stored baselines.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Len()
}

// Reset removes every baseline.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
}
