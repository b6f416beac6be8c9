// Package config loads engine settings from defaults, an optional YAML file and
// ANOMALY_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment override, e.g. ANOMALY_FOREST_TREES.
const EnvPrefix = "ANOMALY"

// Config holds all settings of the engine and its command-line front end.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Forest   ForestConfig   `mapstructure:"forest" yaml:"forest"`
	Baseline BaselineConfig `mapstructure:"baseline" yaml:"baseline"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// EngineConfig holds the statistical detector cut-offs.
type EngineConfig struct {
	ZThreshold       float64 `mapstructure:"z_threshold" yaml:"z_threshold"`
	PatternDeviation float64 `mapstructure:"pattern_deviation" yaml:"pattern_deviation"`
	PatternMinRun    int     `mapstructure:"pattern_min_run" yaml:"pattern_min_run"`
	FenceMultiplier  float64 `mapstructure:"fence_multiplier" yaml:"fence_multiplier"` // 0 disables the IQR fence pass
	SpikeSensitivity float64 `mapstructure:"spike_sensitivity" yaml:"spike_sensitivity"`
	TrendWindow      int     `mapstructure:"trend_window" yaml:"trend_window"`
	TrendSlopeDelta  float64 `mapstructure:"trend_slope_delta" yaml:"trend_slope_delta"`
}

// ForestConfig holds the isolation forest hyperparameters.
type ForestConfig struct {
	Trees         int   `mapstructure:"trees" yaml:"trees"`
	MaxSampleSize int   `mapstructure:"max_sample_size" yaml:"max_sample_size"`
	Seed          int64 `mapstructure:"seed" yaml:"seed"`
	Workers       int   `mapstructure:"workers" yaml:"workers"` // 0 = GOMAXPROCS
}

// BaselineConfig configures the baseline store.
type BaselineConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"` // 0 = unbounded
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"` // json or console
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.z_threshold", 2.5)
	v.SetDefault("engine.pattern_deviation", 1.5)
	v.SetDefault("engine.pattern_min_run", 3)
	v.SetDefault("engine.fence_multiplier", 1.5)
	v.SetDefault("engine.spike_sensitivity", 1.0)
	v.SetDefault("engine.trend_window", 10)
	v.SetDefault("engine.trend_slope_delta", 0.5)

	v.SetDefault("forest.trees", 100)
	v.SetDefault("forest.max_sample_size", 256)
	v.SetDefault("forest.seed", 42)
	v.SetDefault("forest.workers", 0)

	v.SetDefault("baseline.capacity", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.encoding", "console")
}

// Default returns the built-in configuration. It ignores config files and
// the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration: %v", err))
	}
	return cfg
}

// Load reads configuration from path (skipped when empty), applying defaults
// first and environment overrides last.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case e.ZThreshold <= 0:
		return fmt.Errorf("engine.z_threshold must be positive")
	case e.PatternDeviation <= 0:
		return fmt.Errorf("engine.pattern_deviation must be positive")
	case e.PatternMinRun < 1:
		return fmt.Errorf("engine.pattern_min_run must be at least 1")
	case e.FenceMultiplier < 0:
		return fmt.Errorf("engine.fence_multiplier must not be negative")
	case e.SpikeSensitivity <= 0:
		return fmt.Errorf("engine.spike_sensitivity must be positive")
	case e.TrendWindow < 2:
		return fmt.Errorf("engine.trend_window must be at least 2")
	case e.TrendSlopeDelta <= 0:
		return fmt.Errorf("engine.trend_slope_delta must be positive")
	}

	f := c.Forest
	switch {
	case f.Trees < 1:
		return fmt.Errorf("forest.trees must be at least 1")
	case f.MaxSampleSize < 2:
		return fmt.Errorf("forest.max_sample_size must be at least 2")
	case f.Workers < 0:
		return fmt.Errorf("forest.workers must not be negative")
	}

	if c.Baseline.Capacity < 0 {
		return fmt.Errorf("baseline.capacity must not be negative")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		return fmt.Errorf("log.encoding must be json or console, got %q", c.Log.Encoding)
	}

	return nil
}

// NewLogger builds a zap logger from the log settings.
func (l LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = l.Encoding

	return zc.Build()
}
