// Package config handles configuration loading, validation, and management for keycadence.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"keycadence/internal/analyzer"
	"keycadence/internal/antispoof"
	"keycadence/internal/logging"
	"keycadence/internal/observer"
	"keycadence/internal/scheduler"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYCADENCE_"

// Config holds the complete configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Detector    DetectorConfig    `toml:"detector" json:"detector" yaml:"detector"`
	Analyzer    AnalyzerConfig    `toml:"analyzer" json:"analyzer" yaml:"analyzer"`
	Classifier  ClassifierConfig  `toml:"classifier" json:"classifier" yaml:"classifier"`
	Scheduler   SchedulerConfig   `toml:"scheduler" json:"scheduler" yaml:"scheduler"`
	Logging     LoggingConfig     `toml:"logging" json:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `toml:"metrics" json:"metrics" yaml:"metrics"`
	Calibration CalibrationConfig `toml:"calibration" json:"calibration" yaml:"calibration"`
}

// DetectorConfig sizes the timing windows.
type DetectorConfig struct {
	// WindowSize is the capacity of the dwell and flight buffers.
	WindowSize int `toml:"window_size" json:"window_size" yaml:"window_size"`

	// MinSamples is the dwell count required before a result is confident.
	MinSamples int `toml:"min_samples" json:"min_samples" yaml:"min_samples"`
}

// AnalyzerConfig holds scoring weights and the anti-spoof coefficient.
type AnalyzerConfig struct {
	// Weights overrides per-metric weights by metric name. Missing metrics
	// keep their default weight.
	Weights map[string]float64 `toml:"weights" json:"weights" yaml:"weights"`

	// KSCoefficient sets the KS critical value c in c/sqrt(n).
	KSCoefficient float64 `toml:"ks_coefficient" json:"ks_coefficient" yaml:"ks_coefficient"`
}

// ClassifierConfig controls the hysteresis label.
type ClassifierConfig struct {
	Enabled    bool    `toml:"enabled" json:"enabled" yaml:"enabled"`
	EnterBot   float64 `toml:"enter_bot" json:"enter_bot" yaml:"enter_bot"`
	ExitBot    float64 `toml:"exit_bot" json:"exit_bot" yaml:"exit_bot"`
	ExitHuman  float64 `toml:"exit_human" json:"exit_human" yaml:"exit_human"`
	EnterHuman float64 `toml:"enter_human" json:"enter_human" yaml:"enter_human"`
}

// SchedulerConfig selects when recomputation happens.
type SchedulerConfig struct {
	// Mode is "immediate" or "deferred".
	Mode    string `toml:"mode" json:"mode" yaml:"mode"`
	DelayMs int    `toml:"delay_ms" json:"delay_ms" yaml:"delay_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int64  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Namespace  string `toml:"namespace" json:"namespace" yaml:"namespace"`
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// CalibrationConfig drives the calibrate command.
type CalibrationConfig struct {
	DBPath       string    `toml:"db_path" json:"db_path" yaml:"db_path"`
	Trials       int       `toml:"trials" json:"trials" yaml:"trials"`
	Keystrokes   int       `toml:"keystrokes" json:"keystrokes" yaml:"keystrokes"`
	Coefficients []float64 `toml:"coefficients" json:"coefficients" yaml:"coefficients"`
	Profiles     []string  `toml:"profiles" json:"profiles" yaml:"profiles"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	th := analyzer.DefaultThresholds()
	return &Config{
		Version: Version,
		Detector: DetectorConfig{
			WindowSize: observer.DefaultWindowSize,
			MinSamples: analyzer.DefaultMinSamples,
		},
		Analyzer: AnalyzerConfig{
			Weights:       map[string]float64{},
			KSCoefficient: antispoof.KSCriticalCoefficient,
		},
		Classifier: ClassifierConfig{
			Enabled:    true,
			EnterBot:   th.EnterBot,
			ExitBot:    th.ExitBot,
			ExitHuman:  th.ExitHuman,
			EnterHuman: th.EnterHuman,
		},
		Scheduler: SchedulerConfig{
			Mode:    string(scheduler.ModeDeferred),
			DelayMs: int(scheduler.DefaultDelay.Milliseconds()),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformDataDir(), "keycadence.log"),
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Namespace:  "keycadence",
			ListenAddr: "127.0.0.1:9464",
		},
		Calibration: CalibrationConfig{
			DBPath:       filepath.Join(PlatformDataDir(), "calibration.db"),
			Trials:       20,
			Keystrokes:   120,
			Coefficients: []float64{1.36, 1.48, 1.63, 1.73, 1.95},
			Profiles:     []string{"human", "fast-human", "constant", "uniform", "gaussian"},
		},
	}
}

// Load reads a config file, applies environment overrides and validates.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as TOML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode TOML: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0640); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies KEYCADENCE_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidationErrors

	setInt := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, ValidationError{Field: EnvPrefix + name, Message: "not an integer: " + v})
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, ValidationError{Field: EnvPrefix + name, Message: "not a number: " + v})
				return
			}
			*dst = f
		}
	}
	setBool := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, ValidationError{Field: EnvPrefix + name, Message: "not a boolean: " + v})
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	setInt("WINDOW_SIZE", &c.Detector.WindowSize)
	setInt("MIN_SAMPLES", &c.Detector.MinSamples)
	setFloat("KS_COEFFICIENT", &c.Analyzer.KSCoefficient)
	setBool("CLASSIFY", &c.Classifier.Enabled)
	setString("SCHEDULE_MODE", &c.Scheduler.Mode)
	setInt("SCHEDULE_DELAY_MS", &c.Scheduler.DelayMs)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	setString("LOG_OUTPUT", &c.Logging.Output)
	setString("LOG_PATH", &c.Logging.FilePath)
	setBool("METRICS_ENABLED", &c.Metrics.Enabled)
	setString("METRICS_ADDR", &c.Metrics.ListenAddr)
	setString("CALIBRATION_DB", &c.Calibration.DBPath)

	// KEYCADENCE_WEIGHT_FLIGHTFIT=0.4 and friends.
	for _, m := range analyzer.AllMetrics {
		name := "WEIGHT_" + strings.ToUpper(string(m))
		if _, ok := os.LookupEnv(EnvPrefix + name); !ok {
			continue
		}
		var w float64
		setFloat(name, &w)
		if c.Analyzer.Weights == nil {
			c.Analyzer.Weights = map[string]float64{}
		}
		c.Analyzer.Weights[string(m)] = w
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Analyzer.Weights = make(map[string]float64, len(c.Analyzer.Weights))
	for k, v := range c.Analyzer.Weights {
		clone.Analyzer.Weights[k] = v
	}
	clone.Calibration.Coefficients = append([]float64{}, c.Calibration.Coefficients...)
	clone.Calibration.Profiles = append([]string{}, c.Calibration.Profiles...)
	return &clone
}

// Scoring converts the analyzer and classifier sections.
func (c *Config) Scoring() (analyzer.Config, error) {
	weights := analyzer.DefaultWeights()
	overrides := analyzer.Weights{}
	for name, w := range c.Analyzer.Weights {
		m, err := analyzer.ParseMetric(name)
		if err != nil {
			return analyzer.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		overrides[m] = w
	}

	opts := antispoof.DefaultOptions()
	if c.Analyzer.KSCoefficient > 0 {
		opts.Coefficient = c.Analyzer.KSCoefficient
	}

	return analyzer.Config{
		Weights:    weights.With(overrides),
		MinSamples: c.Detector.MinSamples,
		AntiSpoof:  opts,
		Classify:   c.Classifier.Enabled,
		Thresholds: analyzer.Thresholds{
			EnterBot:   c.Classifier.EnterBot,
			ExitBot:    c.Classifier.ExitBot,
			ExitHuman:  c.Classifier.ExitHuman,
			EnterHuman: c.Classifier.EnterHuman,
		},
	}, nil
}

// Logger builds a logger from the logging section.
func (c *Config) Logger(component string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     c.Logging.Output,
		FilePath:   c.Logging.FilePath,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		Component:  component,
	})
}
