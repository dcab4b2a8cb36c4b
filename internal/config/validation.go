package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"keycadence/internal/analyzer"
	"keycadence/internal/logging"
	"keycadence/internal/scheduler"
	"keycadence/internal/synth"
)

// ErrInvalidConfig matches any validation failure via errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrInvalidConfig) true.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Version < 1 || c.Version > Version {
		add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	if c.Detector.WindowSize < 1 {
		add("detector.window_size", "must be at least 1")
	}
	if c.Detector.MinSamples < 0 {
		add("detector.min_samples", "must be non-negative")
	}
	if c.Detector.MinSamples > c.Detector.WindowSize {
		add("detector.min_samples", "%d exceeds window_size %d and could never be reached",
			c.Detector.MinSamples, c.Detector.WindowSize)
	}

	for name, w := range c.Analyzer.Weights {
		if _, err := analyzer.ParseMetric(name); err != nil {
			add("analyzer.weights."+name, "unknown metric")
			continue
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			add("analyzer.weights."+name, "must be a finite non-negative number")
		}
	}
	if c.Analyzer.KSCoefficient < 0 || math.IsNaN(c.Analyzer.KSCoefficient) {
		add("analyzer.ks_coefficient", "must be positive (0 selects the default)")
	}

	if c.Classifier.Enabled {
		th := analyzer.Thresholds{
			EnterBot:   c.Classifier.EnterBot,
			ExitBot:    c.Classifier.ExitBot,
			ExitHuman:  c.Classifier.ExitHuman,
			EnterHuman: c.Classifier.EnterHuman,
		}
		if err := th.Validate(); err != nil {
			add("classifier", "%v", err)
		}
	}

	if _, err := scheduler.ParseMode(c.Scheduler.Mode); err != nil {
		add("scheduler.mode", "must be immediate or deferred")
	}
	if c.Scheduler.DelayMs < 0 {
		add("scheduler.delay_ms", "must be non-negative")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		add("logging.format", "%v", err)
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr", "discard":
	case "file", "both":
		if c.Logging.FilePath == "" {
			add("logging.file_path", "required when output includes a file")
		}
	default:
		add("logging.output", "must be stdout, stderr, file, both or discard")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		add("metrics.listen_addr", "required when metrics are enabled")
	}

	if c.Calibration.Trials < 1 {
		add("calibration.trials", "must be at least 1")
	}
	if c.Calibration.Keystrokes < 1 {
		add("calibration.keystrokes", "must be at least 1")
	}
	for i, k := range c.Calibration.Coefficients {
		if k <= 0 {
			add(fmt.Sprintf("calibration.coefficients[%d]", i), "must be positive")
		}
	}
	for i, p := range c.Calibration.Profiles {
		if _, err := synth.Lookup(p); err != nil {
			add(fmt.Sprintf("calibration.profiles[%d]", i), "%v", err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
