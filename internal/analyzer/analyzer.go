// Package analyzer turns observer state into a humanity score.
//
// Six metrics are computed, each a pure function of the observer snapshot:
//
//	dwellVariance    spread of key hold times
//	flightFit        anti-spoof distribution fit of inter-key intervals
//	timingEntropy    histogram entropy and dynamic range of intervals
//	correctionRatio  backspace/delete usage
//	burstRegularity  irregularity of pauses between typing bursts
//	rolloverRate     overlapping key presses
//
// Metrics without behavioural evidence are dropped from the weighted average
// along with their weight, so absence of a signal neither raises nor lowers
// the composite.
package analyzer

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"keycadence/internal/antispoof"
	"keycadence/internal/observer"
	"keycadence/internal/stats"
)

// DefaultMinSamples is the dwell count required before a result is confident.
const DefaultMinSamples = 20

// ErrInvalidWeights is returned for negative or non-finite weights.
var ErrInvalidWeights = errors.New("invalid metric weights")

// Metric names one scoring channel.
type Metric string

const (
	DwellVariance   Metric = "dwellVariance"
	FlightFit       Metric = "flightFit"
	TimingEntropy   Metric = "timingEntropy"
	CorrectionRatio Metric = "correctionRatio"
	BurstRegularity Metric = "burstRegularity"
	RolloverRate    Metric = "rolloverRate"
)

// AllMetrics lists the channels in reporting order.
var AllMetrics = []Metric{
	DwellVariance,
	FlightFit,
	TimingEntropy,
	CorrectionRatio,
	BurstRegularity,
	RolloverRate,
}

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	for _, m := range AllMetrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric: %s", s)
}

// Weights assigns a non-negative weight to each metric. They need not sum to 1.
type Weights map[Metric]float64

// DefaultWeights returns the default channel weights.
func DefaultWeights() Weights {
	return Weights{
		DwellVariance:   0.15,
		FlightFit:       0.30,
		TimingEntropy:   0.20,
		CorrectionRatio: 0.10,
		BurstRegularity: 0.10,
		RolloverRate:    0.15,
	}
}

// With returns a copy of w with overrides applied.
func (w Weights) With(overrides Weights) Weights {
	out := make(Weights, len(w)+len(overrides))
	for m, v := range w {
		out[m] = v
	}
	for m, v := range overrides {
		out[m] = v
	}
	return out
}

// Validate rejects negative, NaN or infinite weights.
func (w Weights) Validate() error {
	for m, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidWeights, m, v)
		}
	}
	return nil
}

// Scores holds the tagged outcome of every metric.
type Scores map[Metric]Score

// Combine folds scores into the composite: metrics without evidence
// contribute neither weight nor value. Returns 0 when nothing contributes,
// which is distinct from a neutral 0.5.
func Combine(scores Scores, w Weights) float64 {
	var num, den float64
	for _, m := range AllMetrics {
		v, ok := scores[m].Value()
		if !ok {
			continue
		}
		weight := w[m]
		num += weight * v
		den += weight
	}
	if den == 0 {
		return 0
	}
	return stats.Clamp(num/den, 0, 1)
}

// Metrics is the per-channel report. Channels without evidence show Neutral.
type Metrics struct {
	DwellVariance   float64 `json:"dwell_variance"`
	FlightFit       float64 `json:"flight_fit"`
	TimingEntropy   float64 `json:"timing_entropy"`
	CorrectionRatio float64 `json:"correction_ratio"`
	BurstRegularity float64 `json:"burst_regularity"`
	RolloverRate    float64 `json:"rollover_rate"`
}

func reportMetrics(s Scores) Metrics {
	return Metrics{
		DwellVariance:   s[DwellVariance].Report(),
		FlightFit:       s[FlightFit].Report(),
		TimingEntropy:   s[TimingEntropy].Report(),
		CorrectionRatio: s[CorrectionRatio].Report(),
		BurstRegularity: s[BurstRegularity].Report(),
		RolloverRate:    s[RolloverRate].Report(),
	}
}

// Signals are non-timing observations. Callers should suppress decisions
// based on a low score when any of them is set; they frequently indicate
// assistive technology rather than an adversary.
type Signals struct {
	PasteDetected               bool `json:"paste_detected"`
	SyntheticEvents             int  `json:"synthetic_events"`
	InputWithoutKeystrokes      bool `json:"input_without_keystrokes"`
	InputWithoutKeystrokesCount int  `json:"input_without_keystrokes_count"`
}

// Result is the output of one analysis.
type Result struct {
	Score          float64          `json:"score"`
	Metrics        Metrics          `json:"metrics"`
	SampleCount    int              `json:"sample_count"`
	Confident      bool             `json:"confident"`
	// Classification is empty when classification is disabled and does
	// not move while Confident is false.
	Classification Classification   `json:"classification,omitempty"`
	Spoof          antispoof.Result `json:"spoof"`
	Signals        Signals          `json:"signals"`

	scores Scores
}

// Scores returns the tagged per-metric scores behind the report.
func (r Result) Scores() Scores {
	return r.scores
}

// Config controls scoring.
type Config struct {
	Weights    Weights
	MinSamples int
	AntiSpoof  antispoof.Options

	// Classify enables the hysteresis label.
	Classify   bool
	Thresholds Thresholds
}

// DefaultConfig returns the default scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights:    DefaultWeights(),
		MinSamples: DefaultMinSamples,
		AntiSpoof:  antispoof.DefaultOptions(),
		Classify:   true,
		Thresholds: DefaultThresholds(),
	}
}

// Validate checks weights and, when classification is enabled, thresholds.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.MinSamples < 0 {
		return fmt.Errorf("min samples must be non-negative, got %d", c.MinSamples)
	}
	if c.Classify {
		if err := c.Thresholds.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Analyze scores a snapshot. It is a pure function of its inputs.
func Analyze(s observer.Snapshot, cfg Config) Result {
	flightFit, spoof := ScoreFlightFit(s.Flights, cfg.AntiSpoof)
	scores := Scores{
		DwellVariance:   ScoreDwellVariance(s.Dwells),
		FlightFit:       flightFit,
		TimingEntropy:   ScoreTimingEntropy(s.Flights),
		CorrectionRatio: ScoreCorrectionRatio(s.Corrections, s.Total),
		BurstRegularity: ScoreBurstRegularity(s.Flights),
		RolloverRate:    ScoreRolloverRate(s.Rollovers, s.Total),
	}

	return Result{
		Score:       Combine(scores, cfg.Weights),
		Metrics:     reportMetrics(scores),
		SampleCount: len(s.Dwells),
		Confident:   len(s.Dwells) >= cfg.MinSamples,
		Spoof:       spoof,
		Signals: Signals{
			PasteDetected:               s.PasteDetected,
			SyntheticEvents:             s.SyntheticEvents,
			InputWithoutKeystrokes:      s.InputWithoutKeystrokes,
			InputWithoutKeystrokesCount: s.InputWithoutKeystrokesCount,
		},
		scores: scores,
	}
}

// Analyzer pairs scoring with the stateful classifier.
type Analyzer struct {
	mu         sync.Mutex
	cfg        Config
	classifier *Classifier
}

// New creates an analyzer. The config is validated.
func New(cfg Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{cfg: cfg}
	if cfg.Classify {
		a.classifier = NewClassifier(cfg.Thresholds)
	}
	return a, nil
}

// Config returns the analyzer's configuration.
func (a *Analyzer) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Analyze scores s and, when classification is enabled, advances the label.
// Only confident results move the label; earlier results report the current
// state unchanged.
func (a *Analyzer) Analyze(s observer.Snapshot) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Analyze(s, a.cfg)
	if a.classifier != nil {
		if r.Confident {
			r.Classification = a.classifier.Update(r.Score)
		} else {
			r.Classification = a.classifier.State()
		}
	}
	return r
}

// Reset returns the classifier to unknown.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.classifier != nil {
		a.classifier.Reset()
	}
}
