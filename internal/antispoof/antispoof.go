// Package antispoof scores how plausibly a set of inter-key intervals was
// produced by a human typist rather than a timing generator.
//
// Human inter-key intervals are approximately log-normal and weakly serially
// correlated. Simple bots emit constant, uniformly jittered or memoryless
// intervals. Three signals are combined:
//
//   - log-normality: one-sample Kolmogorov-Smirnov fit of log(intervals)
//     against a normal fitted by the sample's own mean and deviation
//   - uniformity: KS fit against Uniform(min, max) of the sample
//   - serial correlation: |lag-1 autocorrelation| above a noise floor
//
// Every sub-score is exported in Result so callers can explain a low score.
package antispoof

import (
	"math"
	"sort"

	"keycadence/internal/stats"
)

const (
	// MinSamples is the minimum number of positive intervals for a fit test.
	MinSamples = 5

	// KSCriticalCoefficient scales the KS critical value c/sqrt(n).
	// 1.63 is the 1% level; the textbook 5% value (1.36) over-rejects real
	// flight times, which mix several digraph-specific distributions.
	KSCriticalCoefficient = 1.63

	// Neutral is reported when there is not enough data to test.
	Neutral = 0.5

	passFloor = 0.7 // lowest score of a sample that passes the KS test

	correlationNoiseFloor = 0.05
	correlationCeiling    = 0.3
)

// Weights fuse the three sub-scores into GenuineScore.
type Weights struct {
	LogNormality      float64
	AntiUniformity    float64
	SerialCorrelation float64
}

// DefaultWeights favour the log-normal fit, then anti-uniformity.
func DefaultWeights() Weights {
	return Weights{
		LogNormality:      0.5,
		AntiUniformity:    0.3,
		SerialCorrelation: 0.2,
	}
}

// Options tunes the detector. The zero value is not valid; use DefaultOptions.
type Options struct {
	Coefficient float64
	Weights     Weights
}

// DefaultOptions returns the calibrated defaults.
func DefaultOptions() Options {
	return Options{
		Coefficient: KSCriticalCoefficient,
		Weights:     DefaultWeights(),
	}
}

// Result is the outcome of Detect.
type Result struct {
	GenuineScore      float64 `json:"genuine_score"`
	LogNormality      float64 `json:"log_normality"`
	Uniformity        float64 `json:"uniformity"`
	SerialCorrelation float64 `json:"serial_correlation"`
	SampleCount       int     `json:"sample_count"`
}

// LogNormalityScore tests samples against a log-normal distribution using
// the package default coefficient.
func LogNormalityScore(samples []float64) float64 {
	return logNormalityScore(samples, KSCriticalCoefficient)
}

// UniformityScore tests samples against Uniform(min, max) using the package
// default coefficient. A high score means the sample looks uniform.
func UniformityScore(samples []float64) float64 {
	return uniformityScore(samples, KSCriticalCoefficient)
}

// Detect computes the composite genuineness score with default options.
func Detect(samples []float64) Result {
	return DefaultOptions().Detect(samples)
}

// Detect computes the composite genuineness score.
func (o Options) Detect(samples []float64) Result {
	c := o.Coefficient
	if c <= 0 {
		c = KSCriticalCoefficient
	}

	logNorm := logNormalityScore(samples, c)
	uniform := uniformityScore(samples, c)

	corr := 0.0
	if len(samples) >= 3 {
		corr = stats.Autocorrelation(samples)
	}

	w := o.Weights
	genuine := w.LogNormality*logNorm +
		w.AntiUniformity*(1-uniform) +
		w.SerialCorrelation*correlationScore(corr)

	return Result{
		GenuineScore:      stats.Clamp(genuine, 0, 1),
		LogNormality:      logNorm,
		Uniformity:        uniform,
		SerialCorrelation: corr,
		SampleCount:       len(samples),
	}
}

// correlationScore maps |r| to [0,1]. Values under the noise floor are
// indistinguishable from an independent generator and score 0.
func correlationScore(r float64) float64 {
	a := math.Abs(r)
	if a < correlationNoiseFloor {
		return 0
	}
	return math.Min(1, a/correlationCeiling)
}

func logNormalityScore(samples []float64, coefficient float64) float64 {
	logs := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s > 0 {
			logs = append(logs, math.Log(s))
		}
	}
	if len(logs) < MinSamples {
		return Neutral
	}

	// Perfectly constant timing: a generator, not a hand.
	if lo, hi := stats.MinMax(logs); lo == hi {
		return 0
	}
	mean := stats.Mean(logs)
	sd := stats.StdDev(logs)

	d := ksStatistic(logs, func(x float64) float64 {
		return stats.NormalCDF(x, mean, sd)
	})
	return ksScore(d, len(logs), coefficient)
}

func uniformityScore(samples []float64, coefficient float64) float64 {
	if len(samples) < MinSamples {
		return Neutral
	}
	lo, hi := stats.MinMax(samples)
	span := hi - lo
	if span == 0 {
		// Constant is a different bot signature, not uniform.
		return 0
	}

	d := ksStatistic(samples, func(x float64) float64 {
		return stats.Clamp((x-lo)/span, 0, 1)
	})
	return ksScore(d, len(samples), coefficient)
}

// ksStatistic returns the one-sample Kolmogorov-Smirnov D for cdf.
// Formula: D = max_i max(|i/n - F(x_i)|, |(i+1)/n - F(x_i)|) over sorted x
func ksStatistic(samples []float64, cdf func(float64) float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	d := 0.0
	for i, x := range sorted {
		f := cdf(x)
		lower := math.Abs(float64(i)/n - f)
		upper := math.Abs(float64(i+1)/n - f)
		d = math.Max(d, math.Max(lower, upper))
	}
	return d
}

// ksScore maps D onto [0,1]: a passing fit lands in [0.7, 1], a failing fit
// decays smoothly below 0.7.
func ksScore(d float64, n int, coefficient float64) float64 {
	critical := coefficient / math.Sqrt(float64(n))
	if d <= critical {
		return passFloor + (1-passFloor)*(1-d/critical)
	}
	return math.Max(0, passFloor*critical/d)
}
