// Package calibration measures how well the scorer separates synthetic
// human typists from scripted input across KS critical-value coefficients.
//
// Each profile is generated for a number of seeded trials, replayed through
// an observer and scored. For every coefficient the run reports per-profile
// score statistics and the separation margin: the lowest human mean minus
// the highest bot mean.
package calibration

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"keycadence/internal/analyzer"
	"keycadence/internal/logging"
	"keycadence/internal/observer"
	"keycadence/internal/stats"
	"keycadence/internal/synth"
)

// ErrInvalidConfig is returned by Run for unusable settings.
var ErrInvalidConfig = errors.New("invalid calibration config")

// Config drives a calibration run.
type Config struct {
	Profiles     []string  `json:"profiles"`
	Coefficients []float64 `json:"coefficients"`
	Trials       int       `json:"trials"`
	Keystrokes   int       `json:"keystrokes"`
	Seed         int64     `json:"seed"`

	Scoring analyzer.Config `json:"-"`
}

// DefaultConfig returns a run over every built-in profile.
func DefaultConfig() Config {
	return Config{
		Profiles:     synth.Names(),
		Coefficients: []float64{1.36, 1.48, 1.63, 1.73, 1.95},
		Trials:       20,
		Keystrokes:   120,
		Seed:         1,
		Scoring:      analyzer.DefaultConfig(),
	}
}

func (c Config) validate() ([]synth.Profile, error) {
	if len(c.Profiles) == 0 {
		return nil, fmt.Errorf("%w: no profiles", ErrInvalidConfig)
	}
	if len(c.Coefficients) == 0 {
		return nil, fmt.Errorf("%w: no coefficients", ErrInvalidConfig)
	}
	if c.Trials < 1 {
		return nil, fmt.Errorf("%w: trials must be positive", ErrInvalidConfig)
	}
	if c.Keystrokes < 1 {
		return nil, fmt.Errorf("%w: keystrokes must be positive", ErrInvalidConfig)
	}
	for _, k := range c.Coefficients {
		if !(k > 0) || math.IsInf(k, 0) {
			return nil, fmt.Errorf("%w: coefficient %v", ErrInvalidConfig, k)
		}
	}
	profiles := make([]synth.Profile, 0, len(c.Profiles))
	for _, name := range c.Profiles {
		p, err := synth.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		profiles = append(profiles, p)
	}
	if err := c.Scoring.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return profiles, nil
}

// Fingerprint is the hex BLAKE2b-256 digest of the run inputs, weights
// included. Runs with equal fingerprints are reproducible copies.
func (c Config) Fingerprint() string {
	weights := make(map[string]float64, len(c.Scoring.Weights))
	for m, w := range c.Scoring.Weights {
		weights[string(m)] = w
	}
	data, _ := json.Marshal(struct {
		Config
		Weights    map[string]float64 `json:"weights"`
		MinSamples int                `json:"min_samples"`
	}{c, weights, c.Scoring.MinSamples})
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ProfileResult summarises one profile's scores at one coefficient.
type ProfileResult struct {
	Profile       string  `json:"profile"`
	Human         bool    `json:"human"`
	Trials        int     `json:"trials"`
	MeanScore     float64 `json:"mean_score"`
	StdDev        float64 `json:"stddev"`
	MinScore      float64 `json:"min_score"`
	MaxScore      float64 `json:"max_score"`
	ConfidentRate float64 `json:"confident_rate"`
	MeanGenuine   float64 `json:"mean_genuine"`
}

// CoefficientResult collects the profile results for one coefficient.
type CoefficientResult struct {
	Coefficient float64         `json:"coefficient"`
	Profiles    []ProfileResult `json:"profiles"`

	// Margin is min(human mean) - max(bot mean). It is only meaningful when
	// Comparable: the run scored at least one human and one bot profile.
	Margin     float64 `json:"margin"`
	Comparable bool    `json:"comparable"`
}

// Separated reports whether every human profile outscored every bot profile
// on average.
func (r CoefficientResult) Separated() bool {
	return r.Comparable && r.Margin > 0
}

// Report is the outcome of a run.
type Report struct {
	RunID       string              `json:"run_id"`
	Fingerprint string              `json:"fingerprint"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Config      Config              `json:"config"`
	Results     []CoefficientResult `json:"results"`
}

// Best returns the coefficient with the widest margin. Ties go to the
// smaller coefficient. ok is false when no margin is defined.
func (r *Report) Best() (coefficient, width float64, ok bool) {
	for _, cr := range r.Results {
		if !cr.Comparable {
			continue
		}
		if !ok || cr.Margin > width || (cr.Margin == width && cr.Coefficient < coefficient) {
			coefficient, width, ok = cr.Coefficient, cr.Margin, true
		}
	}
	return coefficient, width, ok
}

// Run executes the calibration. It checks ctx between trials.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	profiles, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	log := logging.Default().WithComponent("calibration")
	report := &Report{
		RunID:       uuid.NewString(),
		Fingerprint: cfg.Fingerprint(),
		StartedAt:   time.Now().UTC(),
		Config:      cfg,
	}
	log.Debug("calibration started",
		"run_id", report.RunID,
		"profiles", len(profiles),
		"coefficients", len(cfg.Coefficients),
		"trials", cfg.Trials,
	)

	// Streams depend only on profile and seed, so they are shared by every
	// coefficient.
	snapshots := make([][]observer.Snapshot, len(profiles))
	for i, p := range profiles {
		snapshots[i] = make([]observer.Snapshot, cfg.Trials)
		for trial := 0; trial < cfg.Trials; trial++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			snapshots[i][trial] = observe(synth.Generate(p, cfg.Keystrokes, cfg.Seed+int64(trial)))
		}
	}

	coefficients := append([]float64{}, cfg.Coefficients...)
	sort.Float64s(coefficients)

	for _, k := range coefficients {
		scoring := cfg.Scoring
		scoring.AntiSpoof.Coefficient = k

		cr := CoefficientResult{Coefficient: k}
		for i, p := range profiles {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			cr.Profiles = append(cr.Profiles, summarise(p, snapshots[i], scoring))
		}
		cr.Margin, cr.Comparable = margin(cr.Profiles)
		report.Results = append(report.Results, cr)

		log.Debug("coefficient scored", "coefficient", k, "margin", cr.Margin)
	}

	report.FinishedAt = time.Now().UTC()
	if best, m, ok := report.Best(); ok {
		log.Debug("calibration finished", "run_id", report.RunID, "best_coefficient", best, "margin", m)
	} else {
		log.Debug("calibration finished", "run_id", report.RunID)
	}
	return report, nil
}

func observe(events []observer.Event) observer.Snapshot {
	src := observer.NewSimulatedSource()
	obs := observer.New(src, observer.DefaultWindowSize)
	obs.Start()
	defer obs.Stop()
	src.Replay(events)
	return obs.Snapshot()
}

func summarise(p synth.Profile, snaps []observer.Snapshot, scoring analyzer.Config) ProfileResult {
	scores := make([]float64, len(snaps))
	genuine := make([]float64, len(snaps))
	confident := 0
	for i, s := range snaps {
		r := analyzer.Analyze(s, scoring)
		scores[i] = r.Score
		genuine[i] = r.Spoof.GenuineScore
		if r.Confident {
			confident++
		}
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	return ProfileResult{
		Profile:       p.Name,
		Human:         p.Human,
		Trials:        len(snaps),
		MeanScore:     stats.Mean(scores),
		StdDev:        stats.StdDev(scores),
		MinScore:      lo,
		MaxScore:      hi,
		ConfidentRate: float64(confident) / float64(len(snaps)),
		MeanGenuine:   stats.Mean(genuine),
	}
}

func margin(results []ProfileResult) (float64, bool) {
	minHuman, maxBot := math.Inf(1), math.Inf(-1)
	for _, r := range results {
		if r.Human {
			minHuman = math.Min(minHuman, r.MeanScore)
		} else {
			maxBot = math.Max(maxBot, r.MeanScore)
		}
	}
	if math.IsInf(minHuman, 1) || math.IsInf(maxBot, -1) {
		return 0, false
	}
	return minHuman - maxBot, true
}

// ErrNotSeparated is returned by SelfTest when the organic profile fails to
// outscore scripted input.
var ErrNotSeparated = errors.New("scorer does not separate human from scripted input")

// SelfTest scores a small fixed run of the human and constant profiles
// under scoring and fails unless the human mean is higher.
func SelfTest(ctx context.Context, scoring analyzer.Config) error {
	report, err := Run(ctx, Config{
		Profiles:     []string{"human", "constant"},
		Coefficients: []float64{scoring.AntiSpoof.Coefficient},
		Trials:       2,
		Keystrokes:   60,
		Seed:         1,
		Scoring:      scoring,
	})
	if err != nil {
		return err
	}
	if cr := report.Results[0]; !cr.Separated() {
		return fmt.Errorf("%w: margin %.3f", ErrNotSeparated, cr.Margin)
	}
	return nil
}
