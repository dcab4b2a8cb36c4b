// Package detector is the entry point for scoring one input field.
//
// A Detector owns an observer attached to an event source, an analyzer with
// its classification state, and a scheduler that decides when keystrokes
// trigger recomputation. Detectors never share state.
package detector

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"keycadence/internal/analyzer"
	"keycadence/internal/clock"
	"keycadence/internal/config"
	"keycadence/internal/logging"
	"keycadence/internal/metrics"
	"keycadence/internal/observer"
	"keycadence/internal/scheduler"
)

var (
	// ErrNilSource is returned when no event source is supplied.
	ErrNilSource = errors.New("detector: nil event source")
	// ErrDestroyed is returned when a destroyed detector is restarted.
	ErrDestroyed = errors.New("detector: destroyed")
)

// Config holds the detector settings.
type Config struct {
	WindowSize int
	Scoring    analyzer.Config

	// Schedule selects automatic recomputation. In ModeImmediate the caller
	// drives recomputation through Analyze.
	Schedule scheduler.Mode
	Delay    time.Duration
}

// DefaultConfig returns the default detector settings.
func DefaultConfig() Config {
	return Config{
		WindowSize: observer.DefaultWindowSize,
		Scoring:    analyzer.DefaultConfig(),
		Schedule:   scheduler.ModeDeferred,
		Delay:      scheduler.DefaultDelay,
	}
}

// ConfigFrom converts a loaded configuration.
func ConfigFrom(c *config.Config) (Config, error) {
	scoring, err := c.Scoring()
	if err != nil {
		return Config{}, err
	}
	mode, err := scheduler.ParseMode(c.Scheduler.Mode)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return Config{
		WindowSize: c.Detector.WindowSize,
		Scoring:    scoring,
		Schedule:   mode,
		Delay:      time.Duration(c.Scheduler.DelayMs) * time.Millisecond,
	}, nil
}

// Result is an analysis tagged with the detector session.
type Result struct {
	analyzer.Result
	SessionID string  `json:"session_id"`
	At        float64 `json:"at_ms"`
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger. The default is logging.Default().
func WithLogger(l *logging.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithMetrics exports analyses to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithScheduler overrides the scheduler chosen by Config.Schedule.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(d *Detector) { d.sched = s }
}

// WithIdleHook lets a deferred scheduler wait for host idle time instead of
// a fixed delay.
func WithIdleHook(h scheduler.IdleHook) Option {
	return func(d *Detector) { d.idle = h }
}

// WithClock sets the clock used to stamp results and time analyses.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// Detector scores the keystrokes of one event source.
type Detector struct {
	id       string
	cfg      Config
	obs      *observer.Observer
	analyzer *analyzer.Analyzer

	sched   scheduler.Scheduler
	idle    scheduler.IdleHook
	log     *logging.Logger
	metrics *metrics.Metrics
	clock   clock.Clock

	mu        sync.Mutex
	listeners []func(Result)
	lastClass analyzer.Classification
	last      *Result
	started   bool
	destroyed bool
}

// New creates a detector for source. It does not start listening.
func New(source observer.EventSource, cfg Config, opts ...Option) (*Detector, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	an, err := analyzer.New(cfg.Scoring)
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}

	d := &Detector{
		id:        uuid.NewString(),
		cfg:       cfg,
		obs:       observer.New(source, cfg.WindowSize),
		analyzer:  an,
		lastClass: analyzer.ClassUnknown,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.sched == nil && cfg.Schedule != scheduler.ModeImmediate {
		s, err := scheduler.New(cfg.Schedule, cfg.Delay, d.idle)
		if err != nil {
			return nil, fmt.Errorf("detector: %w", err)
		}
		d.sched = s
	}
	if d.log == nil {
		d.log = logging.Default()
	}
	d.log = d.log.WithComponent("detector").WithSession(d.id)
	if d.clock == nil {
		d.clock = clock.NewMonotonic()
	}

	d.obs.OnKeystroke(d.keystroke)
	return d, nil
}

// SessionID identifies this detector in logs and metrics.
func (d *Detector) SessionID() string {
	return d.id
}

// Start attaches to the event source. Starting a listening detector is a
// no-op.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return ErrDestroyed
	}
	if d.started {
		return nil
	}
	d.obs.Start()
	d.started = true
	if d.metrics != nil {
		d.metrics.DetectorStarted()
	}
	d.log.Debug("detector started", "window_size", d.cfg.WindowSize, "schedule", string(d.cfg.Schedule))
	return nil
}

// Stop detaches from the event source and cancels pending work. Collected
// state is kept.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Detector) stopLocked() {
	if d.sched != nil {
		d.sched.Cancel()
	}
	if !d.started {
		return
	}
	d.obs.Stop()
	d.started = false
	if d.metrics != nil {
		d.metrics.DetectorStopped()
	}
	d.log.Debug("detector stopped")
}

// Listening reports whether the detector is attached.
func (d *Detector) Listening() bool {
	return d.obs.Listening()
}

// Reset clears timing state and classification and cancels pending work.
// The detector keeps listening if it was.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sched != nil {
		d.sched.Cancel()
	}
	d.obs.Clear()
	d.analyzer.Reset()
	d.lastClass = analyzer.ClassUnknown
	d.last = nil
}

// Destroy stops the detector, clears its state and releases listeners.
// A destroyed detector cannot be restarted.
func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return
	}
	d.stopLocked()
	d.obs.Destroy()
	d.analyzer.Reset()
	d.listeners = nil
	d.last = nil
	d.destroyed = true
	if d.metrics != nil {
		d.metrics.Forget(d.id)
	}
}

// OnResult registers fn to receive every analysis, including those
// triggered by the scheduler.
func (d *Detector) OnResult(fn func(Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Snapshot returns the observer state.
func (d *Detector) Snapshot() observer.Snapshot {
	return d.obs.Snapshot()
}

// Last returns the most recent analysis, if any.
func (d *Detector) Last() (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Result{}, false
	}
	return *d.last, true
}

// Analyze computes the score now and notifies listeners.
func (d *Detector) Analyze() Result {
	start := d.clock.Now()
	r := d.analyzer.Analyze(d.obs.Snapshot())
	end := d.clock.Now()

	res := Result{Result: r, SessionID: d.id, At: end}

	d.mu.Lock()
	prev := d.lastClass
	if r.Classification != "" {
		d.lastClass = r.Classification
	}
	d.last = &res
	listeners := append([]func(Result){}, d.listeners...)
	d.mu.Unlock()

	d.record(res, prev, time.Duration((end-start)*float64(time.Millisecond)))

	for _, fn := range listeners {
		fn(res)
	}
	return res
}

func (d *Detector) record(res Result, prev analyzer.Classification, took time.Duration) {
	d.log.Debug("analysis",
		"score", res.Score,
		"confident", res.Confident,
		"sample_count", res.SampleCount,
		"classification", string(res.Classification),
	)
	changed := res.Classification != "" && res.Classification != prev
	if changed {
		d.log.Info("classification changed", "from", string(prev), "to", string(res.Classification))
	}

	if d.metrics == nil {
		return
	}
	d.metrics.Analysis(d.id, res.Score, res.Confident, res.SampleCount, took)
	if changed {
		d.metrics.Transition(string(prev), string(res.Classification))
	}
	if res.Signals.PasteDetected {
		d.metrics.Signal("paste")
	}
	if res.Signals.SyntheticEvents > 0 {
		d.metrics.Signal("synthetic")
	}
	if res.Signals.InputWithoutKeystrokes {
		d.metrics.Signal("input_without_keystrokes")
	}
}

// keystroke runs on the event delivery path after each accepted key release.
func (d *Detector) keystroke() {
	if d.metrics != nil {
		d.metrics.Keystroke()
	}
	if d.sched == nil {
		return
	}
	d.sched.Schedule(d.recompute)
}

func (d *Detector) recompute() {
	d.mu.Lock()
	skip := d.destroyed || !d.started
	d.mu.Unlock()
	if skip {
		return
	}
	d.Analyze()
}
