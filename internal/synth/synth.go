// Package synth generates seeded synthetic keystroke streams.
//
// Profiles cover an organic typist (log-normal flights and dwells, thinking
// pauses, corrections, rollover) and three classes of scripted input:
// constant interval, uniform jitter and Gaussian jitter. The output is a
// time-ordered []observer.Event suitable for SimulatedSource.Replay.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"keycadence/internal/observer"
)

// Shape selects a sampling distribution.
type Shape string

const (
	ShapeConstant  Shape = "constant"
	ShapeUniform   Shape = "uniform"
	ShapeGaussian  Shape = "gaussian"
	ShapeLogNormal Shape = "lognormal"
)

// Dist is a parameterised distribution.
//
//	constant:  A
//	uniform:   [A, B)
//	gaussian:  mean A, stddev B
//	lognormal: median A, log-space sigma B
type Dist struct {
	Shape Shape   `json:"shape"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
}

// Sample draws one value.
func (d Dist) Sample(rng *rand.Rand) float64 {
	switch d.Shape {
	case ShapeUniform:
		return d.A + (d.B-d.A)*rng.Float64()
	case ShapeGaussian:
		return d.A + d.B*rng.NormFloat64()
	case ShapeLogNormal:
		return d.A * math.Exp(d.B*rng.NormFloat64())
	default:
		return d.A
	}
}

// Profile describes a typist.
type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Human       bool   `json:"human"`

	Flight     Dist    `json:"flight"` // release-to-press gap, ms
	Dwell      Dist    `json:"dwell"`  // press-to-release hold, ms
	MinDwellMs float64 `json:"min_dwell_ms"`

	PauseProbability float64 `json:"pause_probability"`
	PauseMinMs       float64 `json:"pause_min_ms"`
	PauseMaxMs       float64 `json:"pause_max_ms"`

	CorrectionProbability float64 `json:"correction_probability"`
	RolloverProbability   float64 `json:"rollover_probability"`
	ChordProbability      float64 `json:"chord_probability"` // Ctrl+key shortcuts between keystrokes
}

const (
	startMs     = 1000.0
	minFlightMs = 1.0
	minDwellMs  = 1.0
	releaseGap  = 5.0
)

var profiles = map[string]Profile{
	"human": {
		Name:                  "human",
		Description:           "Organic typist with log-normal timing, pauses, corrections and rollover",
		Human:                 true,
		Flight:                Dist{Shape: ShapeLogNormal, A: 120, B: 0.45},
		Dwell:                 Dist{Shape: ShapeLogNormal, A: 95, B: 0.25},
		MinDwellMs:            30,
		PauseProbability:      0.06,
		PauseMinMs:            600,
		PauseMaxMs:            2000,
		CorrectionProbability: 0.05,
		RolloverProbability:   0.12,
		ChordProbability:      0.02,
	},
	"fast-human": {
		Name:                  "fast-human",
		Description:           "Experienced typist with quicker flights and frequent rollover",
		Human:                 true,
		Flight:                Dist{Shape: ShapeLogNormal, A: 85, B: 0.4},
		Dwell:                 Dist{Shape: ShapeLogNormal, A: 80, B: 0.22},
		MinDwellMs:            30,
		PauseProbability:      0.04,
		PauseMinMs:            550,
		PauseMaxMs:            1500,
		CorrectionProbability: 0.04,
		RolloverProbability:   0.2,
	},
	"constant": {
		Name:        "constant",
		Description: "Scripted input at a fixed 100 ms interval",
		Flight:      Dist{Shape: ShapeConstant, A: 50},
		Dwell:       Dist{Shape: ShapeConstant, A: 50},
	},
	"uniform": {
		Name:        "uniform",
		Description: "Scripted input with uniform random jitter",
		Flight:      Dist{Shape: ShapeUniform, A: 80, B: 120},
		Dwell:       Dist{Shape: ShapeUniform, A: 40, B: 60},
	},
	"gaussian": {
		Name:        "gaussian",
		Description: "Scripted input with Gaussian jitter",
		Flight:      Dist{Shape: ShapeGaussian, A: 100, B: 15},
		Dwell:       Dist{Shape: ShapeGaussian, A: 50, B: 5},
	},
}

// Lookup returns a built-in profile by name.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile: %s", name)
	}
	return p, nil
}

// Names returns the built-in profile names, sorted.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate produces count keystrokes (press and release pairs, plus any
// shortcut chords) for the profile. The same seed yields the same stream.
func Generate(p Profile, count int, seed int64) []observer.Event {
	rng := rand.New(rand.NewSource(seed))
	events := make([]observer.Event, 0, 2*count)

	var (
		prevPress, prevDwell, prevRelease float64
		lastRelease                       float64
		rolled                            bool
	)

	for i := 0; i < count; i++ {
		dwell := math.Max(p.Dwell.Sample(rng), math.Max(p.MinDwellMs, minDwellMs))

		var press float64
		switch {
		case i == 0:
			press = startMs
		case !rolled && rng.Float64() < p.RolloverProbability:
			// Press the next key before the previous one is released.
			overlap := 0.1 + 0.2*rng.Float64()
			press = prevPress + prevDwell*(1-overlap)
			if press+dwell <= prevRelease {
				dwell = prevRelease - press + releaseGap
			}
			rolled = true
		default:
			flight := math.Max(p.Flight.Sample(rng), minFlightMs)
			if rng.Float64() < p.PauseProbability {
				flight += p.PauseMinMs + (p.PauseMaxMs-p.PauseMinMs)*rng.Float64()
			}
			if rng.Float64() < p.ChordProbability {
				events = append(events, chord(lastRelease, flight)...)
			}
			press = lastRelease + flight
			rolled = false
		}

		kind := observer.KeyOther
		if rng.Float64() < p.CorrectionProbability {
			kind = observer.KeyBackspace
		}

		release := press + dwell
		events = append(events,
			observer.Event{Type: observer.EventKeyDown, Timestamp: press, Trusted: true, Kind: kind},
			observer.Event{Type: observer.EventKeyUp, Timestamp: release, Trusted: true, Kind: kind},
		)

		prevPress, prevDwell, prevRelease = press, dwell, release
		lastRelease = math.Max(lastRelease, release)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events
}

// chord places a Ctrl+key press and release inside the flight gap that
// starts at from.
func chord(from, flight float64) []observer.Event {
	ctrl := observer.Modifiers{Control: true}
	return []observer.Event{
		{Type: observer.EventKeyDown, Timestamp: from + flight*0.3, Trusted: true, Modifiers: ctrl},
		{Type: observer.EventKeyUp, Timestamp: from + flight*0.6, Trusted: true, Modifiers: ctrl},
	}
}

// Keystrokes counts the typing key presses in a stream, excluding repeats
// and shortcut chords.
func Keystrokes(events []observer.Event) int {
	n := 0
	for _, e := range events {
		if e.Type == observer.EventKeyDown && !e.Repeat && !e.Modifiers.Shortcut() {
			n++
		}
	}
	return n
}
