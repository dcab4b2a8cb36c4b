package analyzer

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned when the hysteresis bands overlap.
var ErrInvalidThresholds = errors.New("invalid classification thresholds")

// Classification is the stable label derived from the score.
//
// An Analyzer only feeds confident results to its classifier. Until the
// dwell window reaches MinSamples the label stays where it was, which is
// ClassUnknown for a fresh session, whatever the score says.
type Classification string

const (
	ClassBot     Classification = "bot"
	ClassUnknown Classification = "unknown"
	ClassHuman   Classification = "human"
)

// Thresholds define two dead zones:
// EnterBot < ExitBot < ExitHuman < EnterHuman.
type Thresholds struct {
	EnterBot   float64 `json:"enter_bot"`
	ExitBot    float64 `json:"exit_bot"`
	ExitHuman  float64 `json:"exit_human"`
	EnterHuman float64 `json:"enter_human"`
}

// DefaultThresholds returns the default bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EnterBot:   0.35,
		ExitBot:    0.45,
		ExitHuman:  0.55,
		EnterHuman: 0.65,
	}
}

// Validate checks ordering and range.
func (t Thresholds) Validate() error {
	if t.EnterBot < 0 || t.EnterHuman > 1 {
		return fmt.Errorf("%w: thresholds must lie in [0,1]", ErrInvalidThresholds)
	}
	if !(t.EnterBot < t.ExitBot && t.ExitBot < t.ExitHuman && t.ExitHuman < t.EnterHuman) {
		return fmt.Errorf("%w: need enter_bot < exit_bot < exit_human < enter_human, got %v < %v < %v < %v",
			ErrInvalidThresholds, t.EnterBot, t.ExitBot, t.ExitHuman, t.EnterHuman)
	}
	return nil
}

// Transition is the Schmitt-trigger step function. bot and human are never
// adjacent: leaving either passes through unknown.
func Transition(state Classification, score float64, t Thresholds) Classification {
	switch state {
	case ClassBot:
		if score >= t.ExitBot {
			return ClassUnknown
		}
		return ClassBot
	case ClassHuman:
		if score < t.ExitHuman {
			return ClassUnknown
		}
		return ClassHuman
	default:
		switch {
		case score < t.EnterBot:
			return ClassBot
		case score >= t.EnterHuman:
			return ClassHuman
		default:
			return ClassUnknown
		}
	}
}

// Classifier holds the label across calls. Not safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
	state      Classification
}

// NewClassifier starts in ClassUnknown.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t, state: ClassUnknown}
}

// Update advances the label with a new score.
func (c *Classifier) Update(score float64) Classification {
	c.state = Transition(c.state, score, c.thresholds)
	return c.state
}

// State returns the current label.
func (c *Classifier) State() Classification {
	return c.state
}

// Reset returns to ClassUnknown.
func (c *Classifier) Reset() {
	c.state = ClassUnknown
}
