package analyzer

import "keycadence/internal/stats"

// Neutral is reported for a metric whose sample gate is not yet met, and for
// a metric without evidence when its value is shown to callers.
const Neutral = 0.5

// Score is the outcome of one metric function: either a value in [0,1] or
// the absence of behavioural evidence. A zero Score carries no evidence.
type Score struct {
	value    float64
	evidence bool
}

// Scored wraps v, clamped to [0,1].
func Scored(v float64) Score {
	return Score{value: stats.Clamp(v, 0, 1), evidence: true}
}

// NoEvidence marks a metric that observed nothing it could judge.
func NoEvidence() Score {
	return Score{}
}

// Value returns the score and whether there was evidence for it.
func (s Score) Value() (float64, bool) {
	return s.value, s.evidence
}

// HasEvidence reports whether the score carries a value.
func (s Score) HasEvidence() bool {
	return s.evidence
}

// Report returns the value shown to callers: the score itself, or Neutral
// when there was no evidence.
func (s Score) Report() float64 {
	if !s.evidence {
		return Neutral
	}
	return s.value
}
