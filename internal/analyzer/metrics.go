package analyzer

import (
	"math"

	"keycadence/internal/antispoof"
	"keycadence/internal/stats"
)

// Sample gates. Below a gate a metric reports Neutral.
const (
	MinDwellSamples      = 5
	MinFlightSamples     = 5
	MinCorrectionTotal   = 5
	MinBurstFlights      = 10
	MinRolloverTotal     = 10
	EntropyBins          = 10
	BurstGapThresholdMs  = 500.0
	MinHumanFlightMs     = 30.0
	ImpossiblePenalty    = 0.1
	ExcessiveCorrections = 0.4
)

// Curve parameters. These are calibration choices, not statistical laws.
const (
	dwellLowMidMs     = 8.0
	dwellLowSteep     = 0.5
	dwellHighMidMs    = 80.0
	dwellHighSteep    = -0.1
	entropyHumanLo    = 1.2
	entropyHumanHi    = 2.6
	entropyWidth      = 0.5
	entropyWeight     = 0.6
	fluctuationMid    = 3.0
	fluctuationSteep  = 1.5
	correctionMid     = 0.01
	correctionSteep   = 100.0
	minExcessScale    = 0.2
	burstCVMid        = 0.15
	burstCVSteep      = 15.0
	rolloverMid       = 0.03
	rolloverSteep     = 80.0
	minFlightForRatio = 1.0
)

// ScoreDwellVariance rewards a mid-range spread of key hold times.
// Near-zero spread (scripted holds) and excessive spread both score low.
func ScoreDwellVariance(dwells []float64) Score {
	if len(dwells) < MinDwellSamples {
		return Scored(Neutral)
	}
	sd := stats.StdDev(dwells)
	rampUp := stats.Sigmoid(sd, dwellLowMidMs, dwellLowSteep)
	rampDown := stats.Sigmoid(sd, dwellHighMidMs, dwellHighSteep)
	return Scored(rampUp * rampDown)
}

// ScoreFlightFit delegates to the anti-spoof engine and penalises
// physically implausible flight times. The anti-spoof result is returned
// for reporting; it is zero when the gate is not met.
func ScoreFlightFit(flights []float64, opts antispoof.Options) (Score, antispoof.Result) {
	if len(flights) < MinFlightSamples {
		return Scored(Neutral), antispoof.Result{}
	}
	spoof := opts.Detect(flights)
	score := spoof.GenuineScore

	fast := 0
	for _, f := range flights {
		if f < MinHumanFlightMs {
			fast++
		}
	}
	if fast*2 > len(flights) {
		score *= ImpossiblePenalty
	}
	return Scored(score), spoof
}

// ScoreTimingEntropy combines histogram entropy of flight times with their
// dynamic range (max/min).
func ScoreTimingEntropy(flights []float64) Score {
	if len(flights) < MinFlightSamples {
		return Scored(Neutral)
	}
	h := stats.ShannonEntropy(flights, EntropyBins)

	lo, hi := stats.MinMax(flights)
	ratio := hi / math.Max(lo, minFlightForRatio)
	fluctuation := stats.Sigmoid(ratio, fluctuationMid, fluctuationSteep)

	return Scored(entropyWeight*entropyBell(h) + (1-entropyWeight)*fluctuation)
}

// entropyBell is 1 inside the human-typical band and decays as a Gaussian
// outside it.
func entropyBell(h float64) float64 {
	var d float64
	switch {
	case h < entropyHumanLo:
		d = entropyHumanLo - h
	case h > entropyHumanHi:
		d = h - entropyHumanHi
	default:
		return 1
	}
	return math.Exp(-d * d / (2 * entropyWidth * entropyWidth))
}

// ScoreCorrectionRatio scores backspace/delete usage. Zero corrections is
// not evidence of a bot and yields NoEvidence.
func ScoreCorrectionRatio(corrections, total int) Score {
	if total < MinCorrectionTotal {
		return Scored(Neutral)
	}
	if corrections == 0 {
		return NoEvidence()
	}
	r := float64(corrections) / float64(total)
	score := floorRescaled(r, correctionMid, correctionSteep)
	if r > ExcessiveCorrections {
		score *= math.Max(minExcessScale, 1-(r-ExcessiveCorrections)/(1-ExcessiveCorrections))
	}
	return Scored(score)
}

// ScoreBurstRegularity scores the irregularity of pauses between typing
// bursts. Fewer than two pauses yields NoEvidence.
func ScoreBurstRegularity(flights []float64) Score {
	if len(flights) < MinBurstFlights {
		return Scored(Neutral)
	}
	var gaps []float64
	for _, f := range flights {
		if f > BurstGapThresholdMs {
			gaps = append(gaps, f)
		}
	}
	if len(gaps) < 2 {
		return NoEvidence()
	}
	mean := stats.Mean(gaps)
	cv := stats.StdDev(gaps) / mean
	return Scored(stats.Sigmoid(cv, burstCVMid, burstCVSteep))
}

// ScoreRolloverRate scores overlapping key presses. Zero rollovers yields
// NoEvidence.
func ScoreRolloverRate(rollovers, total int) Score {
	if total < MinRolloverTotal {
		return Scored(Neutral)
	}
	if rollovers == 0 {
		return NoEvidence()
	}
	r := float64(rollovers) / float64(total)
	return Scored(floorRescaled(r, rolloverMid, rolloverSteep))
}

// floorRescaled maps a sigmoid so that its value at zero becomes 0 and any
// positive input lands in (0, 1].
func floorRescaled(x, mid, steep float64) float64 {
	floor := stats.Sigmoid(0, mid, steep)
	raw := stats.Sigmoid(x, mid, steep)
	return (raw - floor) / (1 - floor)
}
