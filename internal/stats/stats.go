// Package stats provides the numeric primitives used for keystroke timing analysis.
//
// All functions are total: empty or degenerate input yields a defined value
// (usually 0) instead of NaN.
package stats

import "math"

// Mean returns the arithmetic mean, or 0 for empty input.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation (divides by n).
// Fewer than two values, or identical values, yield exactly 0.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	if lo, hi := MinMax(xs); lo == hi {
		// The rounded mean of n equal values can differ from them.
		return 0
	}
	m := Mean(xs)
	sumSq := 0.0
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// NormalCDF returns P(X <= x) for X ~ N(mean, sd).
// A non-positive sd degenerates to a step at the mean.
func NormalCDF(x, mean, sd float64) float64 {
	if sd <= 0 {
		if x < mean {
			return 0
		}
		return 1
	}
	return 0.5 * (1 + erf((x-mean)/(sd*math.Sqrt2)))
}

// erf is the Abramowitz-Stegun 7.1.26 approximation (max error 1.5e-7).
func erf(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	sign := 1.0
	if x < 0 {
		sign = -1
		x = -x
	}
	t := 1 / (1 + p*x)
	y := 1 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return sign * y
}

// ShannonEntropy bins xs into equal-width buckets spanning [min, max] and
// returns the entropy of the histogram in bits.
// Formula: H = -sum (c_j/n) * log2(c_j/n) for non-zero bins
func ShannonEntropy(xs []float64, bins int) float64 {
	if len(xs) == 0 || bins <= 0 {
		return 0
	}
	lo, hi := MinMax(xs)
	span := hi - lo
	if span == 0 {
		return 0
	}

	histogram := make([]int, bins)
	for _, x := range xs {
		idx := int((x - lo) / span * float64(bins))
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		histogram[idx]++
	}

	n := float64(len(xs))
	entropy := 0.0
	for _, c := range histogram {
		if c > 0 {
			p := float64(c) / n
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// Autocorrelation returns the lag-1 autocorrelation coefficient.
// Fewer than three values, or zero variance, yield 0.
func Autocorrelation(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	if lo, hi := MinMax(xs); lo == hi {
		return 0
	}
	m := Mean(xs)
	var num, den float64
	for i, x := range xs {
		d := x - m
		den += d * d
		if i+1 < len(xs) {
			num += d * (xs[i+1] - m)
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Sigmoid is the logistic function centred on midpoint.
// A negative steepness produces a descending curve.
func Sigmoid(x, midpoint, steepness float64) float64 {
	return 1 / (1 + math.Exp(-steepness*(x-midpoint)))
}

// MinMax returns the smallest and largest value; both are 0 for empty input.
func MinMax(xs []float64) (lo, hi float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}
