package predictor

import "math"

// PoissonPMF returns P(X = k) for X ~ Poisson(lambda).
func PoissonPMF(k int, lambda float64) float64 {
	if k < 0 || lambda < 0 {
		return 0
	}
	if lambda == 0 {
		if k == 0 {
			return 1
		}
		return 0
	}
	lg, _ := math.Lgamma(float64(k) + 1)
	return math.Exp(float64(k)*math.Log(lambda) - lambda - lg)
}

// PoissonAtLeast returns P(X >= n) for X ~ Poisson(lambda).
func PoissonAtLeast(n int, lambda float64) float64 {
	if n <= 0 {
		return 1
	}
	cdf := 0.0
	for k := 0; k < n; k++ {
		cdf += PoissonPMF(k, lambda)
	}
	return math.Max(0, math.Min(1, 1-cdf))
}

// ScoreProbability returns P(goals > 0) for a side expected to score lambda
// more goals, given it already scored scored.
func ScoreProbability(scored int, lambda float64) float64 {
	if scored > 0 {
		return 1
	}
	return 1 - PoissonPMF(0, lambda)
}
