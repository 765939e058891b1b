package predictor

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/matchoracle/internal/config"
)

// Policy holds the blend weights and the gate. The defaults are product
// constants; change them through configuration only.
type Policy struct {
	H2HWeight        float64
	H2HMinMatches    int
	FormFactor       float64
	SeasonWeight     float64
	LiveWeight       float64
	GoalLeadBoost    float64
	GoalTrailPenalty float64
	MinConfidence    float64
	MinExpectedValue float64
	MaxStake         float64
}

func DefaultPolicy() Policy {
	return Policy{
		H2HWeight:        0.4,
		H2HMinMatches:    3,
		FormFactor:       0.3,
		SeasonWeight:     0.15,
		LiveWeight:       0.15,
		GoalLeadBoost:    10,
		GoalTrailPenalty: 8,
		MinConfidence:    40,
		MinExpectedValue: -0.05,
		MaxStake:         10,
	}
}

// PolicyFromConfig maps the policy config section onto a Policy.
func PolicyFromConfig(c config.PolicyConfig) Policy {
	return Policy{
		H2HWeight:        c.H2HWeight,
		H2HMinMatches:    c.H2HMinMatches,
		FormFactor:       c.FormFactor,
		SeasonWeight:     c.SeasonWeight,
		LiveWeight:       c.LiveWeight,
		GoalLeadBoost:    c.GoalLeadBoost,
		GoalTrailPenalty: c.GoalTrailPenalty,
		MinConfidence:    c.MinConfidence,
		MinExpectedValue: c.MinExpectedValue,
		MaxStake:         c.MaxStake,
	}
}

// DeMargin converts decimal odds to percentages with the bookmaker margin
// removed, so the result sums to 100. Non-positive odds yield nil.
func DeMargin(odds ...float64) []float64 {
	implied := make([]float64, len(odds))
	var total float64
	for i, o := range odds {
		if o <= 0 {
			return nil
		}
		implied[i] = 1 / o
		total += implied[i]
	}
	for i := range implied {
		implied[i] = implied[i] / total * 100
	}
	return implied
}

// ExpectedValue is probability/100 * odds - 1.
func ExpectedValue(probability, odds float64) float64 {
	return probability/100*odds - 1
}

// PassesGate reports whether a pick is worth emitting at all.
func (p Policy) PassesGate(confidence, expectedValue float64) bool {
	return confidence >= p.MinConfidence && expectedValue >= p.MinExpectedValue
}

// Stake sizes a bet as a capped linear function of confidence above 50,
// and is zero unless the expected value is positive.
func (p Policy) Stake(confidence, expectedValue float64) float64 {
	if expectedValue <= 0 {
		return 0
	}
	stake := (confidence/100 - 0.5) * 2 * p.MaxStake
	return Round(math.Max(0, math.Min(p.MaxStake, stake)), 2)
}

// Round rounds x half away from zero to places decimals.
func Round(x float64, places int32) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return decimal.NewFromFloat(x).Round(places).InexactFloat64()
}

func normalize(probs []float64) {
	var total float64
	for i := range probs {
		if probs[i] < 1 {
			probs[i] = 1
		}
		total += probs[i]
	}
	for i := range probs {
		probs[i] = probs[i] / total * 100
	}
}

func blend(current, signal, weight float64) float64 {
	return current*(1-weight) + signal*weight
}
