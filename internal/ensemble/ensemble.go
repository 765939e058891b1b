// Package ensemble blends the picks of several named estimators into one
// betting decision per match and market.
package ensemble

import (
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/matchoracle/internal/models"
	"github.com/rewired-gh/matchoracle/internal/predictor"
)

// Estimator names.
const (
	Composite = "composite"
	Market    = "market"
	Form      = "form"
	H2H       = "h2h"
	Season    = "season"
	Live      = "live"
)

// estimatorSignals maps each estimator to the signals it blends on top of
// the market price.
var estimatorSignals = map[string][]predictor.Signal{
	Composite: predictor.AllSignals,
	Market:    nil,
	Form:      {predictor.SignalForm},
	H2H:       {predictor.SignalH2H},
	Season:    {predictor.SignalSeason},
	Live:      {predictor.SignalLive},
}

// DefaultWeights sum to 1.0.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		Composite: 0.30,
		Market:    0.20,
		Form:      0.15,
		H2H:       0.15,
		Season:    0.10,
		Live:      0.10,
	}
}

type Option func(*Ensemble)

// WithClock replaces time.Now for DecidedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Ensemble) { e.now = now }
}

type Ensemble struct {
	synth   *predictor.Synthesizer
	weights map[string]float64
	names   []string
	now     func() time.Time
}

// New creates an ensemble. Weights for unknown estimators are ignored and
// estimators without a positive weight never run.
func New(synth *predictor.Synthesizer, weights map[string]float64, opts ...Option) *Ensemble {
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	e := &Ensemble{synth: synth, weights: make(map[string]float64), now: time.Now}
	for name, w := range weights {
		if _, ok := estimatorSignals[name]; ok && w > 0 {
			e.weights[name] = w
			e.names = append(e.names, name)
		}
	}
	sort.Strings(e.names)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate runs every weighted estimator on market. Estimators whose pick
// was gated out map to nil.
func (e *Ensemble) Estimate(market models.Market, f predictor.Features) map[string]*models.PredictionCandidate {
	out := make(map[string]*models.PredictionCandidate, len(e.names))
	for _, name := range e.names {
		out[name] = e.synth.Synthesize(market, f.Mask(estimatorSignals[name]...))
	}
	return out
}

// Evaluate estimates and combines every market for one match.
func (e *Ensemble) Evaluate(f predictor.Features) []models.BettingDecision {
	decisions := make([]models.BettingDecision, 0, len(models.Markets))
	for _, market := range models.Markets {
		d := e.Combine(f.MatchID, market, e.Estimate(market, f))
		d.Home, d.Away, d.League = f.Home, f.Away, f.League
		decisions = append(decisions, d)
	}
	return decisions
}

// Combine blends candidates into one decision. Confidence and value are
// weight-averaged over the candidates present; consensus is the share of
// present candidates that agree with the modal outcome.
func (e *Ensemble) Combine(matchID string, market models.Market, candidates map[string]*models.PredictionCandidate) models.BettingDecision {
	d := models.BettingDecision{
		MatchID:   matchID,
		Market:    market,
		Risk:      models.RiskHigh,
		DecidedAt: e.now(),
	}

	names := make([]string, 0, len(candidates))
	for name, c := range candidates {
		if c != nil && e.weights[name] > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		d.Recommendation = models.Avoid
		d.Reasoning = []string{"No estimator produced a pick"}
		return d
	}

	var totalWeight, confidence, value float64
	votes := make(map[string]int)
	voteWeight := make(map[string]float64)
	for _, name := range names {
		c, w := candidates[name], e.weights[name]
		totalWeight += w
		confidence += w * c.Confidence
		value += w * c.ExpectedValue
		votes[c.Outcome]++
		voteWeight[c.Outcome] += w
	}
	confidence /= totalWeight
	value /= totalWeight

	modal := ""
	for outcome, n := range votes {
		if modal == "" || n > votes[modal] ||
			(n == votes[modal] && voteWeight[outcome] > voteWeight[modal]) ||
			(n == votes[modal] && voteWeight[outcome] == voteWeight[modal] && outcome < modal) {
			modal = outcome
		}
	}
	consensus := float64(votes[modal]) / float64(len(names))

	d.Outcome = modal
	d.Confidence = predictor.Round(confidence, 2)
	d.ExpectedValue = predictor.Round(value, 4)
	d.Consensus = predictor.Round(consensus, 4)
	d.Risk = classifyRisk(d.Confidence, consensus)
	d.Recommendation = recommend(d.Confidence, d.ExpectedValue, d.Risk)
	d.Stake = e.synth.Policy().Stake(d.Confidence, d.ExpectedValue)
	d.Models = names

	for _, name := range names {
		if c := candidates[name]; c.Outcome == modal {
			d.Odds = c.RecommendedOdds
			if len(d.Reasoning) == 0 {
				d.Reasoning = append(d.Reasoning, c.Reasoning...)
			}
		}
	}
	d.Reasoning = append(d.Reasoning, fmt.Sprintf("%d of %d models back %s", votes[modal], len(names), modal))
	return d
}

func classifyRisk(confidence, consensus float64) models.Risk {
	switch {
	case confidence > 75 && consensus > 0.8:
		return models.RiskLow
	case confidence > 60 && consensus > 0.6:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

// recommend applies the rules in order; the first match wins.
func recommend(confidence, ev float64, risk models.Risk) models.Recommendation {
	switch {
	case confidence > 75 && ev > 0.10 && risk == models.RiskLow:
		return models.StrongBet
	case confidence > 65 && ev > 0.05 && risk != models.RiskHigh:
		return models.ModerateBet
	case ev < 0 || confidence < 60:
		return models.Avoid
	default:
		return models.Pass
	}
}
