// Package predictor turns match features into per-market betting candidates:
// de-margined odds blended with historical and live signals, priced for
// expected value and gated by confidence.
package predictor

import (
	"fmt"
	"math"

	"github.com/rewired-gh/matchoracle/internal/models"
)

// ParameterSource supplies the learned parameters. It is read on every
// synthesis so learning updates take effect on the next call.
type ParameterSource interface {
	Parameters() models.ModelParameters
}

// StaticParameters is a fixed ParameterSource.
type StaticParameters models.ModelParameters

func (s StaticParameters) Parameters() models.ModelParameters {
	return models.ModelParameters(s)
}

// Average goals per match used when no season numbers exist.
const leagueGoalsPerMatch = 2.6

type Synthesizer struct {
	policy Policy
	params ParameterSource
}

func New(policy Policy, params ParameterSource) *Synthesizer {
	if params == nil {
		params = StaticParameters(models.DefaultParameters())
	}
	return &Synthesizer{policy: policy, params: params}
}

func (s *Synthesizer) Policy() Policy { return s.policy }

// outcome is one side of a market during synthesis.
type outcome struct {
	name string
	prob float64
	odds float64
}

// Synthesize returns the best-value candidate for market, or nil when the
// market is not priced or the pick fails the gate.
func (s *Synthesizer) Synthesize(market models.Market, f Features) *models.PredictionCandidate {
	params := s.params.Parameters()
	params.Clamp()

	var outcomes []outcome
	var reasoning []string
	switch market {
	case models.Market1X2:
		outcomes, reasoning = s.matchResult(f, params)
	case models.MarketOverUnder:
		outcomes, reasoning = s.overUnder(f, params)
	case models.MarketBTTS:
		outcomes, reasoning = s.bothTeamsScore(f, params)
	default:
		return nil
	}
	if outcomes == nil {
		return nil
	}
	return s.pick(market, outcomes, reasoning, params)
}

// SynthesizeAll runs every market and returns the candidates that passed.
func (s *Synthesizer) SynthesizeAll(f Features) []models.PredictionCandidate {
	var out []models.PredictionCandidate
	for _, market := range models.Markets {
		if c := s.Synthesize(market, f); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func (s *Synthesizer) matchResult(f Features, params models.ModelParameters) ([]outcome, []string) {
	if !f.Odds.Has1X2() {
		return nil, nil
	}
	p := DeMargin(f.Odds.Home, f.Odds.Draw, f.Odds.Away)
	reasoning := []string{fmt.Sprintf("Market implies %.1f/%.1f/%.1f", p[0], p[1], p[2])}

	if h := f.HeadToHead; h != nil && h.Matches >= s.policy.H2HMinMatches && h.Matches > 0 {
		n := float64(h.Matches)
		rates := []float64{float64(h.HomeWins) / n * 100, float64(h.Draws) / n * 100, float64(h.AwayWins) / n * 100}
		for i := range p {
			p[i] = blend(p[i], rates[i], s.policy.H2HWeight)
		}
		reasoning = append(reasoning, fmt.Sprintf("Head-to-head %d-%d-%d over %d meetings", h.HomeWins, h.Draws, h.AwayWins, h.Matches))
	}

	if f.Has(SignalForm) {
		gap := f.HomeForm.Rating - f.AwayForm.Rating
		p[0] += gap * s.policy.FormFactor
		p[2] -= gap * s.policy.FormFactor
		reasoning = append(reasoning, fmt.Sprintf("Form gap %+.0f", gap))
	}

	if f.Has(SignalSeason) {
		home, away := f.HomeSeason, f.AwaySeason
		drawRate := (float64(home.Draws)/float64(home.Played) + float64(away.Draws)/float64(away.Played)) / 2 * 100
		season := []float64{home.WinRate(), drawRate, away.WinRate()}
		normalize(season)
		for i := range p {
			p[i] = blend(p[i], season[i], s.policy.SeasonWeight)
		}
		reasoning = append(reasoning, fmt.Sprintf("Season win rates %.0f%% vs %.0f%%", home.WinRate(), away.WinRate()))
	}

	if l := f.Live; l != nil {
		shift := l.Momentum * s.policy.LiveWeight * 100
		p[0] += shift
		p[2] -= shift
		if d := l.Score.Home - l.Score.Away; d != 0 {
			goals := math.Abs(float64(d))
			lead, trail := 0, 2
			if d < 0 {
				lead, trail = 2, 0
			}
			p[lead] += s.policy.GoalLeadBoost * goals
			p[trail] -= s.policy.GoalTrailPenalty * goals
		}
		reasoning = append(reasoning, fmt.Sprintf("Live %d-%d at %d'", l.Score.Home, l.Score.Away, l.Minute))
	}

	p[0] += params.HomeBias
	p[1] += params.DrawBias
	normalize(p)

	return []outcome{
		{models.OutcomeHome, p[0], f.Odds.Home},
		{models.OutcomeDraw, p[1], f.Odds.Draw},
		{models.OutcomeAway, p[2], f.Odds.Away},
	}, reasoning
}

func (s *Synthesizer) overUnder(f Features, params models.ModelParameters) ([]outcome, []string) {
	if !f.Odds.HasOverUnder() {
		return nil, nil
	}
	p := DeMargin(f.Odds.Over, f.Odds.Under)
	over := p[0]
	reasoning := []string{fmt.Sprintf("Market implies %.1f%% over 2.5", over)}

	if h := f.HeadToHead; h != nil && h.Matches >= s.policy.H2HMinMatches && h.Matches > 0 {
		rate := float64(h.OverCount) / float64(h.Matches) * 100
		over = blend(over, rate, s.policy.H2HWeight)
		reasoning = append(reasoning, fmt.Sprintf("Head-to-head averages %.1f goals", h.AvgGoals))
	}

	if f.Has(SignalSeason) {
		lambda := expectedGoals(f.HomeSeason, f.AwaySeason)
		over = blend(over, PoissonAtLeast(3, lambda)*100, s.policy.SeasonWeight)
		reasoning = append(reasoning, fmt.Sprintf("Season scoring suggests %.2f goals", lambda))
	}

	if l := f.Live; l != nil {
		lambda := leagueGoalsPerMatch * (1 - l.Progress())
		if f.Has(SignalSeason) {
			lambda = expectedGoals(f.HomeSeason, f.AwaySeason) * (1 - l.Progress())
		}
		live := PoissonAtLeast(3-l.Score.Total(), lambda) * 100
		over = blend(over, live, s.policy.LiveWeight)
		reasoning = append(reasoning, fmt.Sprintf("%d goals at %d'", l.Score.Total(), l.Minute))
	}

	// A positive shift lowers the effective line; half a goal is worth 20 points.
	over += params.GoalLineShift * 40
	probs := []float64{over, 100 - over}
	normalize(probs)

	return []outcome{
		{models.OutcomeOver, probs[0], f.Odds.Over},
		{models.OutcomeUnder, probs[1], f.Odds.Under},
	}, reasoning
}

func (s *Synthesizer) bothTeamsScore(f Features, params models.ModelParameters) ([]outcome, []string) {
	if !f.Odds.HasBTTS() {
		return nil, nil
	}
	p := DeMargin(f.Odds.BTTSYes, f.Odds.BTTSNo)
	yes := p[0]
	reasoning := []string{fmt.Sprintf("Market implies %.1f%% both teams score", yes)}

	if h := f.HeadToHead; h != nil && h.Matches >= s.policy.H2HMinMatches && h.Matches > 0 {
		rate := float64(h.BTTSCount) / float64(h.Matches) * 100
		yes = blend(yes, rate, s.policy.H2HWeight)
		reasoning = append(reasoning, fmt.Sprintf("Both scored in %d of %d meetings", h.BTTSCount, h.Matches))
	}

	if f.Has(SignalSeason) {
		home, away := f.HomeSeason, f.AwaySeason
		var rate float64
		if home.BTTSMatches > 0 || away.BTTSMatches > 0 {
			rate = (float64(home.BTTSMatches)/float64(home.Played) + float64(away.BTTSMatches)/float64(away.Played)) / 2 * 100
		} else {
			lh, la := sideGoals(home, away)
			rate = ScoreProbability(0, lh) * ScoreProbability(0, la) * 100
		}
		yes = blend(yes, rate, s.policy.SeasonWeight)
		reasoning = append(reasoning, fmt.Sprintf("Season numbers put both scoring at %.0f%%", rate))
	}

	if l := f.Live; l != nil {
		remaining := 1 - l.Progress()
		lh, la := leagueGoalsPerMatch/2*remaining, leagueGoalsPerMatch/2*remaining
		if f.Has(SignalSeason) {
			lh, la = sideGoals(f.HomeSeason, f.AwaySeason)
			lh, la = lh*remaining, la*remaining
		}
		live := ScoreProbability(l.Score.Home, lh) * ScoreProbability(l.Score.Away, la) * 100
		yes = blend(yes, live, s.policy.LiveWeight)
		reasoning = append(reasoning, fmt.Sprintf("Live %d-%d at %d'", l.Score.Home, l.Score.Away, l.Minute))
	}

	yes += params.BTTSBias
	probs := []float64{yes, 100 - yes}
	normalize(probs)

	return []outcome{
		{models.OutcomeYes, probs[0], f.Odds.BTTSYes},
		{models.OutcomeNo, probs[1], f.Odds.BTTSNo},
	}, reasoning
}

// sideGoals estimates each side's goals per match from attack vs defence.
func sideGoals(home, away *models.SeasonStats) (float64, float64) {
	lh := (home.GoalsForPerGame() + away.GoalsAgainstPerGame()) / 2
	la := (away.GoalsForPerGame() + home.GoalsAgainstPerGame()) / 2
	return lh, la
}

func expectedGoals(home, away *models.SeasonStats) float64 {
	lh, la := sideGoals(home, away)
	return lh + la
}

// pick chooses the outcome with the highest expected value, preferring the
// more probable outcome on ties, and applies the gate.
func (s *Synthesizer) pick(market models.Market, outcomes []outcome, reasoning []string, params models.ModelParameters) *models.PredictionCandidate {
	best := -1
	var bestEV float64
	for i, o := range outcomes {
		ev := Round(ExpectedValue(o.prob, o.odds), 4)
		if best < 0 || ev > bestEV || (ev == bestEV && o.prob > outcomes[best].prob) {
			best, bestEV = i, ev
		}
	}
	chosen := outcomes[best]

	confidence := Round(math.Max(0, math.Min(100, chosen.prob*params.ConfidenceScale)), 2)
	if !s.policy.PassesGate(confidence, bestEV) {
		return nil
	}

	reasoning = append(reasoning, fmt.Sprintf("Pick %s at %.2f: %.1f%% confidence, EV %+.1f%%",
		chosen.name, chosen.odds, confidence, bestEV*100))

	return &models.PredictionCandidate{
		Market:          market,
		Outcome:         chosen.name,
		Confidence:      confidence,
		RecommendedOdds: chosen.odds,
		ExpectedValue:   bestEV,
		ValuePercentage: Round(bestEV*100, 2),
		Stake:           s.policy.Stake(confidence, bestEV),
		Reasoning:       reasoning,
		Risk:            candidateRisk(confidence),
	}
}

func candidateRisk(confidence float64) models.Risk {
	switch {
	case confidence >= 70:
		return models.RiskLow
	case confidence >= 55:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}
