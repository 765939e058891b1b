package ensemble

import (
	"testing"
	"time"

	"github.com/rewired-gh/matchoracle/internal/models"
	"github.com/rewired-gh/matchoracle/internal/predictor"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEnsemble(t *testing.T, weights map[string]float64) *Ensemble {
	t.Helper()
	synth := predictor.New(predictor.DefaultPolicy(), nil)
	return New(synth, weights, WithClock(func() time.Time { return fixedNow }))
}

func candidate(outcome string, confidence, ev float64) *models.PredictionCandidate {
	return &models.PredictionCandidate{
		Market:          models.Market1X2,
		Outcome:         outcome,
		Confidence:      confidence,
		ExpectedValue:   ev,
		RecommendedOdds: 2.1,
		Reasoning:       []string{"reason for " + outcome},
	}
}

func allAgree(outcome string, confidence, ev float64) map[string]*models.PredictionCandidate {
	out := make(map[string]*models.PredictionCandidate)
	for name := range DefaultWeights() {
		out[name] = candidate(outcome, confidence, ev)
	}
	return out
}

func TestCombine_Recommendations(t *testing.T) {
	e := newTestEnsemble(t, nil)

	split := allAgree(models.OutcomeHome, 70, 0.08)
	split[Season] = candidate(models.OutcomeAway, 70, 0.08)
	split[Live] = candidate(models.OutcomeDraw, 70, 0.08)

	lowConsensus := allAgree(models.OutcomeHome, 80, 0.2)
	lowConsensus[Form] = candidate(models.OutcomeAway, 80, 0.2)
	lowConsensus[H2H] = candidate(models.OutcomeAway, 80, 0.2)

	tests := []struct {
		name       string
		candidates map[string]*models.PredictionCandidate
		wantRisk   models.Risk
		wantRec    models.Recommendation
	}{
		{"unanimous and confident", allAgree(models.OutcomeHome, 80, 0.15), models.RiskLow, models.StrongBet},
		{"strong but thin value", allAgree(models.OutcomeHome, 80, 0.08), models.RiskLow, models.ModerateBet},
		{"two thirds agree", split, models.RiskMedium, models.ModerateBet},
		{"confident but split", lowConsensus, models.RiskMedium, models.ModerateBet},
		{"moderate confidence", allAgree(models.OutcomeHome, 62, 0.02), models.RiskMedium, models.Pass},
		{"negative value", allAgree(models.OutcomeHome, 80, -0.01), models.RiskLow, models.Avoid},
		{"low confidence", allAgree(models.OutcomeHome, 55, 0.2), models.RiskHigh, models.Avoid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Combine("m1", models.Market1X2, tt.candidates)
			if d.Risk != tt.wantRisk {
				t.Errorf("risk = %s, want %s", d.Risk, tt.wantRisk)
			}
			if d.Recommendation != tt.wantRec {
				t.Errorf("recommendation = %s, want %s", d.Recommendation, tt.wantRec)
			}
			if d.Outcome != models.OutcomeHome {
				t.Errorf("outcome = %s, want home", d.Outcome)
			}
			if d.MatchID != "m1" || !d.DecidedAt.Equal(fixedNow) {
				t.Errorf("unexpected metadata: %+v", d)
			}
		})
	}
}

func TestCombine_WeightedAverages(t *testing.T) {
	e := newTestEnsemble(t, nil)
	d := e.Combine("m1", models.Market1X2, map[string]*models.PredictionCandidate{
		Composite: candidate(models.OutcomeHome, 90, 0.2),
		Market:    candidate(models.OutcomeHome, 40, -0.05),
		Form:      nil,
	})

	// (0.3*90 + 0.2*40) / 0.5
	if d.Confidence != 70 {
		t.Errorf("confidence = %v, want 70", d.Confidence)
	}
	// (0.3*0.2 + 0.2*-0.05) / 0.5
	if d.ExpectedValue != 0.1 {
		t.Errorf("expected value = %v, want 0.1", d.ExpectedValue)
	}
	if d.Consensus != 1 {
		t.Errorf("consensus = %v, want 1", d.Consensus)
	}
	if len(d.Models) != 2 || d.Models[0] != Composite || d.Models[1] != Market {
		t.Errorf("models = %v", d.Models)
	}
	if d.Stake != 4 {
		t.Errorf("stake = %v, want 4", d.Stake)
	}
	if d.Odds != 2.1 {
		t.Errorf("odds = %v, want 2.1", d.Odds)
	}
	if d.Reasoning[0] != "reason for home" {
		t.Errorf("reasoning = %v", d.Reasoning)
	}
}

func TestCombine_ConsensusTieBreaksByWeight(t *testing.T) {
	e := newTestEnsemble(t, nil)
	d := e.Combine("m1", models.Market1X2, map[string]*models.PredictionCandidate{
		Composite: candidate(models.OutcomeAway, 70, 0.1),
		Season:    candidate(models.OutcomeHome, 70, 0.1),
	})
	if d.Outcome != models.OutcomeAway {
		t.Errorf("outcome = %s, want away (heavier estimator)", d.Outcome)
	}
	if d.Consensus != 0.5 {
		t.Errorf("consensus = %v, want 0.5", d.Consensus)
	}
}

func TestCombine_NoCandidates(t *testing.T) {
	e := newTestEnsemble(t, nil)
	d := e.Combine("m1", models.MarketBTTS, map[string]*models.PredictionCandidate{Composite: nil})
	if d.Recommendation != models.Avoid || d.Risk != models.RiskHigh {
		t.Errorf("decision = %+v, want AVOID/high", d)
	}
	if d.Stake != 0 || d.Outcome != "" {
		t.Errorf("empty decision carries a pick: %+v", d)
	}
}

func TestNew_IgnoresUnknownAndZeroWeights(t *testing.T) {
	e := newTestEnsemble(t, map[string]float64{Composite: 0.7, Market: 0.3, "oracle": 0.5, Live: 0})
	f := predictor.Features{MatchID: "m1", Odds: &models.Odds{Home: 2.0, Draw: 3.6, Away: 4.2}}

	got := e.Estimate(models.Market1X2, f)
	if len(got) != 2 {
		t.Fatalf("Estimate ran %d estimators, want 2", len(got))
	}
	if got[Composite] == nil || got[Market] == nil {
		t.Errorf("missing estimator output: %+v", got)
	}
}

func TestEvaluate(t *testing.T) {
	e := newTestEnsemble(t, nil)
	f := predictor.Features{
		MatchID:    "m1",
		Home:       "Ajax",
		Away:       "PSV",
		League:     "Eredivisie",
		Odds:       &models.Odds{Home: 1.8, Draw: 3.8, Away: 4.6, Over: 1.9, Under: 1.95},
		HeadToHead: &models.HeadToHead{Matches: 6, HomeWins: 5, Draws: 1, AvgGoals: 3.5, OverCount: 5},
		HomeForm:   &models.TeamForm{Rating: 90},
		AwayForm:   &models.TeamForm{Rating: 30},
	}

	decisions := e.Evaluate(f)
	if len(decisions) != len(models.Markets) {
		t.Fatalf("got %d decisions, want %d", len(decisions), len(models.Markets))
	}
	for _, d := range decisions {
		if d.Home != "Ajax" || d.League != "Eredivisie" {
			t.Errorf("decision missing match metadata: %+v", d)
		}
	}

	oneXTwo := decisions[0]
	if oneXTwo.Market != models.Market1X2 || oneXTwo.Outcome != models.OutcomeHome {
		t.Errorf("1x2 decision = %+v", oneXTwo)
	}
	if btts := decisions[2]; btts.Recommendation != models.Avoid || len(btts.Models) != 0 {
		t.Errorf("unpriced btts market should be avoided: %+v", btts)
	}
}
