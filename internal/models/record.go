package models

import "time"

// PredictionRecord is a stored betting decision. Records are appended when
// a decision is made and settled once the match finishes.
type PredictionRecord struct {
	ID             string         `json:"id"`
	MatchID        string         `json:"match_id"`
	MatchKey       string         `json:"match_key"`
	Market         Market         `json:"market"`
	Outcome        string         `json:"outcome"`
	Confidence     float64        `json:"confidence"`
	ExpectedValue  float64        `json:"expected_value"`
	Odds           float64        `json:"odds"`
	Stake          float64        `json:"stake"`
	Consensus      float64        `json:"consensus"`
	Risk           Risk           `json:"risk"`
	Recommendation Recommendation `json:"recommendation"`
	Home           string         `json:"home"`
	Away           string         `json:"away"`
	League         string         `json:"league"`
	Reasoning      []string       `json:"reasoning"`
	CreatedAt      time.Time      `json:"created_at"`
	Settled        bool           `json:"settled"`
	Actual         string         `json:"actual,omitempty"`
	Correct        bool           `json:"correct"`
	SettledAt      time.Time      `json:"settled_at,omitempty"`
}

// NewPredictionRecord captures d for storage. The ID is assigned on save.
func NewPredictionRecord(d BettingDecision) *PredictionRecord {
	return &PredictionRecord{
		MatchID:        d.MatchID,
		Market:         d.Market,
		Outcome:        d.Outcome,
		Confidence:     d.Confidence,
		ExpectedValue:  d.ExpectedValue,
		Odds:           d.Odds,
		Stake:          d.Stake,
		Consensus:      d.Consensus,
		Risk:           d.Risk,
		Recommendation: d.Recommendation,
		Home:           d.Home,
		Away:           d.Away,
		League:         d.League,
		Reasoning:      d.Reasoning,
		CreatedAt:      d.DecidedAt,
	}
}

// Result converts a settled record into a learning input.
func (r *PredictionRecord) Result() MatchResult {
	return MatchResult{
		MatchID:    r.MatchID,
		Predicted:  r.Outcome,
		Actual:     r.Actual,
		Confidence: r.Confidence,
		Correct:    r.Correct,
		BetType:    r.Market,
		League:     r.League,
		Timestamp:  r.SettledAt,
	}
}

// SettledOutcome returns the winning outcome of market for a final score.
func SettledOutcome(market Market, score Score) string {
	switch market {
	case Market1X2:
		switch {
		case score.Home > score.Away:
			return OutcomeHome
		case score.Home < score.Away:
			return OutcomeAway
		default:
			return OutcomeDraw
		}
	case MarketOverUnder:
		if score.Total() >= 3 {
			return OutcomeOver
		}
		return OutcomeUnder
	case MarketBTTS:
		if score.Home > 0 && score.Away > 0 {
			return OutcomeYes
		}
		return OutcomeNo
	}
	return ""
}
