package models

import "time"

// Market identifies a bet type.
type Market string

const (
	Market1X2       Market = "1x2"
	MarketOverUnder Market = "over_under"
	MarketBTTS      Market = "btts"
)

// Markets lists every market the synthesizer supports, in evaluation order.
var Markets = []Market{Market1X2, MarketOverUnder, MarketBTTS}

// Outcome names per market.
const (
	OutcomeHome  = "home"
	OutcomeDraw  = "draw"
	OutcomeAway  = "away"
	OutcomeOver  = "over"
	OutcomeUnder = "under"
	OutcomeYes   = "yes"
	OutcomeNo    = "no"
)

// Risk classifies how much the ensemble agrees with itself.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Recommendation is the final verdict of the meta-learner.
type Recommendation string

const (
	StrongBet   Recommendation = "STRONG_BET"
	ModerateBet Recommendation = "MODERATE_BET"
	Pass        Recommendation = "PASS"
	Avoid       Recommendation = "AVOID"
)

// Rank orders recommendations from weakest to strongest.
func (r Recommendation) Rank() int {
	switch r {
	case StrongBet:
		return 3
	case ModerateBet:
		return 2
	case Pass:
		return 1
	default:
		return 0
	}
}

// PredictionCandidate is one estimator's pick for one market. Candidates are
// never mutated after creation.
type PredictionCandidate struct {
	Market          Market   `json:"market"`
	Outcome         string   `json:"outcome"`
	Confidence      float64  `json:"confidence"`
	RecommendedOdds float64  `json:"recommended_odds"`
	ExpectedValue   float64  `json:"expected_value"`
	ValuePercentage float64  `json:"value_percentage"`
	Stake           float64  `json:"stake"`
	Reasoning       []string `json:"reasoning"`
	Risk            Risk     `json:"risk"`
}

// BettingDecision is the blended verdict over all estimators for one
// match and market.
type BettingDecision struct {
	MatchID        string         `json:"match_id"`
	Market         Market         `json:"market"`
	Outcome        string         `json:"outcome"`
	Confidence     float64        `json:"confidence"`
	ExpectedValue  float64        `json:"expected_value"`
	Consensus      float64        `json:"consensus"`
	Risk           Risk           `json:"risk"`
	Recommendation Recommendation `json:"recommendation"`
	Stake          float64        `json:"stake"`
	Odds           float64        `json:"odds"`
	Models         []string       `json:"models"`
	Reasoning      []string       `json:"reasoning"`
	Home           string         `json:"home,omitempty"`
	Away           string         `json:"away,omitempty"`
	League         string         `json:"league,omitempty"`
	DecidedAt      time.Time      `json:"decided_at"`
}

// HeadToHead summarizes previous meetings between two teams, from the
// perspective of the current fixture's home side.
type HeadToHead struct {
	Matches   int     `json:"matches"`
	HomeWins  int     `json:"home_wins"`
	Draws     int     `json:"draws"`
	AwayWins  int     `json:"away_wins"`
	AvgGoals  float64 `json:"avg_goals"`
	BTTSCount int     `json:"btts_count"`
	OverCount int     `json:"over_count"`
}

// TeamForm is a 0-100 rating of recent results plus the raw sequence
// (most recent first, "W"/"D"/"L").
type TeamForm struct {
	Team    string   `json:"team"`
	Rating  float64  `json:"rating"`
	Results []string `json:"results"`
}

// FormRating converts a W/D/L sequence into a 0-100 rating with 3/1/0 points.
func FormRating(results []string) float64 {
	if len(results) == 0 {
		return 0
	}
	points := 0
	for _, r := range results {
		switch r {
		case "W", "w":
			points += 3
		case "D", "d":
			points++
		}
	}
	return float64(points) / float64(3*len(results)) * 100
}

// SeasonStats are a team's aggregate numbers for the current season.
type SeasonStats struct {
	Team         string `json:"team"`
	Played       int    `json:"played"`
	Wins         int    `json:"wins"`
	Draws        int    `json:"draws"`
	Losses       int    `json:"losses"`
	GoalsFor     int    `json:"goals_for"`
	GoalsAgainst int    `json:"goals_against"`
	BTTSMatches  int    `json:"btts_matches"`
}

// WinRate returns wins as a percentage of matches played.
func (s *SeasonStats) WinRate() float64 {
	if s == nil || s.Played == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Played) * 100
}

// GoalsForPerGame returns the scoring average.
func (s *SeasonStats) GoalsForPerGame() float64 {
	if s == nil || s.Played == 0 {
		return 0
	}
	return float64(s.GoalsFor) / float64(s.Played)
}

// GoalsAgainstPerGame returns the conceding average.
func (s *SeasonStats) GoalsAgainstPerGame() float64 {
	if s == nil || s.Played == 0 {
		return 0
	}
	return float64(s.GoalsAgainst) / float64(s.Played)
}

// History is the pre-match context a history-capable provider returns for
// one fixture. Any field may be nil when the provider has no data for it.
type History struct {
	HeadToHead *HeadToHead  `json:"head_to_head,omitempty"`
	HomeForm   *TeamForm    `json:"home_form,omitempty"`
	AwayForm   *TeamForm    `json:"away_form,omitempty"`
	HomeSeason *SeasonStats `json:"home_season,omitempty"`
	AwaySeason *SeasonStats `json:"away_season,omitempty"`
}

// Empty reports whether h carries no signal at all.
func (h *History) Empty() bool {
	return h == nil || (h.HeadToHead == nil && h.HomeForm == nil && h.AwayForm == nil &&
		h.HomeSeason == nil && h.AwaySeason == nil)
}
