package predictor

import (
	"math"

	"github.com/rewired-gh/matchoracle/internal/models"
)

// Signal names one optional input of the synthesizer.
type Signal string

const (
	SignalH2H    Signal = "h2h"
	SignalForm   Signal = "form"
	SignalSeason Signal = "season"
	SignalLive   Signal = "live"
)

// AllSignals lists every blendable signal.
var AllSignals = []Signal{SignalH2H, SignalForm, SignalSeason, SignalLive}

// LiveState is the in-play part of the features. Momentum runs from -1
// (away dominating) to 1 (home dominating).
type LiveState struct {
	Score    models.Score
	Minute   int
	Momentum float64
}

// Progress is the elapsed fraction of regulation time.
func (l *LiveState) Progress() float64 {
	return math.Max(0, math.Min(1, float64(l.Minute)/90))
}

// Features is the typed input of one synthesis. Odds are required for
// pricing; every other field is optional.
type Features struct {
	MatchID string
	Home    string
	Away    string
	League  string

	Odds       *models.Odds
	HeadToHead *models.HeadToHead
	HomeForm   *models.TeamForm
	AwayForm   *models.TeamForm
	HomeSeason *models.SeasonStats
	AwaySeason *models.SeasonStats
	Live       *LiveState
}

// Extract builds features from an enriched match and optional history.
func Extract(m models.EnrichedMatch, h *models.History) Features {
	f := Features{
		MatchID: m.ID,
		Home:    m.Home,
		Away:    m.Away,
		League:  m.League,
		Odds:    m.Odds,
	}
	if h != nil {
		f.HeadToHead = h.HeadToHead
		f.HomeForm = h.HomeForm
		f.AwayForm = h.AwayForm
		f.HomeSeason = h.HomeSeason
		f.AwaySeason = h.AwaySeason
	}
	if m.Status == models.StatusLive {
		f.Live = &LiveState{
			Score:    m.Score,
			Minute:   m.Minute,
			Momentum: momentum(m.Statistics),
		}
	}
	return f
}

func momentum(s *models.Statistics) float64 {
	if s == nil {
		return 0
	}
	var m float64
	if total := s.ShotsOnTargetHome + s.ShotsOnTargetAway; total > 0 {
		m += 0.6 * float64(s.ShotsOnTargetHome-s.ShotsOnTargetAway) / float64(total)
	}
	if s.PossessionHome+s.PossessionAway > 0 {
		m += 0.4 * (s.PossessionHome - s.PossessionAway) / (s.PossessionHome + s.PossessionAway)
	}
	return math.Max(-1, math.Min(1, m))
}

// Has reports whether the signal carries data.
func (f Features) Has(s Signal) bool {
	switch s {
	case SignalH2H:
		return f.HeadToHead != nil && f.HeadToHead.Matches > 0
	case SignalForm:
		return f.HomeForm != nil && f.AwayForm != nil
	case SignalSeason:
		return f.HomeSeason != nil && f.AwaySeason != nil && f.HomeSeason.Played > 0 && f.AwaySeason.Played > 0
	case SignalLive:
		return f.Live != nil
	}
	return false
}

// Mask returns a copy of f keeping odds and only the listed signals.
func (f Features) Mask(keep ...Signal) Features {
	out := Features{MatchID: f.MatchID, Home: f.Home, Away: f.Away, League: f.League, Odds: f.Odds}
	for _, s := range keep {
		switch s {
		case SignalH2H:
			out.HeadToHead = f.HeadToHead
		case SignalForm:
			out.HomeForm, out.AwayForm = f.HomeForm, f.AwayForm
		case SignalSeason:
			out.HomeSeason, out.AwaySeason = f.HomeSeason, f.AwaySeason
		case SignalLive:
			out.Live = f.Live
		}
	}
	return out
}
