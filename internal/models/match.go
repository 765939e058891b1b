// Package models defines the core domain entities: matches, odds, predictions, and model versions.
package models

import (
	"errors"
	"strings"
	"time"
)

// MatchStatus is the lifecycle state reported by a provider.
type MatchStatus string

const (
	StatusScheduled MatchStatus = "scheduled"
	StatusLive      MatchStatus = "live"
	StatusFinished  MatchStatus = "finished"
)

// Synthetic data source markers appended to EnrichedMatch.DataSources
// when a field was inferred instead of supplied by a provider.
const (
	SourceCalculatedOdds = "calculated-odds"
	SourceEstimatedStats = "estimated-stats"
)

// Score is the current or final score of a match.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Total returns the number of goals scored by both sides.
func (s Score) Total() int { return s.Home + s.Away }

// Match is the provider-neutral shape every source normalizes into.
// ID is the provider's own identifier and is only meaningful to Source.
type Match struct {
	ID      string      `json:"id"`
	Source  string      `json:"source"`
	Home    string      `json:"home"`
	Away    string      `json:"away"`
	League  string      `json:"league"`
	Country string      `json:"country"`
	Kickoff time.Time   `json:"kickoff"`
	Status  MatchStatus `json:"status"`
	Score   Score       `json:"score"`
	Minute  int         `json:"minute"`

	// Optional fields a provider may deliver inline with the fixture list.
	Odds       *Odds       `json:"odds,omitempty"`
	Statistics *Statistics `json:"statistics,omitempty"`
	Lineups    *Lineups    `json:"lineups,omitempty"`
}

// Validate checks match field constraints.
func (m *Match) Validate() error {
	if m.ID == "" {
		return errors.New("match ID must not be empty")
	}
	if m.Home == "" || m.Away == "" {
		return errors.New("home and away teams must not be empty")
	}
	switch m.Status {
	case StatusScheduled, StatusLive, StatusFinished:
	default:
		return errors.New("match status must be one of: scheduled, live, finished")
	}
	if m.Minute < 0 || m.Minute > 130 {
		return errors.New("match minute must be between 0 and 130")
	}
	if m.Score.Home < 0 || m.Score.Away < 0 {
		return errors.New("score must not be negative")
	}
	return nil
}

// Odds holds decimal prices for the supported markets. A zero price means
// the market was not offered.
type Odds struct {
	Home    float64 `json:"home,omitempty"`
	Draw    float64 `json:"draw,omitempty"`
	Away    float64 `json:"away,omitempty"`
	Over    float64 `json:"over_2_5,omitempty"`
	Under   float64 `json:"under_2_5,omitempty"`
	BTTSYes float64 `json:"btts_yes,omitempty"`
	BTTSNo  float64 `json:"btts_no,omitempty"`
}

func (o *Odds) Has1X2() bool {
	return o != nil && o.Home > 1 && o.Draw > 1 && o.Away > 1
}

func (o *Odds) HasOverUnder() bool {
	return o != nil && o.Over > 1 && o.Under > 1
}

func (o *Odds) HasBTTS() bool {
	return o != nil && o.BTTSYes > 1 && o.BTTSNo > 1
}

// Statistics are per-side live match statistics.
type Statistics struct {
	PossessionHome    float64 `json:"possession_home"`
	PossessionAway    float64 `json:"possession_away"`
	ShotsHome         int     `json:"shots_home"`
	ShotsAway         int     `json:"shots_away"`
	ShotsOnTargetHome int     `json:"shots_on_target_home"`
	ShotsOnTargetAway int     `json:"shots_on_target_away"`
	CornersHome       int     `json:"corners_home"`
	CornersAway       int     `json:"corners_away"`
	YellowCardsHome   int     `json:"yellow_cards_home"`
	YellowCardsAway   int     `json:"yellow_cards_away"`
	RedCardsHome      int     `json:"red_cards_home"`
	RedCardsAway      int     `json:"red_cards_away"`
}

// Lineups are the starting elevens when a provider publishes them.
type Lineups struct {
	Home []string `json:"home"`
	Away []string `json:"away"`
}

// EnrichedMatch is a match after aggregation and gap-filling. It is not
// mutated once returned by the aggregator.
type EnrichedMatch struct {
	Match
	DataSources []string `json:"data_sources"`
	DataQuality int      `json:"data_quality"`
}

// HasSource reports whether name is among the match's data sources.
func (m *EnrichedMatch) HasSource(name string) bool {
	for _, s := range m.DataSources {
		if s == name {
			return true
		}
	}
	return false
}

// AddSource appends name to DataSources unless already present.
func (m *EnrichedMatch) AddSource(name string) {
	if !m.HasSource(name) {
		m.DataSources = append(m.DataSources, name)
	}
}

// DataQuality scores which optional signals are populated on m.
func DataQuality(m *EnrichedMatch) int {
	score := 0
	if len(m.DataSources) > 0 {
		score += 30
	}
	if m.Odds != nil {
		score += 30
	}
	if m.Statistics != nil {
		score += 20
	}
	if m.Lineups != nil && (len(m.Lineups.Home) > 0 || len(m.Lineups.Away) > 0) {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

// MatchKey builds the cross-source identity of a fixture: normalized team
// names plus the UTC kickoff date.
func MatchKey(home, away string, kickoff time.Time) string {
	day := "unknown-date"
	if !kickoff.IsZero() {
		day = kickoff.UTC().Format("2006-01-02")
	}
	return normalizeKeyPart(home) + "|" + normalizeKeyPart(away) + "|" + day
}

// Key returns MatchKey for m.
func (m *Match) Key() string {
	return MatchKey(m.Home, m.Away, m.Kickoff)
}

var teamSuffixes = []string{" fc", " cf", " afc", " sc"}

func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(".", " ", "-", " ", "/", " ", "|", " ", "\\", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimPrefix(s, "fc ")
	for _, suffix := range teamSuffixes {
		s = strings.TrimSuffix(s, suffix)
	}
	return s
}
