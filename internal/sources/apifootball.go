package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/matchoracle/internal/config"
	"github.com/rewired-gh/matchoracle/internal/models"
)

// APIFootball reads the api-sports.io v3 football API.
type APIFootball struct {
	name    string
	league  string
	season  int
	caps    []string
	client  *httpClient
	nowFunc func() time.Time

	mu       sync.Mutex
	fixtures map[string]fixtureRef
}

// fixtureRef remembers the ids needed to ask for a fixture's history later.
type fixtureRef struct {
	homeID   int
	awayID   int
	leagueID int
	season   int
}

type afEnvelope[T any] struct {
	Response T `json:"response"`
}

type afFixture struct {
	Fixture struct {
		ID     int    `json:"id"`
		Date   string `json:"date"`
		Status struct {
			Short   string `json:"short"`
			Elapsed *int   `json:"elapsed"`
		} `json:"status"`
	} `json:"fixture"`
	League struct {
		ID      int    `json:"id"`
		Name    string `json:"name"`
		Country string `json:"country"`
		Season  int    `json:"season"`
	} `json:"league"`
	Teams struct {
		Home afTeam `json:"home"`
		Away afTeam `json:"away"`
	} `json:"teams"`
	Goals struct {
		Home *int `json:"home"`
		Away *int `json:"away"`
	} `json:"goals"`
}

type afTeam struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type afOdds struct {
	Bookmakers []struct {
		Name string `json:"name"`
		Bets []struct {
			Name   string `json:"name"`
			Values []struct {
				Value string      `json:"value"`
				Odd   interface{} `json:"odd"`
			} `json:"values"`
		} `json:"bets"`
	} `json:"bookmakers"`
}

type afTeamStatistics struct {
	Team       afTeam `json:"team"`
	Statistics []struct {
		Type  string      `json:"type"`
		Value interface{} `json:"value"`
	} `json:"statistics"`
}

type afSeason struct {
	Fixtures struct {
		Played afTotal `json:"played"`
		Wins   afTotal `json:"wins"`
		Draws  afTotal `json:"draws"`
		Loses  afTotal `json:"loses"`
	} `json:"fixtures"`
	Goals struct {
		For struct {
			Total afTotal `json:"total"`
		} `json:"for"`
		Against struct {
			Total afTotal `json:"total"`
		} `json:"against"`
	} `json:"goals"`
}

type afTotal struct {
	Total int `json:"total"`
}

// NewAPIFootball creates an api-sports.io adapter. The key is sent in the
// x-apisports-key header.
func NewAPIFootball(cfg config.SourceConfig) *APIFootball {
	caps := cfg.Capabilities
	if len(caps) == 0 {
		caps = []string{CapMatches, CapOdds, CapStatistics, CapHistory}
	}
	return &APIFootball{
		name:     cfg.Name,
		league:   cfg.League,
		season:   cfg.Season,
		caps:     caps,
		client:   newHTTPClient(cfg.BaseURL, "x-apisports-key", cfg.APIKey, cfg.Timeout, cfg.MaxRetries),
		nowFunc:  time.Now,
		fixtures: make(map[string]fixtureRef),
	}
}

func (a *APIFootball) Name() string           { return a.name }
func (a *APIFootball) Capabilities() []string { return a.caps }

// SetAdmission must be called before the provider is used.
func (a *APIFootball) SetAdmission(admit func() bool) { a.client.admit = admit }

// FetchMatches returns today's fixtures, optionally limited to one league.
func (a *APIFootball) FetchMatches(ctx context.Context) ([]models.Match, error) {
	q := url.Values{}
	q.Set("date", a.nowFunc().UTC().Format("2006-01-02"))
	if a.league != "" {
		q.Set("league", a.league)
		if a.season > 0 {
			q.Set("season", strconv.Itoa(a.season))
		}
	}

	var env afEnvelope[[]afFixture]
	if err := a.client.getJSON(ctx, "/fixtures", q, &env); err != nil {
		return nil, fmt.Errorf("failed to fetch fixtures: %w", err)
	}

	// Only the latest fixture list is remembered, so the map tracks one day.
	refs := make(map[string]fixtureRef, len(env.Response))
	matches := make([]models.Match, 0, len(env.Response))
	for _, f := range env.Response {
		status, ok := apiFootballStatus(f.Fixture.Status.Short)
		if !ok {
			continue
		}
		id := strconv.Itoa(f.Fixture.ID)
		m := models.Match{
			ID:      id,
			Source:  a.name,
			Home:    f.Teams.Home.Name,
			Away:    f.Teams.Away.Name,
			League:  f.League.Name,
			Country: f.League.Country,
			Status:  status,
		}
		if t, err := time.Parse(time.RFC3339, f.Fixture.Date); err == nil {
			m.Kickoff = t.UTC()
		}
		if f.Fixture.Status.Elapsed != nil {
			m.Minute = *f.Fixture.Status.Elapsed
		}
		if f.Goals.Home != nil {
			m.Score.Home = *f.Goals.Home
		}
		if f.Goals.Away != nil {
			m.Score.Away = *f.Goals.Away
		}
		if err := m.Validate(); err != nil {
			continue
		}
		refs[id] = fixtureRef{
			homeID:   f.Teams.Home.ID,
			awayID:   f.Teams.Away.ID,
			leagueID: f.League.ID,
			season:   f.League.Season,
		}
		matches = append(matches, m)
	}

	a.mu.Lock()
	a.fixtures = refs
	a.mu.Unlock()
	return matches, nil
}

func apiFootballStatus(short string) (models.MatchStatus, bool) {
	switch short {
	case "TBD", "NS":
		return models.StatusScheduled, true
	case "1H", "HT", "2H", "ET", "BT", "P", "LIVE", "INT", "SUSP":
		return models.StatusLive, true
	case "FT", "AET", "PEN":
		return models.StatusFinished, true
	default:
		// PST, CANC, ABD, AWD, WO
		return "", false
	}
}

// FetchOdds returns the first bookmaker's prices for the supported markets.
func (a *APIFootball) FetchOdds(ctx context.Context, matchID string) (*models.Odds, error) {
	q := url.Values{}
	q.Set("fixture", matchID)

	var env afEnvelope[[]afOdds]
	if err := a.client.getJSON(ctx, "/odds", q, &env); err != nil {
		return nil, fmt.Errorf("failed to fetch odds: %w", err)
	}

	for _, entry := range env.Response {
		for _, bm := range entry.Bookmakers {
			odds := &models.Odds{}
			for _, bet := range bm.Bets {
				for _, v := range bet.Values {
					price := toFloat(v.Odd)
					switch bet.Name {
					case "Match Winner":
						switch v.Value {
						case "Home":
							odds.Home = price
						case "Draw":
							odds.Draw = price
						case "Away":
							odds.Away = price
						}
					case "Goals Over/Under":
						switch v.Value {
						case "Over 2.5":
							odds.Over = price
						case "Under 2.5":
							odds.Under = price
						}
					case "Both Teams Score":
						switch v.Value {
						case "Yes":
							odds.BTTSYes = price
						case "No":
							odds.BTTSNo = price
						}
					}
				}
			}
			if odds.Has1X2() || odds.HasOverUnder() || odds.HasBTTS() {
				return odds, nil
			}
		}
	}
	return nil, nil
}

// FetchStatistics returns per-side statistics. The first team in the
// response is the home side.
func (a *APIFootball) FetchStatistics(ctx context.Context, matchID string) (*models.Statistics, error) {
	q := url.Values{}
	q.Set("fixture", matchID)

	var env afEnvelope[[]afTeamStatistics]
	if err := a.client.getJSON(ctx, "/fixtures/statistics", q, &env); err != nil {
		return nil, fmt.Errorf("failed to fetch statistics: %w", err)
	}
	if len(env.Response) < 2 {
		return nil, nil
	}

	var side [2]map[string]float64
	for i := 0; i < 2; i++ {
		side[i] = make(map[string]float64)
		for _, s := range env.Response[i].Statistics {
			side[i][s.Type] = toFloat(s.Value)
		}
	}
	return &models.Statistics{
		PossessionHome:    side[0]["Ball Possession"],
		PossessionAway:    side[1]["Ball Possession"],
		ShotsHome:         int(side[0]["Total Shots"]),
		ShotsAway:         int(side[1]["Total Shots"]),
		ShotsOnTargetHome: int(side[0]["Shots on Goal"]),
		ShotsOnTargetAway: int(side[1]["Shots on Goal"]),
		CornersHome:       int(side[0]["Corner Kicks"]),
		CornersAway:       int(side[1]["Corner Kicks"]),
		YellowCardsHome:   int(side[0]["Yellow Cards"]),
		YellowCardsAway:   int(side[1]["Yellow Cards"]),
		RedCardsHome:      int(side[0]["Red Cards"]),
		RedCardsAway:      int(side[1]["Red Cards"]),
	}, nil
}

// FetchHistory assembles head-to-head, recent form and season numbers for
// a fixture previously returned by FetchMatches. Each part is best-effort;
// an error is returned only when every request failed.
func (a *APIFootball) FetchHistory(ctx context.Context, m models.Match) (*models.History, error) {
	a.mu.Lock()
	ref, ok := a.fixtures[m.ID]
	a.mu.Unlock()
	if !ok || ref.homeID == 0 || ref.awayID == 0 {
		return nil, nil
	}

	h := &models.History{}
	var errs []error

	// Stop at the first refused admission; later parts would be refused too.
	refused := func(err error) bool {
		errs = append(errs, err)
		return IsNotAdmitted(err)
	}

	if h2h, err := a.headToHead(ctx, ref); err != nil {
		if refused(err) {
			return a.partialHistory(h, errs)
		}
	} else {
		h.HeadToHead = h2h
	}

	for _, t := range []struct {
		id   int
		name string
		form **models.TeamForm
		stat **models.SeasonStats
	}{
		{ref.homeID, m.Home, &h.HomeForm, &h.HomeSeason},
		{ref.awayID, m.Away, &h.AwayForm, &h.AwaySeason},
	} {
		if form, err := a.teamForm(ctx, t.id, t.name); err != nil {
			if refused(err) {
				return a.partialHistory(h, errs)
			}
		} else {
			*t.form = form
		}
		if ref.leagueID == 0 || ref.season == 0 {
			continue
		}
		if stats, err := a.seasonStats(ctx, ref, t.id, t.name); err != nil {
			if refused(err) {
				return a.partialHistory(h, errs)
			}
		} else {
			*t.stat = stats
		}
	}
	return a.partialHistory(h, errs)
}

// partialHistory returns what was gathered, or the joined errors when
// nothing was.
func (a *APIFootball) partialHistory(h *models.History, errs []error) (*models.History, error) {
	if h.Empty() && len(errs) > 0 {
		return nil, fmt.Errorf("failed to fetch history: %w", errors.Join(errs...))
	}
	return h, nil
}

func (a *APIFootball) headToHead(ctx context.Context, ref fixtureRef) (*models.HeadToHead, error) {
	q := url.Values{}
	q.Set("h2h", fmt.Sprintf("%d-%d", ref.homeID, ref.awayID))
	q.Set("last", "10")

	var env afEnvelope[[]afFixture]
	if err := a.client.getJSON(ctx, "/fixtures/headtohead", q, &env); err != nil {
		return nil, err
	}

	h2h := &models.HeadToHead{}
	goals := 0
	for _, f := range env.Response {
		if f.Goals.Home == nil || f.Goals.Away == nil {
			continue
		}
		// Orient every meeting from the current home side's point of view.
		own, other := *f.Goals.Home, *f.Goals.Away
		if f.Teams.Home.ID != ref.homeID {
			own, other = other, own
		}
		h2h.Matches++
		goals += own + other
		switch {
		case own > other:
			h2h.HomeWins++
		case own < other:
			h2h.AwayWins++
		default:
			h2h.Draws++
		}
		if own > 0 && other > 0 {
			h2h.BTTSCount++
		}
		if own+other > 2 {
			h2h.OverCount++
		}
	}
	if h2h.Matches == 0 {
		return nil, nil
	}
	h2h.AvgGoals = float64(goals) / float64(h2h.Matches)
	return h2h, nil
}

func (a *APIFootball) teamForm(ctx context.Context, teamID int, name string) (*models.TeamForm, error) {
	q := url.Values{}
	q.Set("team", strconv.Itoa(teamID))
	q.Set("last", "5")

	var env afEnvelope[[]afFixture]
	if err := a.client.getJSON(ctx, "/fixtures", q, &env); err != nil {
		return nil, err
	}

	var results []string
	for _, f := range env.Response {
		if f.Goals.Home == nil || f.Goals.Away == nil {
			continue
		}
		own, other := *f.Goals.Home, *f.Goals.Away
		if f.Teams.Home.ID != teamID {
			own, other = other, own
		}
		switch {
		case own > other:
			results = append(results, "W")
		case own < other:
			results = append(results, "L")
		default:
			results = append(results, "D")
		}
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &models.TeamForm{Team: name, Rating: models.FormRating(results), Results: results}, nil
}

func (a *APIFootball) seasonStats(ctx context.Context, ref fixtureRef, teamID int, name string) (*models.SeasonStats, error) {
	q := url.Values{}
	q.Set("team", strconv.Itoa(teamID))
	q.Set("league", strconv.Itoa(ref.leagueID))
	q.Set("season", strconv.Itoa(ref.season))

	var env afEnvelope[afSeason]
	if err := a.client.getJSON(ctx, "/teams/statistics", q, &env); err != nil {
		return nil, err
	}
	s := env.Response
	if s.Fixtures.Played.Total == 0 {
		return nil, nil
	}
	return &models.SeasonStats{
		Team:         name,
		Played:       s.Fixtures.Played.Total,
		Wins:         s.Fixtures.Wins.Total,
		Draws:        s.Fixtures.Draws.Total,
		Losses:       s.Fixtures.Loses.Total,
		GoalsFor:     s.Goals.For.Total.Total,
		GoalsAgainst: s.Goals.Against.Total.Total,
	}, nil
}

// toFloat reads the loosely typed numbers api-sports returns: JSON numbers,
// numeric strings, and percentages like "55%".
func toFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
