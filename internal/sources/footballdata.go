package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/matchoracle/internal/config"
	"github.com/rewired-gh/matchoracle/internal/models"
)

// FootballData reads football-data.org v4. The free tier has fixtures and
// scores but no odds or statistics.
type FootballData struct {
	name   string
	league string
	caps   []string
	client *httpClient
}

type fdMatches struct {
	Matches []struct {
		ID          int    `json:"id"`
		UTCDate     string `json:"utcDate"`
		Status      string `json:"status"`
		Minute      *int   `json:"minute"`
		Competition struct {
			Name string `json:"name"`
		} `json:"competition"`
		Area struct {
			Name string `json:"name"`
		} `json:"area"`
		HomeTeam struct {
			Name string `json:"name"`
		} `json:"homeTeam"`
		AwayTeam struct {
			Name string `json:"name"`
		} `json:"awayTeam"`
		Score struct {
			FullTime struct {
				Home *int `json:"home"`
				Away *int `json:"away"`
			} `json:"fullTime"`
		} `json:"score"`
	} `json:"matches"`
}

// NewFootballData creates a football-data.org adapter. The key is sent in
// the X-Auth-Token header.
func NewFootballData(cfg config.SourceConfig) *FootballData {
	caps := cfg.Capabilities
	if len(caps) == 0 {
		caps = []string{CapMatches}
	}
	return &FootballData{
		name:   cfg.Name,
		league: cfg.League,
		caps:   caps,
		client: newHTTPClient(cfg.BaseURL, "X-Auth-Token", cfg.APIKey, cfg.Timeout, cfg.MaxRetries),
	}
}

func (f *FootballData) Name() string           { return f.name }
func (f *FootballData) Capabilities() []string { return f.caps }

// SetAdmission must be called before the provider is used.
func (f *FootballData) SetAdmission(admit func() bool) { f.client.admit = admit }

// FetchMatches returns today's matches, optionally for one competition code.
func (f *FootballData) FetchMatches(ctx context.Context) ([]models.Match, error) {
	q := url.Values{}
	if f.league != "" {
		q.Set("competitions", f.league)
	}

	var resp fdMatches
	if err := f.client.getJSON(ctx, "/matches", q, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch matches: %w", err)
	}

	matches := make([]models.Match, 0, len(resp.Matches))
	for _, fm := range resp.Matches {
		status, ok := footballDataStatus(fm.Status)
		if !ok {
			continue
		}
		m := models.Match{
			ID:      strconv.Itoa(fm.ID),
			Source:  f.name,
			Home:    fm.HomeTeam.Name,
			Away:    fm.AwayTeam.Name,
			League:  fm.Competition.Name,
			Country: fm.Area.Name,
			Status:  status,
		}
		if t, err := time.Parse(time.RFC3339, fm.UTCDate); err == nil {
			m.Kickoff = t.UTC()
		}
		if fm.Minute != nil {
			m.Minute = *fm.Minute
		}
		if fm.Score.FullTime.Home != nil {
			m.Score.Home = *fm.Score.FullTime.Home
		}
		if fm.Score.FullTime.Away != nil {
			m.Score.Away = *fm.Score.FullTime.Away
		}
		if err := m.Validate(); err != nil {
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func footballDataStatus(s string) (models.MatchStatus, bool) {
	switch s {
	case "SCHEDULED", "TIMED":
		return models.StatusScheduled, true
	case "IN_PLAY", "PAUSED", "LIVE", "SUSPENDED":
		return models.StatusLive, true
	case "FINISHED", "AWARDED":
		return models.StatusFinished, true
	default:
		return "", false
	}
}

func (f *FootballData) FetchOdds(ctx context.Context, matchID string) (*models.Odds, error) {
	return nil, nil
}

func (f *FootballData) FetchStatistics(ctx context.Context, matchID string) (*models.Statistics, error) {
	return nil, nil
}
