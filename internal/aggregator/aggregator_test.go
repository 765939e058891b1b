package aggregator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/matchoracle/internal/breaker"
	"github.com/rewired-gh/matchoracle/internal/models"
	"github.com/rewired-gh/matchoracle/internal/sources"
)

type fakeProvider struct {
	name    string
	matches []models.Match
	err     error
	block   bool

	mu         sync.Mutex
	odds       map[string]*models.Odds
	oddsErr    map[string]error
	statistics map[string]*models.Statistics

	matchCalls atomic.Int32
	oddsCalls  atomic.Int32
	statCalls  atomic.Int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Capabilities() []string {
	return []string{sources.CapMatches, sources.CapOdds, sources.CapStatistics}
}

func (f *fakeProvider) FetchMatches(ctx context.Context) ([]models.Match, error) {
	f.matchCalls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Match, len(f.matches))
	for i, m := range f.matches {
		m.Source = f.name
		out[i] = m
	}
	return out, nil
}

func (f *fakeProvider) FetchOdds(ctx context.Context, matchID string) (*models.Odds, error) {
	f.oddsCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.oddsErr[matchID]; err != nil {
		return nil, err
	}
	return f.odds[matchID], nil
}

func (f *fakeProvider) FetchStatistics(ctx context.Context, matchID string) (*models.Statistics, error) {
	f.statCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statistics[matchID], nil
}

func testMatch(id, home, away string, status models.MatchStatus) models.Match {
	return models.Match{
		ID:      id,
		Home:    home,
		Away:    away,
		League:  "Test League",
		Kickoff: time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC),
		Status:  status,
	}
}

func newTestAggregator(t *testing.T, providers ...*fakeProvider) (*Aggregator, *breaker.Registry) {
	t.Helper()
	var srcs []breaker.Source
	var ps []sources.Provider
	for i, p := range providers {
		srcs = append(srcs, breaker.Source{
			Name:               p.name,
			Priority:           i + 1,
			RateLimitPerWindow: 100,
			Enabled:            true,
			Capabilities:       p.Capabilities(),
		})
		ps = append(ps, p)
	}
	reg := breaker.New(srcs, breaker.DefaultConfig())
	return New(reg, ps, Config{CallTimeout: time.Second, MaxConcurrency: 2}), reg
}

func TestFetchEnriched_FallsBackInPriorityOrder(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b", matches: []models.Match{
		testMatch("1", "Ajax", "PSV", models.StatusScheduled),
		testMatch("2", "Feyenoord", "Utrecht", models.StatusScheduled),
		testMatch("3", "Twente", "AZ", models.StatusScheduled),
	}}
	c := &fakeProvider{name: "c", matches: []models.Match{testMatch("9", "X", "Y", models.StatusLive)}}
	agg, reg := newTestAggregator(t, a, b, c)

	got := agg.FetchEnriched(context.Background())
	if len(got) != 3 {
		t.Fatalf("got %d matches, want 3", len(got))
	}
	for _, m := range got {
		if m.Source != "b" {
			t.Errorf("match %s came from %s, want b", m.ID, m.Source)
		}
	}
	if n := c.matchCalls.Load(); n != 0 {
		t.Errorf("source c called %d times, want 0", n)
	}
	if n := a.matchCalls.Load(); n != 1 {
		t.Errorf("source a called %d times, want 1", n)
	}

	status := reg.Status()
	if status["a"].Failures != 1 {
		t.Errorf("empty result must count as a failure, got %d", status["a"].Failures)
	}
	if status["b"].Failures != 0 {
		t.Errorf("source b failures = %d, want 0", status["b"].Failures)
	}
}

func TestFetchEnriched_ErrorAndTimeoutFallBack(t *testing.T) {
	slow := &fakeProvider{name: "slow", block: true}
	broken := &fakeProvider{name: "broken", err: errors.New("connection refused")}
	good := &fakeProvider{name: "good", matches: []models.Match{testMatch("1", "Ajax", "PSV", models.StatusLive)}}

	agg, reg := newTestAggregator(t, slow, broken, good)
	agg.config.CallTimeout = 20 * time.Millisecond

	got := agg.FetchEnriched(context.Background())
	if len(got) != 1 || got[0].Source != "good" {
		t.Fatalf("FetchEnriched = %+v, want the match from good", got)
	}
	status := reg.Status()
	if status["slow"].Failures != 1 || status["broken"].Failures != 1 {
		t.Errorf("failures slow=%d broken=%d, want 1 each", status["slow"].Failures, status["broken"].Failures)
	}
}

func TestFetchEnriched_AllSourcesEmpty(t *testing.T) {
	agg, _ := newTestAggregator(t, &fakeProvider{name: "a"}, &fakeProvider{name: "b", err: errors.New("down")})

	got := agg.FetchEnriched(context.Background())
	if got == nil || len(got) != 0 {
		t.Errorf("FetchEnriched = %#v, want empty non-nil slice", got)
	}
}

func TestFetchEnriched_SkipsOpenBreaker(t *testing.T) {
	a := &fakeProvider{name: "a", matches: []models.Match{testMatch("1", "Ajax", "PSV", models.StatusScheduled)}}
	b := &fakeProvider{name: "b", matches: []models.Match{testMatch("2", "Twente", "AZ", models.StatusScheduled)}}
	agg, reg := newTestAggregator(t, a, b)

	for i := 0; i < 3; i++ {
		reg.RecordOutcome("a", false)
	}

	got := agg.FetchEnriched(context.Background())
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("FetchEnriched = %+v, want match 2 from b", got)
	}
	if n := a.matchCalls.Load(); n != 0 {
		t.Errorf("open source called %d times, want 0", n)
	}
}

func TestFetchEnriched_Deduplicates(t *testing.T) {
	a := &fakeProvider{name: "a", matches: []models.Match{
		testMatch("1", "Ajax", "PSV", models.StatusScheduled),
		testMatch("1b", "AFC Ajax", "PSV", models.StatusScheduled),
		testMatch("2", "Ajax FC", "PSV", models.StatusScheduled),
	}}
	agg, _ := newTestAggregator(t, a)

	got := agg.FetchEnriched(context.Background())
	// "AFC Ajax" keeps its prefix, "Ajax FC" normalizes to "ajax".
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	if got[0].ID != "1" || got[1].ID != "1b" {
		t.Errorf("kept %s and %s, want 1 and 1b", got[0].ID, got[1].ID)
	}
}

func TestFetchEnriched_EnrichmentAndQuality(t *testing.T) {
	provided := &models.Odds{Home: 1.8, Draw: 3.6, Away: 4.5}
	a := &fakeProvider{
		name: "a",
		matches: []models.Match{
			testMatch("1", "Ajax", "PSV", models.StatusLive),
			testMatch("2", "Twente", "AZ", models.StatusLive),
			testMatch("3", "Vitesse", "NEC", models.StatusScheduled),
		},
		odds:       map[string]*models.Odds{"1": provided},
		oddsErr:    map[string]error{"2": errors.New("timeout")},
		statistics: map[string]*models.Statistics{"1": {PossessionHome: 60, PossessionAway: 40}},
	}
	a.matches[0].Lineups = &models.Lineups{Home: []string{"Keeper"}, Away: []string{"Keeper"}}

	agg, reg := newTestAggregator(t, a)
	got := agg.FetchEnriched(context.Background())
	if len(got) != 3 {
		t.Fatalf("got %d matches, want 3", len(got))
	}

	byID := make(map[string]models.EnrichedMatch)
	for _, m := range got {
		byID[m.ID] = m
	}

	m1 := byID["1"]
	if *m1.Odds != *provided || m1.Statistics.PossessionHome != 60 {
		t.Errorf("match 1 should keep provider data: %+v %+v", m1.Odds, m1.Statistics)
	}
	if m1.HasSource(models.SourceCalculatedOdds) || m1.HasSource(models.SourceEstimatedStats) {
		t.Errorf("match 1 must not be tagged synthetic: %v", m1.DataSources)
	}
	if m1.DataQuality != 100 {
		t.Errorf("match 1 quality = %d, want 100", m1.DataQuality)
	}

	m2 := byID["2"]
	if !m2.HasSource(models.SourceCalculatedOdds) || !m2.HasSource(models.SourceEstimatedStats) {
		t.Errorf("match 2 sources = %v, want both synthetic markers", m2.DataSources)
	}
	if !m2.Odds.Has1X2() || !m2.Odds.HasOverUnder() || !m2.Odds.HasBTTS() {
		t.Errorf("match 2 synthetic odds incomplete: %+v", m2.Odds)
	}
	if m2.DataQuality != 80 {
		t.Errorf("match 2 quality = %d, want 80", m2.DataQuality)
	}

	// Scheduled matches have no live statistics to ask for.
	if n := a.statCalls.Load(); n != 2 {
		t.Errorf("statistics requested %d times, want 2", n)
	}
	if n := a.oddsCalls.Load(); n != 3 {
		t.Errorf("odds requested %d times, want 3", n)
	}

	// One failed enrichment call does not trip the breaker on its own.
	if !reg.CanUse("a") {
		t.Error("source a should stay admissible")
	}
}

func TestFillOdds(t *testing.T) {
	tests := []struct {
		name  string
		match models.Match
		check func(t *testing.T, o *models.Odds)
	}{
		{
			name:  "scheduled favours home",
			match: testMatch("1", "A", "B", models.StatusScheduled),
			check: func(t *testing.T, o *models.Odds) {
				if o.Home >= o.Away {
					t.Errorf("home %v should be shorter than away %v", o.Home, o.Away)
				}
			},
		},
		{
			name: "late home lead",
			match: models.Match{ID: "2", Home: "A", Away: "B", Status: models.StatusLive,
				Minute: 85, Score: models.Score{Home: 2, Away: 0}},
			check: func(t *testing.T, o *models.Odds) {
				if o.Home > 1.2 {
					t.Errorf("home price %v too long for a late two-goal lead", o.Home)
				}
				if o.Over <= o.Under {
					t.Errorf("two goals with five minutes left: over %v should be longer than under %v", o.Over, o.Under)
				}
			},
		},
		{
			name: "over already landed",
			match: models.Match{ID: "3", Home: "A", Away: "B", Status: models.StatusLive,
				Minute: 50, Score: models.Score{Home: 2, Away: 1}},
			check: func(t *testing.T, o *models.Odds) {
				if o.Over != 1.01 || o.BTTSYes != 1.01 {
					t.Errorf("settled markets should be at the floor price: %+v", o)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := &models.EnrichedMatch{Match: tt.match}
			fillOdds(em)
			if !em.Odds.Has1X2() {
				t.Fatalf("incomplete 1x2 ladder: %+v", em.Odds)
			}
			if !em.HasSource(models.SourceCalculatedOdds) {
				t.Error("missing calculated-odds marker")
			}
			tt.check(t, em.Odds)
		})
	}
}

func TestFillStatistics(t *testing.T) {
	em := &models.EnrichedMatch{Match: models.Match{ID: "1", Home: "A", Away: "B",
		Status: models.StatusLive, Minute: 60, Score: models.Score{Home: 0, Away: 2}}}
	fillStatistics(em)

	s := em.Statistics
	if s == nil {
		t.Fatal("expected estimated statistics")
	}
	if s.PossessionHome+s.PossessionAway != 100 {
		t.Errorf("possession does not add up: %v + %v", s.PossessionHome, s.PossessionAway)
	}
	if s.PossessionHome <= s.PossessionAway {
		t.Errorf("trailing home side should hold the ball: %v", s.PossessionHome)
	}
	if s.ShotsOnTargetAway < 2 {
		t.Errorf("two away goals need at least two shots on target, got %d", s.ShotsOnTargetAway)
	}
	if !em.HasSource(models.SourceEstimatedStats) {
		t.Error("missing estimated-stats marker")
	}
}

func TestFetchHistory(t *testing.T) {
	static := sources.NewStatic("replay", sources.Fixtures{
		Matches: []models.Match{testMatch("m1", "Ajax", "PSV", models.StatusScheduled)},
		History: map[string]*models.History{
			"m1": {HeadToHead: &models.HeadToHead{Matches: 5, HomeWins: 3}},
		},
	})
	reg := breaker.New([]breaker.Source{{Name: "replay", RateLimitPerWindow: 10, Enabled: true}}, breaker.DefaultConfig())
	agg := New(reg, []sources.Provider{static}, Config{})

	matches := agg.FetchEnriched(context.Background())
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	h := agg.FetchHistory(context.Background(), matches[0].Match)
	if h == nil || h.HeadToHead == nil || h.HeadToHead.HomeWins != 3 {
		t.Errorf("FetchHistory = %+v", h)
	}

	unknown := testMatch("m2", "Ajax", "PSV", models.StatusScheduled)
	unknown.Source = "replay"
	if h := agg.FetchHistory(context.Background(), unknown); h != nil {
		t.Errorf("FetchHistory for unknown fixture = %+v, want nil", h)
	}
}
