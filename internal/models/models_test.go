package models

import (
	"math"
	"testing"
	"time"
)

func TestMatchValidate(t *testing.T) {
	tests := []struct {
		name    string
		match   Match
		wantErr bool
	}{
		{
			name: "valid match",
			match: Match{
				ID:     "1001",
				Home:   "Arsenal",
				Away:   "Chelsea",
				Status: StatusLive,
				Minute: 34,
				Score:  Score{Home: 1, Away: 0},
			},
			wantErr: false,
		},
		{
			name:    "empty ID",
			match:   Match{Home: "Arsenal", Away: "Chelsea", Status: StatusScheduled},
			wantErr: true,
		},
		{
			name:    "missing away team",
			match:   Match{ID: "1", Home: "Arsenal", Status: StatusScheduled},
			wantErr: true,
		},
		{
			name:    "unknown status",
			match:   Match{ID: "1", Home: "Arsenal", Away: "Chelsea", Status: "postponed"},
			wantErr: true,
		},
		{
			name:    "negative score",
			match:   Match{ID: "1", Home: "Arsenal", Away: "Chelsea", Status: StatusLive, Score: Score{Home: -1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.match.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Match.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDataQuality(t *testing.T) {
	tests := []struct {
		name  string
		match EnrichedMatch
		want  int
	}{
		{
			name:  "nothing populated",
			match: EnrichedMatch{},
			want:  0,
		},
		{
			name:  "sources only",
			match: EnrichedMatch{DataSources: []string{"apifootball"}},
			want:  30,
		},
		{
			name: "sources and odds",
			match: EnrichedMatch{
				Match:       Match{Odds: &Odds{Home: 2, Draw: 3, Away: 4}},
				DataSources: []string{"apifootball"},
			},
			want: 60,
		},
		{
			name: "all four signals",
			match: EnrichedMatch{
				Match: Match{
					Odds:       &Odds{Home: 2, Draw: 3, Away: 4},
					Statistics: &Statistics{PossessionHome: 55, PossessionAway: 45},
					Lineups:    &Lineups{Home: []string{"Raya"}, Away: []string{"Sanchez"}},
				},
				DataSources: []string{"apifootball", SourceCalculatedOdds},
			},
			want: 100,
		},
		{
			name: "empty lineups do not count",
			match: EnrichedMatch{
				Match:       Match{Lineups: &Lineups{}},
				DataSources: []string{"apifootball"},
			},
			want: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DataQuality(&tt.match); got != tt.want {
				t.Errorf("DataQuality() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMatchKey(t *testing.T) {
	kickoff := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

	a := MatchKey("Arsenal FC", "Chelsea", kickoff)
	b := MatchKey("  arsenal ", "CHELSEA fc", kickoff.Add(-2*time.Hour))
	if a != b {
		t.Errorf("expected equal keys, got %q and %q", a, b)
	}

	c := MatchKey("Arsenal", "Chelsea", kickoff.Add(24*time.Hour))
	if a == c {
		t.Errorf("different kickoff dates must not share a key: %q", a)
	}

	if got := MatchKey("Arsenal", "Chelsea", time.Time{}); got != "arsenal|chelsea|unknown-date" {
		t.Errorf("unexpected key for zero kickoff: %q", got)
	}
}

func TestModelParametersClamp(t *testing.T) {
	p := ModelParameters{
		HomeBias:        25,
		DrawBias:        -40,
		GoalLineShift:   math.NaN(),
		BTTSBias:        3,
		ConfidenceScale: 0.1,
	}
	p.Clamp()

	if !p.InBounds() {
		t.Fatalf("parameters out of bounds after Clamp: %+v", p)
	}
	if p.HomeBias != 10 {
		t.Errorf("HomeBias = %v, want 10", p.HomeBias)
	}
	if p.DrawBias != -10 {
		t.Errorf("DrawBias = %v, want -10", p.DrawBias)
	}
	if p.GoalLineShift != 0 {
		t.Errorf("GoalLineShift = %v, want 0 for NaN input", p.GoalLineShift)
	}
	if p.BTTSBias != 3 {
		t.Errorf("BTTSBias = %v, want unchanged 3", p.BTTSBias)
	}
	if p.ConfidenceScale != 0.8 {
		t.Errorf("ConfidenceScale = %v, want 0.8", p.ConfidenceScale)
	}
}

func TestModelVersionRecompute(t *testing.T) {
	v := NewModelVersion(time.Now())
	v.TotalPredictions = 8
	v.CorrectPredictions = 6
	v.Recompute()
	if v.Accuracy != 75 {
		t.Errorf("Accuracy = %v, want 75", v.Accuracy)
	}

	snap := v.Snapshot()
	v.Parameters.HomeBias = 4
	if snap.Parameters.HomeBias != 0 {
		t.Error("snapshot must not share parameter state with the original")
	}
}

func TestFormRating(t *testing.T) {
	tests := []struct {
		results []string
		want    float64
	}{
		{nil, 0},
		{[]string{"W", "W", "W"}, 100},
		{[]string{"L", "L"}, 0},
		{[]string{"W", "D", "L"}, 4.0 / 9.0 * 100},
	}
	for _, tt := range tests {
		if got := FormRating(tt.results); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("FormRating(%v) = %v, want %v", tt.results, got, tt.want)
		}
	}
}
