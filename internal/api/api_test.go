package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/matchoracle/internal/learning"
	"github.com/rewired-gh/matchoracle/internal/models"
	"github.com/rewired-gh/matchoracle/internal/storage"
)

type fakeMatches struct {
	matches []models.EnrichedMatch
	status  map[string]models.SourceStatus
}

func (f *fakeMatches) FetchEnriched(context.Context) []models.EnrichedMatch { return f.matches }
func (f *fakeMatches) Status() map[string]models.SourceStatus              { return f.status }

type brokenStore struct{}

func (brokenStore) QueryPredictions(context.Context, string) ([]models.PredictionRecord, error) {
	return nil, errors.New("database is locked")
}
func (brokenStore) Ping(context.Context) error { return errors.New("database is locked") }

type fixture struct {
	server  *httptest.Server
	engine  *learning.Engine
	store   *storage.Storage
	matches *fakeMatches
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(100, ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		engine: learning.New(context.Background(), store, learning.DefaultConfig()),
		store:  store,
		matches: &fakeMatches{
			matches: []models.EnrichedMatch{
				{Match: models.Match{ID: "1", Home: "Ajax", Away: "PSV", Status: models.StatusLive}, DataQuality: 60},
				{Match: models.Match{ID: "2", Home: "Feyenoord", Away: "AZ", Status: models.StatusScheduled}, DataQuality: 30},
			},
			status: map[string]models.SourceStatus{
				"primary": {Name: "primary", Enabled: true, Available: true, BreakerState: models.BreakerClosed},
			},
		},
	}
	f.server = httptest.NewServer(New(f.matches, f.engine, store, []string{"http://localhost:3000"}).Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("status %d, body %v", resp.StatusCode, body)
	}
}

func TestHealth_StorageDown(t *testing.T) {
	srv := httptest.NewServer(New(&fakeMatches{}, nil, brokenStore{}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestSources(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/sources", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	primary, ok := body["primary"].(map[string]interface{})
	if !ok || primary["circuit_breaker_state"] != "closed" {
		t.Errorf("body = %v", body)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		query string
		want  float64
	}{
		{"", 2},
		{"?status=live", 1},
		{"?status=finished", 0},
	}
	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, body := f.do(t, http.MethodGet, "/api/matches"+tt.query, "")
			if body["count"] != tt.want {
				t.Errorf("count = %v, want %v", body["count"], tt.want)
			}
		})
	}
}

func TestRecordResult(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"match_id":"1","predicted":"home","actual":"home","bet_type":"1x2"}`, http.StatusAccepted},
		{"malformed", `{"match_id":`, http.StatusBadRequest},
		{"missing actual", `{"match_id":"1","predicted":"home","bet_type":"1x2"}`, http.StatusBadRequest},
		{"unknown market", `{"match_id":"1","predicted":"home","actual":"home","bet_type":"corners"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp, _ := f.do(t, http.MethodPost, "/api/results", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRecordResult_DerivesCorrectness(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/api/results",
		`{"match_id":"1","predicted":"home","actual":"away","correct":true,"bet_type":"1x2"}`)
	if body["correct"] != false {
		t.Errorf("correct = %v, want false", body["correct"])
	}

	s := f.engine.Statistics()
	if s.CurrentModel.TotalPredictions != 1 || s.CurrentModel.CorrectPredictions != 0 {
		t.Errorf("engine = %+v", s.CurrentModel)
	}
}

func TestModelAndReset(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.engine.Record(context.Background(), models.MatchResult{
			MatchID: "m", Predicted: "home", Actual: "away", BetType: models.Market1X2,
		})
	}

	_, body := f.do(t, http.MethodGet, "/api/model", "")
	current := body["current_model"].(map[string]interface{})
	if current["total_predictions"] != float64(10) {
		t.Errorf("current model = %v", current)
	}

	resp, body := f.do(t, http.MethodPost, "/api/model/reset", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	current = body["current_model"].(map[string]interface{})
	if current["total_predictions"] != float64(0) || body["history_size"] != float64(0) {
		t.Errorf("model after reset = %v", body)
	}
	if f.engine.Parameters() != models.DefaultParameters() {
		t.Errorf("parameters after reset = %+v", f.engine.Parameters())
	}
}

func TestPredictions(t *testing.T) {
	f := newFixture(t)
	rec := &models.PredictionRecord{
		MatchID: "1", Market: models.Market1X2, Outcome: models.OutcomeHome,
		Confidence: 70, Risk: models.RiskMedium, Recommendation: models.ModerateBet,
		CreatedAt: time.Now(),
	}
	if err := f.store.SavePrediction(context.Background(), rec); err != nil {
		t.Fatalf("SavePrediction: %v", err)
	}

	_, body := f.do(t, http.MethodGet, "/api/predictions/1", "")
	if body["count"] != float64(1) || body["match_id"] != "1" {
		t.Errorf("body = %v", body)
	}
	_, body = f.do(t, http.MethodGet, "/api/predictions/none", "")
	if body["count"] != float64(0) {
		t.Errorf("body = %v", body)
	}
}

func TestPredictions_StoreError(t *testing.T) {
	srv := httptest.NewServer(New(&fakeMatches{}, nil, brokenStore{}, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/predictions/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req, _ := http.NewRequest(http.MethodOptions, f.server.URL+"/api/model", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
