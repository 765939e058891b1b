package sources

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rewired-gh/matchoracle/internal/models"
)

// Fixtures is the content of a static source, usually read from a JSON file.
type Fixtures struct {
	Matches    []models.Match                `json:"matches"`
	Odds       map[string]*models.Odds       `json:"odds"`
	Statistics map[string]*models.Statistics `json:"statistics"`
	History    map[string]*models.History    `json:"history"`
}

// Static serves a fixed data set. It backs offline runs and replays, and
// its contents can be swapped at runtime with Set.
type Static struct {
	name string

	mu       sync.RWMutex
	fixtures Fixtures
}

// NewStatic creates a static provider serving fixtures.
func NewStatic(name string, fixtures Fixtures) *Static {
	s := &Static{name: name}
	s.Set(fixtures)
	return s
}

// LoadStatic reads a Fixtures JSON file.
func LoadStatic(name, path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures file: %w", err)
	}
	var fixtures Fixtures
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures file: %w", err)
	}
	for i := range fixtures.Matches {
		if err := fixtures.Matches[i].Validate(); err != nil {
			return nil, fmt.Errorf("fixtures match %d: %w", i, err)
		}
	}
	return NewStatic(name, fixtures), nil
}

// Set replaces the served data.
func (s *Static) Set(fixtures Fixtures) {
	fixtures.Matches = append([]models.Match(nil), fixtures.Matches...)
	for i := range fixtures.Matches {
		fixtures.Matches[i].Source = s.name
	}
	s.mu.Lock()
	s.fixtures = fixtures
	s.mu.Unlock()
}

func (s *Static) Name() string { return s.name }

func (s *Static) Capabilities() []string {
	return []string{CapMatches, CapOdds, CapStatistics, CapHistory}
}

func (s *Static) FetchMatches(ctx context.Context) ([]models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Match(nil), s.fixtures.Matches...), nil
}

func (s *Static) FetchOdds(ctx context.Context, matchID string) (*models.Odds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.fixtures.Odds[matchID]; ok && o != nil {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (s *Static) FetchStatistics(ctx context.Context, matchID string) (*models.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.fixtures.Statistics[matchID]; ok && st != nil {
		cp := *st
		return &cp, nil
	}
	return nil, nil
}

func (s *Static) FetchHistory(ctx context.Context, m models.Match) (*models.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.fixtures.History[m.ID]; ok && h != nil {
		cp := *h
		return &cp, nil
	}
	return nil, nil
}
