// Package sources adapts third-party football data feeds to one
// provider-neutral contract.
package sources

import (
	"context"
	"fmt"

	"github.com/rewired-gh/matchoracle/internal/config"
	"github.com/rewired-gh/matchoracle/internal/models"
)

// Capability names a provider may declare.
const (
	CapMatches    = "matches"
	CapOdds       = "odds"
	CapStatistics = "statistics"
	CapHistory    = "history"
)

// Provider normalizes one feed into models.Match, models.Odds and
// models.Statistics. A nil result with a nil error means the provider
// answered but has no data for the request.
type Provider interface {
	Name() string
	Capabilities() []string
	FetchMatches(ctx context.Context) ([]models.Match, error)
	FetchOdds(ctx context.Context, matchID string) (*models.Odds, error)
	FetchStatistics(ctx context.Context, matchID string) (*models.Statistics, error)
}

// HistoryProvider is implemented by providers that can describe the
// pre-match context of a fixture they returned from FetchMatches.
type HistoryProvider interface {
	FetchHistory(ctx context.Context, m models.Match) (*models.History, error)
}

// Gated is implemented by providers that ask for admission before every
// upstream HTTP request. A provider making several requests per call, or
// retrying, is then counted once per request.
type Gated interface {
	SetAdmission(admit func() bool)
}

// New builds the provider for cfg.Kind.
func New(cfg config.SourceConfig) (Provider, error) {
	switch cfg.Kind {
	case "apifootball":
		return NewAPIFootball(cfg), nil
	case "footballdata":
		return NewFootballData(cfg), nil
	case "static":
		return LoadStatic(cfg.Name, cfg.FixturesPath)
	default:
		return nil, fmt.Errorf("unknown source kind %q for %s", cfg.Kind, cfg.Name)
	}
}
