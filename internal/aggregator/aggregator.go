// Package aggregator discovers matches across providers with priority
// fallback and fills the gaps in what the winning provider returned.
package aggregator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/matchoracle/internal/breaker"
	"github.com/rewired-gh/matchoracle/internal/logger"
	"github.com/rewired-gh/matchoracle/internal/models"
	"github.com/rewired-gh/matchoracle/internal/sources"
)

type Config struct {
	CallTimeout    time.Duration
	MaxConcurrency int
}

// Aggregator owns no match state; every FetchEnriched call builds a fresh
// result set.
type Aggregator struct {
	registry  *breaker.Registry
	providers map[string]sources.Provider
	config    Config

	// gated providers acquire per upstream request themselves.
	gated map[string]bool
}

// New creates an aggregator over providers. Providers missing from the
// registry are never called.
func New(registry *breaker.Registry, providers []sources.Provider, cfg Config) *Aggregator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 4
	}
	byName := make(map[string]sources.Provider, len(providers))
	gated := make(map[string]bool)
	for _, p := range providers {
		name := p.Name()
		byName[name] = p
		if g, ok := p.(sources.Gated); ok {
			g.SetAdmission(func() bool { return registry.Acquire(name) })
			gated[name] = true
		}
	}
	return &Aggregator{
		registry:  registry,
		providers: byName,
		config:    cfg,
		gated:     gated,
	}
}

// admit checks whether a call to name may start. Ungated providers consume
// one request here; gated ones are counted per HTTP request as they go.
func (a *Aggregator) admit(name string) bool {
	if a.gated[name] {
		return a.registry.CanUse(name)
	}
	return a.registry.Acquire(name)
}

// report records a call outcome. A refused admission is not a source
// failure and leaves the breaker alone.
func (a *Aggregator) report(name string, err error) {
	if sources.IsNotAdmitted(err) {
		return
	}
	a.registry.Report(name, err == nil)
}

// FetchEnriched returns the current match set. It never fails: when every
// source is unavailable or empty the result is empty.
func (a *Aggregator) FetchEnriched(ctx context.Context) []models.EnrichedMatch {
	base := a.discover(ctx)
	if len(base) == 0 {
		return []models.EnrichedMatch{}
	}

	seen := make(map[string]bool, len(base))
	out := make([]models.EnrichedMatch, 0, len(base))
	for _, m := range base {
		key := m.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		em := models.EnrichedMatch{Match: m}
		em.AddSource(m.Source)
		out = append(out, em)
	}

	var g errgroup.Group
	g.SetLimit(a.config.MaxConcurrency)
	for i := range out {
		em := &out[i]
		g.Go(func() error {
			a.enrich(ctx, em)
			return nil
		})
	}
	_ = g.Wait()

	for i := range out {
		fillOdds(&out[i])
		fillStatistics(&out[i])
		out[i].DataQuality = models.DataQuality(&out[i])
	}
	return out
}

// discover walks sources in priority order; the first non-empty answer wins.
func (a *Aggregator) discover(ctx context.Context) []models.Match {
	for _, name := range a.registry.Sources() {
		p, ok := a.providers[name]
		if !ok || !a.registry.HasCapability(name, sources.CapMatches) {
			continue
		}
		if !a.admit(name) {
			logger.Debug("Skipping source %s: not admissible", name)
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, a.config.CallTimeout)
		matches, err := p.FetchMatches(cctx)
		cancel()

		if err != nil {
			a.report(name, err)
			logger.Warn("Source %s failed: %v", name, err)
			continue
		}
		if len(matches) == 0 {
			a.registry.Report(name, false)
			logger.Debug("Source %s returned no matches", name)
			continue
		}
		a.registry.Report(name, true)
		logger.Info("Source %s returned %d matches", name, len(matches))
		return matches
	}
	return nil
}

// enrich asks the originating source for odds and statistics it did not
// deliver inline.
func (a *Aggregator) enrich(ctx context.Context, em *models.EnrichedMatch) {
	p, ok := a.providers[em.Source]
	if !ok {
		return
	}
	if em.Odds == nil && em.Status != models.StatusFinished && a.registry.HasCapability(em.Source, sources.CapOdds) {
		em.Odds = callProvider(ctx, a, em.Source, func(ctx context.Context) (*models.Odds, error) {
			return p.FetchOdds(ctx, em.ID)
		})
	}
	if em.Statistics == nil && em.Status != models.StatusScheduled && a.registry.HasCapability(em.Source, sources.CapStatistics) {
		em.Statistics = callProvider(ctx, a, em.Source, func(ctx context.Context) (*models.Statistics, error) {
			return p.FetchStatistics(ctx, em.ID)
		})
	}
}

// callProvider runs one admission-gated provider call under the per-call
// timeout. Errors are reported to the breaker and swallowed.
func callProvider[T any](ctx context.Context, a *Aggregator, name string, fetch func(context.Context) (*T, error)) *T {
	if !a.admit(name) {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, a.config.CallTimeout)
	defer cancel()

	v, err := fetch(cctx)
	a.report(name, err)
	if err != nil {
		logger.Debug("Enrichment call to %s failed: %v", name, err)
		return nil
	}
	return v
}

// FetchHistory asks the match's originating source for head-to-head, form
// and season context. It returns nil when the source cannot provide any.
func (a *Aggregator) FetchHistory(ctx context.Context, m models.Match) *models.History {
	p, ok := a.providers[m.Source]
	if !ok {
		return nil
	}
	hp, ok := p.(sources.HistoryProvider)
	if !ok || !a.registry.HasCapability(m.Source, sources.CapHistory) {
		return nil
	}
	h := callProvider(ctx, a, m.Source, func(ctx context.Context) (*models.History, error) {
		return hp.FetchHistory(ctx, m)
	})
	if h.Empty() {
		return nil
	}
	return h
}

// Status returns the registry snapshot of every configured source.
func (a *Aggregator) Status() map[string]models.SourceStatus {
	return a.registry.Status()
}
