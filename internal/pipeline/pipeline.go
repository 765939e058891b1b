// Package pipeline runs one fetch-evaluate-notify cycle at a time and
// settles stored predictions once their matches finish.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/matchoracle/internal/logger"
	"github.com/rewired-gh/matchoracle/internal/models"
	"github.com/rewired-gh/matchoracle/internal/predictor"
)

// MatchSource is the aggregator side of a cycle.
type MatchSource interface {
	FetchEnriched(ctx context.Context) []models.EnrichedMatch
	FetchHistory(ctx context.Context, m models.Match) *models.History
	Status() map[string]models.SourceStatus
}

// Evaluator turns features into one decision per market.
type Evaluator interface {
	Evaluate(f predictor.Features) []models.BettingDecision
}

// Repository is the prediction log.
type Repository interface {
	SavePrediction(ctx context.Context, rec *models.PredictionRecord) error
	PendingForFixture(ctx context.Context, matchKey, matchID string) ([]models.PredictionRecord, error)
	MarkSettled(ctx context.Context, id, actual string, correct bool, at time.Time) error
}

// Learner receives settled outcomes.
type Learner interface {
	Record(ctx context.Context, r models.MatchResult)
}

// Notifier delivers actionable decisions.
type Notifier interface {
	Send(decisions []models.BettingDecision) error
}

type Config struct {
	PollInterval       time.Duration
	TopK               int
	CooldownMultiplier int
	MinQuality         int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:       5 * time.Minute,
		TopK:               5,
		CooldownMultiplier: 6,
		MinQuality:         30,
	}
}

type notifiedRecord struct {
	Recommendation models.Recommendation
	SentAt         time.Time
}

// Report summarizes one cycle.
type Report struct {
	Matches   int
	Evaluated int
	Skipped   int
	Saved     int
	Settled   int
	Decisions []models.BettingDecision
	Notified  int
}

type Option func(*Runner)

// WithNotifier enables notifications.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner is not safe for overlapping RunCycle calls; the caller's ticker
// serializes them.
type Runner struct {
	source    MatchSource
	evaluator Evaluator
	repo      Repository
	learner   Learner
	notifier  Notifier
	config    Config
	now       func() time.Time

	mu       sync.Mutex
	notified map[string]notifiedRecord
}

func New(source MatchSource, evaluator Evaluator, repo Repository, learner Learner, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		source:    source,
		evaluator: evaluator,
		repo:      repo,
		learner:   learner,
		config:    cfg,
		now:       time.Now,
		notified:  make(map[string]notifiedRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunCycle fetches the current matches, settles finished ones, evaluates
// the rest and notifies the best new picks. It fails only when the
// context ends or no source is available.
func (r *Runner) RunCycle(ctx context.Context) (Report, error) {
	start := r.now()
	var report Report

	matches := r.source.FetchEnriched(ctx)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	report.Matches = len(matches)
	if len(matches) == 0 {
		if err := r.checkSources(); err != nil {
			return report, err
		}
	}
	logger.Info("Fetched %d matches", len(matches))

	var actionable []models.BettingDecision
	for _, m := range matches {
		if m.Status == models.StatusFinished {
			report.Settled += r.settle(ctx, m)
			continue
		}
		if m.DataQuality < r.config.MinQuality {
			report.Skipped++
			logger.Debug("Skipping %s vs %s: data quality %d below %d", m.Home, m.Away, m.DataQuality, r.config.MinQuality)
			continue
		}

		history := r.source.FetchHistory(ctx, m.Match)
		decisions := r.evaluator.Evaluate(predictor.Extract(m, history))
		report.Evaluated++
		report.Saved += r.save(ctx, m.Match, decisions)

		for _, d := range decisions {
			if d.Recommendation == models.StrongBet || d.Recommendation == models.ModerateBet {
				actionable = append(actionable, d)
			}
		}
	}

	report.Decisions = r.PostProcess(actionable)
	if len(report.Decisions) > 0 && r.notifier != nil {
		if err := r.notifier.Send(report.Decisions); err != nil {
			logger.Error("Failed to send notification: %v", err)
		} else {
			r.RecordNotified(report.Decisions)
			report.Notified = len(report.Decisions)
			logger.Info("Sent notification with %d picks", len(report.Decisions))
		}
	}

	logger.WithFields(logger.Fields{
		"matches":   report.Matches,
		"evaluated": report.Evaluated,
		"skipped":   report.Skipped,
		"saved":     report.Saved,
		"settled":   report.Settled,
		"picks":     len(report.Decisions),
		"duration":  r.now().Sub(start).String(),
	}).Info("Cycle completed")
	return report, nil
}

// checkSources fails when every enabled source is unavailable.
func (r *Runner) checkSources() error {
	status := r.source.Status()
	enabled, down := 0, 0
	for _, s := range status {
		if !s.Enabled {
			continue
		}
		enabled++
		if !s.Available {
			down++
		}
	}
	if enabled > 0 && down == enabled {
		return fmt.Errorf("all %d sources are down: %w", enabled, models.ErrSourceUnavailable)
	}
	return nil
}

// save stores each decision that carries a pick unless one for the same
// market is already pending. Records carry the fixture key so a later
// cycle can settle them even when another source reports the result.
// Failures are logged.
func (r *Runner) save(ctx context.Context, m models.Match, decisions []models.BettingDecision) int {
	if r.repo == nil {
		return 0
	}
	key := m.Key()
	pending, err := r.repo.PendingForFixture(ctx, key, m.ID)
	if err != nil {
		logger.Warn("Failed to load pending predictions for %s: %v", m.ID, err)
		return 0
	}
	open := make(map[models.Market]bool, len(pending))
	for _, p := range pending {
		open[p.Market] = true
	}

	saved := 0
	for _, d := range decisions {
		if d.Outcome == "" || open[d.Market] {
			continue
		}
		rec := models.NewPredictionRecord(d)
		rec.MatchKey = key
		if err := r.repo.SavePrediction(ctx, rec); err != nil {
			logger.Warn("Failed to save prediction for %s %s: %v", m.ID, d.Market, err)
			continue
		}
		saved++
	}
	return saved
}

// settle resolves the pending predictions of a finished match and feeds
// each outcome to the learner.
func (r *Runner) settle(ctx context.Context, m models.EnrichedMatch) int {
	if r.repo == nil {
		return 0
	}
	pending, err := r.repo.PendingForFixture(ctx, m.Key(), m.ID)
	if err != nil {
		logger.Warn("Failed to load pending predictions for %s: %v", m.ID, err)
		return 0
	}

	settled := 0
	now := r.now()
	for _, rec := range pending {
		actual := models.SettledOutcome(rec.Market, m.Score)
		correct := actual == rec.Outcome
		if err := r.repo.MarkSettled(ctx, rec.ID, actual, correct, now); err != nil {
			logger.Warn("Failed to settle prediction %s: %v", rec.ID, err)
			continue
		}
		rec.Settled, rec.Actual, rec.Correct, rec.SettledAt = true, actual, correct, now
		if r.learner != nil {
			r.learner.Record(ctx, rec.Result())
		}
		settled++
	}
	if settled > 0 {
		logger.WithFields(logger.Fields{
			"match":   m.ID,
			"source":  m.Source,
			"score":   fmt.Sprintf("%d-%d", m.Score.Home, m.Score.Away),
			"settled": settled,
		}).Info("Settled predictions")
	}
	return settled
}

// PostProcess ranks decisions by expected value, keeps the top K and drops
// those still in cooldown.
func (r *Runner) PostProcess(decisions []models.BettingDecision) []models.BettingDecision {
	sorted := append([]models.BettingDecision(nil), decisions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExpectedValue > sorted[j].ExpectedValue
	})
	if r.config.TopK > 0 && len(sorted) > r.config.TopK {
		sorted = sorted[:r.config.TopK]
	}
	cooldown := time.Duration(r.config.CooldownMultiplier) * r.config.PollInterval
	return r.FilterRecentlySent(sorted, cooldown)
}

func notifiedKey(d models.BettingDecision) string {
	return d.MatchID + ":" + string(d.Market)
}

// FilterRecentlySent drops decisions already sent within cooldown unless
// their recommendation has strengthened.
func (r *Runner) FilterRecentlySent(decisions []models.BettingDecision, cooldown time.Duration) []models.BettingDecision {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var result []models.BettingDecision
	for _, d := range decisions {
		rec, exists := r.notified[notifiedKey(d)]
		if exists && now.Sub(rec.SentAt) < cooldown && d.Recommendation.Rank() <= rec.Recommendation.Rank() {
			continue
		}
		result = append(result, d)
	}
	return result
}

func (r *Runner) RecordNotified(decisions []models.BettingDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, d := range decisions {
		r.notified[notifiedKey(d)] = notifiedRecord{
			Recommendation: d.Recommendation,
			SentAt:         now,
		}
	}
}
