// Package learning tunes the synthesizer's parameters from settled
// predictions, keeps the best version seen and rolls back regressions.
package learning

import (
	"context"
	"errors"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rewired-gh/matchoracle/internal/config"
	"github.com/rewired-gh/matchoracle/internal/logger"
	"github.com/rewired-gh/matchoracle/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Keys under which the engine persists its state.
const (
	KeyCurrent  = "learning:current"
	KeyBest     = "learning:best"
	KeyHistory  = "learning:history"
	KeyProgress = "learning:progress"
)

// progress is the loop position that is not part of any model version.
type progress struct {
	SinceLearn int `json:"since_learn"`
	Iterations int `json:"iterations"`
	Rollbacks  int `json:"rollbacks"`
}

// Store is the key-value persistence the engine writes through. Get
// returns models.ErrNotFound for a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type Config struct {
	Interval       int
	Window         int
	HistoryCap     int
	RollbackMargin float64
	BiasStep       float64
	GoalLineStep   float64
	ConfidenceStep float64
}

func DefaultConfig() Config {
	return Config{
		Interval:       10,
		Window:         50,
		HistoryCap:     200,
		RollbackMargin: 5,
		BiasStep:       1,
		GoalLineStep:   0.05,
		ConfidenceStep: 0.02,
	}
}

// ConfigFromConfig maps the learning config section; zero fields take
// the defaults.
func ConfigFromConfig(c config.LearningConfig) Config {
	def := DefaultConfig()
	out := Config{
		Interval:       c.Interval,
		Window:         c.Window,
		HistoryCap:     c.HistoryCap,
		RollbackMargin: c.RollbackMargin,
		BiasStep:       c.BiasStep,
		GoalLineStep:   c.GoalLineStep,
		ConfidenceStep: c.ConfidenceStep,
	}
	if out.Interval <= 0 {
		out.Interval = def.Interval
	}
	if out.Window <= 0 {
		out.Window = def.Window
	}
	if out.HistoryCap <= 0 {
		out.HistoryCap = def.HistoryCap
	}
	if out.BiasStep <= 0 {
		out.BiasStep = def.BiasStep
	}
	if out.GoalLineStep <= 0 {
		out.GoalLineStep = def.GoalLineStep
	}
	if out.ConfidenceStep <= 0 {
		out.ConfidenceStep = def.ConfidenceStep
	}
	return out
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the single writer of the model versions. Record calls are
// serialized; Parameters may be read concurrently.
type Engine struct {
	store  Store
	config Config
	now    func() time.Time

	mu         sync.RWMutex
	current    models.ModelVersion
	best       models.ModelVersion
	history    []models.MatchResult
	sinceLearn int
	iterations int
	rollbacks  int
}

// New restores the engine from store. Unreadable state is logged and
// replaced by defaults.
func New(ctx context.Context, store Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{store: store, config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.current = models.NewModelVersion(e.now())
	e.best = e.current.Snapshot()

	if store == nil {
		return e
	}
	var current, best models.ModelVersion
	if load(ctx, store, KeyCurrent, &current) {
		current.Parameters.Clamp()
		current.Recompute()
		e.current = current
	}
	if load(ctx, store, KeyBest, &best) {
		best.Parameters.Clamp()
		best.Recompute()
		e.best = best
	}
	var history []models.MatchResult
	if load(ctx, store, KeyHistory, &history) {
		e.history = trim(history, cfg.HistoryCap)
	}
	var pos progress
	if load(ctx, store, KeyProgress, &pos) {
		e.sinceLearn = pos.SinceLearn
		e.iterations = pos.Iterations
		e.rollbacks = pos.Rollbacks
	} else if len(e.history) < cfg.HistoryCap {
		// State written before progress was tracked: every result since
		// the last iteration is still in the uncapped history.
		e.sinceLearn = len(e.history)
	}
	if cfg.Interval > 0 {
		e.sinceLearn %= cfg.Interval
	}
	if e.sinceLearn < 0 {
		e.sinceLearn = 0
	}
	logger.Info("Learning engine loaded: version %d, accuracy %.2f%%, %d results",
		e.current.Version, e.current.Accuracy, len(e.history))
	return e
}

func load(ctx context.Context, store Store, key string, out interface{}) bool {
	data, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			logger.Warn("Failed to load %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logger.Warn("Discarding corrupt %s: %v", key, err)
		return false
	}
	return true
}

// Parameters returns the live parameters.
func (e *Engine) Parameters() models.ModelParameters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current.Parameters
}

// Record ingests one settled prediction. Every Interval-th call runs a
// learning iteration. State is persisted afterwards; persistence errors
// are logged only.
func (e *Engine) Record(ctx context.Context, r models.MatchResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = e.now()
	}
	e.history = trim(append(e.history, r), e.config.HistoryCap)

	e.current.TotalPredictions++
	if r.Correct {
		e.current.CorrectPredictions++
	}
	e.current.Recompute()

	e.sinceLearn++
	if e.sinceLearn >= e.config.Interval {
		e.sinceLearn = 0
		e.learnLocked()
	}

	e.persistLocked(ctx)
}

// learnLocked adjusts parameters from the recent window and then decides
// between promoting, rolling back and continuing.
func (e *Engine) learnLocked() {
	e.iterations++
	window := e.history
	if len(window) > e.config.Window {
		window = window[len(window)-e.config.Window:]
	}
	e.adjustLocked(window)

	now := e.now()
	switch {
	case e.current.Accuracy > e.best.Accuracy:
		e.current.Version++
		e.current.Timestamp = now
		e.best = e.current.Snapshot()
		logger.WithFields(logger.Fields{
			"version":  e.current.Version,
			"accuracy": e.current.Accuracy,
		}).Info("learning: new best model")
	case e.current.Accuracy < e.best.Accuracy-e.config.RollbackMargin:
		prev := e.current.Version
		regressed := e.current.Accuracy
		e.current = e.best.Snapshot()
		e.current.Version = prev + 1
		e.current.Timestamp = now
		e.rollbacks++
		logger.WithFields(logger.Fields{
			"version":       e.current.Version,
			"accuracy":      regressed,
			"best_accuracy": e.best.Accuracy,
		}).Warn("learning: rolled back to best model")
	default:
		e.current.Version++
		e.current.Timestamp = now
		logger.WithFields(logger.Fields{
			"version":       e.current.Version,
			"accuracy":      e.current.Accuracy,
			"best_accuracy": e.best.Accuracy,
		}).Debug("learning: parameters adjusted")
	}
}

// adjustLocked nudges each parameter toward the under-represented error
// class of its market, then clamps.
func (e *Engine) adjustLocked(window []models.MatchResult) {
	if len(window) == 0 {
		return
	}
	p := &e.current.Parameters
	step := e.config.BiasStep

	var correct, falseHome, falseAway, falseDraw, missedDraw, falseOver, falseUnder, falseYes, falseNo int
	for _, r := range window {
		if r.Correct {
			correct++
		}
		switch r.BetType {
		case models.Market1X2:
			if !r.Correct {
				switch r.Predicted {
				case models.OutcomeHome:
					falseHome++
				case models.OutcomeAway:
					falseAway++
				case models.OutcomeDraw:
					falseDraw++
				}
			}
			if r.Actual == models.OutcomeDraw && r.Predicted != models.OutcomeDraw {
				missedDraw++
			}
		case models.MarketOverUnder:
			if !r.Correct {
				switch r.Predicted {
				case models.OutcomeOver:
					falseOver++
				case models.OutcomeUnder:
					falseUnder++
				}
			}
		case models.MarketBTTS:
			if !r.Correct {
				switch r.Predicted {
				case models.OutcomeYes:
					falseYes++
				case models.OutcomeNo:
					falseNo++
				}
			}
		}
	}

	p.HomeBias += direction(falseAway, falseHome) * step
	p.DrawBias += direction(missedDraw, falseDraw) * step
	p.GoalLineShift += direction(falseUnder, falseOver) * e.config.GoalLineStep
	p.BTTSBias += direction(falseNo, falseYes) * step

	accuracy := float64(correct) / float64(len(window)) * 100
	switch {
	case accuracy < 50:
		p.ConfidenceScale -= e.config.ConfidenceStep
	case accuracy > 60:
		p.ConfidenceScale += e.config.ConfidenceStep
	}
	p.Clamp()
}

// direction is +1 when up outnumbers down, -1 for the reverse, else 0.
func direction(up, down int) float64 {
	switch {
	case up > down:
		return 1
	case down > up:
		return -1
	default:
		return 0
	}
}

func trim(history []models.MatchResult, limit int) []models.MatchResult {
	if limit > 0 && len(history) > limit {
		return append([]models.MatchResult(nil), history[len(history)-limit:]...)
	}
	return history
}

func (e *Engine) persistLocked(ctx context.Context) {
	if e.store == nil {
		return
	}
	docs := []struct {
		key   string
		value interface{}
	}{
		{KeyCurrent, e.current},
		{KeyBest, e.best},
		{KeyHistory, e.history},
		{KeyProgress, progress{SinceLearn: e.sinceLearn, Iterations: e.iterations, Rollbacks: e.rollbacks}},
	}
	for _, d := range docs {
		data, err := json.Marshal(d.value)
		if err != nil {
			logger.Warn("Failed to encode %s: %v", d.key, err)
			continue
		}
		if err := e.store.Set(ctx, d.key, data); err != nil {
			logger.Warn("Failed to persist %s: %v", d.key, err)
		}
	}
}

// BetTypeStats is the record of one market over the retained history.
type BetTypeStats struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Statistics is the operator view of the engine.
type Statistics struct {
	CurrentModel   models.ModelVersion           `json:"current_model"`
	BestModel      models.ModelVersion           `json:"best_model"`
	RecentAccuracy float64                       `json:"recent_accuracy"`
	ByBetType      map[models.Market]BetTypeStats `json:"by_bet_type"`
	HistorySize    int                           `json:"history_size"`
	Iterations     int                           `json:"iterations"`
	Rollbacks      int                           `json:"rollbacks"`
}

// Statistics returns both versions, accuracy over the learning window and
// per-market accuracy over the retained history.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Statistics{
		CurrentModel: e.current.Snapshot(),
		BestModel:    e.best.Snapshot(),
		ByBetType:    make(map[models.Market]BetTypeStats),
		HistorySize:  len(e.history),
		Iterations:   e.iterations,
		Rollbacks:    e.rollbacks,
	}

	window := e.history
	if len(window) > e.config.Window {
		window = window[len(window)-e.config.Window:]
	}
	if len(window) > 0 {
		correct := 0
		for _, r := range window {
			if r.Correct {
				correct++
			}
		}
		s.RecentAccuracy = float64(correct) / float64(len(window)) * 100
	}

	for _, r := range e.history {
		bt := s.ByBetType[r.BetType]
		bt.Total++
		if r.Correct {
			bt.Correct++
		}
		bt.Accuracy = float64(bt.Correct) / float64(bt.Total) * 100
		s.ByBetType[r.BetType] = bt
	}
	return s
}

// Reset restores default parameters for both versions and clears the
// outcome log.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = models.NewModelVersion(e.now())
	e.best = e.current.Snapshot()
	e.history = nil
	e.sinceLearn = 0
	e.persistLocked(ctx)
	logger.WithFields(logger.Fields{"version": e.current.Version}).Warn("learning: model reset to defaults")
}
