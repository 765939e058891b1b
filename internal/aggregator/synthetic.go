package aggregator

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/matchoracle/internal/models"
	"github.com/rewired-gh/matchoracle/internal/predictor"
)

// Ladder constants for matches with no bookmaker prices.
const (
	baseHomeProb    = 0.45
	baseDrawProb    = 0.27
	baseAwayProb    = 0.28
	homeGoalRate    = 1.4 // expected goals per 90 minutes
	awayGoalRate    = 1.2
	syntheticMargin = 1.05
	regulationMins  = 90.0
)

// progress is the elapsed fraction of regulation time.
func progress(m *models.Match) float64 {
	switch m.Status {
	case models.StatusScheduled:
		return 0
	case models.StatusFinished:
		return 1
	}
	return math.Max(0, math.Min(1, float64(m.Minute)/regulationMins))
}

// fillOdds computes an odds ladder from score, minute and time remaining
// when no provider supplied prices.
func fillOdds(em *models.EnrichedMatch) {
	if em.Odds != nil {
		return
	}
	p := progress(&em.Match)
	remaining := 1 - p
	diff := float64(em.Score.Home - em.Score.Away)

	// A lead weighs more the less time is left to overturn it.
	swing := diff * (0.15 + 0.25*p)
	home := baseHomeProb + swing
	away := baseAwayProb - swing
	draw := baseDrawProb
	if diff == 0 {
		draw += 0.35 * p
	} else {
		draw -= 0.1 * p * math.Abs(diff)
	}
	home, draw, away = clampProb(home), clampProb(draw), clampProb(away)
	total := home + draw + away

	lambdaHome := homeGoalRate * remaining
	lambdaAway := awayGoalRate * remaining
	over := clampProb(predictor.PoissonAtLeast(3-em.Score.Total(), lambdaHome+lambdaAway))
	yes := clampProb(predictor.ScoreProbability(em.Score.Home, lambdaHome) *
		predictor.ScoreProbability(em.Score.Away, lambdaAway))

	em.Odds = &models.Odds{
		Home:    priceOf(home / total),
		Draw:    priceOf(draw / total),
		Away:    priceOf(away / total),
		Over:    priceOf(over),
		Under:   priceOf(1 - over),
		BTTSYes: priceOf(yes),
		BTTSNo:  priceOf(1 - yes),
	}
	em.AddSource(models.SourceCalculatedOdds)
}

// fillStatistics estimates live statistics from score and elapsed time.
func fillStatistics(em *models.EnrichedMatch) {
	if em.Statistics != nil {
		return
	}
	minutes := progress(&em.Match) * regulationMins
	h, a := em.Score.Home, em.Score.Away

	// The trailing side usually holds the ball.
	possession := math.Max(35, math.Min(65, 50+3*float64(a-h)))

	em.Statistics = &models.Statistics{
		PossessionHome:    possession,
		PossessionAway:    100 - possession,
		ShotsHome:         3*h + int(minutes*0.12),
		ShotsAway:         3*a + int(minutes*0.10),
		ShotsOnTargetHome: h + int(minutes*0.04),
		ShotsOnTargetAway: a + int(minutes*0.035),
		CornersHome:       int(minutes * 0.06),
		CornersAway:       int(minutes * 0.05),
		YellowCardsHome:   int(minutes / 35),
		YellowCardsAway:   int(minutes / 32),
	}
	em.AddSource(models.SourceEstimatedStats)
}

func clampProb(p float64) float64 {
	return math.Max(0.03, math.Min(0.97, p))
}

// priceOf converts a fair probability to a decimal price with a bookmaker
// margin, rounded to two places.
func priceOf(p float64) float64 {
	p = clampProb(p)
	price := decimal.NewFromFloat(1 / (p * syntheticMargin)).Round(2)
	if price.LessThanOrEqual(decimal.NewFromInt(1)) {
		return 1.01
	}
	return price.InexactFloat64()
}
