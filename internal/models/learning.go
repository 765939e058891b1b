package models

import (
	"math"
	"time"
)

// ModelParameters are the tunable knobs the synthesizer reads on every call.
// Every field has a hard bound in ParameterBounds.
type ModelParameters struct {
	HomeBias        float64 `json:"home_bias"`
	DrawBias        float64 `json:"draw_bias"`
	GoalLineShift   float64 `json:"goal_line_shift"`
	BTTSBias        float64 `json:"btts_bias"`
	ConfidenceScale float64 `json:"confidence_scale"`
}

// ParameterBound is the closed interval a parameter is clamped to.
type ParameterBound struct {
	Min float64
	Max float64
}

// ParameterBounds returns the declared bounds keyed by JSON field name.
func ParameterBounds() map[string]ParameterBound {
	return map[string]ParameterBound{
		"home_bias":        {Min: -10, Max: 10},
		"draw_bias":        {Min: -10, Max: 10},
		"goal_line_shift":  {Min: -0.5, Max: 0.5},
		"btts_bias":        {Min: -10, Max: 10},
		"confidence_scale": {Min: 0.8, Max: 1.2},
	}
}

// DefaultParameters is the hardcoded set restored by a reset.
func DefaultParameters() ModelParameters {
	return ModelParameters{ConfidenceScale: 1.0}
}

func (p *ModelParameters) fields() map[string]*float64 {
	return map[string]*float64{
		"home_bias":        &p.HomeBias,
		"draw_bias":        &p.DrawBias,
		"goal_line_shift":  &p.GoalLineShift,
		"btts_bias":        &p.BTTSBias,
		"confidence_scale": &p.ConfidenceScale,
	}
}

// Clamp forces every field into its declared bounds. NaN collapses to the
// default value.
func (p *ModelParameters) Clamp() {
	defaults := DefaultParameters()
	def := defaults.fields()
	bounds := ParameterBounds()
	for name, v := range p.fields() {
		b := bounds[name]
		if math.IsNaN(*v) {
			*v = *def[name]
		}
		*v = math.Max(b.Min, math.Min(b.Max, *v))
	}
}

// InBounds reports whether every field lies within its bounds.
func (p ModelParameters) InBounds() bool {
	bounds := ParameterBounds()
	for name, v := range p.fields() {
		b := bounds[name]
		if math.IsNaN(*v) || *v < b.Min || *v > b.Max {
			return false
		}
	}
	return true
}

// ModelVersion is one generation of learned parameters plus the accuracy
// it accumulated while live.
type ModelVersion struct {
	Version            int             `json:"version"`
	Accuracy           float64         `json:"accuracy"`
	TotalPredictions   int             `json:"total_predictions"`
	CorrectPredictions int             `json:"correct_predictions"`
	Parameters         ModelParameters `json:"parameters"`
	Timestamp          time.Time       `json:"timestamp"`
}

// NewModelVersion returns version 1 with default parameters.
func NewModelVersion(now time.Time) ModelVersion {
	return ModelVersion{
		Version:    1,
		Parameters: DefaultParameters(),
		Timestamp:  now,
	}
}

// Snapshot returns an independent copy of v.
func (v ModelVersion) Snapshot() ModelVersion {
	return v
}

// Recompute refreshes Accuracy from the counters.
func (v *ModelVersion) Recompute() {
	if v.CorrectPredictions > v.TotalPredictions {
		v.CorrectPredictions = v.TotalPredictions
	}
	if v.TotalPredictions == 0 {
		v.Accuracy = 0
		return
	}
	v.Accuracy = float64(v.CorrectPredictions) / float64(v.TotalPredictions) * 100
}

// MatchResult is one settled prediction fed to the learning loop.
type MatchResult struct {
	MatchID    string    `json:"match_id"`
	Predicted  string    `json:"predicted"`
	Actual     string    `json:"actual"`
	Confidence float64   `json:"confidence"`
	Correct    bool      `json:"correct"`
	BetType    Market    `json:"bet_type"`
	League     string    `json:"league"`
	Timestamp  time.Time `json:"timestamp"`
}
