package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/rewired-gh/matchoracle/internal/logger"
	"github.com/rewired-gh/matchoracle/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.predictions.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage unhealthy", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) sources(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.matches.Status())
}

func (s *Server) enrichedMatches(w http.ResponseWriter, r *http.Request) {
	matches := s.matches.FetchEnriched(r.Context())
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]models.EnrichedMatch, 0, len(matches))
		for _, m := range matches {
			if string(m.Status) == status {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
	})
}

func (s *Server) model(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.learner.Statistics())
}

func (s *Server) resetModel(w http.ResponseWriter, r *http.Request) {
	s.learner.Reset(r.Context())
	respondJSON(w, http.StatusOK, s.learner.Statistics())
}

// recordResult accepts one settled prediction. Correct is derived from the
// predicted and actual outcomes.
func (s *Server) recordResult(w http.ResponseWriter, r *http.Request) {
	var res models.MatchResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}
	if res.MatchID == "" || res.Predicted == "" || res.Actual == "" {
		respondError(w, http.StatusBadRequest, "match_id, predicted and actual are required", nil)
		return
	}
	if !knownMarket(res.BetType) {
		respondError(w, http.StatusBadRequest, "unknown bet_type: "+string(res.BetType), nil)
		return
	}
	res.Correct = res.Predicted == res.Actual

	s.learner.Record(r.Context(), res)
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "recorded",
		"correct": res.Correct,
	})
}

func (s *Server) matchPredictions(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	records, err := s.predictions.QueryPredictions(r.Context(), matchID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to query predictions", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"match_id":    matchID,
		"predictions": records,
		"count":       len(records),
	})
}

func knownMarket(m models.Market) bool {
	for _, known := range models.Markets {
		if m == known {
			return true
		}
	}
	return false
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		logger.Warn("%s: %v", message, err)
	}
	respondJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
