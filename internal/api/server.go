// Package api exposes the pipeline's read side and the learning controls
// over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rewired-gh/matchoracle/internal/learning"
	"github.com/rewired-gh/matchoracle/internal/logger"
	"github.com/rewired-gh/matchoracle/internal/models"
)

// MatchSource is the aggregator view the API reads from.
type MatchSource interface {
	FetchEnriched(ctx context.Context) []models.EnrichedMatch
	Status() map[string]models.SourceStatus
}

// Learner is the learning engine view the API drives.
type Learner interface {
	Record(ctx context.Context, r models.MatchResult)
	Statistics() learning.Statistics
	Reset(ctx context.Context)
}

// Predictions is the stored prediction log.
type Predictions interface {
	QueryPredictions(ctx context.Context, matchID string) ([]models.PredictionRecord, error)
	Ping(ctx context.Context) error
}

type Server struct {
	matches     MatchSource
	learner     Learner
	predictions Predictions
	router      chi.Router
}

func New(matches MatchSource, learner Learner, predictions Predictions, allowedOrigins []string) *Server {
	s := &Server{matches: matches, learner: learner, predictions: predictions}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sources", s.sources)
		r.Get("/matches", s.enrichedMatches)
		r.Get("/model", s.model)
		r.Post("/model/reset", s.resetModel)
		r.Post("/results", s.recordResult)
		r.Get("/predictions/{matchID}", s.matchPredictions)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on port until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.WithFields(logger.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": chimiddleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
