package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agentic-exchange/axp/internal/config"
	"github.com/agentic-exchange/axp/internal/pipeline"
	"github.com/agentic-exchange/axp/internal/signal"
	"github.com/agentic-exchange/axp/internal/signing"
)

// SignalReader serves the latest persisted scoring results.
type SignalReader interface {
	LatestSignals(ctx context.Context, subjectID string) ([]signal.Signal, error)
	LatestIntents(ctx context.Context, subjectID string) ([]signal.FusedIntentSignal, error)
	LatestVerifications(ctx context.Context, subjectID string) ([]signal.TrustVerificationResult, error)
}

// Submitter enqueues scoring jobs.
type Submitter interface {
	Submit(job pipeline.Job) bool
}

type Server struct {
	router   *chi.Mux
	port     int
	apiToken string
	signals  SignalReader
	scores   Submitter
	resolver signing.KeyResolver
	holder   *config.Holder
	logger   *slog.Logger
}

func NewServer(port int, apiToken string, signals SignalReader, scores Submitter, resolver signing.KeyResolver, holder *config.Holder, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		apiToken: apiToken,
		signals:  signals,
		scores:   scores,
		resolver: resolver,
		holder:   holder,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/axp", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/signals/{subjectID}", s.latestSignals)
		r.Get("/kpis/{subjectID}", s.latestKPIs)
		r.Get("/intent/{subjectID}", s.latestIntents)
		r.Get("/verify/{subjectID}", s.latestVerifications)
		r.Post("/evidence/verify", s.verifyEvidence)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Post("/score", s.submitScore)
		})
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// BearerAuthMiddleware rejects requests whose Authorization header does not
// carry the expected bearer token.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if token == "" || !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"service": "axp",
		"status":  "scoring",
	})
}
