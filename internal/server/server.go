// Package server is the HTTP boundary of the status delivery service:
// authentication, the WebSocket subscribe endpoint, the analysis pipeline's
// state intake, and the job-status query consumed by polling clients.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Inouye165/React-Photo-App-sub008/internal/audit"
	"github.com/Inouye165/React-Photo-App-sub008/internal/config"
	"github.com/Inouye165/React-Photo-App-sub008/internal/events"
	"github.com/Inouye165/React-Photo-App-sub008/internal/jobs"
)

type Server struct {
	store       jobs.Store
	broadcaster *events.Broadcaster
	trail       audit.Sink
	config      *config.ServerConfig
	logger      *zap.Logger
}

func NewServer(store jobs.Store, broadcaster *events.Broadcaster, trail audit.Sink, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if trail == nil {
		trail = audit.Nop{}
	}
	return &Server{
		store:       store,
		broadcaster: broadcaster,
		trail:       trail,
		config:      cfg,
		logger:      logger,
	}
}

func NewRouter(s *Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Route("/api", func(api chi.Router) {
		api.Use(authMiddleware)
		api.Get("/events/subscribe", s.handleSubscribe)
		api.Post("/jobs", s.handleCreateJob)
		api.Post("/jobs/{id}/state", s.handleJobState)
		api.Get("/jobs/{id}/status", s.handleJobStatus)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	return r
}

type ctxKey int

const userIDKey ctxKey = 0

// authMiddleware resolves the authenticated user id. Session validation is
// an upstream concern; by the time a request reaches this service the id in
// X-User-ID (or the user query param) is trusted.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			userID = r.URL.Query().Get("user")
		}
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   "Authentication required",
			})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
