// Package api provides the Cartella HTTP server: account balance and
// audit queries, metered chat, and knowledge-sync control.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cartella-shop/cartella/internal/domain"
	"github.com/cartella-shop/cartella/internal/gateway"
	"github.com/cartella-shop/cartella/internal/ledger"
	"github.com/cartella-shop/cartella/internal/reconcile"
)

// Costs are the per-call debit amounts the API meters itself.
type Costs struct {
	Chat    int64
	Replica int64
}

// Server is the Cartella HTTP API server.
type Server struct {
	ledger         *ledger.Service
	rec            *reconcile.Reconciler
	gw             *gateway.Client
	entries        domain.KnowledgeStore
	catalog        domain.CatalogProvider
	costs          Costs
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(led *ledger.Service, rec *reconcile.Reconciler, gw *gateway.Client, entries domain.KnowledgeStore, catalog domain.CatalogProvider, costs Costs) *Server {
	return &Server{
		ledger:  led,
		rec:     rec,
		gw:      gw,
		entries: entries,
		catalog: catalog,
		costs:   costs,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/accounts", s.handleCreateAccount)
		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/transactions", s.handleTransactions)
			r.Post("/credit", s.handleCredit)
		})

		r.Post("/chat", s.handleChat)
		r.Post("/sync", s.handleSync)
		r.Get("/knowledge/{localID}/status", s.handleKnowledgeStatus)
		r.Post("/assistant/reinitialize", s.handleReinitialize)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for the storefront admin UI.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
