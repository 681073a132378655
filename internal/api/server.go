// Package api provides the HTTP transport for the gateway. Routing
// follows the reference server's chi + middleware shape (RequestID,
// RealIP, Recoverer, Timeout) with an API-key auth middleware added for
// every non-public path.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hydroloop/gateway/internal/infra/cache"
	"github.com/hydroloop/gateway/internal/infra/commandqueue"
	"github.com/hydroloop/gateway/internal/infra/cooldown"
	"github.com/hydroloop/gateway/internal/infra/hvac"
	"github.com/hydroloop/gateway/internal/infra/notify"
	"github.com/hydroloop/gateway/internal/infra/relstore"
	"github.com/hydroloop/gateway/internal/ingest"
	"github.com/hydroloop/gateway/internal/rules"
	"github.com/hydroloop/gateway/internal/stageoverlay"
)

// Server is the gateway HTTP API server.
type Server struct {
	apiKey string

	ingest     *ingest.Orchestrator
	rules      *rules.Engine
	cacheS     *cache.Cache
	commands   *commandqueue.Queue
	dispatcher *notify.Dispatcher
	ledger     *cooldown.Ledger
	hvacDriver *hvac.Driver
	overlay    *stageoverlay.Overlay
	relStore   *relstore.DB

	metricsEnabled bool
}

// Config bundles every collaborator the API surfaces.
type Config struct {
	APIKey     string
	Ingest     *ingest.Orchestrator
	Rules      *rules.Engine
	Cache      *cache.Cache
	Commands   *commandqueue.Queue
	Dispatcher *notify.Dispatcher
	Ledger     *cooldown.Ledger
	HVAC       *hvac.Driver
	Overlay    *stageoverlay.Overlay
	RelStore   *relstore.DB
}

// NewServer creates a gateway API server.
func NewServer(cfg Config) *Server {
	return &Server{
		apiKey:     cfg.APIKey,
		ingest:     cfg.Ingest,
		rules:      cfg.Rules,
		cacheS:     cfg.Cache,
		commands:   cfg.Commands,
		dispatcher: cfg.Dispatcher,
		ledger:     cfg.Ledger,
		hvacDriver: cfg.HVAC,
		overlay:    cfg.Overlay,
		relStore:   cfg.RelStore,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/docs", s.handleDocs)
	r.Get("/api/openapi.json", s.handleOpenAPI)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.apiKeyMiddleware)

		r.Post("/api/data", s.handlePostData)
		r.Get("/api/data/latest", s.handleLatest)
		r.Get("/api/commands", s.handleCommands)

		r.Route("/api/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})

		r.Get("/api/notifications", s.handleNotifications)
		r.Post("/api/notifications/test", s.handleNotificationsTest)

		r.Get("/api/ac", s.handleGetAC)
		r.Post("/api/ac", s.handlePostAC)

		r.Route("/api/crops", func(r chi.Router) {
			r.Get("/", s.handleListCrops)
			r.Post("/", s.handleCreateCrop)
			r.Get("/{id}/conditions", s.handleCropConditions)
			r.Get("/{id}/rules", s.handleCropRules)
			r.Post("/{id}/advance", s.handleCropAdvance)
			r.Post("/{id}/harvest", s.handleCropHarvest)
		})

		r.Get("/api/calibrations/due", s.handleCalibrationsDue)
	})

	return r
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.Header.Get("X-API-Key") == s.apiKey {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid or missing X-API-Key")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("hydroloop gateway API — see /api/openapi.json"))
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"openapi": "3.0.0", "info": map[string]string{"title": "hydroloop gateway", "version": "1.0.0"}})
}
