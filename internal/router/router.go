package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/applerag/apple-rag-backend/internal/handler"
	"github.com/applerag/apple-rag-backend/internal/middleware"
)

// Dependencies holds everything the router mounts.
type Dependencies struct {
	DB          handler.DBPinger
	Version     string
	FrontendURL string

	Metrics    *middleware.Metrics
	MetricsReg *prometheus.Registry

	// Threat gates the MCP endpoint at the transport level.
	Threat *middleware.ThreatDetector

	// MCPHandler is the Streamable HTTP handler serving the tool surface.
	MCPHandler http.Handler
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	// Public routes (no governance). Health gets a write timeout; the
	// MCP endpoint streams and must not.
	r.With(middleware.Timeout(10 * time.Second)).Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// MCP endpoint. The threat gate is the only transport-level block;
	// identity and rate limiting run per tool call inside the dispatcher.
	r.Group(func(r chi.Router) {
		if deps.Threat != nil {
			r.Use(middleware.ThreatGate(deps.Threat))
		}
		r.Use(middleware.ExtractClientInfo)
		r.Handle("/mcp", deps.MCPHandler)
	})

	// 404 fallback
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
