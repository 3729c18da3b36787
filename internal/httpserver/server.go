package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/estevaoantuness/agentenaval/internal/metrics"
	"github.com/estevaoantuness/agentenaval/internal/repo"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups optional HTTP handlers to mount.
type Handlers struct {
	EvolutionWebhook http.Handler
}

// Dependencies exposes core dependencies to handlers that need them.
type Dependencies struct {
	Repository repo.Repository
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	handlers   Handlers
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr with health, metrics and
// admin endpoints.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, handlers Handlers, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		handlers: handlers,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/usage", server.handleUsage)
	mux.HandleFunc("/admin/leads", server.handleLeads)
	mux.HandleFunc("/admin/leads/{id}", server.handleLeadDetail)

	if handlers.EvolutionWebhook != nil {
		mux.Handle("/webhook/evolution", handlers.EvolutionWebhook)
	}

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// SetDependencies makes dependencies accessible to handlers.
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Repository != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Repository.Ping(ctx); err != nil {
			s.logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Repository == nil {
		http.Error(w, "repository unavailable", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.deps.Repository.GetUsageStats(r.Context())
	if err != nil {
		s.logger.Error("failed loading usage stats", "error", err)
		http.Error(w, "failed loading usage stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"leads": map[string]any{
			"total":     stats.TotalLeads,
			"new_24h":   stats.NewLeads24h,
			"by_status": stats.LeadsByStatus,
		},
		"conversations": map[string]any{
			"total":          stats.TotalConversations,
			"total_tokens":   stats.TotalTokens,
			"cost_cents":     stats.TotalCostCents,
			"cost_usd":       float64(stats.TotalCostCents) / 100.0,
			"avg_latency_ms": stats.AvgLatencyMs,
		},
		"schedulings": map[string]any{
			"total":    stats.TotalSchedulings,
			"upcoming": stats.UpcomingSchedulings,
		},
	})
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Repository == nil {
		http.Error(w, "repository unavailable", http.StatusServiceUnavailable)
		return
	}

	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	leads, err := s.deps.Repository.ListLeads(r.Context(), status, limit, offset)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeJSON(w, map[string]any{"leads": []repo.Lead{}, "count": 0})
			return
		}
		s.logger.Error("failed listing leads", "error", err, "status", status)
		http.Error(w, "failed listing leads", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"leads":  leads,
		"count":  len(leads),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleLeadDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Repository == nil {
		http.Error(w, "repository unavailable", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	lead, err := s.deps.Repository.GetLeadByID(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		http.Error(w, "lead not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("failed loading lead", "error", err, "lead_id", id)
		http.Error(w, "failed loading lead", http.StatusInternalServerError)
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	conversations, err := s.deps.Repository.ListRecentConversations(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed loading conversations", "error", err, "lead_id", id)
		http.Error(w, "failed loading conversations", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"lead":               lead,
		"conversations":      conversations,
		"conversation_count": len(conversations),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
