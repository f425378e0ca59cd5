package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/agatticelli/policy-cache/internal/cache"
	"github.com/agatticelli/policy-cache/internal/platform/observability"
)

// server exposes health, metrics and read-mostly cache diagnostics
type server struct {
	store   *cache.Store
	metrics *observability.Metrics
	logger  *observability.Logger
	ready   atomic.Bool
}

func newServer(store *cache.Store, metrics *observability.Metrics, logger *observability.Logger) *server {
	return &server{
		store:   store,
		metrics: metrics,
		logger:  logger.Component("http"),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, r, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /debug/cache/stats", s.handleStats)
	mux.HandleFunc("GET /debug/cache/export", s.handleExport)
	mux.HandleFunc("POST /debug/cache/invalidate", s.handleInvalidate)

	return mux
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeBody(w, r, http.StatusServiceUnavailable, map[string]string{"status": "warming"})
		return
	}
	writeBody(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeBody(w, r, http.StatusOK, s.store.Stats())
}

// handleExport dumps live entries; ?match= filters keys with a glob such as user:*
func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	var matcher glob.Glob
	if pattern := r.URL.Query().Get("match"); pattern != "" {
		g, err := glob.Compile(pattern, ':')
		if err != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid match pattern: %w", err))
			return
		}
		matcher = g
	}

	entries, err := s.store.Export(r.Context())
	if err != nil {
		// partial export: undecodable entries are skipped
		s.logger.LogWarn(r.Context(), "export skipped entries", "error", err)
	}

	if matcher != nil {
		filtered := entries[:0]
		for _, e := range entries {
			if matcher.Match(e.Key) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	writeBody(w, r, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	tags := r.URL.Query()["tag"]
	if len(tags) == 0 {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("at least one tag parameter is required"))
		return
	}

	removed := s.store.InvalidateByTags(r.Context(), tags...)
	writeBody(w, r, http.StatusOK, map[string]any{"tags": tags, "removed": removed})
}

// wantsYAML reports whether the client asked for YAML via ?format= or Accept
func wantsYAML(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "yaml"
	}
	return strings.Contains(r.Header.Get("Accept"), "yaml")
}

func writeBody(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsYAML(r) {
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(status)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		_ = enc.Encode(v)
		_ = enc.Close()
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeBody(w, r, status, map[string]string{"error": err.Error()})
}

// markReady flips readiness once startup work is done
func (s *server) markReady(ctx context.Context) {
	if s.ready.CompareAndSwap(false, true) {
		s.logger.LogInfo(ctx, "service ready")
	}
}
