// Package statusapi exposes a run's live progress over HTTP. It is
// never required for extraction to complete; a run with no attached
// Server behaves identically.
package statusapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kgraph/extractor/pkg/orchestrator"
)

// version is set via -ldflags at build time.
var version = "dev"

// SetVersion sets the version string reported by /version.
func SetVersion(v string) { version = v }

// Server serves the current ProgressSnapshot of one extraction run plus
// a health/version pair.
type Server struct {
	mu       sync.RWMutex
	snapshot orchestrator.ProgressSnapshot
	runID    string
	started  time.Time
	router   chi.Router
}

// New creates a Server for runID. Call Update from the Orchestrator's
// ProgressCallback to keep the reported snapshot current.
func New(runID string) *Server {
	s := &Server{runID: runID, started: time.Now()}
	s.setupRouter()
	return s
}

// Update records the latest progress snapshot. Safe for concurrent use;
// intended to be passed directly as an orchestrator.ProgressCallback.
func (s *Server) Update(snap orchestrator.ProgressSnapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/status", s.handleStatus)

	s.router = r
}

// Handler returns the HTTP handler to mount with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthResponse is the response for /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// VersionResponse is the response for /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// StatusResponse is the response for /status: the current progress
// snapshot plus the run's identity and elapsed wall time.
type StatusResponse struct {
	RunID           string  `json:"run_id"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	ChunksProcessed int     `json:"chunks_processed"`
	ChunksFailed    int     `json:"chunks_failed"`
	ChunksSkipped   int     `json:"chunks_skipped"`
	TotalChunks     int     `json:"total_chunks"`
	EntitiesSoFar   int     `json:"entities_so_far"`
	ProgressPercent float64 `json:"progress_percent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: version, Service: "kgraph-extractor"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()

	pct := 0.0
	if snap.TotalChunks > 0 {
		pct = float64(snap.ChunksProcessed+snap.ChunksFailed+snap.ChunksSkipped) / float64(snap.TotalChunks) * 100
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		RunID:           s.runID,
		ElapsedSeconds:  time.Since(s.started).Seconds(),
		ChunksProcessed: snap.ChunksProcessed,
		ChunksFailed:    snap.ChunksFailed,
		ChunksSkipped:   snap.ChunksSkipped,
		TotalChunks:     snap.TotalChunks,
		EntitiesSoFar:   snap.EntitiesSoFar,
		ProgressPercent: pct,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
