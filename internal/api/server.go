// Package api provides the HTTP API for observing and steering the simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/talgya/lifesim/internal/engine"
	"github.com/talgya/lifesim/internal/persistence"
	"github.com/talgya/lifesim/internal/world"
)

const (
	maxStepsPerRequest = 10000
	maxSpeed           = 1000
	defaultReportLimit = 50
)

// Server serves the simulation over HTTP.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	DB       *persistence.DB // Optional; nil serves reports from memory only.
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// Admin requests per client per minute. Zero disables limiting.
	AdminRate int

	// Active stream connection count.
	streamConns atomic.Int32
}

// Handler builds the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/census", s.handleCensus)
	mux.Handle("GET /api/v1/map", gzhttp.GzipHandler(http.HandlerFunc(s.handleMap)))
	mux.HandleFunc("GET /api/v1/site/{x}/{y}", s.handleSite)
	mux.Handle("GET /api/v1/reports", gzhttp.GzipHandler(http.HandlerFunc(s.handleReports)))
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)

	// Live report feed (WebSocket, read-only).
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Admin endpoints (POST, require bearer token).
	var limiter *RateLimiter
	if s.AdminRate > 0 {
		limiter = NewRateLimiter(s.AdminRate, time.Minute)
	}
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return s.adminOnly(RateLimitMiddleware(limiter, h))
	}
	mux.HandleFunc("POST /api/v1/step", admin(s.handleStep))
	mux.HandleFunc("POST /api/v1/reset", admin(s.handleReset))
	mux.HandleFunc("POST /api/v1/speed", admin(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/spawn", admin(s.handleSpawn))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine and returns the server
// so the caller can shut it down.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly rejects requests without the admin bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no LIFESIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run := s.Sim.Run()
	c := s.Sim.Census()
	writeJSON(w, map[string]any{
		"name":       "LifeSim",
		"run":        run,
		"tick":       c.Tick,
		"speed":      s.Eng.Speed(),
		"running":    s.Eng.Running(),
		"population": c.Population,
		"teams":      c.Teams,
	})
}

func (s *Server) handleCensus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Census())
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.View())
}

func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.PathValue("x"))
	y, errY := strconv.Atoi(r.PathValue("y"))
	if errX != nil || errY != nil {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	cell, err := s.Sim.Cell(x, y)
	if errors.Is(err, world.ErrOutOfBounds) {
		http.Error(w, "site not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, cell)
}

// handleReports serves the journal for ?run=<id>, or the current run from
// memory when no run is named or no journal is open.
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	runID := r.URL.Query().Get("run")
	if runID == "" || s.DB == nil {
		if runID != "" && runID != s.Sim.Run().ID {
			http.Error(w, "run history requires storage", http.StatusNotFound)
			return
		}
		writeJSON(w, s.Sim.Reports(limit))
		return
	}

	reports, err := s.DB.Reports(runID, limit)
	if err != nil {
		slog.Error("load reports", "run", runID, "error", err)
		http.Error(w, "failed to load reports", http.StatusInternalServerError)
		return
	}
	writeJSON(w, reports)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, []engine.RunInfo{s.Sim.Run()})
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	runs, err := s.DB.Runs(limit)
	if err != nil {
		slog.Error("load runs", "error", err)
		http.Error(w, "failed to load runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Steps int `json:"steps"`
	}{Steps: 1}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Steps < 1 || req.Steps > maxStepsPerRequest {
		http.Error(w, fmt.Sprintf("steps must be 1-%d", maxStepsPerRequest), http.StatusBadRequest)
		return
	}
	for i := 0; i < req.Steps; i++ {
		s.Eng.Advance()
	}
	slog.Info("admin step", "steps", req.Steps, "tick", s.Sim.Tick())
	writeJSON(w, s.Sim.Census())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seed int64 `json:"seed"` // 0 picks a random seed
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var run engine.RunInfo
	err := s.Eng.Rewind(func() (err error) {
		run, err = s.Sim.Reset(req.Seed)
		return err
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed *float64 `json:"speed"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Speed == nil || *req.Speed < 0 || *req.Speed > maxSpeed {
		http.Error(w, fmt.Sprintf("speed must be 0-%d", maxSpeed), http.StatusBadRequest)
		return
	}
	s.Eng.SetSpeed(*req.Speed)
	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X      int     `json:"x"`
		Y      int     `json:"y"`
		Team   int     `json:"team"`
		Energy float64 `json:"energy"` // 0 uses the configured starting energy
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Team < 0 || req.Energy < 0 {
		http.Error(w, "team and energy must be non-negative", http.StatusBadRequest)
		return
	}
	if req.Energy == 0 {
		req.Energy = s.Sim.Settings().Agent.EnergyAtStart
	}

	err := s.Sim.Spawn(req.X, req.Y, req.Team, req.Energy)
	switch {
	case errors.Is(err, world.ErrOutOfBounds):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, world.ErrOccupied):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("admin spawn", "x", req.X, "y", req.Y, "team", req.Team, "energy", req.Energy)
	cell, _ := s.Sim.Cell(req.X, req.Y)
	writeJSONStatus(w, http.StatusCreated, cell)
}

// decodeBody decodes an optional JSON body into v. An empty body keeps v's
// defaults. Writes a 400 and returns false on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultReportLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
