// Package transport provides HTTP API handlers.
package transport

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

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/txdriver/internal/pacing"
	"github.com/gateway-fm/txdriver/internal/service"
	"github.com/gateway-fm/txdriver/internal/storage"
	"github.com/gateway-fm/txdriver/pkg/types"
)

// validatePacing checks that the fields a pacing profile needs are present.
// Range checks happen when the request is applied to the configuration.
func validatePacing(req *types.StartRunRequest) error {
	switch req.Pacing {
	case "", pacing.ProfileUnpaced:
	case pacing.ProfileConstant:
		if req.TargetTPS <= 0 {
			return fmt.Errorf("targetTps must be positive for constant pacing, got %d", req.TargetTPS)
		}
	case pacing.ProfileRamp:
		if req.PeakTPS <= 0 {
			return fmt.Errorf("peakTps must be positive for ramp pacing, got %d", req.PeakTPS)
		}
	case pacing.ProfileSpike:
		if req.TargetTPS <= 0 || req.PeakTPS <= 0 {
			return errors.New("targetTps and peakTps must be positive for spike pacing")
		}
		if req.SpikeDurationSec <= 0 || req.SpikeIntervalSec <= 0 {
			return errors.New("spikeDurationSec and spikeIntervalSec must be positive for spike pacing")
		}
		if req.SpikeDurationSec > req.SpikeIntervalSec {
			return fmt.Errorf("spikeDurationSec (%d) cannot exceed spikeIntervalSec (%d)", req.SpikeDurationSec, req.SpikeIntervalSec)
		}
	default:
		return fmt.Errorf("invalid pacing: %s (valid: unpaced, constant, ramp, spike)", req.Pacing)
	}
	return nil
}

// RunAPI is what the handlers need from the run manager.
type RunAPI interface {
	StartRun(req types.StartRunRequest) (string, error)
	StopRun()
	Metrics() types.RunMetrics

	History(ctx context.Context, limit, offset int) (*storage.PaginatedRuns, error)
	Run(ctx context.Context, id string) (*types.RunResult, error)
	Submissions(ctx context.Context, id string, limit, offset int) (*storage.PaginatedSubmissions, error)
	TimeSeries(ctx context.Context, id string) ([]storage.TimeSeriesPoint, error)
	DeleteRun(ctx context.Context, id string) error
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
}

// Server handles HTTP requests for the transaction driver.
type Server struct {
	api       RunAPI
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(api RunAPI, health HealthChecker, gatherer prometheus.Gatherer, logger *slog.Logger, corsAllowedOrigins string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		api:       api,
		health:    health,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  NewWebSocketServer(api, logger),
	}
	s.wsServer.Start()

	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Close stops the live metrics stream.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSONError(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.HandleFunc("/v1/ws", s.wsServer.Handler())

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.corsMiddleware)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/start", s.handleStart).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/runs/{id}", s.handleDeleteRun).Methods(http.MethodDelete)
	api.HandleFunc("/runs/{id}/submissions", s.handleSubmissions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/runs/{id}/timeseries", s.handleTimeSeries).Methods(http.MethodGet, http.MethodOptions)

	// Health endpoints (unversioned - standard Kubernetes probes)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeStoreError maps storage errors to status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeJSONError(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, service.ErrRunActive):
		s.writeJSONError(w, err.Error(), http.StatusConflict)
	default:
		s.writeJSONError(w, "Failed to get "+what+": "+err.Error(), http.StatusInternalServerError)
	}
}

// handleStatus returns current run metrics.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.api.Metrics())
}

// handleStart starts a new run.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req types.StartRunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := validatePacing(&req); err != nil {
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.api.StartRun(req)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidRequest):
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, service.ErrRunActive):
		s.writeJSONError(w, err.Error(), http.StatusConflict)
		return
	default:
		s.logger.Error("Failed to start run", slog.String("error", err.Error()))
		s.writeJSONError(w, "Failed to start run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started", "runId": id})
}

// handleStop stops the current run.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.api.StopRun()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// pageParams parses limit and offset, falling back to def for a missing or
// out-of-range limit.
func pageParams(r *http.Request, def, max int) (limit, offset int) {
	limit = def
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= max {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}
	return limit, offset
}

// handleRuns returns run history.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 50, 100)
	result, err := s.api.History(r.Context(), limit, offset)
	if err != nil {
		s.writeStoreError(w, "history", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.api.Run(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, "run", err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.api.DeleteRun(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeStoreError(w, "run", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 100, 1000)
	result, err := s.api.Submissions(r.Context(), mux.Vars(r)["id"], limit, offset)
	if err != nil {
		s.writeStoreError(w, "submissions", err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	points, err := s.api.TimeSeries(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, "time series", err)
		return
	}
	if points == nil {
		points = []storage.TimeSeriesPoint{}
	}
	s.writeJSON(w, http.StatusOK, points)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		start := time.Now()
		err := s.health.CheckRPC(r.Context())
		check := ReadinessCheck{
			Name:      "rpc",
			Status:    "ok",
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			allHealthy = false
		}
		checks = append(checks, check)
	}

	code := http.StatusOK
	if !allHealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]any{
		"ready":  allHealthy,
		"checks": checks,
	})
}
