package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/config"
)

const readinessTimeout = 2 * time.Second

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CycleStatus reports whether a watch cycle is in flight.
type CycleStatus interface {
	IsRunning() bool
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Service      string `json:"service"`
	GoVersion    string `json:"go_version"`
	Hostname     string `json:"hostname"`
	Environment  string `json:"environment"`
	CycleRunning bool   `json:"cycle_running"`
}

// HealthHandler handles health check, readiness and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	db     Pinger
	cycles CycleStatus
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and cycles may be nil.
func NewHealthHandler(cfg *config.Config, db Pinger, cycles CycleStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, cycles: cycles, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ready", h.Ready)
	mux.HandleFunc("/ping", h.Ping)
}

// Health handles GET /health requests. It only proves the process is serving.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready handles GET /ready requests.
// Returns 503 when the database cannot be reached.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.Error(err))
			writeError(w, h.logger, http.StatusServiceUnavailable, "database_unavailable", "Database is not reachable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-watch",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}
	if h.cycles != nil {
		response.CycleRunning = h.cycles.IsRunning()
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
