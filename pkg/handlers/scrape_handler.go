package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/audit"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/services"
)

// maxDaysBack bounds the lookback an operator may request.
const maxDaysBack = 365

// TriggerScrapeRequest for POST /api/scrape. The body is optional.
// daysBack is accepted as an alias of days_back for older dashboard builds.
type TriggerScrapeRequest struct {
	DaysBack      int `json:"days_back"`
	DaysBackCamel int `json:"daysBack"`
}

func (r TriggerScrapeRequest) daysBack() int {
	if r.DaysBack != 0 {
		return r.DaysBack
	}
	return r.DaysBackCamel
}

// CycleListResponse for GET /api/scrape
type CycleListResponse struct {
	Cycles  []*models.CycleRun `json:"cycles"`
	Running bool               `json:"running"`
}

// ScrapeHandler triggers watch cycles and reports on their progress.
type ScrapeHandler struct {
	watchService services.WatchService
	auditor      *audit.AdminAuditor
	logger       *zap.Logger
}

// NewScrapeHandler creates a new scrape handler. auditor may be nil.
func NewScrapeHandler(watchService services.WatchService, auditor *audit.AdminAuditor, logger *zap.Logger) *ScrapeHandler {
	return &ScrapeHandler{
		watchService: watchService,
		auditor:      auditor,
		logger:       logger,
	}
}

// RegisterRoutes registers the scrape handler's routes on the given mux.
// Cycles acquire their own database scopes, so no scope middleware is needed.
func (h *ScrapeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/scrape", h.Trigger)
	mux.HandleFunc("GET /api/scrape", h.List)
	mux.HandleFunc("GET /api/scrape/{id}", h.Get)
}

// Trigger handles POST /api/scrape
// Returns 202 with the run record, or 409 when a cycle is already running.
func (h *ScrapeHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	daysBack := req.daysBack()
	if daysBack < 0 || daysBack > maxDaysBack {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "days_back must be between 0 and 365")
		return
	}

	run, err := h.watchService.StartCycle(r.Context(), services.CycleOptions{DaysBack: daysBack})
	if errors.Is(err, apperrors.ErrCycleInProgress) {
		h.auditor.Record(r, audit.EventScrapeRejected, cycleTarget(run), map[string]int{"days_back": daysBack})
		if err := WriteJSON(w, http.StatusConflict, ApiResponse{
			Success: false,
			Data:    run,
			Error:   "cycle_in_progress",
			Message: "A watch cycle is already running",
		}); err != nil {
			h.logger.Error("Failed to write response", zap.Error(err))
		}
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "start watch cycle")
		return
	}

	h.auditor.Record(r, audit.EventScrapeTriggered, cycleTarget(run), map[string]int{"days_back": run.DaysBack})
	writeData(w, h.logger, http.StatusAccepted, run)
}

// List handles GET /api/scrape
func (h *ScrapeHandler) List(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.logger, http.StatusOK, CycleListResponse{
		Cycles:  h.watchService.ListCycles(),
		Running: h.watchService.IsRunning(),
	})
}

// Get handles GET /api/scrape/{id}
func (h *ScrapeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseCycleID(w, r, h.logger)
	if !ok {
		return
	}

	run, err := h.watchService.GetCycle(id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get watch cycle")
		return
	}
	writeData(w, h.logger, http.StatusOK, run)
}

func cycleTarget(run *models.CycleRun) string {
	if run == nil {
		return "cycle"
	}
	return "cycle:" + run.ID.String()
}
