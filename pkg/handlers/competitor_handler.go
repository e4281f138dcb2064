package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/audit"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/services"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var errMinPriority = errors.New("min_priority must be between 0 and 9")

// ScopeMiddleware attaches a database scope to the request context.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Response Types
// ============================================================================

// SignalListResponse for GET /api/signals
type SignalListResponse struct {
	Signals []*models.CompetitorSignal `json:"signals"`
	Total   int                        `json:"total"`
}

// EntityListResponse for GET /api/entities
type EntityListResponse struct {
	Entities []*models.CompetitorEntity `json:"entities"`
	Total    int                        `json:"total"`
}

// JurisdictionListResponse for GET /api/jurisdictions
type JurisdictionListResponse struct {
	Jurisdictions []*models.Jurisdiction `json:"jurisdictions"`
	Total         int                    `json:"total"`
}

// AnalysisListResponse for GET /api/analyses
type AnalysisListResponse struct {
	Analyses []*models.CompetitorAnalysis `json:"analyses"`
	Total    int                          `json:"total"`
}

// JobListResponse for GET /api/jobs
type JobListResponse struct {
	Jobs  []*models.ScrapeJob `json:"jobs"`
	Total int                 `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// CompetitorHandler serves the dashboard and the signal store listings.
type CompetitorHandler struct {
	competitorService services.CompetitorService
	auditor           *audit.AdminAuditor
	now               func() time.Time
	logger            *zap.Logger
}

// NewCompetitorHandler creates a new competitor handler. auditor may be nil.
func NewCompetitorHandler(competitorService services.CompetitorService, auditor *audit.AdminAuditor, logger *zap.Logger) *CompetitorHandler {
	return &CompetitorHandler{
		competitorService: competitorService,
		auditor:           auditor,
		now:               time.Now,
		logger:            logger,
	}
}

// RegisterRoutes registers the competitor handler's routes on the given mux.
func (h *CompetitorHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/dashboard", scope(h.Dashboard))
	mux.HandleFunc("GET /api/signals", scope(h.ListSignals))
	mux.HandleFunc("GET /api/entities", scope(h.ListEntities))
	mux.HandleFunc("PATCH /api/entities/{id}", scope(h.UpdateEntity))
	mux.HandleFunc("GET /api/jurisdictions", scope(h.ListJurisdictions))
	mux.HandleFunc("PATCH /api/jurisdictions/{key}", scope(h.UpdateJurisdiction))
	mux.HandleFunc("GET /api/analyses", scope(h.ListAnalyses))
	mux.HandleFunc("GET /api/jobs", scope(h.ListJobs))
}

// Dashboard handles GET /api/dashboard
func (h *CompetitorHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.competitorService.GetDashboard(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "load dashboard")
		return
	}
	writeData(w, h.logger, http.StatusOK, dashboard)
}

// ListSignals handles GET /api/signals
// Query: jurisdiction, type, competitor, min_priority, days, limit
func (h *CompetitorHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := models.SignalFilters{
		Jurisdiction: strings.TrimSpace(q.Get("jurisdiction")),
		Type:         strings.TrimSpace(q.Get("type")),
		Competitor:   strings.TrimSpace(q.Get("competitor")),
	}
	if filters.Type != "" && !isSignalType(filters.Type) {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "type must be one of permit, sec_filing, agenda")
		return
	}

	minPriority, err := queryInt(r, "min_priority")
	if err == nil && minPriority > models.MaxPriority {
		err = errMinPriority
	}
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	filters.MinPriority = minPriority

	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if days > 0 {
		since := h.now().AddDate(0, 0, -days)
		filters.Since = &since
	}

	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	filters.Limit = limit

	signals, err := h.competitorService.ListSignals(r.Context(), filters)
	if err != nil {
		writeServiceError(w, h.logger, err, "list signals")
		return
	}
	writeData(w, h.logger, http.StatusOK, SignalListResponse{Signals: signals, Total: len(signals)})
}

// ListEntities handles GET /api/entities?active=true
func (h *CompetitorHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	active, err := queryBool(r, "active")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	entities, err := h.competitorService.ListEntities(r.Context(), active)
	if err != nil {
		writeServiceError(w, h.logger, err, "list entities")
		return
	}
	writeData(w, h.logger, http.StatusOK, EntityListResponse{Entities: entities, Total: len(entities)})
}

// UpdateEntity handles PATCH /api/entities/{id}
func (h *CompetitorHandler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	var req models.CompetitorEntityUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	entity, err := h.competitorService.UpdateEntity(r.Context(), id, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update entity")
		return
	}
	h.auditor.Record(r, audit.EventEntityUpdated, id.String(), &req)
	writeData(w, h.logger, http.StatusOK, entity)
}

// ListJurisdictions handles GET /api/jurisdictions?active=true
func (h *CompetitorHandler) ListJurisdictions(w http.ResponseWriter, r *http.Request) {
	active, err := queryBool(r, "active")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	jurisdictions, err := h.competitorService.ListJurisdictions(r.Context(), active)
	if err != nil {
		writeServiceError(w, h.logger, err, "list jurisdictions")
		return
	}
	writeData(w, h.logger, http.StatusOK, JurisdictionListResponse{Jurisdictions: jurisdictions, Total: len(jurisdictions)})
}

// UpdateJurisdiction handles PATCH /api/jurisdictions/{key}
func (h *CompetitorHandler) UpdateJurisdiction(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_jurisdiction", "Jurisdiction key is required")
		return
	}

	var req models.JurisdictionUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	jurisdiction, err := h.competitorService.UpdateJurisdiction(r.Context(), key, &req)
	if err != nil {
		writeServiceError(w, h.logger, err, "update jurisdiction")
		return
	}
	h.auditor.Record(r, audit.EventJurisdictionUpdated, key, &req)
	writeData(w, h.logger, http.StatusOK, jurisdiction)
}

// ListAnalyses handles GET /api/analyses?competitor_id=...&limit=...
// competitorId is accepted as an alias of competitor_id.
func (h *CompetitorHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	param := "competitor_id"
	if r.URL.Query().Get(param) == "" {
		param = "competitorId"
	}
	competitorID, err := queryUUID(r, param)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	analyses, err := h.competitorService.ListAnalyses(r.Context(), models.AnalysisFilters{
		CompetitorID: competitorID,
		Limit:        limit,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "list analyses")
		return
	}
	writeData(w, h.logger, http.StatusOK, AnalysisListResponse{Analyses: analyses, Total: len(analyses)})
}

// ListJobs handles GET /api/jobs?status=...&source=...&limit=...
func (h *CompetitorHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !isJobStatus(status) {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", "status must be one of queued, running, done, failed")
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	jobs, err := h.competitorService.ListJobs(r.Context(), models.JobFilters{
		Status: status,
		Source: strings.TrimSpace(r.URL.Query().Get("source")),
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "list jobs")
		return
	}
	writeData(w, h.logger, http.StatusOK, JobListResponse{Jobs: jobs, Total: len(jobs)})
}

// limit reads the limit query parameter, defaulting and capping it.
func (h *CompetitorHandler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return 0, false
	}
	switch {
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return limit, true
}

func isJobStatus(s models.JobStatus) bool {
	switch s {
	case models.JobStatusQueued, models.JobStatusRunning, models.JobStatusDone, models.JobStatusFailed:
		return true
	}
	return false
}

func isSignalType(t string) bool {
	switch t {
	case models.SignalTypePermit, models.SignalTypeSECFiling, models.SignalTypeAgenda:
		return true
	}
	return false
}
