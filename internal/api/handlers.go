// Adscout - Ad Archive Search Orchestration and Winning-Ad Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adscout

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/adscout/internal/database"
	"github.com/tomtom215/adscout/internal/models"
	"github.com/tomtom215/adscout/internal/queue"
)

// Handler carries the dependencies of all API endpoints.
type Handler struct {
	runs *queue.Service
	db   *database.DB
}

// NewHandler wires the endpoint dependencies.
func NewHandler(runs *queue.Service, db *database.DB) *Handler {
	return &Handler{runs: runs, db: db}
}

// submitRequest is the body of POST /api/v1/runs.
type submitRequest struct {
	Tenant       string       `json:"tenant"`
	Keywords     []string     `json:"keywords"`
	Countries    []string     `json:"countries"`
	Languages    []string     `json:"languages"`
	MinActiveAds int          `json:"min_active_ads"`
	CMSFilter    []models.CMS `json:"cms_filter,omitempty"`
	Priority     int          `json:"priority"`
}

// SubmitRun enqueues a new search run.
func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	run := &models.SearchRun{
		Tenant:       req.Tenant,
		Keywords:     req.Keywords,
		Countries:    req.Countries,
		Languages:    req.Languages,
		MinActiveAds: req.MinActiveAds,
		CMSFilter:    req.CMSFilter,
		Priority:     req.Priority,
	}
	if err := h.runs.Submit(r.Context(), run); err != nil {
		if errors.Is(err, queue.ErrNoKeywords) || errors.Is(err, queue.ErrNoTenant) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}
	respondJSON(w, http.StatusCreated, run)
}

// GetRun returns one run with live progress.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := h.runs.Status(r.Context(), id)
	if err != nil {
		respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// ListRuns returns a tenant's runs. Without a status filter it returns
// the active set (running first, then pending); "status=<s>" filters by
// one status, with limit/offset paging.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		respondError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}

	status := models.RunStatus(r.URL.Query().Get("status"))
	if status == "" {
		runs, err := h.runs.ListActive(r.Context(), tenant)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		respondJSON(w, http.StatusOK, runs)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	runs, err := h.runs.List(r.Context(), tenant, status, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// ListInterrupted returns every interrupted run, oldest first.
func (h *Handler) ListInterrupted(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListInterrupted(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list interrupted runs")
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// CancelRun requests cancellation of a pending or running run.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	if err := h.runs.Cancel(r.Context(), id); err != nil {
		respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// RestartRun re-queues an interrupted or failed run.
func (h *Handler) RestartRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	if err := h.runs.Restart(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrRestartOnly) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondRepoError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

// RunPages returns the pages a run discovered, with lineage flags.
func (h *Handler) RunPages(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	pages, err := h.db.ListPagesByRun(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list run pages")
		return
	}
	respondJSON(w, http.StatusOK, pages)
}

// RunWinners returns the winning ads a run detected.
func (h *Handler) RunWinners(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := h.runs.Status(r.Context(), id)
	if err != nil {
		respondRepoError(w, err)
		return
	}
	winners, err := h.db.ListWinningAdsByRun(r.Context(), run.Tenant, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list winning ads")
		return
	}
	respondJSON(w, http.StatusOK, winners)
}

// PageRuns returns which runs discovered a page.
func (h *Handler) PageRuns(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		respondError(w, http.StatusBadRequest, "tenant query parameter is required")
		return
	}
	pageID := chi.URLParam(r, "pageID")

	history, err := h.db.ListRunsByPage(r.Context(), tenant, pageID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list page runs")
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// runSummaryResponse is the run plus its final log, when one exists.
type runSummaryResponse struct {
	Run    *models.SearchRun `json:"run"`
	RunLog *models.RunLog    `json:"run_log,omitempty"`
}

// RunSummary returns the run and, for finished runs, its run log.
func (h *Handler) RunSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := h.runs.Status(r.Context(), id)
	if err != nil {
		respondRepoError(w, err)
		return
	}

	summary := runSummaryResponse{Run: run}
	if run.RunLogID != nil {
		rl, lerr := h.db.GetRunLog(r.Context(), id)
		if lerr == nil {
			summary.RunLog = rl
		}
	}
	respondJSON(w, http.StatusOK, summary)
}

// Health reports process and database liveness plus queue depth.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": err.Error(),
		})
		return
	}
	depth, err := h.db.CountPendingRuns(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unhealthy",
			"database": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"pending_runs": depth,
	})
}

func runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return 0, false
	}
	return id, true
}

func respondRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrRunNotFound):
		respondError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, database.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
