// Package httpx provides the JSON API surface for the robo-ops back office.
package httpx

import (
	"errors"
	"net/http"

	"github.com/telbill/robo-ops/internal/domain/model"
	"github.com/telbill/robo-ops/internal/service"
)

// RunHandlers provides HTTP handlers for job run operations. All state
// changes go through the orchestrator so events and snapshot caching happen
// on every mutation regardless of which surface triggered it.
type RunHandlers struct {
	Orchestrator *service.Orchestrator
	Runs         *service.RunService
}

// RequestJob handles HTTP requests to enqueue a new run for a contract.
func (h *RunHandlers) RequestJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractID string `json:"contract_id"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.ContractID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: errors.New("contract_id is required")},
		)
		return
	}

	run, err := h.Orchestrator.RequestJob(r.Context(), req.ContractID)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, run)
}

// RequestAllJobs handles HTTP requests to enqueue runs for every active
// contract. Per-contract failures come back in the body; the batch itself
// always succeeds.
func (h *RunHandlers) RequestAllJobs(w http.ResponseWriter, r *http.Request) {
	result, err := h.Orchestrator.RequestAllJobs(r.Context())
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// Started handles the robot callback reporting that a run began executing.
func (h *RunHandlers) Started(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("run id is required")},
		)
		return
	}

	run, err := h.Orchestrator.ReportJobStarted(r.Context(), runID)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// Finished handles the robot callback reporting a run's terminal outcome.
func (h *RunHandlers) Finished(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("run id is required")},
		)
		return
	}

	var req model.ReportFinishedRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	run, err := h.Orchestrator.ReportJobFinished(r.Context(), runID, req)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// Cancel handles HTTP requests to cancel a queued or running run.
func (h *RunHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("run id is required")},
		)
		return
	}

	run, err := h.Orchestrator.CancelJob(r.Context(), runID)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// Retry handles HTTP requests to retry a failed run. The response carries the
// freshly enqueued run, not the original.
func (h *RunHandlers) Retry(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("run id is required")},
		)
		return
	}

	run, err := h.Orchestrator.RetryJob(r.Context(), runID)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, run)
}

// GetRun handles HTTP requests to fetch a single run by id.
func (h *RunHandlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("run id is required")},
		)
		return
	}

	run, err := h.Orchestrator.GetRun(r.Context(), runID)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// ListActive handles HTTP requests to list queued and running runs.
func (h *RunHandlers) ListActive(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 0)

	runs, err := h.Runs.ListActive(r.Context(), limit)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
