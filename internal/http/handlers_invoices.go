package httpx

import (
	"errors"
	"net/http"

	"github.com/telbill/robo-ops/internal/domain/model"
	"github.com/telbill/robo-ops/internal/service"
)

// InvoiceHandlers provides HTTP handlers for invoice approval operations.
type InvoiceHandlers struct {
	Orchestrator *service.Orchestrator
	Invoices     *service.InvoiceService
}

// Decide handles an operator's approve or reject decision on an invoice.
// Repeating an approve on an already approved invoice succeeds silently.
func (h *InvoiceHandlers) Decide(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.PathValue("id")
	if invoiceID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("invoice id is required")},
		)
		return
	}

	var req model.InvoiceDecisionRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	inv, err := h.Orchestrator.DecideInvoice(r.Context(), invoiceID, req)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inv)
}

// GetInvoice handles HTTP requests to fetch a single invoice by id.
func (h *InvoiceHandlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.PathValue("id")
	if invoiceID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("invoice id is required")},
		)
		return
	}

	inv, err := h.Orchestrator.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inv)
}

// ListPending handles HTTP requests to list invoices awaiting a decision.
func (h *InvoiceHandlers) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 0)

	invoices, err := h.Invoices.ListPending(r.Context(), limit)
	if err != nil {
		RenderError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}
