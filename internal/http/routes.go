package httpx

import (
	"net/http"

	"github.com/telbill/robo-ops/internal/service"
	"github.com/telbill/robo-ops/internal/stream"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Orchestrator *service.Orchestrator
	Runs         *service.RunService
	Invoices     *service.InvoiceService
	// Hub is optional; without it the stream route is not registered.
	Hub *stream.Hub
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	runHandlers := &RunHandlers{Orchestrator: services.Orchestrator, Runs: services.Runs}
	invoiceHandlers := &InvoiceHandlers{Orchestrator: services.Orchestrator, Invoices: services.Invoices}

	registerRunRoutes(mux, runHandlers)
	registerInvoiceRoutes(mux, invoiceHandlers)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	if services.Hub != nil {
		mux.Handle("GET /api/stream", services.Hub.Handler())
	}

	return mux
}

func registerRunRoutes(mux *http.ServeMux, h *RunHandlers) {
	mux.HandleFunc("POST /api/runs", h.RequestJob)
	mux.HandleFunc("POST /api/runs/request-all", h.RequestAllJobs)
	mux.HandleFunc("GET /api/runs", h.ListActive)
	mux.HandleFunc("GET /api/runs/{id}", h.GetRun)
	mux.HandleFunc("POST /api/runs/{id}/started", h.Started)
	mux.HandleFunc("POST /api/runs/{id}/finished", h.Finished)
	mux.HandleFunc("POST /api/runs/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/runs/{id}/retry", h.Retry)
}

func registerInvoiceRoutes(mux *http.ServeMux, h *InvoiceHandlers) {
	mux.HandleFunc("GET /api/invoices", h.ListPending)
	mux.HandleFunc("GET /api/invoices/{id}", h.GetInvoice)
	mux.HandleFunc("POST /api/invoices/{id}/decision", h.Decide)
}
