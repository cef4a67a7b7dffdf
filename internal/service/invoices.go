package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telbill/robo-ops/internal/core"
	domaininvoice "github.com/telbill/robo-ops/internal/domain/invoice"
	"github.com/telbill/robo-ops/internal/domain/model"
	apperrors "github.com/telbill/robo-ops/internal/errors"
)

// InvoiceServiceOptions groups dependencies for InvoiceService.
type InvoiceServiceOptions struct {
	Invoices core.InvoiceRepository // Required: invoice state store
	Logger   *slog.Logger           // Optional: structured logger
	Now      func() time.Time       // Optional: clock override for tests
}

// InvoiceService manages invoice creation and the approve/reject decision
// flow. Decisions are serialized per invoice id so two approvers racing on
// the same invoice resolve deterministically.
type InvoiceService struct {
	invoices core.InvoiceRepository
	locks    *entityLock
	logger   *slog.Logger
	now      func() time.Time
}

// NewInvoiceService constructs a new InvoiceService.
func NewInvoiceService(opts InvoiceServiceOptions) (*InvoiceService, error) {
	if opts.Invoices == nil {
		return nil, errors.New("InvoiceRepository is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "invoice_service")
	}

	return &InvoiceService{
		invoices: opts.Invoices,
		locks:    newEntityLock(),
		logger:   logger,
		now:      now,
	}, nil
}

// MustNewInvoiceService constructs a new InvoiceService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewInvoiceService(opts InvoiceServiceOptions) *InvoiceService {
	svc, err := NewInvoiceService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create InvoiceService: %v", err))
	}
	return svc
}

// CreateFromRun creates a pending invoice tied to a completed run.
func (s *InvoiceService) CreateFromRun(ctx context.Context, runID string, draft model.InvoiceDraft) (*model.Invoice, error) {
	return s.create(ctx, &runID, draft)
}

// CreateManual creates a pending invoice with no originating run.
func (s *InvoiceService) CreateManual(ctx context.Context, draft model.InvoiceDraft) (*model.Invoice, error) {
	return s.create(ctx, nil, draft)
}

func (s *InvoiceService) create(ctx context.Context, runID *string, draft model.InvoiceDraft) (*model.Invoice, error) {
	if err := draft.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	now := s.now()
	inv := &model.Invoice{
		ID:          uuid.NewString(),
		RunID:       runID,
		ClientID:    draft.ClientID,
		CarrierID:   draft.CarrierID,
		AmountCents: draft.AmountCents,
		DueDate:     draft.DueDate,
		State:       model.ApprovalStatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.invoices.Create(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "invoice created",
			"id", created.ID,
			"client_id", created.ClientID,
			"amount_cents", created.AmountCents,
		)
	}
	return created, nil
}

// Approve moves a pending invoice to approved. Approving an invoice that is
// already approved is a no-op success; the second boolean reports that case
// so callers can skip notifications for the repeat.
func (s *InvoiceService) Approve(ctx context.Context, invoiceID, approverID, note string) (*model.Invoice, bool, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, false, fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}

	already, err := domaininvoice.Approve(inv, approverID, note, s.now())
	if err != nil {
		return nil, false, err
	}
	if already {
		return inv, true, nil
	}

	updated, err := s.invoices.Update(ctx, inv)
	if err != nil {
		return nil, false, fmt.Errorf("persist invoice %s: %w", invoiceID, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "invoice approved", "id", updated.ID, "approver_id", approverID)
	}
	return updated, false, nil
}

// Reject moves a pending invoice to rejected. A non-blank reason is
// required and is validated before any state is touched.
func (s *InvoiceService) Reject(ctx context.Context, invoiceID, approverID, reason string) (*model.Invoice, error) {
	unlock := s.locks.Lock(invoiceID)
	defer unlock()

	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}

	if err := domaininvoice.Reject(inv, approverID, reason, s.now()); err != nil {
		return nil, err
	}

	updated, err := s.invoices.Update(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("persist invoice %s: %w", invoiceID, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "invoice rejected", "id", updated.ID, "approver_id", approverID)
	}
	return updated, nil
}

// GetByID returns an invoice by its ID.
func (s *InvoiceService) GetByID(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("get invoice %s: %w", invoiceID, err)
	}
	return inv, nil
}

// ListPending returns invoices still awaiting a decision.
func (s *InvoiceService) ListPending(ctx context.Context, limit int) ([]*model.Invoice, error) {
	invs, err := s.invoices.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", err)
	}
	return invs, nil
}
