package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telbill/robo-ops/internal/core"
	"github.com/telbill/robo-ops/internal/domain/event"
	"github.com/telbill/robo-ops/internal/domain/model"
	apperrors "github.com/telbill/robo-ops/internal/errors"
	"github.com/telbill/robo-ops/internal/observability/metrics"
)

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Runs      *RunService            // Required: run transition engine
	Invoices  *InvoiceService        // Required: invoice decision engine
	Contracts core.ContractDirectory // Required: contract resolution for batches
	Bus       *event.Bus             // Required: transition event fan-out
	Cache     core.SnapshotCache     // Optional: hot snapshot store
	Metrics   *metrics.Recorder      // Optional: transition/decision counters
	Logger    *slog.Logger           // Optional: structured logger
	Now       func() time.Time       // Optional: clock override for tests
}

// Orchestrator is the single entry point the transport layer calls into. It
// sequences each operation the same way: mutate state first, then publish
// the transition event, then refresh the snapshot cache. Events are only
// published for mutations that actually happened, so a failed transition or
// an idempotent repeat produces no notification.
type Orchestrator struct {
	runs      *RunService
	invoices  *InvoiceService
	contracts core.ContractDirectory
	bus       *event.Bus
	cache     core.SnapshotCache
	metrics   *metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator constructs a new Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunService is required")
	}
	if opts.Invoices == nil {
		return nil, errors.New("InvoiceService is required")
	}
	if opts.Contracts == nil {
		return nil, errors.New("ContractDirectory is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("event Bus is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "orchestrator")
	}

	return &Orchestrator{
		runs:      opts.Runs,
		invoices:  opts.Invoices,
		contracts: opts.Contracts,
		bus:       opts.Bus,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       now,
	}, nil
}

// MustNewOrchestrator constructs a new Orchestrator and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	svc, err := NewOrchestrator(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Orchestrator: %v", err))
	}
	return svc
}

func (o *Orchestrator) publish(p event.Payload) {
	o.bus.Publish(event.New(p, o.now()))
}

// countTransition records a run transition attempt against the target state.
// The recorder is nil-safe, so unconfigured metrics cost nothing.
func (o *Orchestrator) countTransition(target model.RunState, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	o.metrics.RunTransition(string(target), result, err)
}

func (o *Orchestrator) countDecision(action model.DecisionAction, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	o.metrics.InvoiceDecision(string(action), result)
}

// cacheRun refreshes the hot snapshot for a run. Cache writes are best
// effort: the relational store already holds the truth, so a cache miss only
// costs a reconnecting session a slower snapshot.
func (o *Orchestrator) cacheRun(ctx context.Context, run *model.JobRun) {
	if o.cache == nil {
		return
	}
	if err := o.cache.PutRun(ctx, run); err != nil && o.logger != nil {
		o.logger.WarnContext(ctx, "snapshot cache put failed", "kind", "run", "id", run.ID, "error", err)
	}
}

func (o *Orchestrator) cacheInvoice(ctx context.Context, inv *model.Invoice) {
	if o.cache == nil {
		return
	}
	if err := o.cache.PutInvoice(ctx, inv); err != nil && o.logger != nil {
		o.logger.WarnContext(ctx, "snapshot cache put failed", "kind", "invoice", "id", inv.ID, "error", err)
	}
}

// RequestJob enqueues a new run for one contract and announces it.
func (o *Orchestrator) RequestJob(ctx context.Context, contractID string) (*model.JobRun, error) {
	run, err := o.runs.Enqueue(ctx, contractID)
	o.countTransition(model.RunStateQueued, err)
	if err != nil {
		return nil, err
	}
	o.publish(event.RunCreated{Run: run})
	o.cacheRun(ctx, run)
	return run, nil
}

// RequestAllJobs enqueues a run for every active contract. Enqueue failures
// are collected per contract instead of aborting the batch, so one bad
// contract never blocks the nightly sweep for the rest.
func (o *Orchestrator) RequestAllJobs(ctx context.Context) (*model.BatchEnqueueResult, error) {
	contracts, err := o.contracts.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active contracts: %w", err)
	}

	result := &model.BatchEnqueueResult{Contracts: len(contracts)}
	for _, c := range contracts {
		run, err := o.RequestJob(ctx, c.ID)
		if err != nil {
			if result.Failures == nil {
				result.Failures = map[string]string{}
			}
			result.Failures[c.ID] = err.Error()
			if o.logger != nil {
				o.logger.WarnContext(ctx, "batch enqueue failed for contract", "contract_id", c.ID, "error", err)
			}
			continue
		}
		result.Enqueued = append(result.Enqueued, run)
	}

	if o.logger != nil {
		o.logger.InfoContext(ctx, "batch enqueue finished",
			"contracts", result.Contracts,
			"enqueued", len(result.Enqueued),
			"failed", len(result.Failures),
		)
	}
	return result, nil
}

// ReportJobStarted records that the robot picked up the run.
func (o *Orchestrator) ReportJobStarted(ctx context.Context, runID string) (*model.JobRun, error) {
	run, err := o.runs.Start(ctx, runID)
	o.countTransition(model.RunStateRunning, err)
	if err != nil {
		return nil, err
	}
	o.publish(event.RunUpdated{Run: run})
	o.cacheRun(ctx, run)
	return run, nil
}

// ReportJobFinished records the robot's terminal report. A completed report
// also creates a pending invoice: from the extracted draft when the robot
// supplied one, otherwise a shell derived from the contract that an approver
// fills in during review.
func (o *Orchestrator) ReportJobFinished(ctx context.Context, runID string, req model.ReportFinishedRequest) (*model.JobRun, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	var (
		run    *model.JobRun
		target model.RunState
		err    error
	)
	switch req.Outcome {
	case model.RunOutcomeCompleted:
		target = model.RunStateCompleted
		run, err = o.runs.Complete(ctx, runID, req.ArtifactRef)
	case model.RunOutcomeFailed:
		target = model.RunStateFailed
		run, err = o.runs.Fail(ctx, runID, req.ErrorMessage)
	default:
		return nil, apperrors.Validationf("unknown outcome %q", req.Outcome)
	}
	o.countTransition(target, err)
	if err != nil {
		return nil, err
	}

	o.publish(event.RunUpdated{Run: run})
	o.cacheRun(ctx, run)

	if req.Outcome == model.RunOutcomeCompleted {
		if err := o.createInvoiceForRun(ctx, run, req.Invoice); err != nil {
			// The run already completed; surface the invoice problem
			// without unwinding the terminal transition.
			return run, err
		}
	}
	return run, nil
}

func (o *Orchestrator) createInvoiceForRun(ctx context.Context, run *model.JobRun, draft *model.InvoiceDraft) error {
	d := draft
	if d == nil {
		contract, err := o.contracts.GetByID(ctx, run.ContractID)
		if err != nil {
			return fmt.Errorf("resolve contract for invoice shell: %w", err)
		}
		d = &model.InvoiceDraft{
			ClientID:    contract.ClientID,
			CarrierID:   contract.CarrierID,
			AmountCents: 0,
			DueDate:     o.now(),
		}
	}

	inv, err := o.invoices.CreateFromRun(ctx, run.ID, *d)
	if err != nil {
		return err
	}
	o.publish(event.InvoiceCreated{Invoice: inv})
	o.cacheInvoice(ctx, inv)
	return nil
}

// CancelJob cancels a queued or running run.
func (o *Orchestrator) CancelJob(ctx context.Context, runID string) (*model.JobRun, error) {
	run, err := o.runs.Cancel(ctx, runID)
	o.countTransition(model.RunStateCancelled, err)
	if err != nil {
		return nil, err
	}
	o.publish(event.RunUpdated{Run: run})
	o.cacheRun(ctx, run)
	return run, nil
}

// RetryJob creates a fresh queued run from a failed or cancelled one.
func (o *Orchestrator) RetryJob(ctx context.Context, runID string) (*model.JobRun, error) {
	run, err := o.runs.Retry(ctx, runID)
	o.countTransition(model.RunStateQueued, err)
	if err != nil {
		return nil, err
	}
	o.publish(event.RunCreated{Run: run})
	o.cacheRun(ctx, run)
	return run, nil
}

// DecideInvoice applies an approve or reject decision. A repeated approve is
// an idempotent success that publishes nothing; every effective decision is
// announced with the decided snapshot.
func (o *Orchestrator) DecideInvoice(ctx context.Context, invoiceID string, req model.InvoiceDecisionRequest) (*model.Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	switch req.Action {
	case model.DecisionApprove:
		inv, already, err := o.invoices.Approve(ctx, invoiceID, req.ApproverID, req.Note)
		o.countDecision(req.Action, err)
		if err != nil {
			return nil, err
		}
		if !already {
			o.publish(event.InvoiceApproved{Invoice: inv})
			o.cacheInvoice(ctx, inv)
		}
		return inv, nil
	case model.DecisionReject:
		inv, err := o.invoices.Reject(ctx, invoiceID, req.ApproverID, req.Reason)
		o.countDecision(req.Action, err)
		if err != nil {
			return nil, err
		}
		o.publish(event.InvoiceRejected{Invoice: inv})
		o.cacheInvoice(ctx, inv)
		return inv, nil
	default:
		return nil, apperrors.Validationf("unknown decision action %q", req.Action)
	}
}

// GetRun returns a run by id.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*model.JobRun, error) {
	return o.runs.GetByID(ctx, runID)
}

// GetInvoice returns an invoice by id.
func (o *Orchestrator) GetInvoice(ctx context.Context, invoiceID string) (*model.Invoice, error) {
	return o.invoices.GetByID(ctx, invoiceID)
}

// Snapshot assembles the reconciliation state for a (re)connecting session,
// preferring the hot cache and falling back to the relational store when the
// cache is unavailable.
func (o *Orchestrator) Snapshot(ctx context.Context) (*core.StateSnapshot, error) {
	if o.cache != nil {
		snap, err := o.cache.Snapshot(ctx)
		if err == nil {
			return snap, nil
		}
		if o.logger != nil {
			o.logger.WarnContext(ctx, "snapshot cache read failed, falling back to store", "error", err)
		}
	}

	runs, err := o.runs.ListActive(ctx, 0)
	if err != nil {
		return nil, err
	}
	invs, err := o.invoices.ListPending(ctx, 0)
	if err != nil {
		return nil, err
	}
	return &core.StateSnapshot{ActiveRuns: runs, PendingInvoices: invs}, nil
}
