// Package core defines the ports between the workflow services and their
// collaborators (state store, contract directory, snapshot cache). Services
// depend on these interfaces, never on concrete adapters.
package core

import (
	"context"

	"github.com/telbill/robo-ops/internal/domain/model"
)

// RunRepository defines single-entity persistence for job runs. Each call is
// an atomic read or write of one row; serializing transitions per run id is
// the transition engine's responsibility, not the store's.
type RunRepository interface {
	Create(ctx context.Context, run *model.JobRun) (*model.JobRun, error)
	GetByID(ctx context.Context, id string) (*model.JobRun, error)
	Update(ctx context.Context, run *model.JobRun) (*model.JobRun, error)
	// ListActive returns runs that have not reached a terminal state.
	ListActive(ctx context.Context, limit int) ([]*model.JobRun, error)
	// ListByContract returns the most recent runs for a contract.
	ListByContract(ctx context.Context, contractID string, limit int) ([]*model.JobRun, error)
}

// InvoiceRepository defines single-entity persistence for invoices.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *model.Invoice) (*model.Invoice, error)
	GetByID(ctx context.Context, id string) (*model.Invoice, error)
	Update(ctx context.Context, inv *model.Invoice) (*model.Invoice, error)
	// ListPending returns invoices awaiting a decision, oldest first.
	ListPending(ctx context.Context, limit int) ([]*model.Invoice, error)
}

// ContractDirectory resolves carrier contracts owned by the CRUD layer.
type ContractDirectory interface {
	GetByID(ctx context.Context, id string) (*model.Contract, error)
	// ListActive returns all contracts eligible for a request-all batch.
	ListActive(ctx context.Context) ([]*model.Contract, error)
}

// StateSnapshot is the reconciliation payload served to a dashboard session
// when it (re)connects: current non-terminal runs and undecided invoices.
type StateSnapshot struct {
	ActiveRuns      []*model.JobRun
	PendingInvoices []*model.Invoice
}

// SnapshotCache keeps the latest entity snapshots hot so reconnecting
// sessions can reconcile without hitting the relational store.
type SnapshotCache interface {
	PutRun(ctx context.Context, run *model.JobRun) error
	PutInvoice(ctx context.Context, inv *model.Invoice) error
	Snapshot(ctx context.Context) (*StateSnapshot, error)
}
