package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/telbill/robo-ops/internal/data/pgxutil"
	"github.com/telbill/robo-ops/internal/domain/model"
)

// InvoiceRepo provides database operations for invoices.
type InvoiceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewInvoiceRepo creates a new InvoiceRepo instance with the given database connection.
func NewInvoiceRepo(db *sql.DB) *InvoiceRepo {
	return &InvoiceRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewInvoiceRepoWithTimeProvider creates an InvoiceRepo with a custom TimeProvider (useful for testing).
func NewInvoiceRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *InvoiceRepo {
	return &InvoiceRepo{DB: db, timeProvider: tp}
}

const invoiceColumns = `id, run_id, client_id, carrier_id, amount_cents, due_date, state, approver_id, decided_at, rejection_reason, decision_note, created_at, updated_at`

// Create inserts a new invoice row and returns the stored record.
func (r *InvoiceRepo) Create(ctx context.Context, inv *model.Invoice) (*model.Invoice, error) {
	if inv == nil {
		return nil, fmt.Errorf("invoice is required")
	}

	now := r.timeProvider.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = now
	}

	q := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + invoiceColumns

	var out model.Invoice
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q,
			inv.ID, inv.RunID, inv.ClientID, inv.CarrierID, inv.AmountCents,
			inv.DueDate, inv.State, inv.ApproverID, inv.DecidedAt,
			inv.RejectionReason, inv.DecisionNote, inv.CreatedAt, inv.UpdatedAt,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Invoice])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", mapStoreError(err, "invoice not found"))
	}
	return &out, nil
}

// GetByID returns a single invoice by id.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	var inv model.Invoice
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		inv, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Invoice])
		return err
	})
	if err != nil {
		return nil, mapStoreError(err, fmt.Sprintf("invoice %s not found", id))
	}
	return &inv, nil
}

// Update persists an invoice's mutable fields and returns the stored record.
func (r *InvoiceRepo) Update(ctx context.Context, inv *model.Invoice) (*model.Invoice, error) {
	if inv == nil {
		return nil, fmt.Errorf("invoice is required")
	}

	q := `UPDATE invoices
		SET client_id = $2, carrier_id = $3, amount_cents = $4, due_date = $5,
			state = $6, approver_id = $7, decided_at = $8, rejection_reason = $9,
			decision_note = $10, updated_at = $11
		WHERE id = $1
		RETURNING ` + invoiceColumns

	var out model.Invoice
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q,
			inv.ID, inv.ClientID, inv.CarrierID, inv.AmountCents, inv.DueDate,
			inv.State, inv.ApproverID, inv.DecidedAt, inv.RejectionReason,
			inv.DecisionNote, r.timeProvider.Now(),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Invoice])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update invoice: %w", mapStoreError(err, fmt.Sprintf("invoice %s not found", inv.ID)))
	}
	return &out, nil
}

// ListPending returns invoices awaiting a decision, oldest first. limit <= 0
// means no limit.
func (r *InvoiceRepo) ListPending(ctx context.Context, limit int) ([]*model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE state = 'pending'
		ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	var invs []*model.Invoice
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		invs, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Invoice])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", mapStoreError(err, "invoices not found"))
	}
	return invs, nil
}
