package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/telbill/robo-ops/internal/data/pgxutil"
	"github.com/telbill/robo-ops/internal/domain/model"
)

// RunRepo provides database operations for job runs.
type RunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewRunRepo creates a new RunRepo instance with the given database connection.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewRunRepoWithTimeProvider creates a RunRepo with a custom TimeProvider (useful for testing).
func NewRunRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *RunRepo {
	return &RunRepo{DB: db, timeProvider: tp}
}

const runColumns = `id, contract_id, state, attempt_count, started_at, finished_at, last_error, artifact_ref, created_at, updated_at`

// Create inserts a new run row and returns the stored record.
func (r *RunRepo) Create(ctx context.Context, run *model.JobRun) (*model.JobRun, error) {
	if run == nil {
		return nil, fmt.Errorf("run is required")
	}

	now := r.timeProvider.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}

	q := `INSERT INTO job_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + runColumns

	var out model.JobRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q,
			run.ID, run.ContractID, run.State, run.AttemptCount,
			run.StartedAt, run.FinishedAt, run.LastError, run.ArtifactRef,
			run.CreatedAt, run.UpdatedAt,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.JobRun])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", mapStoreError(err, "run not found"))
	}
	return &out, nil
}

// GetByID returns a single run by id.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.JobRun, error) {
	q := `SELECT ` + runColumns + ` FROM job_runs WHERE id = $1`
	return r.getRunByQuery(ctx, q, fmt.Sprintf("run %s not found", id), id)
}

// Update persists a run's mutable fields and returns the stored record.
func (r *RunRepo) Update(ctx context.Context, run *model.JobRun) (*model.JobRun, error) {
	if run == nil {
		return nil, fmt.Errorf("run is required")
	}

	q := `UPDATE job_runs
		SET state = $2, attempt_count = $3, started_at = $4, finished_at = $5,
			last_error = $6, artifact_ref = $7, updated_at = $8
		WHERE id = $1
		RETURNING ` + runColumns

	var out model.JobRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q,
			run.ID, run.State, run.AttemptCount, run.StartedAt, run.FinishedAt,
			run.LastError, run.ArtifactRef, r.timeProvider.Now(),
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.JobRun])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update run: %w", mapStoreError(err, fmt.Sprintf("run %s not found", run.ID)))
	}
	return &out, nil
}

// ListActive returns runs that have not reached a terminal state, oldest
// first. limit <= 0 means no limit.
func (r *RunRepo) ListActive(ctx context.Context, limit int) ([]*model.JobRun, error) {
	q := `SELECT ` + runColumns + ` FROM job_runs
		WHERE state IN ('queued', 'running')
		ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	return r.listRunsByQuery(ctx, q, args...)
}

// ListByContract returns the most recent runs for a contract.
func (r *RunRepo) ListByContract(ctx context.Context, contractID string, limit int) ([]*model.JobRun, error) {
	q := `SELECT ` + runColumns + ` FROM job_runs
		WHERE contract_id = $1
		ORDER BY created_at DESC`
	args := []any{contractID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.listRunsByQuery(ctx, q, args...)
}

func (r *RunRepo) getRunByQuery(ctx context.Context, q, notFoundMsg string, args ...any) (*model.JobRun, error) {
	var run model.JobRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		run, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.JobRun])
		return err
	})
	if err != nil {
		return nil, mapStoreError(err, notFoundMsg)
	}
	return &run, nil
}

func (r *RunRepo) listRunsByQuery(ctx context.Context, q string, args ...any) ([]*model.JobRun, error) {
	var runs []*model.JobRun
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		runs, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.JobRun])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", mapStoreError(err, "runs not found"))
	}
	return runs, nil
}
