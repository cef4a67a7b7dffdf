package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telbill/robo-ops/internal/core"
	"github.com/telbill/robo-ops/internal/domain/model"
	domainrun "github.com/telbill/robo-ops/internal/domain/run"
	apperrors "github.com/telbill/robo-ops/internal/errors"
)

// RunServiceOptions groups dependencies for RunService.
type RunServiceOptions struct {
	Runs      core.RunRepository     // Required: run state store
	Contracts core.ContractDirectory // Required: contract resolution for enqueue
	Logger    *slog.Logger           // Optional: structured logger
	Now       func() time.Time       // Optional: clock override for tests
}

// RunService is the transition engine for job runs. Every transition is a
// read-check-write serialized per run id through the entity lock, so two
// concurrent transitions on the same run resolve to exactly one winner while
// unrelated runs proceed in parallel.
type RunService struct {
	runs      core.RunRepository
	contracts core.ContractDirectory
	locks     *entityLock
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunService constructs a new RunService.
func NewRunService(opts RunServiceOptions) (*RunService, error) {
	if opts.Runs == nil {
		return nil, errors.New("RunRepository is required")
	}
	if opts.Contracts == nil {
		return nil, errors.New("ContractDirectory is required")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "run_service")
	}

	return &RunService{
		runs:      opts.Runs,
		contracts: opts.Contracts,
		locks:     newEntityLock(),
		logger:    logger,
		now:       now,
	}, nil
}

// MustNewRunService constructs a new RunService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewRunService(opts RunServiceOptions) *RunService {
	svc, err := NewRunService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create RunService: %v", err))
	}
	return svc
}

// Enqueue creates a queued run with attempt count 1 for the given contract.
func (s *RunService) Enqueue(ctx context.Context, contractID string) (*model.JobRun, error) {
	contract, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("resolve contract %s: %w", contractID, err)
	}
	if !contract.Active {
		return nil, apperrors.Validationf("contract %s is not active", contractID)
	}

	now := s.now()
	run := &model.JobRun{
		ID:           uuid.NewString(),
		ContractID:   contract.ID,
		State:        model.RunStateQueued,
		AttemptCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.runs.Create(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "run enqueued", "id", created.ID, "contract_id", contract.ID)
	}
	return created, nil
}

// transition loads a run under its lock, applies the mutation, and writes it
// back. The mutation must either fully apply or leave the run untouched.
func (s *RunService) transition(
	ctx context.Context,
	runID string,
	apply func(*model.JobRun) error,
) (*model.JobRun, error) {
	unlock := s.locks.Lock(runID)
	defer unlock()

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	if err := apply(run); err != nil {
		return nil, err
	}

	updated, err := s.runs.Update(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("persist run %s: %w", runID, err)
	}
	return updated, nil
}

// Start transitions a queued run to running. Exactly one of two concurrent
// Start calls succeeds; the loser gets an InvalidTransition error so callers
// can tell "already started elsewhere" apart from a network retry.
func (s *RunService) Start(ctx context.Context, runID string) (*model.JobRun, error) {
	run, err := s.transition(ctx, runID, func(r *model.JobRun) error {
		return domainrun.Start(r, s.now())
	})
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.DebugContext(ctx, "run started", "id", run.ID)
	}
	return run, nil
}

// Complete transitions a running run to completed and attaches the artifact.
func (s *RunService) Complete(ctx context.Context, runID, artifactRef string) (*model.JobRun, error) {
	run, err := s.transition(ctx, runID, func(r *model.JobRun) error {
		return domainrun.Complete(r, artifactRef, s.now())
	})
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		d, _ := run.Duration()
		s.logger.InfoContext(ctx, "run completed", "id", run.ID, "duration", d, "artifact_ref", artifactRef)
	}
	return run, nil
}

// Fail transitions a running run to failed and records the error message.
func (s *RunService) Fail(ctx context.Context, runID, errorMessage string) (*model.JobRun, error) {
	run, err := s.transition(ctx, runID, func(r *model.JobRun) error {
		return domainrun.Fail(r, errorMessage, s.now())
	})
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "run failed", "id", run.ID, "error", errorMessage)
	}
	return run, nil
}

// Cancel transitions a queued or running run to cancelled. The external
// robot is not interrupted; its late completion callback will be rejected by
// the terminal-state check (first terminal state wins).
func (s *RunService) Cancel(ctx context.Context, runID string) (*model.JobRun, error) {
	run, err := s.transition(ctx, runID, func(r *model.JobRun) error {
		return domainrun.Cancel(r, s.now())
	})
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "run cancelled", "id", run.ID)
	}
	return run, nil
}

// Retry creates a fresh queued run for the contract of a failed or cancelled
// run, with the attempt count incremented. The original run is never
// mutated.
func (s *RunService) Retry(ctx context.Context, runID string) (*model.JobRun, error) {
	unlock := s.locks.Lock(runID)
	defer unlock()

	original, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	fresh, err := domainrun.Retry(original, s.now())
	if err != nil {
		return nil, err
	}
	fresh.ID = uuid.NewString()

	created, err := s.runs.Create(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("create retry run: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "run retried",
			"original_id", original.ID,
			"new_id", created.ID,
			"attempt_count", created.AttemptCount,
		)
	}
	return created, nil
}

// GetByID returns a run by its ID.
func (s *RunService) GetByID(ctx context.Context, runID string) (*model.JobRun, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListActive returns runs that have not reached a terminal state.
func (s *RunService) ListActive(ctx context.Context, limit int) ([]*model.JobRun, error) {
	runs, err := s.runs.ListActive(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	return runs, nil
}
