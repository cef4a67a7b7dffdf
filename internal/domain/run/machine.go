// Package run enforces the legal state changes of the job run lifecycle:
// queued → running → {completed, failed, cancelled}.
package run

import (
	"strings"
	"time"

	"github.com/telbill/robo-ops/internal/domain/model"
	apperrors "github.com/telbill/robo-ops/internal/errors"
)

// legal maps each state to the states reachable from it. Terminal states
// have no outgoing edges: the first terminal state a run reaches wins, and a
// later attempt to move it into a different terminal state must fail rather
// than overwrite.
var legal = map[model.RunState][]model.RunState{
	model.RunStateQueued:  {model.RunStateRunning, model.RunStateCancelled},
	model.RunStateRunning: {model.RunStateCompleted, model.RunStateFailed, model.RunStateCancelled},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to model.RunState) bool {
	for _, next := range legal[from] {
		if next == to {
			return true
		}
	}
	return false
}

func invalidTransition(r *model.JobRun, to model.RunState) error {
	return apperrors.InvalidTransitionf("run %s is %s, cannot transition to %s", r.ID, r.State, to)
}

// Start moves a queued run to running and stamps started_at.
func Start(r *model.JobRun, now time.Time) error {
	if !CanTransition(r.State, model.RunStateRunning) {
		return invalidTransition(r, model.RunStateRunning)
	}
	r.State = model.RunStateRunning
	r.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

// Complete moves a running run to completed, stamps finished_at, and attaches
// the result artifact reference.
func Complete(r *model.JobRun, artifactRef string, now time.Time) error {
	if !CanTransition(r.State, model.RunStateCompleted) {
		return invalidTransition(r, model.RunStateCompleted)
	}
	if strings.TrimSpace(artifactRef) == "" {
		return apperrors.ValidationField("artifact_ref", "artifact reference is required to complete a run")
	}
	r.State = model.RunStateCompleted
	r.FinishedAt = &now
	r.ArtifactRef = &artifactRef
	r.UpdatedAt = now
	return nil
}

// Fail moves a running run to failed, stamps finished_at, and records the
// error message.
func Fail(r *model.JobRun, errorMessage string, now time.Time) error {
	if !CanTransition(r.State, model.RunStateFailed) {
		return invalidTransition(r, model.RunStateFailed)
	}
	if strings.TrimSpace(errorMessage) == "" {
		return apperrors.ValidationField("error_message", "error message is required to fail a run")
	}
	r.State = model.RunStateFailed
	r.FinishedAt = &now
	r.LastError = &errorMessage
	r.UpdatedAt = now
	return nil
}

// Cancel moves a queued or running run to cancelled and stamps finished_at.
// Cancellation is cooperative: the external robot is not interrupted, and its
// eventual completion callback for this run will be rejected by the terminal
// state check above.
func Cancel(r *model.JobRun, now time.Time) error {
	if !CanTransition(r.State, model.RunStateCancelled) {
		return invalidTransition(r, model.RunStateCancelled)
	}
	r.State = model.RunStateCancelled
	r.FinishedAt = &now
	r.UpdatedAt = now
	return nil
}

// Retry builds a fresh queued run for the same contract with an incremented
// attempt count. Retry is only legal from failed or cancelled, and it never
// mutates the original run: history stays intact for audit.
func Retry(r *model.JobRun, now time.Time) (*model.JobRun, error) {
	if r.State != model.RunStateFailed && r.State != model.RunStateCancelled {
		return nil, apperrors.InvalidTransitionf("run %s is %s, only failed or cancelled runs can be retried", r.ID, r.State)
	}
	return &model.JobRun{
		ContractID:   r.ContractID,
		State:        model.RunStateQueued,
		AttemptCount: r.AttemptCount + 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
