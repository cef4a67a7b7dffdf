// Package model defines the core data types for the robo-ops run and
// approval workflow.
package model

import (
	"fmt"
	"strings"
	"time"
)

// RunState represents the lifecycle state of a job run.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type RunState string

const (
	// RunStateQueued indicates a run is waiting to be picked up by a robot.
	RunStateQueued RunState = "queued"
	// RunStateRunning indicates a robot is currently executing the run.
	RunStateRunning RunState = "running"
	// RunStateCompleted indicates the run finished successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed indicates the run finished with an error.
	RunStateFailed RunState = "failed"
	// RunStateCancelled indicates the run was cancelled by an operator.
	RunStateCancelled RunState = "cancelled"
)

// UnmarshalText implements encoding.TextUnmarshaler for RunState to allow env
// and query parsing.
func (s *RunState) UnmarshalText(text []byte) error {
	v := RunState(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*s = v
		return nil
	}
	return fmt.Errorf("invalid RunState: %q", string(text))
}

// Valid returns true if the RunState is one of the known states.
func (s RunState) Valid() bool {
	switch s {
	case RunStateQueued, RunStateRunning, RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	}
	return false
}

// Terminal returns true if no further transition is legal out of the state.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	}
	return false
}

// JobRun represents one execution of an automated invoice-fetch job for one
// contract. Runs are never deleted; retries create a new run referencing the
// same contract so the original stays intact as an audit record.
type JobRun struct {
	ID           string     `json:"id"                     db:"id"`
	ContractID   string     `json:"contract_id"            db:"contract_id"`
	State        RunState   `json:"state"                  db:"state"`
	AttemptCount int        `json:"attempt_count"          db:"attempt_count"`
	StartedAt    *time.Time `json:"started_at,omitempty"   db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"  db:"finished_at"`
	LastError    *string    `json:"last_error,omitempty"   db:"last_error"`
	ArtifactRef  *string    `json:"artifact_ref,omitempty" db:"artifact_ref"`
	CreatedAt    time.Time  `json:"created_at"             db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"             db:"updated_at"`
}

// Duration returns the elapsed time between start and finish. The second
// return value is false while the run has not reached a terminal state.
func (r *JobRun) Duration() (time.Duration, bool) {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0, false
	}
	return r.FinishedAt.Sub(*r.StartedAt), true
}

// CheckInvariants verifies the structural invariants of a run record:
// finished_at is set iff the state is terminal, and attempt_count >= 1.
func (r *JobRun) CheckInvariants() error {
	if r.AttemptCount < 1 {
		return fmt.Errorf("attempt_count must be >= 1, got %d", r.AttemptCount)
	}
	if r.State.Terminal() != (r.FinishedAt != nil) {
		return fmt.Errorf("finished_at presence (%v) does not match terminal state %q",
			r.FinishedAt != nil, r.State)
	}
	return nil
}

// RunOutcome is the result a robot reports when a run finishes.
type RunOutcome string

const (
	// RunOutcomeCompleted indicates the robot finished successfully.
	RunOutcomeCompleted RunOutcome = "completed"
	// RunOutcomeFailed indicates the robot finished with an error.
	RunOutcomeFailed RunOutcome = "failed"
)

// Valid returns true if the RunOutcome is one of the known outcomes.
func (o RunOutcome) Valid() bool {
	return o == RunOutcomeCompleted || o == RunOutcomeFailed
}

// ReportFinishedRequest carries a robot's completion callback for a run.
type ReportFinishedRequest struct {
	Outcome RunOutcome `json:"outcome"`
	// ArtifactRef references the downloaded invoice artifact; required when
	// the outcome is completed.
	ArtifactRef string `json:"artifact_ref,omitempty"`
	// ErrorMessage describes the failure; required when the outcome is failed.
	ErrorMessage string `json:"error_message,omitempty"`
	// Invoice optionally carries the extracted invoice fields so a pending
	// approval record can be created from a completed run.
	Invoice *InvoiceDraft `json:"invoice,omitempty"`
}

// Validate validates the ReportFinishedRequest fields.
func (r *ReportFinishedRequest) Validate() error {
	if !r.Outcome.Valid() {
		return fmt.Errorf("invalid run outcome: %q", r.Outcome)
	}
	if r.Outcome == RunOutcomeCompleted && strings.TrimSpace(r.ArtifactRef) == "" {
		return fmt.Errorf("artifact_ref is required for a completed run")
	}
	if r.Outcome == RunOutcomeFailed && strings.TrimSpace(r.ErrorMessage) == "" {
		return fmt.Errorf("error_message is required for a failed run")
	}
	return nil
}

// BatchEnqueueResult reports the per-contract outcome of a request-all batch.
// A failed contract never aborts the rest of the batch.
type BatchEnqueueResult struct {
	Contracts int               `json:"contracts"`
	Enqueued  []*JobRun         `json:"enqueued"`
	Failures  map[string]string `json:"failures,omitempty"`
}
