package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telbill/robo-ops/internal/domain/model"
	apperrors "github.com/telbill/robo-ops/internal/errors"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func queuedRun() *model.JobRun {
	return &model.JobRun{
		ID:           "run-1",
		ContractID:   "contract-42",
		State:        model.RunStateQueued,
		AttemptCount: 1,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
}

func runningRun() *model.JobRun {
	r := queuedRun()
	started := testNow.Add(time.Second)
	r.State = model.RunStateRunning
	r.StartedAt = &started
	return r
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to model.RunState
		want     bool
	}{
		{model.RunStateQueued, model.RunStateRunning, true},
		{model.RunStateQueued, model.RunStateCancelled, true},
		{model.RunStateQueued, model.RunStateCompleted, false},
		{model.RunStateRunning, model.RunStateCompleted, true},
		{model.RunStateRunning, model.RunStateFailed, true},
		{model.RunStateRunning, model.RunStateCancelled, true},
		{model.RunStateCompleted, model.RunStateCancelled, false},
		{model.RunStateFailed, model.RunStateRunning, false},
		{model.RunStateCancelled, model.RunStateCompleted, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStart(t *testing.T) {
	t.Parallel()

	r := queuedRun()
	now := testNow.Add(time.Minute)
	require.NoError(t, Start(r, now))
	assert.Equal(t, model.RunStateRunning, r.State)
	require.NotNil(t, r.StartedAt)
	assert.Equal(t, now, *r.StartedAt)
	require.NoError(t, r.CheckInvariants())

	err := Start(r, now)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestComplete(t *testing.T) {
	t.Parallel()

	r := runningRun()
	now := testNow.Add(2 * time.Minute)
	require.NoError(t, Complete(r, "inv-99", now))
	assert.Equal(t, model.RunStateCompleted, r.State)
	require.NotNil(t, r.ArtifactRef)
	assert.Equal(t, "inv-99", *r.ArtifactRef)

	d, ok := r.Duration()
	require.True(t, ok)
	assert.Positive(t, d)
	require.NoError(t, r.CheckInvariants())
}

func TestComplete_RequiresArtifact(t *testing.T) {
	t.Parallel()

	r := runningRun()
	err := Complete(r, "  ", testNow)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, model.RunStateRunning, r.State, "failed validation must not mutate the run")
}

func TestComplete_FromQueued(t *testing.T) {
	t.Parallel()

	err := Complete(queuedRun(), "inv-99", testNow)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestFail(t *testing.T) {
	t.Parallel()

	r := runningRun()
	require.NoError(t, Fail(r, "portal timeout", testNow.Add(time.Minute)))
	assert.Equal(t, model.RunStateFailed, r.State)
	require.NotNil(t, r.LastError)
	assert.Equal(t, "portal timeout", *r.LastError)
	require.NoError(t, r.CheckInvariants())

	err := Fail(r, "again", testNow)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestCancel_FromQueuedAndRunning(t *testing.T) {
	t.Parallel()

	q := queuedRun()
	require.NoError(t, Cancel(q, testNow))
	assert.Equal(t, model.RunStateCancelled, q.State)
	require.NoError(t, q.CheckInvariants())

	r := runningRun()
	require.NoError(t, Cancel(r, testNow))
	assert.Equal(t, model.RunStateCancelled, r.State)
}

func TestFirstTerminalStateWins(t *testing.T) {
	t.Parallel()

	// A cancelled run must stay cancelled when the robot's late completion
	// callback arrives.
	r := runningRun()
	require.NoError(t, Cancel(r, testNow))

	err := Complete(r, "inv-99", testNow.Add(time.Second))
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransition(err))
	assert.Equal(t, model.RunStateCancelled, r.State)
	assert.Nil(t, r.ArtifactRef)
}

func TestRetry(t *testing.T) {
	t.Parallel()

	r := runningRun()
	require.NoError(t, Fail(r, "boom", testNow))

	fresh, err := Retry(r, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.RunStateQueued, fresh.State)
	assert.Equal(t, r.ContractID, fresh.ContractID)
	assert.Equal(t, r.AttemptCount+1, fresh.AttemptCount)
	assert.Nil(t, fresh.StartedAt)
	assert.Nil(t, fresh.FinishedAt)

	// Original untouched.
	assert.Equal(t, model.RunStateFailed, r.State)
	assert.Equal(t, 1, r.AttemptCount)
}

func TestRetry_OnlyFromFailedOrCancelled(t *testing.T) {
	t.Parallel()

	_, err := Retry(queuedRun(), testNow)
	assert.True(t, apperrors.IsInvalidTransition(err))

	_, err = Retry(runningRun(), testNow)
	assert.True(t, apperrors.IsInvalidTransition(err))

	done := runningRun()
	require.NoError(t, Complete(done, "inv-1", testNow))
	_, err = Retry(done, testNow)
	assert.True(t, apperrors.IsInvalidTransition(err))

	cancelled := queuedRun()
	require.NoError(t, Cancel(cancelled, testNow))
	fresh, err := Retry(cancelled, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.AttemptCount)
}
