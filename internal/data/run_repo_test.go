package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telbill/robo-ops/internal/domain/model"
	apperrors "github.com/telbill/robo-ops/internal/errors"
	"github.com/telbill/robo-ops/internal/testutil"
)

func TestRunRepo_CreateGetUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	ctx := context.Background()
	contracts := NewContractRepo(db)
	runs := NewRunRepo(db)

	contract, err := contracts.Create(ctx, testutil.NewContract().Build())
	require.NoError(t, err)

	run := testutil.NewRun().WithContract(contract.ID).Build()
	created, err := runs.Create(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, run.ID, created.ID)
	assert.Equal(t, model.RunStateQueued, created.State)
	assert.Equal(t, 1, created.AttemptCount)

	got, err := runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.ContractID, got.ContractID)

	got.State = model.RunStateRunning
	started := got.CreatedAt
	got.StartedAt = &started
	updated, err := runs.Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateRunning, updated.State)
	require.NotNil(t, updated.StartedAt)
}

func TestRunRepo_GetByID_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	runs := NewRunRepo(db)
	_, err := runs.GetByID(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRunRepo_Create_UnknownContractRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	runs := NewRunRepo(db)
	run := testutil.NewRun().Build() // contract id never inserted
	_, err := runs.Create(context.Background(), run)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestRunRepo_Create_DuplicateIDConflicts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	ctx := context.Background()
	contracts := NewContractRepo(db)
	runs := NewRunRepo(db)

	contract, err := contracts.Create(ctx, testutil.NewContract().Build())
	require.NoError(t, err)

	run := testutil.NewRun().WithContract(contract.ID).Build()
	_, err = runs.Create(ctx, run)
	require.NoError(t, err)

	_, err = runs.Create(ctx, run)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestRunRepo_ListActive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	ctx := context.Background()
	contracts := NewContractRepo(db)
	runs := NewRunRepo(db)

	contract, err := contracts.Create(ctx, testutil.NewContract().Build())
	require.NoError(t, err)

	queued := testutil.NewRun().WithContract(contract.ID).Build()
	running := testutil.NewRun().WithContract(contract.ID).WithState(model.RunStateRunning).Build()
	done := testutil.NewRun().WithContract(contract.ID).WithState(model.RunStateCompleted).Build()
	for _, r := range []*model.JobRun{queued, running, done} {
		_, err = runs.Create(ctx, r)
		require.NoError(t, err)
	}

	active, err := runs.ListActive(ctx, 0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, r := range active {
		assert.False(t, r.State.Terminal())
	}

	limited, err := runs.ListActive(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRunRepo_ListByContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	ctx := context.Background()
	contracts := NewContractRepo(db)
	runs := NewRunRepo(db)

	first, err := contracts.Create(ctx, testutil.NewContract().Build())
	require.NoError(t, err)
	second, err := contracts.Create(ctx, testutil.NewContract().Build())
	require.NoError(t, err)

	_, err = runs.Create(ctx, testutil.NewRun().WithContract(first.ID).Build())
	require.NoError(t, err)
	_, err = runs.Create(ctx, testutil.NewRun().WithContract(first.ID).WithAttempt(2).Build())
	require.NoError(t, err)
	_, err = runs.Create(ctx, testutil.NewRun().WithContract(second.ID).Build())
	require.NoError(t, err)

	got, err := runs.ListByContract(ctx, first.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, first.ID, r.ContractID)
	}
}
