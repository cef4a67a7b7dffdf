package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telbill/robo-ops/internal/domain/model"
	apperrors "github.com/telbill/robo-ops/internal/errors"
	"github.com/telbill/robo-ops/internal/testutil"
)

func TestInvoiceRepo_CreateGetUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	ctx := context.Background()
	invoices := NewInvoiceRepo(db)

	inv := testutil.NewInvoice().Build()
	created, err := invoices.Create(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, created.ID)
	assert.Equal(t, model.ApprovalStatePending, created.State)
	assert.Nil(t, created.RunID)

	got, err := invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.AmountCents, got.AmountCents)

	now := time.Now().UTC()
	got.State = model.ApprovalStateApproved
	got.ApproverID = testutil.StringPtr("approver-1")
	got.DecidedAt = &now
	updated, err := invoices.Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStateApproved, updated.State)
	require.NotNil(t, updated.ApproverID)
	assert.Equal(t, "approver-1", *updated.ApproverID)
}

func TestInvoiceRepo_CreateLinkedToRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	ctx := context.Background()
	contracts := NewContractRepo(db)
	runs := NewRunRepo(db)
	invoices := NewInvoiceRepo(db)

	contract, err := contracts.Create(ctx, testutil.NewContract().Build())
	require.NoError(t, err)
	run, err := runs.Create(ctx, testutil.NewRun().WithContract(contract.ID).WithState(model.RunStateCompleted).Build())
	require.NoError(t, err)

	inv := testutil.NewInvoice().WithRun(run.ID).Build()
	created, err := invoices.Create(ctx, inv)
	require.NoError(t, err)
	require.NotNil(t, created.RunID)
	assert.Equal(t, run.ID, *created.RunID)
}

func TestInvoiceRepo_Create_UnknownRunRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	invoices := NewInvoiceRepo(db)
	inv := testutil.NewInvoice().WithRun("no-such-run").Build()
	_, err := invoices.Create(context.Background(), inv)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestInvoiceRepo_GetByID_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	invoices := NewInvoiceRepo(db)
	_, err := invoices.GetByID(context.Background(), "no-such-invoice")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestInvoiceRepo_ListPending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	ctx := context.Background()
	invoices := NewInvoiceRepo(db)

	pending := testutil.NewInvoice().Build()
	approved := testutil.NewInvoice().WithState(model.ApprovalStateApproved).Build()
	rejected := testutil.NewInvoice().WithState(model.ApprovalStateRejected).Build()
	for _, inv := range []*model.Invoice{pending, approved, rejected} {
		_, err := invoices.Create(ctx, inv)
		require.NoError(t, err)
	}

	got, err := invoices.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pending.ID, got[0].ID)
}
