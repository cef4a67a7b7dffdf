package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/telbill/robo-ops/internal/core"
	"github.com/telbill/robo-ops/internal/domain/event"
	"github.com/telbill/robo-ops/internal/domain/model"
	apperrors "github.com/telbill/robo-ops/internal/errors"
	"github.com/telbill/robo-ops/internal/mocks"
	"github.com/telbill/robo-ops/internal/observability/metrics"
)

type orchestratorFixture struct {
	orch      *Orchestrator
	runs      *mocks.MockRunRepository
	invoices  *mocks.MockInvoiceRepository
	contracts *mocks.MockContractDirectory
	cache     *mocks.MockSnapshotCache
	events    <-chan event.Event
}

func newOrchestratorFixture(t *testing.T, ctrl *gomock.Controller) *orchestratorFixture {
	t.Helper()

	mockRuns := mocks.NewMockRunRepository(ctrl)
	mockInvoices := mocks.NewMockInvoiceRepository(ctrl)
	mockContracts := mocks.NewMockContractDirectory(ctrl)
	mockCache := mocks.NewMockSnapshotCache(ctrl)
	now := func() time.Time { return svcTestNow }

	runSvc, err := NewRunService(RunServiceOptions{Runs: mockRuns, Contracts: mockContracts, Now: now})
	require.NoError(t, err)
	invSvc, err := NewInvoiceService(InvoiceServiceOptions{Invoices: mockInvoices, Now: now})
	require.NoError(t, err)

	bus := event.NewBus(event.BusOptions{})
	t.Cleanup(bus.Stop)
	unsub, events, err := bus.Subscribe("test-session", event.SubscribeOptions{})
	require.NoError(t, err)
	t.Cleanup(unsub)

	orch, err := NewOrchestrator(OrchestratorOptions{
		Runs:      runSvc,
		Invoices:  invSvc,
		Contracts: mockContracts,
		Bus:       bus,
		Cache:     mockCache,
		Now:       now,
	})
	require.NoError(t, err)

	return &orchestratorFixture{
		orch:      orch,
		runs:      mockRuns,
		invoices:  mockInvoices,
		contracts: mockContracts,
		cache:     mockCache,
		events:    events,
	}
}

// nextEvent pops a published event or fails the test if none arrived.
// Publishing is synchronous, so anything emitted by a finished call is
// already buffered.
func (f *orchestratorFixture) nextEvent(t *testing.T) event.Event {
	t.Helper()
	select {
	case ev := <-f.events:
		return ev
	default:
		t.Fatal("expected a published event")
		return event.Event{}
	}
}

func (f *orchestratorFixture) requireNoEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.events:
		t.Fatalf("unexpected event published: %s", ev.Kind)
	default:
	}
}

func activeContract() *model.Contract {
	return &model.Contract{
		ID:        testContractID,
		ClientID:  "client-1",
		CarrierID: "carrier-1",
		Active:    true,
	}
}

func TestOrchestrator_RequestJob_PublishesAndCaches(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.contracts.EXPECT().GetByID(ctx, testContractID).Return(activeContract(), nil)
	echoCreate(f.runs)
	f.cache.EXPECT().PutRun(gomock.Any(), gomock.Any()).Return(nil)

	run, err := f.orch.RequestJob(ctx, testContractID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateQueued, run.State)

	ev := f.nextEvent(t)
	assert.Equal(t, event.KindRunCreated, ev.Kind)
	created, ok := ev.Payload.(event.RunCreated)
	require.True(t, ok)
	assert.Equal(t, run.ID, created.Run.ID)
}

func TestOrchestrator_RequestJob_NoEventOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.contracts.EXPECT().GetByID(ctx, testContractID).Return(nil, apperrors.NotFoundf("contract %s not found", testContractID))

	_, err := f.orch.RequestJob(ctx, testContractID)
	require.Error(t, err)
	f.requireNoEvent(t)
}

func TestOrchestrator_RequestAllJobs_CollectsPerContractFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	good := activeContract()
	bad := &model.Contract{ID: "contract-2", ClientID: "client-2", CarrierID: "carrier-2", Active: true}

	f.contracts.EXPECT().ListActive(ctx).Return([]*model.Contract{good, bad}, nil)
	f.contracts.EXPECT().GetByID(ctx, good.ID).Return(good, nil)
	f.contracts.EXPECT().GetByID(ctx, bad.ID).Return(bad, nil)
	gomock.InOrder(
		f.runs.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, r *model.JobRun) (*model.JobRun, error) { return r, nil },
		),
		f.runs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("insert failed")),
	)
	f.cache.EXPECT().PutRun(gomock.Any(), gomock.Any()).Return(nil)

	result, err := f.orch.RequestAllJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Contracts)
	require.Len(t, result.Enqueued, 1)
	assert.Equal(t, good.ID, result.Enqueued[0].ContractID)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[bad.ID], "insert failed")

	// only the successful enqueue is announced
	ev := f.nextEvent(t)
	assert.Equal(t, event.KindRunCreated, ev.Kind)
	f.requireNoEvent(t)
}

func TestOrchestrator_ReportJobStarted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.runs.EXPECT().GetByID(ctx, testRunID).Return(&model.JobRun{
		ID:         testRunID,
		ContractID: testContractID,
		State:      model.RunStateQueued,
	}, nil)
	echoUpdate(f.runs)
	f.cache.EXPECT().PutRun(gomock.Any(), gomock.Any()).Return(nil)

	run, err := f.orch.ReportJobStarted(ctx, testRunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStateRunning, run.State)

	ev := f.nextEvent(t)
	assert.Equal(t, event.KindRunUpdated, ev.Kind)
}

func TestOrchestrator_ReportJobFinished_CompletedWithDraft(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.runs.EXPECT().GetByID(ctx, testRunID).Return(&model.JobRun{
		ID:         testRunID,
		ContractID: testContractID,
		State:      model.RunStateRunning,
	}, nil)
	echoUpdate(f.runs)
	f.cache.EXPECT().PutRun(gomock.Any(), gomock.Any()).Return(nil)
	f.invoices.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv *model.Invoice) (*model.Invoice, error) { return inv, nil },
	)
	f.cache.EXPECT().PutInvoice(gomock.Any(), gomock.Any()).Return(nil)

	run, err := f.orch.ReportJobFinished(ctx, testRunID, model.ReportFinishedRequest{
		Outcome:     model.RunOutcomeCompleted,
		ArtifactRef: "s3://artifacts/inv-42.pdf",
		Invoice: &model.InvoiceDraft{
			ClientID:    "client-1",
			CarrierID:   "carrier-1",
			AmountCents: 99000,
			DueDate:     svcTestNow.AddDate(0, 1, 0),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStateCompleted, run.State)

	first := f.nextEvent(t)
	assert.Equal(t, event.KindRunUpdated, first.Kind)

	second := f.nextEvent(t)
	assert.Equal(t, event.KindInvoiceCreated, second.Kind)
	created, ok := second.Payload.(event.InvoiceCreated)
	require.True(t, ok)
	require.NotNil(t, created.Invoice.RunID)
	assert.Equal(t, testRunID, *created.Invoice.RunID)
	assert.Equal(t, int64(99000), created.Invoice.AmountCents)
	assert.Equal(t, model.ApprovalStatePending, created.Invoice.State)
}

// Without an extracted draft the completed run still yields a pending
// invoice: a shell derived from the contract for the approver to fill in.
func TestOrchestrator_ReportJobFinished_CompletedWithoutDraft(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.runs.EXPECT().GetByID(ctx, testRunID).Return(&model.JobRun{
		ID:         testRunID,
		ContractID: testContractID,
		State:      model.RunStateRunning,
	}, nil)
	echoUpdate(f.runs)
	f.cache.EXPECT().PutRun(gomock.Any(), gomock.Any()).Return(nil)
	f.contracts.EXPECT().GetByID(ctx, testContractID).Return(activeContract(), nil)
	f.invoices.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv *model.Invoice) (*model.Invoice, error) { return inv, nil },
	)
	f.cache.EXPECT().PutInvoice(gomock.Any(), gomock.Any()).Return(nil)

	_, err := f.orch.ReportJobFinished(ctx, testRunID, model.ReportFinishedRequest{
		Outcome:     model.RunOutcomeCompleted,
		ArtifactRef: "s3://artifacts/inv-43.pdf",
	})
	require.NoError(t, err)

	_ = f.nextEvent(t) // run-updated
	ev := f.nextEvent(t)
	created, ok := ev.Payload.(event.InvoiceCreated)
	require.True(t, ok)
	assert.Equal(t, "client-1", created.Invoice.ClientID)
	assert.Equal(t, "carrier-1", created.Invoice.CarrierID)
	assert.Equal(t, int64(0), created.Invoice.AmountCents)
}

func TestOrchestrator_ReportJobFinished_FailedCreatesNoInvoice(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.runs.EXPECT().GetByID(ctx, testRunID).Return(&model.JobRun{
		ID:         testRunID,
		ContractID: testContractID,
		State:      model.RunStateRunning,
	}, nil)
	echoUpdate(f.runs)
	f.cache.EXPECT().PutRun(gomock.Any(), gomock.Any()).Return(nil)
	// no invoice Create expected

	run, err := f.orch.ReportJobFinished(ctx, testRunID, model.ReportFinishedRequest{
		Outcome:      model.RunOutcomeFailed,
		ErrorMessage: "captcha wall",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStateFailed, run.State)

	ev := f.nextEvent(t)
	assert.Equal(t, event.KindRunUpdated, ev.Kind)
	f.requireNoEvent(t)
}

func TestOrchestrator_ReportJobFinished_InvalidRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	// completed without an artifact reference
	_, err := f.orch.ReportJobFinished(ctx, testRunID, model.ReportFinishedRequest{
		Outcome: model.RunOutcomeCompleted,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	f.requireNoEvent(t)
}

func TestOrchestrator_RetryJob_AnnouncesFreshRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.runs.EXPECT().GetByID(ctx, testRunID).Return(&model.JobRun{
		ID:           testRunID,
		ContractID:   testContractID,
		State:        model.RunStateFailed,
		AttemptCount: 1,
	}, nil)
	echoCreate(f.runs)
	f.cache.EXPECT().PutRun(gomock.Any(), gomock.Any()).Return(nil)

	fresh, err := f.orch.RetryJob(ctx, testRunID)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.AttemptCount)

	ev := f.nextEvent(t)
	assert.Equal(t, event.KindRunCreated, ev.Kind)
}

func TestOrchestrator_DecideInvoice_Approve(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.invoices.EXPECT().GetByID(ctx, testInvoiceID).Return(pendingInvoice(), nil)
	f.invoices.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv *model.Invoice) (*model.Invoice, error) { return inv, nil },
	)
	f.cache.EXPECT().PutInvoice(gomock.Any(), gomock.Any()).Return(nil)

	inv, err := f.orch.DecideInvoice(ctx, testInvoiceID, model.InvoiceDecisionRequest{
		Action:     model.DecisionApprove,
		ApproverID: testApproverID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStateApproved, inv.State)

	ev := f.nextEvent(t)
	assert.Equal(t, event.KindInvoiceApproved, ev.Kind)
}

// A repeated approve succeeds but stays silent: subscribers already saw the
// decision once.
func TestOrchestrator_DecideInvoice_RepeatApproveIsSilent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	approved := pendingInvoice()
	approved.State = model.ApprovalStateApproved

	f.invoices.EXPECT().GetByID(ctx, testInvoiceID).Return(approved, nil)
	// no Update, no cache put

	inv, err := f.orch.DecideInvoice(ctx, testInvoiceID, model.InvoiceDecisionRequest{
		Action:     model.DecisionApprove,
		ApproverID: testApproverID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStateApproved, inv.State)
	f.requireNoEvent(t)
}

func TestOrchestrator_DecideInvoice_Reject(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.invoices.EXPECT().GetByID(ctx, testInvoiceID).Return(pendingInvoice(), nil)
	f.invoices.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv *model.Invoice) (*model.Invoice, error) { return inv, nil },
	)
	f.cache.EXPECT().PutInvoice(gomock.Any(), gomock.Any()).Return(nil)

	inv, err := f.orch.DecideInvoice(ctx, testInvoiceID, model.InvoiceDecisionRequest{
		Action:     model.DecisionReject,
		ApproverID: testApproverID,
		Reason:     "duplicate billing period",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStateRejected, inv.State)

	ev := f.nextEvent(t)
	assert.Equal(t, event.KindInvoiceRejected, ev.Kind)
}

func TestOrchestrator_DecideInvoice_MissingApprover(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	_, err := f.orch.DecideInvoice(ctx, testInvoiceID, model.InvoiceDecisionRequest{
		Action: model.DecisionApprove,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

// countingSink collects emitted counter names with their tags.
type countingSink struct {
	counts []string
}

func (s *countingSink) Count(name string, _ int64, tags map[string]string) {
	s.counts = append(s.counts, name+":"+tags["state"]+tags["action"]+":"+tags["result"])
}
func (s *countingSink) Gauge(string, float64, map[string]string) {}

func (s *countingSink) Timing(string, time.Duration, map[string]string) {}

func TestOrchestrator_CountsTransitionsAndDecisions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRuns := mocks.NewMockRunRepository(ctrl)
	mockInvoices := mocks.NewMockInvoiceRepository(ctrl)
	mockContracts := mocks.NewMockContractDirectory(ctrl)
	now := func() time.Time { return svcTestNow }

	runSvc, err := NewRunService(RunServiceOptions{Runs: mockRuns, Contracts: mockContracts, Now: now})
	require.NoError(t, err)
	invSvc, err := NewInvoiceService(InvoiceServiceOptions{Invoices: mockInvoices, Now: now})
	require.NoError(t, err)

	bus := event.NewBus(event.BusOptions{})
	t.Cleanup(bus.Stop)

	sink := &countingSink{}
	orch, err := NewOrchestrator(OrchestratorOptions{
		Runs:      runSvc,
		Invoices:  invSvc,
		Contracts: mockContracts,
		Bus:       bus,
		Metrics:   metrics.NewRecorder(sink),
		Now:       now,
	})
	require.NoError(t, err)

	ctx := context.Background()

	mockContracts.EXPECT().GetByID(ctx, testContractID).Return(activeContract(), nil)
	echoCreate(mockRuns)
	_, err = orch.RequestJob(ctx, testContractID)
	require.NoError(t, err)

	mockInvoices.EXPECT().GetByID(ctx, testInvoiceID).Return(pendingInvoice(), nil)
	mockInvoices.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv *model.Invoice) (*model.Invoice, error) { return inv, nil },
	)
	_, err = orch.DecideInvoice(ctx, testInvoiceID, model.InvoiceDecisionRequest{
		Action:     model.DecisionApprove,
		ApproverID: testApproverID,
	})
	require.NoError(t, err)

	mockRuns.EXPECT().GetByID(ctx, testRunID).Return(&model.JobRun{
		ID: testRunID, ContractID: testContractID, State: model.RunStateCompleted,
	}, nil)
	_, err = orch.CancelJob(ctx, testRunID)
	require.Error(t, err)

	assert.Equal(t, []string{
		"run.transition:queued:success",
		"invoice.decision:approve:success",
		"run.transition:cancelled:error",
	}, sink.counts)
}

func TestOrchestrator_Snapshot_PrefersCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	cached := &core.StateSnapshot{
		ActiveRuns:      []*model.JobRun{{ID: testRunID, State: model.RunStateRunning}},
		PendingInvoices: []*model.Invoice{pendingInvoice()},
	}
	f.cache.EXPECT().Snapshot(ctx).Return(cached, nil)

	snap, err := f.orch.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, cached, snap)
}

func TestOrchestrator_Snapshot_FallsBackToStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newOrchestratorFixture(t, ctrl)
	ctx := context.Background()

	f.cache.EXPECT().Snapshot(ctx).Return(nil, errors.New("redis down"))
	f.runs.EXPECT().ListActive(ctx, 0).Return([]*model.JobRun{{ID: testRunID}}, nil)
	f.invoices.EXPECT().ListPending(ctx, 0).Return([]*model.Invoice{pendingInvoice()}, nil)

	snap, err := f.orch.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.ActiveRuns, 1)
	require.Len(t, snap.PendingInvoices, 1)
}
