package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/telbill/robo-ops/internal/domain/model"
)

// ContractBuilder provides a fluent interface for building Contract records for testing.
type ContractBuilder struct {
	c *model.Contract
}

// NewContract creates a new ContractBuilder with sensible defaults.
func NewContract() *ContractBuilder {
	return &ContractBuilder{
		c: &model.Contract{
			ID:        uuid.NewString(),
			ClientID:  "client-" + uuid.NewString()[:8],
			CarrierID: "carrier-" + uuid.NewString()[:8],
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

// WithID sets the contract id.
func (b *ContractBuilder) WithID(id string) *ContractBuilder {
	b.c.ID = id
	return b
}

// WithActive sets whether the contract is active.
func (b *ContractBuilder) WithActive(active bool) *ContractBuilder {
	b.c.Active = active
	return b
}

// Build returns the constructed contract.
func (b *ContractBuilder) Build() *model.Contract {
	c := *b.c
	return &c
}

// RunBuilder provides a fluent interface for building JobRun records for testing.
type RunBuilder struct {
	r *model.JobRun
}

// NewRun creates a new RunBuilder with sensible defaults: a queued first
// attempt for a fresh contract id.
func NewRun() *RunBuilder {
	now := time.Now().UTC()
	return &RunBuilder{
		r: &model.JobRun{
			ID:           uuid.NewString(),
			ContractID:   uuid.NewString(),
			State:        model.RunStateQueued,
			AttemptCount: 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
}

// WithID sets the run id.
func (b *RunBuilder) WithID(id string) *RunBuilder {
	b.r.ID = id
	return b
}

// WithContract sets the contract id.
func (b *RunBuilder) WithContract(contractID string) *RunBuilder {
	b.r.ContractID = contractID
	return b
}

// WithState sets the run state, stamping started/finished times so the
// record satisfies the run invariants.
func (b *RunBuilder) WithState(state model.RunState) *RunBuilder {
	b.r.State = state
	now := time.Now().UTC()
	if state != model.RunStateQueued && b.r.StartedAt == nil {
		b.r.StartedAt = &now
	}
	if state.Terminal() {
		b.r.FinishedAt = &now
	}
	if state == model.RunStateFailed && b.r.LastError == nil {
		b.r.LastError = StringPtr("simulated failure")
	}
	if state == model.RunStateCompleted && b.r.ArtifactRef == nil {
		b.r.ArtifactRef = StringPtr("s3://artifacts/" + b.r.ID + ".pdf")
	}
	return b
}

// WithAttempt sets the attempt count.
func (b *RunBuilder) WithAttempt(n int) *RunBuilder {
	b.r.AttemptCount = n
	return b
}

// Build returns the constructed run.
func (b *RunBuilder) Build() *model.JobRun {
	r := *b.r
	return &r
}

// InvoiceBuilder provides a fluent interface for building Invoice records for testing.
type InvoiceBuilder struct {
	inv *model.Invoice
}

// NewInvoice creates a new InvoiceBuilder with sensible defaults: a pending
// invoice with a positive amount due in thirty days.
func NewInvoice() *InvoiceBuilder {
	now := time.Now().UTC()
	return &InvoiceBuilder{
		inv: &model.Invoice{
			ID:          uuid.NewString(),
			ClientID:    "client-" + uuid.NewString()[:8],
			CarrierID:   "carrier-" + uuid.NewString()[:8],
			AmountCents: 100000,
			DueDate:     now.AddDate(0, 0, 30),
			State:       model.ApprovalStatePending,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// WithID sets the invoice id.
func (b *InvoiceBuilder) WithID(id string) *InvoiceBuilder {
	b.inv.ID = id
	return b
}

// WithRun links the invoice to a run.
func (b *InvoiceBuilder) WithRun(runID string) *InvoiceBuilder {
	b.inv.RunID = StringPtr(runID)
	return b
}

// WithAmount sets the invoice amount in cents.
func (b *InvoiceBuilder) WithAmount(cents int64) *InvoiceBuilder {
	b.inv.AmountCents = cents
	return b
}

// WithState sets the approval state, stamping the decision fields so the
// record satisfies the invoice invariants.
func (b *InvoiceBuilder) WithState(state model.ApprovalState) *InvoiceBuilder {
	b.inv.State = state
	if state.Terminal() {
		now := time.Now().UTC()
		b.inv.DecidedAt = &now
		if b.inv.ApproverID == nil {
			b.inv.ApproverID = StringPtr("approver-1")
		}
	}
	if state == model.ApprovalStateRejected && b.inv.RejectionReason == nil {
		b.inv.RejectionReason = StringPtr("simulated rejection")
	}
	return b
}

// Build returns the constructed invoice.
func (b *InvoiceBuilder) Build() *model.Invoice {
	inv := *b.inv
	return &inv
}
