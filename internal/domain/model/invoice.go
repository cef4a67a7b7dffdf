package model

import (
	"fmt"
	"strings"
	"time"
)

// ApprovalState represents the disposition of an invoice in the human
// approval workflow.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ApprovalState string

const (
	// ApprovalStatePending indicates an invoice is awaiting a decision.
	ApprovalStatePending ApprovalState = "pending"
	// ApprovalStateApproved indicates an operator approved the invoice.
	ApprovalStateApproved ApprovalState = "approved"
	// ApprovalStateRejected indicates an operator rejected the invoice.
	ApprovalStateRejected ApprovalState = "rejected"
)

// UnmarshalText implements encoding.TextUnmarshaler for ApprovalState.
func (s *ApprovalState) UnmarshalText(text []byte) error {
	v := ApprovalState(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*s = v
		return nil
	}
	return fmt.Errorf("invalid ApprovalState: %q", string(text))
}

// Valid returns true if the ApprovalState is one of the known states.
func (s ApprovalState) Valid() bool {
	return s == ApprovalStatePending || s == ApprovalStateApproved || s == ApprovalStateRejected
}

// Terminal returns true if no further transition is legal out of the state.
// Re-review of a decided invoice requires creating a new record.
func (s ApprovalState) Terminal() bool {
	return s == ApprovalStateApproved || s == ApprovalStateRejected
}

// Invoice represents one carrier bill awaiting (or past) human disposition.
type Invoice struct {
	ID              string        `json:"id"                         db:"id"`
	RunID           *string       `json:"run_id,omitempty"           db:"run_id"`
	ClientID        string        `json:"client_id"                  db:"client_id"`
	CarrierID       string        `json:"carrier_id"                 db:"carrier_id"`
	AmountCents     int64         `json:"amount_cents"               db:"amount_cents"`
	DueDate         time.Time     `json:"due_date"                   db:"due_date"`
	State           ApprovalState `json:"state"                      db:"state"`
	ApproverID      *string       `json:"approver_id,omitempty"      db:"approver_id"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"       db:"decided_at"`
	RejectionReason *string       `json:"rejection_reason,omitempty" db:"rejection_reason"`
	DecisionNote    *string       `json:"decision_note,omitempty"    db:"decision_note"`
	CreatedAt       time.Time     `json:"created_at"                 db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"                 db:"updated_at"`
}

// CheckInvariants verifies the structural invariants of an invoice record:
// rejection_reason is non-empty iff rejected, approver and decision timestamp
// are both set or both unset, and the amount is non-negative.
func (i *Invoice) CheckInvariants() error {
	if i.AmountCents < 0 {
		return fmt.Errorf("amount_cents must be >= 0, got %d", i.AmountCents)
	}
	rejected := i.State == ApprovalStateRejected
	hasReason := i.RejectionReason != nil && strings.TrimSpace(*i.RejectionReason) != ""
	if rejected != hasReason {
		return fmt.Errorf("rejection_reason presence (%v) does not match state %q", hasReason, i.State)
	}
	if (i.ApproverID != nil) != (i.DecidedAt != nil) {
		return fmt.Errorf("approver_id and decided_at must be set together")
	}
	return nil
}

// InvoiceDraft carries the extracted fields for an invoice to be created,
// either from a completed run or from a manual upload.
type InvoiceDraft struct {
	ClientID    string    `json:"client_id"`
	CarrierID   string    `json:"carrier_id"`
	AmountCents int64     `json:"amount_cents"`
	DueDate     time.Time `json:"due_date"`
}

// Validate validates the InvoiceDraft fields.
func (d *InvoiceDraft) Validate() error {
	if strings.TrimSpace(d.ClientID) == "" {
		return fmt.Errorf("client_id is required")
	}
	if strings.TrimSpace(d.CarrierID) == "" {
		return fmt.Errorf("carrier_id is required")
	}
	if d.AmountCents < 0 {
		return fmt.Errorf("amount_cents must be >= 0")
	}
	if d.DueDate.IsZero() {
		return fmt.Errorf("due_date is required")
	}
	return nil
}

// DecisionAction is the action an operator takes on a pending invoice.
type DecisionAction string

const (
	// DecisionApprove approves the invoice.
	DecisionApprove DecisionAction = "approve"
	// DecisionReject rejects the invoice with a mandatory reason.
	DecisionReject DecisionAction = "reject"
)

// Valid returns true if the DecisionAction is one of the known actions.
func (a DecisionAction) Valid() bool {
	return a == DecisionApprove || a == DecisionReject
}

// InvoiceDecisionRequest carries an operator's approve/reject decision.
type InvoiceDecisionRequest struct {
	Action     DecisionAction `json:"action"`
	ApproverID string         `json:"approver_id"`
	// Reason is mandatory for reject and ignored for approve.
	Reason string `json:"reason,omitempty"`
	// Note is an optional free-form annotation for approve.
	Note string `json:"note,omitempty"`
}

// Validate validates decision fields that do not depend on the invoice's
// current state. The blank-reason check for reject happens before any state
// mutation is attempted.
func (r *InvoiceDecisionRequest) Validate() error {
	if !r.Action.Valid() {
		return fmt.Errorf("invalid decision action: %q", r.Action)
	}
	if strings.TrimSpace(r.ApproverID) == "" {
		return fmt.Errorf("approver_id is required")
	}
	return nil
}
