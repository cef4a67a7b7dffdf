// Package invoice enforces the legal state changes of the approval workflow:
// pending → {approved, rejected}. Both decisions are terminal; re-review
// means creating a new invoice record, never mutating a decided one.
package invoice

import (
	"strings"
	"time"

	"github.com/telbill/robo-ops/internal/domain/model"
	apperrors "github.com/telbill/robo-ops/internal/errors"
)

// Approve moves a pending invoice to approved and records the approver and
// decision timestamp. Approving an already-approved invoice is a no-op
// success so a double-clicked dashboard button does not surface an error;
// the existing record is returned unchanged. Any other non-pending state is
// an invalid transition.
func Approve(inv *model.Invoice, approverID, note string, now time.Time) (alreadyApproved bool, err error) {
	if strings.TrimSpace(approverID) == "" {
		return false, apperrors.ValidationField("approver_id", "approver is required")
	}
	switch inv.State {
	case model.ApprovalStateApproved:
		return true, nil
	case model.ApprovalStatePending:
	default:
		return false, apperrors.InvalidTransitionf("invoice %s is %s, cannot approve", inv.ID, inv.State)
	}

	inv.State = model.ApprovalStateApproved
	inv.ApproverID = &approverID
	inv.DecidedAt = &now
	if note = strings.TrimSpace(note); note != "" {
		inv.DecisionNote = &note
	}
	inv.UpdatedAt = now
	return false, nil
}

// Reject moves a pending invoice to rejected. The reason is mandatory and is
// validated before any state is touched; rejecting a decided invoice is an
// invalid transition regardless of which decision was taken, so an approval
// can never be reversed through this surface.
func Reject(inv *model.Invoice, approverID, reason string, now time.Time) error {
	if strings.TrimSpace(approverID) == "" {
		return apperrors.ValidationField("approver_id", "approver is required")
	}
	if strings.TrimSpace(reason) == "" {
		return apperrors.ValidationField("reason", "rejection reason is required")
	}
	if inv.State != model.ApprovalStatePending {
		return apperrors.InvalidTransitionf("invoice %s is %s, cannot reject", inv.ID, inv.State)
	}

	inv.State = model.ApprovalStateRejected
	inv.ApproverID = &approverID
	inv.DecidedAt = &now
	inv.RejectionReason = &reason
	inv.UpdatedAt = now
	return nil
}
