// Package event defines the transition events emitted by the orchestration
// facade and the in-process bus that fans them out to dashboard sessions.
package event

import (
	"encoding/json"
	"time"

	"github.com/telbill/robo-ops/internal/domain/model"
)

// Kind identifies the type of a transition event on the wire.
type Kind string

const (
	// KindRunCreated is emitted when a new job run is enqueued.
	KindRunCreated Kind = "run-created"
	// KindRunUpdated is emitted when an existing run changes state.
	KindRunUpdated Kind = "run-updated"
	// KindInvoiceCreated is emitted when a completed run (or manual upload)
	// produces a pending invoice.
	KindInvoiceCreated Kind = "invoice-created"
	// KindInvoiceApproved is emitted when an operator approves an invoice.
	KindInvoiceApproved Kind = "invoice-approved"
	// KindInvoiceRejected is emitted when an operator rejects an invoice.
	KindInvoiceRejected Kind = "invoice-rejected"
	// KindSystemStatus carries a full state snapshot, sent to sessions on
	// connect so reconnecting dashboards can reconcile missed events.
	KindSystemStatus Kind = "system-status"
)

// Valid returns true if the Kind is part of the known vocabulary.
func (k Kind) Valid() bool {
	switch k {
	case KindRunCreated, KindRunUpdated, KindInvoiceCreated,
		KindInvoiceApproved, KindInvoiceRejected, KindSystemStatus:
		return true
	}
	return false
}

// Payload is the closed set of event payload variants. Each variant carries
// the post-transition entity snapshot for its kind, so consumers switch on
// the concrete type instead of shape-guessing an untyped payload.
type Payload interface {
	EventKind() Kind
	// snapshot returns the value serialized into the wire envelope.
	snapshot() any
}

// RunCreated carries the snapshot of a freshly enqueued run.
type RunCreated struct {
	Run *model.JobRun
}

// EventKind implements Payload.
func (RunCreated) EventKind() Kind { return KindRunCreated }
func (p RunCreated) snapshot() any { return p.Run }

// RunUpdated carries the post-transition snapshot of a run.
type RunUpdated struct {
	Run *model.JobRun
}

// EventKind implements Payload.
func (RunUpdated) EventKind() Kind { return KindRunUpdated }
func (p RunUpdated) snapshot() any { return p.Run }

// InvoiceCreated carries the snapshot of a new pending invoice.
type InvoiceCreated struct {
	Invoice *model.Invoice
}

// EventKind implements Payload.
func (InvoiceCreated) EventKind() Kind { return KindInvoiceCreated }
func (p InvoiceCreated) snapshot() any { return p.Invoice }

// InvoiceApproved carries the snapshot of an approved invoice.
type InvoiceApproved struct {
	Invoice *model.Invoice
}

// EventKind implements Payload.
func (InvoiceApproved) EventKind() Kind { return KindInvoiceApproved }
func (p InvoiceApproved) snapshot() any { return p.Invoice }

// InvoiceRejected carries the snapshot of a rejected invoice.
type InvoiceRejected struct {
	Invoice *model.Invoice
}

// EventKind implements Payload.
func (InvoiceRejected) EventKind() Kind { return KindInvoiceRejected }
func (p InvoiceRejected) snapshot() any { return p.Invoice }

// SystemStatus carries a point-in-time snapshot of active runs and pending
// invoices for reconciliation after (re)connect.
type SystemStatus struct {
	Status          string           `json:"status"`
	ActiveRuns      []*model.JobRun  `json:"active_runs"`
	PendingInvoices []*model.Invoice `json:"pending_invoices"`
}

// EventKind implements Payload.
func (SystemStatus) EventKind() Kind { return KindSystemStatus }
func (p SystemStatus) snapshot() any { return p }

// Event is one immutable transition record. It is owned transiently by the
// bus during fan-out; consumers must not mutate the payload.
type Event struct {
	Kind      Kind
	Payload   Payload
	EmittedAt time.Time
}

// New builds an Event for the given payload variant.
func New(p Payload, emittedAt time.Time) Event {
	return Event{Kind: p.EventKind(), Payload: p, EmittedAt: emittedAt}
}

// Envelope is the wire form of an event: {kind, payload, emittedAt}.
// Subscribers must ignore envelopes with unknown kinds rather than treating
// them as errors, so the vocabulary can grow without breaking old dashboards.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emittedAt"`
}

// Envelope serializes the event payload into its wire form.
func (e Event) Envelope() (Envelope, error) {
	raw, err := json.Marshal(e.Payload.snapshot())
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: e.Kind, Payload: raw, EmittedAt: e.EmittedAt}, nil
}

// MarshalJSON writes the event in envelope form.
func (e Event) MarshalJSON() ([]byte, error) {
	env, err := e.Envelope()
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParsePayload decodes an envelope back into a typed payload. The second
// return value is false for unknown kinds, which callers ignore.
func ParsePayload(env Envelope) (Payload, bool, error) {
	switch env.Kind {
	case KindRunCreated, KindRunUpdated:
		var run model.JobRun
		if err := json.Unmarshal(env.Payload, &run); err != nil {
			return nil, true, err
		}
		if env.Kind == KindRunCreated {
			return RunCreated{Run: &run}, true, nil
		}
		return RunUpdated{Run: &run}, true, nil
	case KindInvoiceCreated, KindInvoiceApproved, KindInvoiceRejected:
		var inv model.Invoice
		if err := json.Unmarshal(env.Payload, &inv); err != nil {
			return nil, true, err
		}
		switch env.Kind {
		case KindInvoiceCreated:
			return InvoiceCreated{Invoice: &inv}, true, nil
		case KindInvoiceApproved:
			return InvoiceApproved{Invoice: &inv}, true, nil
		default:
			return InvoiceRejected{Invoice: &inv}, true, nil
		}
	case KindSystemStatus:
		var status SystemStatus
		if err := json.Unmarshal(env.Payload, &status); err != nil {
			return nil, true, err
		}
		return status, true, nil
	default:
		return nil, false, nil
	}
}
