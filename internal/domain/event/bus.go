package event

import (
	"encoding/json"
	"log/slog"
	"sync"

	jmespath "github.com/jmespath-community/go-jmespath"

	apperrors "github.com/telbill/robo-ops/internal/errors"
)

// DefaultBuffer is the per-subscriber channel capacity when none is
// configured. A subscriber whose buffer fills up is dropped rather than
// allowed to back-pressure the publisher.
const DefaultBuffer = 64

// BusOptions configure the behaviour of the bus.
type BusOptions struct {
	// Buffer is the default per-subscriber channel capacity.
	Buffer int
	// Logger is optional; drops and filter errors are logged through it.
	Logger *slog.Logger
	// OnDrop is invoked (outside the bus lock) whenever a subscriber is
	// removed because its buffer overflowed.
	OnDrop func(sessionID string)
}

// SubscribeOptions configure a single subscription.
type SubscribeOptions struct {
	// Kinds restricts delivery to the listed event kinds. Empty means all
	// kinds (the "all" wildcard).
	Kinds []Kind
	// Filter is an optional JMESPath expression evaluated against the
	// payload snapshot; the event is delivered only when the result is
	// truthy.
	Filter string
	// Buffer overrides the bus default channel capacity for this subscriber.
	Buffer int
}

type subscriber struct {
	id     string
	ch     chan Event
	kinds  map[Kind]struct{} // nil means all kinds
	filter string
}

func (s *subscriber) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus is an explicitly constructed in-process publish/subscribe hub fanning
// transition events out to dashboard sessions. Delivery to each subscriber
// is FIFO; no ordering is guaranteed across subscribers, and events
// published while a session is disconnected are permanently missed (the
// session reconciles from a snapshot on reconnect).
type Bus struct {
	mu      sync.Mutex
	subs    map[string]*subscriber
	buffer  int
	logger  *slog.Logger
	onDrop  func(string)
	stopped bool
}

// NewBus constructs a bus. The zero options are usable.
func NewBus(opts BusOptions) *Bus {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[string]*subscriber),
		buffer: buffer,
		logger: opts.Logger,
		onDrop: opts.OnDrop,
	}
}

// Subscribe registers interest for a session and returns an unsubscribe
// function plus the receive channel. The channel is closed on unsubscribe,
// on Stop, and when the subscriber is dropped for falling behind.
func (b *Bus) Subscribe(sessionID string, opts SubscribeOptions) (func(), <-chan Event, error) {
	if opts.Filter != "" {
		if _, err := jmespath.Compile(opts.Filter); err != nil {
			return nil, nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "invalid payload filter %q", opts.Filter)
		}
	}

	var kinds map[Kind]struct{}
	if len(opts.Kinds) > 0 {
		kinds = make(map[Kind]struct{}, len(opts.Kinds))
		for _, k := range opts.Kinds {
			kinds[k] = struct{}{}
		}
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = b.buffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return nil, nil, apperrors.Internal("bus is stopped")
	}
	if _, exists := b.subs[sessionID]; exists {
		return nil, nil, apperrors.Conflict("session " + sessionID + " is already subscribed")
	}

	sub := &subscriber{
		id:     sessionID,
		ch:     make(chan Event, buffer),
		kinds:  kinds,
		filter: opts.Filter,
	}
	b.subs[sessionID] = sub

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if current, ok := b.subs[sessionID]; ok && current == sub {
			delete(b.subs, sessionID)
			close(sub.ch)
		}
	}

	return unsub, sub.ch, nil
}

// Publish fans the event out to every matching subscriber. It never blocks:
// a subscriber whose buffer is full is dropped (its channel closed) so one
// stalled dashboard cannot delay the others or the publisher.
func (b *Bus) Publish(ev Event) {
	var dropped []string

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}

	// Decoded lazily: only paid for when at least one subscriber has a
	// payload filter.
	var filterData any
	var filterDataErr error
	decoded := false

	for id, sub := range b.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		if sub.filter != "" {
			if !decoded {
				filterData, filterDataErr = decodePayload(ev)
				decoded = true
			}
			if filterDataErr != nil {
				continue
			}
			match, err := jmespath.Search(sub.filter, filterData)
			if err != nil || !truthy(match) {
				if err != nil && b.logger != nil {
					b.logger.Warn("payload filter evaluation failed", "session_id", id, "error", err)
				}
				continue
			}
		}

		select {
		case sub.ch <- ev:
		default:
			delete(b.subs, id)
			close(sub.ch)
			dropped = append(dropped, id)
		}
	}
	b.mu.Unlock()

	for _, id := range dropped {
		if b.logger != nil {
			b.logger.Warn("dropped slow subscriber", "session_id", id, "kind", ev.Kind)
		}
		if b.onDrop != nil {
			b.onDrop(id)
		}
	}
}

// SessionCount returns the number of active subscribers.
func (b *Bus) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stop closes all subscriber channels and rejects further subscriptions.
// Publish becomes a no-op after Stop.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// decodePayload round-trips the payload snapshot through JSON so JMESPath
// filters see the wire shape (snake_case keys) rather than Go field names.
func decodePayload(ev Event) (any, error) {
	raw, err := json.Marshal(ev.Payload.snapshot())
	if err != nil {
		return nil, err
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// truthy applies JMESPath truthiness: null, false, empty strings, empty
// arrays, and empty objects are falsy; everything else (including zero
// numbers) is truthy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
