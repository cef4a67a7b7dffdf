package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/telbill/robo-ops/internal/core"
	"github.com/telbill/robo-ops/internal/domain/event"
)

// Heartbeat control kinds. They ride the same envelope as domain events;
// consumers that don't speak them ignore them like any other unknown kind.
const (
	kindPing event.Kind = "ping"
	kindPong event.Kind = "pong"
)

const (
	// DefaultHeartbeatInterval is how often an idle channel is pinged.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultWriteTimeout bounds a single envelope write to one session.
	DefaultWriteTimeout = 10 * time.Second
)

// SnapshotSource produces the reconciliation state sent to a session when it
// (re)connects. The orchestration facade satisfies this.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*core.StateSnapshot, error)
}

// HubOptions groups dependencies for Hub.
type HubOptions struct {
	Bus       *event.Bus     // Required: transition event source
	Snapshots SnapshotSource // Required: reconciliation snapshots for (re)connects
	Logger    *slog.Logger   // Optional: structured logger

	HeartbeatInterval time.Duration // defaults to DefaultHeartbeatInterval
	WriteTimeout      time.Duration // defaults to DefaultWriteTimeout
	Now               func() time.Time
}

// Hub is the server end of the session channel. Each websocket session gets
// its own bus subscription and its own writer loop; the bus's overflow
// policy means a stalled dashboard is unsubscribed instead of backing up the
// publishers, and the hub then closes its socket. Clients reconcile by
// reconnecting: the first envelope on every session is a system-status
// snapshot, so there is no replay protocol to get wrong.
type Hub struct {
	bus       *event.Bus
	snapshots SnapshotSource
	logger    *slog.Logger
	heartbeat time.Duration
	writeTO   time.Duration
	now       func() time.Time
}

// NewHub constructs a new Hub.
func NewHub(opts HubOptions) (*Hub, error) {
	if opts.Bus == nil {
		return nil, errors.New("event Bus is required")
	}
	if opts.Snapshots == nil {
		return nil, errors.New("SnapshotSource is required")
	}

	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	writeTO := opts.WriteTimeout
	if writeTO <= 0 {
		writeTO = DefaultWriteTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "stream_hub")
	}

	return &Hub{
		bus:       opts.Bus,
		snapshots: opts.Snapshots,
		logger:    logger,
		heartbeat: heartbeat,
		writeTO:   writeTO,
		now:       now,
	}, nil
}

// MustNewHub constructs a new Hub and panics on error.
func MustNewHub(opts HubOptions) *Hub {
	h, err := NewHub(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create stream Hub: %v", err))
	}
	return h
}

// Handler returns the websocket endpoint for dashboard sessions. Query
// parameters narrow the subscription: repeated "kind" values select event
// kinds, "filter" is a JMESPath expression evaluated against each payload.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

// SessionCount reports the number of live subscriptions.
func (h *Hub) SessionCount() int {
	return h.bus.SessionCount()
}

func (h *Hub) serve(ws *websocket.Conn) {
	defer ws.Close()

	req := ws.Request()
	ctx := req.Context()
	sessionID := uuid.NewString()

	var kinds []event.Kind
	for _, k := range req.URL.Query()["kind"] {
		kinds = append(kinds, event.Kind(k))
	}

	unsub, events, err := h.bus.Subscribe(sessionID, event.SubscribeOptions{
		Kinds:  kinds,
		Filter: req.URL.Query().Get("filter"),
	})
	if err != nil {
		if h.logger != nil {
			h.logger.WarnContext(ctx, "session subscribe rejected", "session_id", sessionID, "error", err)
		}
		return
	}
	defer unsub()

	if h.logger != nil {
		h.logger.InfoContext(ctx, "session connected", "session_id", sessionID, "kinds", len(kinds))
	}

	if err := h.sendSnapshot(ctx, ws); err != nil {
		if h.logger != nil {
			h.logger.WarnContext(ctx, "snapshot send failed", "session_id", sessionID, "error", err)
		}
		return
	}

	// Reader drains client frames so pings get answered and a peer close is
	// noticed promptly. A missing pong is never treated as a failure here;
	// dead peers surface as write errors or a read error instead. Pong
	// replies are routed through the writer loop so the socket only ever has
	// one writer.
	readErr := make(chan error, 1)
	pings := make(chan struct{}, 1)
	go h.readLoop(ws, pings, readErr)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if h.logger != nil {
				h.logger.InfoContext(ctx, "session closed by peer", "session_id", sessionID, "error", err)
			}
			return
		case ev, ok := <-events:
			if !ok {
				// Unsubscribed by the bus for falling behind.
				if h.logger != nil {
					h.logger.WarnContext(ctx, "session dropped as slow consumer", "session_id", sessionID)
				}
				return
			}
			env, err := ev.Envelope()
			if err != nil {
				if h.logger != nil {
					h.logger.ErrorContext(ctx, "envelope encode failed", "session_id", sessionID, "kind", ev.Kind, "error", err)
				}
				continue
			}
			if err := h.send(ws, env); err != nil {
				if h.logger != nil {
					h.logger.InfoContext(ctx, "session write failed", "session_id", sessionID, "error", err)
				}
				return
			}
		case <-pings:
			if err := h.send(ws, event.Envelope{Kind: kindPong, EmittedAt: h.now()}); err != nil {
				if h.logger != nil {
					h.logger.InfoContext(ctx, "session pong write failed", "session_id", sessionID, "error", err)
				}
				return
			}
		case <-ticker.C:
			if err := h.send(ws, event.Envelope{Kind: kindPing, EmittedAt: h.now()}); err != nil {
				if h.logger != nil {
					h.logger.InfoContext(ctx, "session heartbeat write failed", "session_id", sessionID, "error", err)
				}
				return
			}
		}
	}
}

func (h *Hub) sendSnapshot(ctx context.Context, ws *websocket.Conn) error {
	snap, err := h.snapshots.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("assemble snapshot: %w", err)
	}
	ev := event.New(event.SystemStatus{
		Status:          "ok",
		ActiveRuns:      snap.ActiveRuns,
		PendingInvoices: snap.PendingInvoices,
	}, h.now())
	env, err := ev.Envelope()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return h.send(ws, env)
}

func (h *Hub) send(ws *websocket.Conn, env event.Envelope) error {
	if err := ws.SetWriteDeadline(h.now().Add(h.writeTO)); err != nil {
		return err
	}
	return websocket.JSON.Send(ws, env)
}

func (h *Hub) readLoop(ws *websocket.Conn, pings chan<- struct{}, readErr chan<- error) {
	for {
		var env event.Envelope
		if err := websocket.JSON.Receive(ws, &env); err != nil {
			readErr <- err
			return
		}
		if env.Kind == kindPing {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
		// Anything else from the client is ignored; the channel is one-way
		// below the heartbeat.
	}
}
