package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/telbill/robo-ops/internal/domain/event"
	apperrors "github.com/telbill/robo-ops/internal/errors"
)

const (
	// DefaultReconnectBaseDelay seeds the redial backoff.
	DefaultReconnectBaseDelay = time.Second
	// DefaultReconnectMaxAttempts is how many consecutive dial failures are
	// tolerated before the session is declared lost.
	DefaultReconnectMaxAttempts = 5
)

// Conn is one established session channel.
type Conn interface {
	Receive(env *event.Envelope) error
	Send(env event.Envelope) error
	Close() error
}

// Dialer establishes session channels. Implementations must honor the
// context for cancellation of the dial itself.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials a hub endpoint with JSON envelope framing.
type WebsocketDialer struct {
	URL    string
	Origin string
}

// Dial implements Dialer. The underlying websocket dial itself is not
// cancelable mid-handshake; the context is checked before dialing so a
// cancelled client never opens a fresh session.
func (d WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := websocket.NewConfig(d.URL, d.Origin)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeTransport, "bad stream endpoint %q", d.URL)
	}
	ws, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeTransport, "dial %s", d.URL)
	}
	return jsonConn{ws: ws}, nil
}

type jsonConn struct {
	ws *websocket.Conn
}

func (c jsonConn) Receive(env *event.Envelope) error { return websocket.JSON.Receive(c.ws, env) }
func (c jsonConn) Send(env event.Envelope) error     { return websocket.JSON.Send(c.ws, env) }
func (c jsonConn) Close() error                      { return c.ws.Close() }

// backoffDelay is the wait before redial attempt n (1-based): the base delay
// doubled for every prior failure.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

// ClientOptions groups dependencies for Client.
type ClientOptions struct {
	Dialer  Dialer                   // Required: how sessions are established
	OnEvent func(env event.Envelope) // Optional: called for each domain event
	OnState func(state SessionState) // Optional: observes channel state changes
	Logger  *slog.Logger             // Optional: structured logger

	BaseDelay         time.Duration // defaults to DefaultReconnectBaseDelay
	MaxAttempts       int           // defaults to DefaultReconnectMaxAttempts
	HeartbeatInterval time.Duration // defaults to DefaultHeartbeatInterval
}

// Client keeps a dashboard session alive. A drop moves it back to
// connecting and redials with exponential backoff; once the consecutive
// failure budget is spent the session is lost for good and Run returns.
// State reconciliation after a successful redial is the hub's job: the first
// envelope on every fresh session is a full snapshot, so the client never
// needs missed-event replay.
type Client struct {
	dialer    Dialer
	onEvent   func(event.Envelope)
	onState   func(SessionState)
	logger    *slog.Logger
	baseDelay time.Duration
	maxTries  int
	heartbeat time.Duration

	mu     sync.Mutex
	state  SessionState
	conn   Conn
	closed bool
}

// NewClient constructs a new Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Dialer == nil {
		return nil, errors.New("Dialer is required")
	}

	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultReconnectBaseDelay
	}
	maxTries := opts.MaxAttempts
	if maxTries <= 0 {
		maxTries = DefaultReconnectMaxAttempts
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "stream_client")
	}

	return &Client{
		dialer:    opts.Dialer,
		onEvent:   opts.OnEvent,
		onState:   opts.OnState,
		logger:    logger,
		baseDelay: baseDelay,
		maxTries:  maxTries,
		heartbeat: heartbeat,
		state:     SessionConnecting,
	}, nil
}

// MustNewClient constructs a new Client and panics on error.
func MustNewClient(opts ClientOptions) *Client {
	c, err := NewClient(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create stream Client: %v", err))
	}
	return c
}

// State returns the current channel state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s SessionState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(s)
	}
}

// Close shuts the session down deliberately. The redial budget is spent on
// the spot, so no reconnect follows, and Run returns nil.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.setState(SessionClosing)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Run drives the session until the context is cancelled, Close is called,
// or the channel is lost. It blocks; run it on its own goroutine.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			c.setState(SessionLost)
			return err
		}
		if c.isClosed() {
			c.setState(SessionLost)
			return nil
		}

		c.setState(SessionConnecting)
		conn, err := c.dialer.Dial(ctx)
		if err != nil {
			attempts++
			if attempts >= c.maxTries {
				c.setState(SessionLost)
				return apperrors.Wrapf(err, apperrors.ErrCodeTransport, "session lost after %d attempts", attempts)
			}
			delay := backoffDelay(c.baseDelay, attempts)
			if c.logger != nil {
				c.logger.WarnContext(ctx, "dial failed, backing off",
					"attempt", attempts,
					"delay", delay,
					"error", err,
				)
			}
			select {
			case <-ctx.Done():
				c.setState(SessionLost)
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		closedNow := c.closed
		c.mu.Unlock()
		if closedNow {
			// Close raced the dial; the session must not outlive it.
			_ = conn.Close()
			c.setState(SessionLost)
			return nil
		}
		attempts = 0
		c.setState(SessionOpen)
		if c.logger != nil {
			c.logger.InfoContext(ctx, "session open")
		}

		readErr := c.consume(ctx, conn)
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.isClosed() {
			c.setState(SessionLost)
			return nil
		}
		if ctx.Err() != nil {
			c.setState(SessionLost)
			return ctx.Err()
		}
		if c.logger != nil {
			c.logger.WarnContext(ctx, "session dropped, reconnecting", "error", readErr)
		}
	}
}

// consume delivers envelopes until the channel breaks. Heartbeats are
// answered inline; a pong that never arrives is not treated as a failure,
// because a genuinely dead channel already surfaces as a read or write
// error.
func (c *Client) consume(ctx context.Context, conn Conn) error {
	var sendMu sync.Mutex
	send := func(env event.Envelope) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return conn.Send(env)
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if err := send(event.Envelope{Kind: kindPing, EmittedAt: time.Now()}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var env event.Envelope
		if err := conn.Receive(&env); err != nil {
			return err
		}

		switch env.Kind {
		case kindPing:
			if err := send(event.Envelope{Kind: kindPong, EmittedAt: time.Now()}); err != nil {
				return err
			}
		case kindPong:
			// heartbeat answered, nothing to do
		default:
			if _, known, err := event.ParsePayload(env); err != nil {
				if c.logger != nil {
					c.logger.WarnContext(ctx, "malformed envelope payload", "kind", env.Kind, "error", err)
				}
				continue
			} else if !known {
				// Unknown kinds are skipped so the event vocabulary can grow
				// without breaking older consumers.
				continue
			}
			if c.onEvent != nil {
				c.onEvent(env)
			}
		}
	}
}
