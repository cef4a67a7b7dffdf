// Package stream carries transition events to dashboard sessions over
// websockets. The Hub is the server end: it subscribes each session to the
// event bus, seeds it with a state snapshot, and forwards events until the
// session stalls or disconnects. The Client is the consumer end: it keeps a
// session alive across network blips with bounded exponential backoff.
package stream

import "fmt"

// SessionState is the lifecycle state of one dashboard session channel.
type SessionState string

const (
	// SessionConnecting means a dial or redial is in flight.
	SessionConnecting SessionState = "connecting"
	// SessionOpen means the channel is established and delivering events.
	SessionOpen SessionState = "open"
	// SessionClosing means a deliberate local close is in progress.
	SessionClosing SessionState = "closing"
	// SessionLost means the channel is gone and no further redial will be
	// attempted.
	SessionLost SessionState = "lost"
)

// Valid returns true if the SessionState is one of the known states.
func (s SessionState) Valid() bool {
	switch s {
	case SessionConnecting, SessionOpen, SessionClosing, SessionLost:
		return true
	default:
		return false
	}
}

// Terminal returns true once the session can never deliver again.
func (s SessionState) Terminal() bool {
	return s == SessionLost
}

// String implements fmt.Stringer.
func (s SessionState) String() string {
	return string(s)
}

// UnmarshalText implements encoding.TextUnmarshaler with validation.
func (s *SessionState) UnmarshalText(text []byte) error {
	state := SessionState(text)
	if !state.Valid() {
		return fmt.Errorf("invalid session state: %q", text)
	}
	*s = state
	return nil
}
