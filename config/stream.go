package config

import "time"

// StreamConfig contains configuration for the dashboard session channel:
// the websocket hub, its heartbeat, and the per-subscriber event buffer.
type StreamConfig struct {
	// HeartbeatInterval is how often the hub pings idle sessions.
	HeartbeatInterval time.Duration `env:"STREAM_HEARTBEAT_INTERVAL" envDefault:"30s"`

	// WriteTimeout bounds each websocket write; a session that cannot
	// accept a frame within it is treated as slow.
	WriteTimeout time.Duration `env:"STREAM_WRITE_TIMEOUT" envDefault:"10s"`

	// BusBuffer is the per-subscriber event channel capacity. A session
	// that falls this many events behind is dropped.
	BusBuffer int `env:"STREAM_BUS_BUFFER" envDefault:"64"`

	// ReconnectBaseDelay is the first reconnect backoff step for the
	// embedded dashboard client; each subsequent attempt doubles it.
	ReconnectBaseDelay time.Duration `env:"STREAM_RECONNECT_BASE_DELAY" envDefault:"1s"`

	// ReconnectMaxAttempts is how many consecutive failed dials the
	// client tolerates before declaring the session lost.
	ReconnectMaxAttempts int `env:"STREAM_RECONNECT_MAX_ATTEMPTS" envDefault:"5"`
}

// Sanitize applies guardrails to stream configuration values.
func (s *StreamConfig) Sanitize() {
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 30 * time.Second
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.BusBuffer < 1 {
		s.BusBuffer = 64
	}
	if s.ReconnectBaseDelay <= 0 {
		s.ReconnectBaseDelay = time.Second
	}
	if s.ReconnectMaxAttempts < 1 {
		s.ReconnectMaxAttempts = 5
	}
}
