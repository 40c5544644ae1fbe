package gateway

import "time"

// Config controls the websocket endpoint's accept and keep-alive
// behavior (§4.1).
type Config struct {
	Path            string // WebSocket endpoint path, e.g. "/ws".
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageBytes int64 // Per-frame read limit.

	AllowedOrigins []string
	AllowNoOrigin  bool

	HeartbeatInterval time.Duration // How often the liveness check runs.
	HeartbeatTimeout  time.Duration // Idle time after which a connection is dropped.
}

// DefaultConfig sets a 10-second heartbeat interval and a 15-second
// idle timeout.
func DefaultConfig() Config {
	return Config{
		Path:              "/ws",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		MaxMessageBytes:   1 << 20,
		AllowNoOrigin:     false,
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
	}
}
