// internal/protocol/connection.go
package protocol

import (
	"fmt"
	"time"
)

// SerialLinkConfig represents serial link configuration
type SerialLinkConfig struct {
	Device      string        `json:"device"`
	BaudRate    int           `json:"baud_rate"`
	ByteSize    int           `json:"byte_size"`
	Parity      string        `json:"parity"`
	StopBits    float64       `json:"stop_bits"`
	RTSCTS      bool          `json:"rtscts"`
	XONXOFF     bool          `json:"xonxoff"`
	RTS         *bool         `json:"rts,omitempty"`
	DTR         *bool         `json:"dtr,omitempty"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// String renders the line settings the way they are printed at startup
func (c *SerialLinkConfig) String() string {
	return fmt.Sprintf("%s %d,%d,%s,%g", c.Device, c.BaudRate, c.ByteSize, c.Parity, c.StopBits)
}

// SocketEndpoint represents the remote websocket endpoint
type SocketEndpoint struct {
	URL              string            `json:"url"`
	Token            string            `json:"-"`
	Labels           map[string]string `json:"labels,omitempty"`
	RetryDelay       time.Duration     `json:"retry_delay"`
	HandshakeTimeout time.Duration     `json:"handshake_timeout"`
	AckTimeout       time.Duration     `json:"ack_timeout"`
	WriteTimeout     time.Duration     `json:"write_timeout"`
}

// RetryProfile bounds how often and how fast a link open is retried
type RetryProfile struct {
	Name        string        `json:"name"`
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
}

// Unbounded reports whether the profile retries forever
func (p RetryProfile) Unbounded() bool {
	return p.MaxAttempts <= 0
}

func (p RetryProfile) exhausted(attempt int) bool {
	return !p.Unbounded() && attempt >= p.MaxAttempts
}
