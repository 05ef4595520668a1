package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFlags(t *testing.T, args ...string) *Config {
	t.Helper()

	flags := NewFlagSet("tic-relay")
	require.NoError(t, flags.Parse(args))

	cfg, err := Load(flags)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := parseFlags(t, "-d", "/dev/ttyUSB0", "--token", "write-token")

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Device)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 8, cfg.Serial.ByteSize)
	assert.Equal(t, "N", cfg.Serial.Parity)
	assert.Equal(t, 1.0, cfg.Serial.StopBits)
	assert.Equal(t, UnsetLine, cfg.Serial.RTS)
	assert.Equal(t, UnsetLine, cfg.Serial.DTR)
	assert.Equal(t, RetryConfig{MaxAttempts: 5, Delay: 2 * time.Second}, cfg.Serial.StartupRetry)
	assert.Equal(t, RetryConfig{MaxAttempts: 99999, Delay: 10 * time.Second}, cfg.Serial.RuntimeRetry)

	assert.Equal(t, "ws://localhost:80/api/v0/streamupdate", cfg.Endpoint.GetURL())
	assert.Equal(t, 2*time.Second, cfg.Endpoint.RetryDelay)
	assert.Zero(t, cfg.Endpoint.AckTimeout)

	assert.Equal(t, 100*time.Millisecond, cfg.Supervisor.PollInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9110", cfg.GetStatusAddr())
	assert.True(t, cfg.IsProduction())
}

func TestLoad_Flags(t *testing.T) {
	cfg := parseFlags(t,
		"-d", "/dev/ttyAMA0",
		"-r", "1200",
		"--bytesize", "7",
		"--parity", "e",
		"--stopbits", "1.5",
		"--rts", "1",
		"--dtr", "0",
		"--rtscts",
		"-H", "warp.example.net",
		"-P", "8080",
		"--token", "write-token",
		"--loglevel", "DEBUG",
		"-q",
	)

	assert.Equal(t, 1200, cfg.Serial.BaudRate)
	assert.Equal(t, 7, cfg.Serial.ByteSize)
	assert.Equal(t, "E", cfg.Serial.Parity)
	assert.Equal(t, 1.5, cfg.Serial.StopBits)
	assert.Equal(t, 1, cfg.Serial.RTS)
	assert.Equal(t, 0, cfg.Serial.DTR)
	assert.True(t, cfg.Serial.RTSCTS)
	assert.Equal(t, "ws://warp.example.net:8080/api/v0/streamupdate", cfg.Endpoint.GetURL())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Quiet)
}

func TestLoad_URL(t *testing.T) {
	cfg := parseFlags(t, "-d", "/dev/ttyUSB0", "--token", "t", "--url", "wss://warp.example.net/api/v0/streamupdate")
	assert.Equal(t, "wss://warp.example.net/api/v0/streamupdate", cfg.Endpoint.GetURL())

	flags := NewFlagSet("tic-relay")
	require.NoError(t, flags.Parse([]string{"-d", "/dev/ttyUSB0", "--token", "t", "--url", "ws://a/b", "-P", "8080"}))
	_, err := Load(flags)
	assert.ErrorIs(t, err, ErrConflictingEndpoint)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TIC_RELAY_SERIAL_DEVICE", "/dev/ttyACM0")
	t.Setenv("TIC_RELAY_ENDPOINT_TOKEN", "from-env")
	t.Setenv("TIC_RELAY_ENDPOINT_ACK_TIMEOUT", "30s")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Device)
	assert.Equal(t, "from-env", cfg.Endpoint.Token)
	assert.Equal(t, 30*time.Second, cfg.Endpoint.AckTimeout)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
serial:
  device: /dev/ttyUSB1
  baud_rate: 1200
  byte_size: 7
  parity: E
  startup_retry:
    max_attempts: 2
    delay: 500ms
endpoint:
  host: warp10.local
  port: 8080
  token: file-token
  labels:
    site: home
app:
  environment: test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := parseFlags(t, "--config", path)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Device)
	assert.Equal(t, 1200, cfg.Serial.BaudRate)
	assert.Equal(t, RetryConfig{MaxAttempts: 2, Delay: 500 * time.Millisecond}, cfg.Serial.StartupRetry)
	assert.Equal(t, "file-token", cfg.Endpoint.Token)
	assert.Equal(t, map[string]string{"site": "home"}, cfg.Endpoint.Labels)
	assert.Equal(t, "ws://warp10.local:8080/api/v0/streamupdate", cfg.Endpoint.GetURL())
	assert.False(t, cfg.IsProduction())

	// flags override the file
	cfg = parseFlags(t, "--config", path, "-r", "9600")
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing device", []string{"--token", "t"}},
		{"missing token", []string{"-d", "/dev/ttyUSB0"}},
		{"bad baud rate", []string{"-d", "/dev/ttyUSB0", "--token", "t", "-r", "115200"}},
		{"bad byte size", []string{"-d", "/dev/ttyUSB0", "--token", "t", "--bytesize", "9"}},
		{"bad parity", []string{"-d", "/dev/ttyUSB0", "--token", "t", "--parity", "X"}},
		{"bad stop bits", []string{"-d", "/dev/ttyUSB0", "--token", "t", "--stopbits", "3"}},
		{"bad rts", []string{"-d", "/dev/ttyUSB0", "--token", "t", "--rts", "2"}},
		{"bad port", []string{"-d", "/dev/ttyUSB0", "--token", "t", "-P", "70000"}},
		{"bad url scheme", []string{"-d", "/dev/ttyUSB0", "--token", "t", "--url", "http://warp/api"}},
		{"bad log level", []string{"-d", "/dev/ttyUSB0", "--token", "t", "--loglevel", "trace"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := NewFlagSet("tic-relay")
			require.NoError(t, flags.Parse(tt.args))

			_, err := Load(flags)
			assert.Error(t, err)
		})
	}
}

func TestEndpointConfig_GetURL(t *testing.T) {
	cfg := EndpointConfig{Host: "::1", Port: 8080}
	assert.Equal(t, "ws://[::1]:8080/api/v0/streamupdate", cfg.GetURL())

	cfg = EndpointConfig{Host: "warp", Port: 80, Path: "/custom"}
	assert.Equal(t, "ws://warp:80/custom", cfg.GetURL())
}
