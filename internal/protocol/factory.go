// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"maps"

	"go.bug.st/serial"

	"tic-relay/internal/config"
)

const (
	startupProfileName = "startup"
	runtimeProfileName = "runtime"
)

// NewSerialLinkConfig converts the loaded configuration into link settings
func NewSerialLinkConfig(cfg *config.SerialConfig) *SerialLinkConfig {
	return &SerialLinkConfig{
		Device:      cfg.Device,
		BaudRate:    cfg.BaudRate,
		ByteSize:    cfg.ByteSize,
		Parity:      cfg.Parity,
		StopBits:    cfg.StopBits,
		RTSCTS:      cfg.RTSCTS,
		XONXOFF:     cfg.XONXOFF,
		RTS:         lineLevel(cfg.RTS),
		DTR:         lineLevel(cfg.DTR),
		ReadTimeout: cfg.ReadTimeout,
	}
}

// StartupProfile returns the retry profile used for the first open
func StartupProfile(cfg *config.SerialConfig) RetryProfile {
	return RetryProfile{
		Name:        startupProfileName,
		MaxAttempts: cfg.StartupRetry.MaxAttempts,
		Delay:       cfg.StartupRetry.Delay,
	}
}

// RuntimeProfile returns the retry profile used after a device fault
func RuntimeProfile(cfg *config.SerialConfig) RetryProfile {
	return RetryProfile{
		Name:        runtimeProfileName,
		MaxAttempts: cfg.RuntimeRetry.MaxAttempts,
		Delay:       cfg.RuntimeRetry.Delay,
	}
}

// NewSocketEndpoint converts the loaded configuration into endpoint settings
func NewSocketEndpoint(cfg *config.EndpointConfig) *SocketEndpoint {
	return &SocketEndpoint{
		URL:              cfg.GetURL(),
		Token:            cfg.Token,
		Labels:           maps.Clone(cfg.Labels),
		RetryDelay:       cfg.RetryDelay,
		HandshakeTimeout: cfg.HandshakeTimeout,
		AckTimeout:       cfg.AckTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}
}

// lineLevel maps -1/0/1 onto untouched/low/high
func lineLevel(v int) *bool {
	if v == config.UnsetLine {
		return nil
	}
	level := v != 0
	return &level
}

// serialMode builds the driver mode for the link settings
func serialMode(cfg *SerialLinkConfig) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.ByteSize,
	}

	switch cfg.Parity {
	case "N", "":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	case "M":
		mode.Parity = serial.MarkParity
	case "S":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity: %s", cfg.Parity)
	}

	switch cfg.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits: %g", cfg.StopBits)
	}

	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("unsupported byte size: %d", mode.DataBits)
	}

	return mode, nil
}
