// internal/protocol/serial_link.go
package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"tic-relay/internal/model"
	"tic-relay/internal/utils"
)

const (
	readChunkSize = 256
	// maxPendingBytes caps a line that never sees its terminator
	maxPendingBytes = 4096
)

// serialPort is the subset of serial.Port used by SerialLink
type serialPort interface {
	Read(p []byte) (int, error)
	ResetInputBuffer() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// openPort is replaced in tests
var openPort = func(name string, mode *serial.Mode) (serialPort, error) {
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// SerialLink owns the serial device handle and frames its byte stream into lines
type SerialLink struct {
	config *SerialLinkConfig
	mode   *serial.Mode
	logger *utils.LinkLogger
	state  *linkState
	stats  linkCounters

	mutex   sync.Mutex
	port    serialPort
	pending []byte
	buf     []byte
}

// NewSerialLink creates a new serial link
func NewSerialLink(config *SerialLinkConfig, logger *zap.Logger, handlers ...StateChangeHandler) (*SerialLink, error) {
	mode, err := serialMode(config)
	if err != nil {
		return nil, fmt.Errorf("invalid serial settings: %w", err)
	}

	linkLogger := utils.NewLinkLogger(logger, string(model.ConnectionTypeSerial), config.Device)
	if config.RTSCTS || config.XONXOFF {
		linkLogger.Warn("Hardware and software flow control are not supported by the serial driver, ignoring",
			zap.Bool("rtscts", config.RTSCTS),
			zap.Bool("xonxoff", config.XONXOFF),
		)
	}

	sl := &SerialLink{
		config: config,
		mode:   mode,
		logger: linkLogger,
		buf:    make([]byte, readChunkSize),
	}
	sl.state = newLinkState(model.ConnectionTypeSerial, append([]StateChangeHandler{sl.logTransition}, handlers...))
	return sl, nil
}

// Open opens the device, retrying according to profile. It returns
// ErrRetriesExhausted once a bounded profile runs out of attempts.
func (sl *SerialLink) Open(ctx context.Context, profile RetryProfile) error {
	if sl.State().IsOpen() {
		return nil
	}

	sl.logger.Info("Opening serial port",
		zap.String("settings", sl.config.String()),
		zap.String("profile", profile.Name),
		zap.Int("max_attempts", profile.MaxAttempts),
		zap.Duration("delay", profile.Delay),
	)

	var lastErr error
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			sl.state.set(model.LinkStateClosed)
			return err
		}

		attempt++
		sl.state.set(model.LinkStateOpening)

		err := sl.openOnce()
		if err == nil {
			sl.stats.opens.Inc()
			sl.stats.lastOpened.Store(time.Now())
			sl.state.set(model.LinkStateOpen)
			sl.logger.Info("Serial port opened successfully", zap.Int("attempt", attempt))
			return nil
		}

		lastErr = err
		sl.stats.errors.Inc()
		sl.state.set(model.LinkStateFaulted)

		if profile.exhausted(attempt) {
			break
		}

		sl.logger.LogRetry(attempt, profile.MaxAttempts, profile.Delay, err)
		if err := sleepContext(ctx, profile.Delay); err != nil {
			sl.state.set(model.LinkStateClosed)
			return err
		}
	}

	sl.logger.Error("Unable to open serial port",
		zap.Int("attempts", attempt),
		zap.Error(lastErr),
	)
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, lastErr)
}

// openOnce performs a single open attempt
func (sl *SerialLink) openOnce() error {
	port, err := openPort(sl.config.Device, sl.mode)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialOpen, err)
	}

	if err := port.SetReadTimeout(sl.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	if sl.config.RTS != nil {
		if err := port.SetRTS(*sl.config.RTS); err != nil {
			port.Close()
			return fmt.Errorf("failed to set RTS: %w", err)
		}
	}

	if sl.config.DTR != nil {
		if err := port.SetDTR(*sl.config.DTR); err != nil {
			port.Close()
			return fmt.Errorf("failed to set DTR: %w", err)
		}
	}

	sl.mutex.Lock()
	sl.port = port
	sl.pending = sl.pending[:0]
	sl.mutex.Unlock()

	return nil
}

// ReadLine blocks until a full '\n'-terminated line is available and returns
// it without its terminator. Waiting is bounded by the port read timeout so
// ctx is observed between polls. An I/O failure closes the handle and
// returns an error wrapping ErrSerialFault.
func (sl *SerialLink) ReadLine(ctx context.Context) (string, error) {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()

	for {
		if i := bytes.IndexByte(sl.pending, '\n'); i >= 0 {
			line := string(bytes.TrimRight(sl.pending[:i], "\r"))
			sl.pending = append(sl.pending[:0], sl.pending[i+1:]...)
			sl.stats.linesRead.Inc()
			return line, nil
		}

		if sl.port == nil {
			return "", ErrLinkNotOpen
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := sl.port.Read(sl.buf)
		if err != nil {
			return "", sl.fault(err)
		}
		if n == 0 {
			continue
		}

		sl.stats.bytesRead.Add(int64(n))
		sl.stats.lastActivity.Store(time.Now())
		sl.pending = append(sl.pending, sl.buf[:n]...)

		if len(sl.pending) > maxPendingBytes && bytes.IndexByte(sl.pending, '\n') < 0 {
			sl.logger.Warn("Discarding unterminated serial input", zap.Int("bytes", len(sl.pending)))
			sl.pending = sl.pending[:0]
		}
	}
}

// fault releases the handle after an I/O error. Caller must hold mutex.
func (sl *SerialLink) fault(cause error) error {
	sl.stats.errors.Inc()

	if sl.port != nil {
		if err := sl.port.Close(); err != nil {
			sl.logger.Debug("Close after fault failed", zap.Error(err))
		}
		sl.port = nil
	}
	sl.pending = sl.pending[:0]

	sl.logger.Error("Serial port fault", zap.Error(cause))
	sl.state.set(model.LinkStateFaulted)

	return fmt.Errorf("%w: %w", ErrSerialFault, cause)
}

// ResetInputBuffer discards bytes queued in the driver and any partial line
func (sl *SerialLink) ResetInputBuffer() error {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()

	sl.pending = sl.pending[:0]
	if sl.port == nil {
		return nil
	}

	if err := sl.port.ResetInputBuffer(); err != nil {
		sl.logger.Warn("Failed to reset serial input buffer", zap.Error(err))
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}

	sl.logger.Debug("Serial input buffer reset")
	return nil
}

// Close closes the serial link
func (sl *SerialLink) Close() error {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()

	port := sl.port
	sl.port = nil
	sl.pending = sl.pending[:0]
	sl.state.set(model.LinkStateClosed)

	if port == nil {
		return nil
	}

	if err := port.Close(); err != nil && !isPortClosed(err) {
		sl.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sl.logger.Info("Serial port closed successfully")
	return nil
}

// State returns the current link state
func (sl *SerialLink) State() model.LinkState {
	return sl.state.load()
}

// GetProtocolType returns the protocol type
func (sl *SerialLink) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

// Stats returns link statistics
func (sl *SerialLink) Stats() ProtocolStats {
	return sl.stats.snapshot(model.ConnectionTypeSerial, sl.State())
}

func (sl *SerialLink) logTransition(_ model.ConnectionType, prevState, newState model.LinkState) {
	sl.logger.LogTransition(string(prevState), string(newState))
}

func isPortClosed(err error) bool {
	var portErr *serial.PortError
	return errors.As(err, &portErr) && portErr.Code() == serial.PortClosed
}
