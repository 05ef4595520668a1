// internal/warp10/handshake.go
package warp10

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tic-relay/internal/model"
)

const (
	tokenCommand   = "TOKEN"
	onErrorMessage = "ONERROR MESSAGE"
)

var (
	// ErrHandshakeAborted is returned when the connection failed while the handshake was waiting
	ErrHandshakeAborted = errors.New("handshake aborted")
	// ErrAckTimeout is returned when the endpoint did not acknowledge within the configured timeout
	ErrAckTimeout = errors.New("acknowledgment timeout")
)

// Sender transmits one text message to the endpoint
type Sender interface {
	Send(message string) error
}

// HandshakeStateHandler is invoked with the engine lock held; it must not block.
type HandshakeStateHandler func(prevState, newState model.HandshakeState)

// Handshake authenticates a freshly opened update stream. It sends the
// write token, waits for any reply, switches the endpoint to in-band error
// reporting and waits for any reply again. Every inbound message is fed
// through HandleMessage by the socket receive loop.
type Handshake struct {
	token      string
	ackTimeout time.Duration
	logger     *zap.Logger
	handlers   []HandshakeStateHandler

	mutex   sync.Mutex
	cond    *sync.Cond
	state   model.HandshakeState
	acked   bool
	aborted bool

	errorReports atomic.Int64
}

// NewHandshake creates a new handshake engine. ackTimeout 0 waits forever.
func NewHandshake(token string, ackTimeout time.Duration, logger *zap.Logger, handlers ...HandshakeStateHandler) *Handshake {
	h := &Handshake{
		token:      token,
		ackTimeout: ackTimeout,
		logger:     logger.With(zap.String("component", "handshake")),
		handlers:   handlers,
		state:      model.HandshakeNotStarted,
	}
	h.cond = sync.NewCond(&h.mutex)
	return h
}

// Reset prepares the engine for a new connection
func (h *Handshake) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.acked = false
	h.aborted = false
	h.setState(model.HandshakeNotStarted)
}

// Run performs the handshake over sender and returns once the endpoint is
// READY. It fails with ErrHandshakeAborted when Abort is called meanwhile.
func (h *Handshake) Run(ctx context.Context, sender Sender) error {
	if err := h.step(model.HandshakeNotStarted, model.HandshakeAwaitingTokenAck); err != nil {
		return err
	}

	h.logger.Info("Sending token")
	if err := sender.Send(tokenCommand + " " + h.token); err != nil {
		h.Abort(err)
		return fmt.Errorf("failed to send token: %w", err)
	}

	if err := h.wait(ctx, "token", func() bool { return h.acked }); err != nil {
		return err
	}

	if err := h.step(model.HandshakeAwaitingTokenAck, model.HandshakeAwaitingDirectiveAck); err != nil {
		return err
	}

	h.logger.Info("Sending error reporting directive", zap.String("directive", onErrorMessage))
	if err := sender.Send(onErrorMessage); err != nil {
		h.Abort(err)
		return fmt.Errorf("failed to send directive: %w", err)
	}

	if err := h.wait(ctx, "directive", func() bool { return h.state == model.HandshakeReady }); err != nil {
		return err
	}

	h.logger.Info("Handshake completed, endpoint ready")
	return nil
}

// step moves from one state to the next unless the handshake was aborted
func (h *Handshake) step(from, to model.HandshakeState) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.aborted || h.state != from {
		return fmt.Errorf("%w: in state %s", ErrHandshakeAborted, h.state)
	}

	h.acked = false
	h.setState(to)
	return nil
}

// wait blocks until done reports true, the handshake is aborted, or ctx ends
func (h *Handshake) wait(ctx context.Context, step string, done func() bool) error {
	waitCtx := ctx
	if h.ackTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.ackTimeout)
		defer cancel()
	}

	stop := context.AfterFunc(waitCtx, func() {
		h.mutex.Lock()
		defer h.mutex.Unlock()
		h.cond.Broadcast()
	})
	defer stop()

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for {
		if h.aborted {
			return fmt.Errorf("%w while awaiting %s acknowledgment", ErrHandshakeAborted, step)
		}
		if done() {
			return nil
		}
		if err := waitCtx.Err(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.aborted = true
			h.setState(model.HandshakeNotStarted)
			h.logger.Warn("Endpoint did not acknowledge in time",
				zap.String("step", step),
				zap.Duration("timeout", h.ackTimeout),
			)
			return fmt.Errorf("%w: %s", ErrAckTimeout, step)
		}
		h.cond.Wait()
	}
}

// HandleMessage feeds one inbound endpoint message to the engine
func (h *Handshake) HandleMessage(message string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	switch h.state {
	case model.HandshakeAwaitingTokenAck:
		h.acked = true
		h.cond.Broadcast()
	case model.HandshakeAwaitingDirectiveAck:
		h.setState(model.HandshakeReady)
		h.cond.Broadcast()
	case model.HandshakeReady:
		h.errorReports.Inc()
		h.logger.Warn("Endpoint reported an error", zap.String("message", message))
	default:
		h.logger.Debug("Ignoring message received before handshake start", zap.String("message", message))
	}
}

// HandleDisconnect aborts the handshake when the connection is lost
func (h *Handshake) HandleDisconnect(err error) {
	h.Abort(err)
}

// Abort cancels any waiting step and drops readiness until the next Reset
func (h *Handshake) Abort(cause error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.state.IsAwaiting() {
		h.logger.Warn("Handshake aborted", zap.String("state", string(h.state)), zap.Error(cause))
	}

	h.aborted = true
	h.acked = false
	h.setState(model.HandshakeNotStarted)
	h.cond.Broadcast()
}

// State returns the current handshake state
func (h *Handshake) State() model.HandshakeState {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.state
}

// ErrorReports returns how many endpoint error reports were received
func (h *Handshake) ErrorReports() int64 {
	return h.errorReports.Load()
}

// setState must be called with mutex held
func (h *Handshake) setState(newState model.HandshakeState) {
	prevState := h.state
	if prevState == newState {
		return
	}

	h.state = newState
	h.logger.Debug("Handshake state changed",
		zap.String("from", string(prevState)),
		zap.String("to", string(newState)),
	)
	for _, handler := range h.handlers {
		handler(prevState, newState)
	}
}
