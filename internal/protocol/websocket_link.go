// internal/protocol/websocket_link.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tic-relay/internal/model"
	"tic-relay/internal/utils"
)

const closeFrameTimeout = time.Second

// MessageHandler receives events from the websocket receive loop
type MessageHandler interface {
	// HandleMessage is called for every non-empty inbound message
	HandleMessage(message string)
	// HandleDisconnect is called once when the current connection faults
	HandleDisconnect(err error)
}

// WebSocketLink owns one websocket connection to the ingestion endpoint
type WebSocketLink struct {
	endpoint *SocketEndpoint
	dialer   *websocket.Dialer
	handler  MessageHandler
	logger   *utils.LinkLogger
	state    *linkState
	stats    linkCounters

	// generation identifies the current connection; receive loops of
	// older connections compare against it and stay silent
	generation atomic.Uint64
	sessionID  atomic.String

	mutex sync.Mutex // guards conn and serializes writes
	conn  *websocket.Conn
	wg    sync.WaitGroup
}

// NewWebSocketLink creates a new websocket link
func NewWebSocketLink(endpoint *SocketEndpoint, handler MessageHandler, logger *zap.Logger, handlers ...StateChangeHandler) *WebSocketLink {
	wl := &WebSocketLink{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: endpoint.HandshakeTimeout,
		},
		handler: handler,
		logger:  utils.NewLinkLogger(logger, string(model.ConnectionTypeWebSocket), endpoint.URL),
	}
	wl.state = newLinkState(model.ConnectionTypeWebSocket, append([]StateChangeHandler{wl.logTransition}, handlers...))
	return wl
}

// Connect dials the endpoint until it succeeds or ctx is done.
// Failed attempts are retried every RetryDelay without limit.
func (wl *WebSocketLink) Connect(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			wl.state.set(model.LinkStateClosed)
			return err
		}

		attempt++
		wl.state.set(model.LinkStateOpening)

		conn, resp, err := wl.dialer.DialContext(ctx, wl.endpoint.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			wl.attach(conn, attempt)
			return nil
		}

		wl.stats.errors.Inc()
		if ctx.Err() != nil {
			wl.state.set(model.LinkStateClosed)
			return ctx.Err()
		}

		wl.state.set(model.LinkStateFaulted)
		wl.logger.LogRetry(attempt, 0, wl.endpoint.RetryDelay, err)

		if err := sleepContext(ctx, wl.endpoint.RetryDelay); err != nil {
			wl.state.set(model.LinkStateClosed)
			return err
		}
	}
}

// attach installs a freshly dialed connection and starts its receive loop
func (wl *WebSocketLink) attach(conn *websocket.Conn, attempt int) {
	sessionID := uuid.New().String()

	wl.mutex.Lock()
	generation := wl.generation.Inc()
	previous := wl.conn
	wl.conn = conn
	wl.sessionID.Store(sessionID)
	wl.mutex.Unlock()

	if previous != nil {
		previous.Close()
	}

	wl.stats.opens.Inc()
	wl.stats.lastOpened.Store(time.Now())
	wl.state.set(model.LinkStateOpen)

	wl.logger.Info("Connected to endpoint",
		zap.String("session_id", sessionID),
		zap.Int("attempt", attempt),
	)

	wl.wg.Add(1)
	go wl.receiveLoop(conn, generation)
}

// receiveLoop delivers inbound messages until the connection ends
func (wl *WebSocketLink) receiveLoop(conn *websocket.Conn, generation uint64) {
	defer wl.wg.Done()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			wl.fault(generation, readError(err))
			return
		}

		if wl.generation.Load() != generation {
			return
		}

		wl.stats.received.Inc()
		wl.stats.lastActivity.Store(time.Now())

		message := string(payload)
		if strings.TrimSpace(message) == "" {
			wl.logger.Debug("Ignoring empty message from endpoint")
			continue
		}

		wl.logger.Info("Message received from endpoint", zap.String("message", message))
		if wl.handler != nil {
			wl.handler.HandleMessage(message)
		}
	}
}

// fault marks the connection of the given generation as failed. It returns
// false when that connection was already released or superseded.
func (wl *WebSocketLink) fault(generation uint64, cause error) bool {
	wl.mutex.Lock()
	if wl.generation.Load() != generation || wl.conn == nil {
		wl.mutex.Unlock()
		return false
	}
	conn := wl.conn
	wl.conn = nil
	wl.mutex.Unlock()

	conn.Close()
	wl.stats.errors.Inc()

	fields := []zap.Field{zap.String("session_id", wl.sessionID.Load()), zap.Error(cause)}
	var closeErr *websocket.CloseError
	if errors.As(cause, &closeErr) {
		fields = append(fields, zap.Int("close_code", closeErr.Code), zap.String("close_reason", closeErr.Text))
	}
	wl.logger.Error("Connection to endpoint lost", fields...)

	wl.state.set(model.LinkStateFaulted)
	if wl.handler != nil {
		wl.handler.HandleDisconnect(cause)
	}
	return true
}

// Send transmits one text message. On failure the link is marked FAULTED
// and the handler is notified; the returned error is informational.
func (wl *WebSocketLink) Send(message string) error {
	wl.mutex.Lock()
	conn := wl.conn
	generation := wl.generation.Load()
	if conn == nil {
		wl.mutex.Unlock()
		return ErrLinkNotOpen
	}

	if wl.endpoint.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(wl.endpoint.WriteTimeout))
	}
	err := conn.WriteMessage(websocket.TextMessage, []byte(message))
	wl.mutex.Unlock()

	if err != nil {
		wl.logger.Error("Failed to send message", zap.Error(err))
		wl.fault(generation, err)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	wl.stats.sent.Inc()
	wl.stats.lastActivity.Store(time.Now())
	wl.logger.Debug("Message sent to endpoint", zap.String("message", message))
	return nil
}

// Close releases the current connection without notifying the handler
func (wl *WebSocketLink) Close() error {
	wl.mutex.Lock()
	conn := wl.conn
	wl.conn = nil
	wl.generation.Inc()
	if conn != nil {
		deadline := time.Now().Add(closeFrameTimeout)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil {
			wl.logger.Debug("Failed to send close frame", zap.Error(err))
		}
	}
	wl.mutex.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	wl.wg.Wait()
	wl.state.set(model.LinkStateClosed)

	if err != nil {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}

// State returns the current link state
func (wl *WebSocketLink) State() model.LinkState {
	return wl.state.load()
}

// SessionID returns the identifier of the current or last connection
func (wl *WebSocketLink) SessionID() string {
	return wl.sessionID.Load()
}

// GetProtocolType returns the protocol type
func (wl *WebSocketLink) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeWebSocket
}

// Stats returns link statistics
func (wl *WebSocketLink) Stats() ProtocolStats {
	return wl.stats.snapshot(model.ConnectionTypeWebSocket, wl.State())
}

func (wl *WebSocketLink) logTransition(_ model.ConnectionType, prevState, newState model.LinkState) {
	wl.logger.LogTransition(string(prevState), string(newState))
}

func readError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %w", ErrSocketClosed, err)
	}
	return err
}
