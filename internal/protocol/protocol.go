// internal/protocol/protocol.go
package protocol

import (
	"context"
	"time"

	"go.uber.org/atomic"

	"tic-relay/internal/model"
)

// Link represents one supervised external resource
type Link interface {
	// Connection lifecycle
	Close() error
	State() model.LinkState

	// Protocol information
	GetProtocolType() model.ConnectionType

	// Diagnostics
	Stats() ProtocolStats
}

var (
	_ Link = (*SerialLink)(nil)
	_ Link = (*WebSocketLink)(nil)
)

// StateChangeHandler is invoked synchronously on every link state change.
// Implementations must not block and must not call back into the link.
type StateChangeHandler func(link model.ConnectionType, prevState, newState model.LinkState)

// ProtocolStats provides link-level statistics
type ProtocolStats struct {
	State          model.LinkState `json:"state"`
	BytesRead      int64           `json:"bytes_read"`
	LinesRead      int64           `json:"lines_read,omitempty"`
	MessagesSent   int64           `json:"messages_sent,omitempty"`
	MessagesRecv   int64           `json:"messages_received,omitempty"`
	ErrorCount     int64           `json:"error_count"`
	OpenCount      int64           `json:"open_count"`
	LastActivity   time.Time       `json:"last_activity"`
	LastOpened     time.Time       `json:"last_opened"`
	ConnectionType string          `json:"connection_type"`
}

// linkCounters holds the lock-free counters behind ProtocolStats
type linkCounters struct {
	bytesRead    atomic.Int64
	linesRead    atomic.Int64
	sent         atomic.Int64
	received     atomic.Int64
	errors       atomic.Int64
	opens        atomic.Int64
	lastActivity atomic.Time
	lastOpened   atomic.Time
}

func (lc *linkCounters) snapshot(kind model.ConnectionType, state model.LinkState) ProtocolStats {
	return ProtocolStats{
		State:          state,
		BytesRead:      lc.bytesRead.Load(),
		LinesRead:      lc.linesRead.Load(),
		MessagesSent:   lc.sent.Load(),
		MessagesRecv:   lc.received.Load(),
		ErrorCount:     lc.errors.Load(),
		OpenCount:      lc.opens.Load(),
		LastActivity:   lc.lastActivity.Load(),
		LastOpened:     lc.lastOpened.Load(),
		ConnectionType: string(kind),
	}
}

// linkState publishes a LinkState written by one owner and read by anyone
type linkState struct {
	kind     model.ConnectionType
	value    *atomic.String
	handlers []StateChangeHandler
}

func newLinkState(kind model.ConnectionType, handlers []StateChangeHandler) *linkState {
	return &linkState{
		kind:     kind,
		value:    atomic.NewString(string(model.LinkStateClosed)),
		handlers: handlers,
	}
}

func (ls *linkState) load() model.LinkState {
	return model.LinkState(ls.value.Load())
}

// set stores the new state and returns the previous one
func (ls *linkState) set(newState model.LinkState) model.LinkState {
	prevState := model.LinkState(ls.value.Swap(string(newState)))
	if prevState != newState {
		for _, handler := range ls.handlers {
			if handler != nil {
				handler(ls.kind, prevState, newState)
			}
		}
	}
	return prevState
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
