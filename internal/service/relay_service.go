// internal/service/relay_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"tic-relay/internal/config"
	"tic-relay/internal/metric"
	"tic-relay/internal/protocol"
	"tic-relay/internal/tic"
	"tic-relay/internal/utils"
	"tic-relay/internal/warp10"
)

// SerialDevice is the line source the relay reads from
type SerialDevice interface {
	protocol.Link

	Open(ctx context.Context, profile protocol.RetryProfile) error
	ReadLine(ctx context.Context) (string, error)
	ResetInputBuffer() error
}

// Option customizes a RelayService
type Option func(*RelayService)

// WithSerialDevice replaces the serial link built from configuration
func WithSerialDevice(device SerialDevice) Option {
	return func(rs *RelayService) {
		rs.serial = device
	}
}

// RelayService forwards teleinformation readings from the serial device to
// the Warp 10 update endpoint, keeping both links alive
type RelayService struct {
	config    *config.Config
	serial    SerialDevice
	socket    *protocol.WebSocketLink
	handshake *warp10.Handshake
	parser    *tic.Parser
	encoder   *warp10.Encoder
	metrics   *metric.RelayMetrics
	logger    *utils.ServiceLogger

	serialSettings string
	startup        protocol.RetryProfile
	runtime        protocol.RetryProfile

	// connecting is set while a reconnect goroutine is in flight
	connecting atomic.Bool
	// flushPending asks the read loop to drop input queued while not ready
	flushPending atomic.Bool
	reconnectWG  sync.WaitGroup

	linesRead         atomic.Int64
	linesRejected     atomic.Int64
	readingsPublished atomic.Int64
	readingsDropped   atomic.Int64
	lastPublished     atomic.Time
	startedAt         time.Time
}

// NewRelayService creates a new relay service instance
func NewRelayService(cfg *config.Config, metrics *metric.RelayMetrics, logger *zap.Logger, opts ...Option) (*RelayService, error) {
	if metrics == nil {
		metrics = metric.NewRelayMetrics()
	}

	endpoint := protocol.NewSocketEndpoint(&cfg.Endpoint)
	serialConfig := protocol.NewSerialLinkConfig(&cfg.Serial)

	rs := &RelayService{
		config:         cfg,
		parser:         tic.NewParser(nil),
		encoder:        warp10.NewEncoder(endpoint.Labels),
		metrics:        metrics,
		logger:         utils.NewServiceLogger(logger, "relay-service"),
		serialSettings: serialConfig.String(),
		startup:        protocol.StartupProfile(&cfg.Serial),
		runtime:        protocol.RuntimeProfile(&cfg.Serial),
		startedAt:      time.Now(),
	}

	for _, opt := range opts {
		opt(rs)
	}

	if rs.serial == nil {
		link, err := protocol.NewSerialLink(serialConfig, logger, metrics.ObserveLinkState)
		if err != nil {
			return nil, fmt.Errorf("failed to create serial link: %w", err)
		}
		rs.serial = link
	}

	rs.handshake = warp10.NewHandshake(endpoint.Token, endpoint.AckTimeout, logger, metrics.ObserveHandshakeState)
	rs.socket = protocol.NewWebSocketLink(endpoint, rs.handshake, logger, metrics.ObserveLinkState)

	return rs, nil
}

// Run relays readings until ctx is done. It returns nil on cancellation and
// an error when the serial device cannot be (re)opened within its retry budget.
func (rs *RelayService) Run(ctx context.Context) error {
	rs.logger.LogServiceStart(rs.config.App.Version,
		zap.String("serial", rs.serialSettings),
		zap.String("endpoint", rs.config.Endpoint.GetURL()),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer rs.reconnectWG.Wait()
	defer cancel()

	if err := rs.serial.Open(runCtx, rs.startup); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open serial device: %w", err)
	}

	for runCtx.Err() == nil {
		if rs.Ready() {
			if err := rs.relayNext(runCtx); err != nil {
				return err
			}
			continue
		}

		if rs.connecting.CompareAndSwap(false, true) {
			rs.startReconnect(runCtx)
			if err := rs.serial.ResetInputBuffer(); err != nil {
				rs.logger.Debug("Serial input reset failed", zap.Error(err))
			}
		}

		if err := sleepContext(runCtx, rs.config.Supervisor.PollInterval); err != nil {
			break
		}
	}

	return nil
}

// relayNext forwards at most one line. Only an unrecoverable serial failure is returned.
func (rs *RelayService) relayNext(ctx context.Context) error {
	// only the read loop clears the flag, after the flush has run
	if rs.flushPending.Load() {
		if err := rs.serial.ResetInputBuffer(); err != nil {
			rs.logger.Debug("Serial input reset failed", zap.Error(err))
		}
		rs.flushPending.Store(false)
	}

	line, err := rs.serial.ReadLine(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, protocol.ErrSerialFault) || errors.Is(err, protocol.ErrLinkNotOpen) {
			return rs.reopenSerial(ctx, err)
		}
		rs.logger.Error("Serial read failed", zap.Error(err))
		return nil
	}

	rs.handleLine(line)
	return nil
}

// reopenSerial reopens the device with the runtime profile; the socket is left untouched
func (rs *RelayService) reopenSerial(ctx context.Context, cause error) error {
	rs.logger.Warn("Serial device lost, reopening",
		zap.Error(cause),
		zap.Int("max_attempts", rs.runtime.MaxAttempts),
		zap.Duration("delay", rs.runtime.Delay),
	)

	if err := rs.serial.Open(ctx, rs.runtime); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to reopen serial device: %w", err)
	}
	return nil
}

// handleLine parses, encodes and sends one collected line
func (rs *RelayService) handleLine(line string) {
	rs.linesRead.Inc()
	rs.metrics.LinesRead.Inc()
	rs.logger.Debug("Line collected", zap.String("line", line))

	reading, err := rs.parser.Parse(line)
	if err != nil {
		reason := tic.Reason(err)
		rs.linesRejected.Inc()
		rs.metrics.LinesRejected.WithLabelValues(reason).Inc()

		if errors.Is(err, tic.ErrEmptyLine) {
			rs.logger.Debug("Skipping empty line")
			return
		}
		rs.logger.Warn("Dropping malformed line",
			zap.String("line", line),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}

	message := rs.encoder.Encode(reading)
	rs.logger.Debug("GTS to send", zap.String("gts", message))

	if !rs.Ready() {
		rs.drop("not_ready", message, nil)
		return
	}

	if err := rs.socket.Send(message); err != nil {
		rs.drop("send_failed", message, err)
		return
	}

	rs.readingsPublished.Inc()
	rs.lastPublished.Store(time.Now())
	rs.metrics.ReadingsPublished.WithLabelValues(reading.Metric).Inc()
}

func (rs *RelayService) drop(reason, message string, err error) {
	rs.readingsDropped.Inc()
	rs.metrics.ReadingsDropped.WithLabelValues(reason).Inc()

	fields := []zap.Field{zap.String("reason", reason), zap.String("gts", message)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	rs.logger.Warn("Reading dropped", fields...)
}

// startReconnect runs one close/connect/handshake cycle in the background
func (rs *RelayService) startReconnect(ctx context.Context) {
	rs.reconnectWG.Add(1)
	go func() {
		defer rs.reconnectWG.Done()
		defer rs.connecting.Store(false)

		if err := rs.reconnect(ctx); err != nil && ctx.Err() == nil {
			rs.logger.Warn("Endpoint not ready, will reconnect", zap.Error(err))
		}
	}()
}

func (rs *RelayService) reconnect(ctx context.Context) error {
	if err := rs.socket.Close(); err != nil {
		rs.logger.Debug("Closing previous connection failed", zap.Error(err))
	}
	rs.handshake.Reset()

	if err := rs.socket.Connect(ctx); err != nil {
		return err
	}

	// armed before READY so the first ready read always follows a flush
	rs.flushPending.Store(true)
	if err := rs.handshake.Run(ctx, rs.socket); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	rs.logger.Info("Endpoint ready", zap.String("session_id", rs.socket.SessionID()))
	return nil
}

// Ready reports whether metric messages can currently be sent
func (rs *RelayService) Ready() bool {
	return rs.socket.State().IsOpen() && rs.handshake.State().IsReady()
}

// Shutdown releases both links. Call it after Run has returned.
func (rs *RelayService) Shutdown() error {
	rs.logger.LogServiceStop("shutdown requested")

	var errs []error
	if err := rs.socket.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rs.serial.Close(); err != nil {
		errs = append(errs, err)
	}

	rs.logger.Info("Collector stopped")
	return errors.Join(errs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
