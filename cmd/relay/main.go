// cmd/relay/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"tic-relay/internal/config"
	"tic-relay/internal/discovery"
	"tic-relay/internal/metric"
	"tic-relay/internal/protocol"
	"tic-relay/internal/routes"
	"tic-relay/internal/service"
	"tic-relay/internal/utils"
)

// Application represents the main application
type Application struct {
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
	metrics *metric.RelayMetrics
	relay   *service.RelayService
}

func main() {
	flags := config.NewFlagSet(os.Args[0])
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if list, _ := flags.GetBool("list-devices"); list {
		os.Exit(listDevices())
	}

	app, err := NewApplication(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		os.Exit(1)
	}
}

// listDevices prints candidate serial ports, one per line
func listDevices() int {
	ports, err := discovery.NewScanner(zap.NewNop(), nil).Scan()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	for _, port := range ports {
		fmt.Println(port)
	}
	return 0
}

// NewApplication creates a new application instance
func NewApplication(flags *pflag.FlagSet) (*Application, error) {
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &Application{
		config: cfg,
		logger: logger,
	}

	app.logConfiguration()

	if err := app.initializeRelay(); err != nil {
		return nil, fmt.Errorf("failed to initialize relay: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// logConfiguration prints the effective link settings
func (app *Application) logConfiguration() {
	serial := protocol.NewSerialLinkConfig(&app.config.Serial)

	app.logger.Info("Serial port configuration",
		zap.String("settings", serial.String()),
		zap.Bool("rtscts", serial.RTSCTS),
		zap.Bool("xonxoff", serial.XONXOFF),
		zap.Int("rts", app.config.Serial.RTS),
		zap.Int("dtr", app.config.Serial.DTR),
	)
	app.logger.Info("Warp 10 endpoint",
		zap.String("url", app.config.Endpoint.GetURL()),
		zap.Int("labels", len(app.config.Endpoint.Labels)),
	)
}

// initializeRelay creates the metrics registry and the relay service
func (app *Application) initializeRelay() error {
	app.metrics = metric.NewRelayMetrics()

	relay, err := service.NewRelayService(app.config, app.metrics, app.logger)
	if err != nil {
		return err
	}
	app.relay = relay

	app.logger.Debug("Relay service initialized")
	return nil
}

// initializeServer sets up the status HTTP server
func (app *Application) initializeServer() error {
	if !app.config.Status.Enabled {
		app.logger.Info("Status server disabled")
		return nil
	}

	routerManager := routes.NewRouter(app.config, app.logger, app.relay, app.metrics)

	app.server = &http.Server{
		Addr:         app.config.GetStatusAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Status.ReadTimeout,
		WriteTimeout: app.config.Status.WriteTimeout,
	}

	app.logger.Info("Status server initialized",
		zap.String("address", app.server.Addr),
	)
	return nil
}

// Start runs the relay until an interrupt signal or a fatal serial failure
func (app *Application) Start() error {
	if app.server != nil {
		go func() {
			app.logger.Info("Starting status server", zap.String("address", app.server.Addr))

			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := app.relay.Run(ctx)
	if ctx.Err() != nil {
		app.logger.Info("Received shutdown signal")
	}
	if runErr != nil {
		app.logger.Error("Relay stopped with error", zap.Error(runErr))
	}
	if errors.Is(runErr, protocol.ErrRetriesExhausted) {
		app.logAvailablePorts()
	}

	app.shutdown()
	return runErr
}

// logAvailablePorts hints at the right --device value after an open failure
func (app *Application) logAvailablePorts() {
	ports, err := discovery.NewScanner(app.logger, nil).Scan()
	if err != nil {
		app.logger.Debug("Serial port enumeration failed", zap.Error(err))
		return
	}
	app.logger.Info("Available serial ports",
		zap.String("configured", app.config.Serial.Device),
		zap.Strings("ports", ports),
	)
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("Status server shutdown error", zap.Error(err))
		} else {
			app.logger.Debug("Status server stopped")
		}
	}

	if err := app.relay.Shutdown(); err != nil {
		app.logger.Warn("Error while closing links", zap.Error(err))
	}

	if err := utils.CloseLogger(app.logger); err != nil && !isSyncUnsupported(err) {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}

// isSyncUnsupported reports the error returned when syncing a terminal
func isSyncUnsupported(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
