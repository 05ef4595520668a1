// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tic-relay/internal/config"
	"tic-relay/internal/handler"
	"tic-relay/internal/metric"
	"tic-relay/internal/middleware"
	"tic-relay/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config  *config.Config
	logger  *zap.Logger
	relay   handler.StatusProvider
	metrics *metric.RelayMetrics
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	relay handler.StatusProvider,
	metrics *metric.RelayMetrics,
) *Router {
	return &Router{
		config:  config,
		logger:  logger,
		relay:   relay,
		metrics: metrics,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.App.Environment == "test" {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "status-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Status))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all status routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.relay, r.config, r.logger)
	healthHandler.RegisterRoutes(router)

	r.addMetricsRoutes(router)

	r.logger.Debug("Status routes configured")
}

// addMetricsRoutes exposes the Prometheus registry
func (r *Router) addMetricsRoutes(router *gin.Engine) {
	if r.metrics == nil {
		return
	}

	metricsHandler := promhttp.HandlerFor(r.metrics.Registry(), promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(r.logger),
	})
	router.GET("/metrics", gin.WrapH(metricsHandler))
}
