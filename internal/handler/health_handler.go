// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tic-relay/internal/config"
	"tic-relay/internal/model"
	"tic-relay/internal/service"
	"tic-relay/internal/utils"
)

// StatusProvider exposes the relay state to the status API
type StatusProvider interface {
	Status() service.Status
}

// HealthHandler handles health check requests
type HealthHandler struct {
	relay  StatusProvider
	config *config.Config
	logger *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(relay StatusProvider, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		relay:  relay,
		config: config,
		logger: utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
	router.GET("/status", h.StatusReport)
}

// HealthCheck reports per-link health. The relay is healthy when both
// links are open and the endpoint accepted the handshake.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := h.relay.Status()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    status.Uptime,
		Checks: map[string]CheckResult{
			"serial": linkCheck(status.Serial),
			"socket": linkCheck(status.Socket),
		},
	}

	handshake := CheckResult{
		Status: "healthy",
		Data:   map[string]interface{}{"state": status.Handshake},
	}
	if !status.Handshake.IsReady() {
		handshake.Status = "unhealthy"
		handshake.Message = "endpoint handshake not completed"
	}
	health.Checks["handshake"] = handshake

	for _, check := range health.Checks {
		if check.Status != "healthy" {
			health.Status = "unhealthy"
			break
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

func linkCheck(link service.LinkStatus) CheckResult {
	result := CheckResult{
		Status:  "healthy",
		Message: link.Target,
		Data: map[string]interface{}{
			"type":          link.Type,
			"state":         link.State,
			"error_count":   link.Stats.ErrorCount,
			"open_count":    link.Stats.OpenCount,
			"last_activity": link.Stats.LastActivity,
		},
	}
	if link.State != model.LinkStateOpen {
		result.Status = "unhealthy"
	}
	return result
}

// ReadinessCheck succeeds only while readings can be relayed
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	status := h.relay.Status()

	if reason := notReadyReason(status); reason != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": reason,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

func notReadyReason(status service.Status) string {
	switch {
	case !status.Serial.State.IsOpen():
		return "serial device not open"
	case !status.Socket.State.IsOpen():
		return "endpoint not connected"
	case !status.Handshake.IsReady():
		return "endpoint handshake not completed"
	default:
		return ""
	}
}

// LivenessCheck for process supervisors
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// StatusReport returns the full relay status
func (h *HealthHandler) StatusReport(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Relay status", h.relay.Status())
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
