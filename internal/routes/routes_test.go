package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tic-relay/internal/config"
	"tic-relay/internal/metric"
	"tic-relay/internal/model"
	"tic-relay/internal/service"
)

type notReady struct{}

func (notReady) Status() service.Status {
	return service.Status{
		Serial:    service.LinkStatus{State: model.LinkStateOpen},
		Socket:    service.LinkStatus{State: model.LinkStateOpening},
		Handshake: model.HandshakeNotStarted,
	}
}

func TestRouter_SetupRouter(t *testing.T) {
	cfg := &config.Config{
		App:    config.AppConfig{Name: "tic-relay", Version: "test", Environment: "test"},
		Status: config.StatusConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
	metrics := metric.NewRelayMetrics()
	metrics.LinesRead.Add(3)

	engine := NewRouter(cfg, zap.NewNop(), notReady{}, metrics).SetupRouter()

	tests := []struct {
		path string
		code int
	}{
		{"/live", http.StatusOK},
		{"/ready", http.StatusServiceUnavailable},
		{"/health", http.StatusServiceUnavailable},
		{"/status", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), "tic_relay_lines_read_total 3")
}

func TestRouter_CORS(t *testing.T) {
	cfg := &config.Config{
		App:    config.AppConfig{Environment: "test"},
		Status: config.StatusConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
	engine := NewRouter(cfg, zap.NewNop(), notReady{}, nil).SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
