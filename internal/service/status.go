// internal/service/status.go
package service

import (
	"time"

	"tic-relay/internal/model"
	"tic-relay/internal/protocol"
)

// Status is a point-in-time view of the relay
type Status struct {
	Service       string               `json:"service"`
	Version       string               `json:"version"`
	Ready         bool                 `json:"ready"`
	StartedAt     time.Time            `json:"started_at"`
	Uptime        string               `json:"uptime"`
	Serial        LinkStatus           `json:"serial"`
	Socket        LinkStatus           `json:"socket"`
	Handshake     model.HandshakeState `json:"handshake"`
	Reconnecting  bool                 `json:"reconnecting"`
	Counters      Counters             `json:"counters"`
	LastPublished time.Time            `json:"last_published,omitempty"`
}

// LinkStatus describes one link
type LinkStatus struct {
	Type      model.ConnectionType   `json:"type"`
	Target    string                 `json:"target"`
	State     model.LinkState        `json:"state"`
	SessionID string                 `json:"session_id,omitempty"`
	Stats     protocol.ProtocolStats `json:"stats"`
}

// Counters aggregates relay throughput
type Counters struct {
	LinesRead            int64 `json:"lines_read"`
	LinesRejected        int64 `json:"lines_rejected"`
	ReadingsPublished    int64 `json:"readings_published"`
	ReadingsDropped      int64 `json:"readings_dropped"`
	EndpointErrorReports int64 `json:"endpoint_error_reports"`
}

// Status returns the current relay status
func (rs *RelayService) Status() Status {
	return Status{
		Service:      rs.config.App.Name,
		Version:      rs.config.App.Version,
		Ready:        rs.Ready(),
		StartedAt:    rs.startedAt,
		Serial:       linkStatus(rs.serial, rs.serialSettings, ""),
		Socket:       linkStatus(rs.socket, rs.config.Endpoint.GetURL(), rs.socket.SessionID()),
		Handshake:    rs.handshake.State(),
		Reconnecting: rs.connecting.Load(),
		Uptime:       time.Since(rs.startedAt).Truncate(time.Second).String(),
		Counters: Counters{
			LinesRead:            rs.linesRead.Load(),
			LinesRejected:        rs.linesRejected.Load(),
			ReadingsPublished:    rs.readingsPublished.Load(),
			ReadingsDropped:      rs.readingsDropped.Load(),
			EndpointErrorReports: rs.handshake.ErrorReports(),
		},
		LastPublished: rs.lastPublished.Load(),
	}
}

func linkStatus(link protocol.Link, target, sessionID string) LinkStatus {
	return LinkStatus{
		Type:      link.GetProtocolType(),
		Target:    target,
		State:     link.State(),
		SessionID: sessionID,
		Stats:     link.Stats(),
	}
}
