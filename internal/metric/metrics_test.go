package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"tic-relay/internal/model"
)

func TestRelayMetrics_ObserveLinkState(t *testing.T) {
	require := require.New(t)

	m := NewRelayMetrics()
	m.ObserveLinkState(model.ConnectionTypeSerial, model.LinkStateClosed, model.LinkStateOpening)
	require.Equal(1.0, testutil.ToFloat64(m.LinkState.WithLabelValues("SERIAL")))

	m.ObserveLinkState(model.ConnectionTypeSerial, model.LinkStateOpening, model.LinkStateOpen)
	require.Equal(2.0, testutil.ToFloat64(m.LinkState.WithLabelValues("SERIAL")))
	require.Equal(1.0, testutil.ToFloat64(m.Reconnects.WithLabelValues("SERIAL")))

	m.ObserveLinkState(model.ConnectionTypeSerial, model.LinkStateOpen, model.LinkStateFaulted)
	require.Equal(-1.0, testutil.ToFloat64(m.LinkState.WithLabelValues("SERIAL")))
	require.Equal(1.0, testutil.ToFloat64(m.Reconnects.WithLabelValues("SERIAL")))
}

func TestRelayMetrics_ObserveHandshakeState(t *testing.T) {
	m := NewRelayMetrics()
	m.ObserveHandshakeState(model.HandshakeNotStarted, model.HandshakeAwaitingTokenAck)
	m.ObserveHandshakeState(model.HandshakeAwaitingDirectiveAck, model.HandshakeReady)

	require.Equal(t, 1.0, testutil.ToFloat64(m.HandshakesCompleted))
}

func TestRelayMetrics_Gather(t *testing.T) {
	m := NewRelayMetrics()
	m.LinesRead.Inc()
	m.LinesRejected.WithLabelValues("unknown_tag").Inc()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	require.True(t, names["tic_relay_lines_read_total"])
	require.True(t, names["tic_relay_lines_rejected_total"])
	require.True(t, names["go_goroutines"])
}
