package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"tic-relay/internal/model"
)

type fakePort struct {
	mu      sync.Mutex
	chunks  [][]byte
	readErr error
	closed  bool
	resets  int
	rts     *bool
	dtr     *bool
	timeout time.Duration
}

func newFakePort(chunks ...string) *fakePort {
	p := &fakePort{}
	for _, c := range chunks {
		p.chunks = append(p.chunks, []byte(c))
	}
	return p
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.chunks) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer p.mu.Unlock()

	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakePort) push(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, []byte(chunk))
}

func (p *fakePort) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.chunks = nil
	return nil
}

func (p *fakePort) SetDTR(dtr bool) error { p.dtr = &dtr; return nil }
func (p *fakePort) SetRTS(rts bool) error { p.rts = &rts; return nil }

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// stubOpenPort replaces the driver entry point for the duration of a test
func stubOpenPort(t *testing.T, fn func(name string, mode *serial.Mode) (serialPort, error)) {
	t.Helper()
	orig := openPort
	openPort = fn
	t.Cleanup(func() { openPort = orig })
}

func testSerialConfig() *SerialLinkConfig {
	return &SerialLinkConfig{
		Device:      "/dev/ttyTEST0",
		BaudRate:    1200,
		ByteSize:    7,
		Parity:      "E",
		StopBits:    1,
		ReadTimeout: 10 * time.Millisecond,
	}
}

func quickProfile(attempts int) RetryProfile {
	return RetryProfile{Name: "test", MaxAttempts: attempts, Delay: time.Millisecond}
}

func TestSerialLink_ReadLine(t *testing.T) {
	require := require.New(t)

	port := newFakePort("BASE 12", "34\r\nPAPP 1", "00\n")
	stubOpenPort(t, func(string, *serial.Mode) (serialPort, error) { return port, nil })

	link, err := NewSerialLink(testSerialConfig(), zap.NewNop())
	require.NoError(err)
	require.NoError(link.Open(context.Background(), quickProfile(1)))
	require.Equal(model.LinkStateOpen, link.State())
	require.Equal(10*time.Millisecond, port.timeout)

	line, err := link.ReadLine(context.Background())
	require.NoError(err)
	require.Equal("BASE 1234", line)

	line, err = link.ReadLine(context.Background())
	require.NoError(err)
	require.Equal("PAPP 100", line)

	stats := link.Stats()
	require.EqualValues(2, stats.LinesRead)
	require.EqualValues(len("BASE 1234\r\nPAPP 100\n"), stats.BytesRead)
}

func TestSerialLink_ReadLineHonorsContext(t *testing.T) {
	require := require.New(t)

	stubOpenPort(t, func(string, *serial.Mode) (serialPort, error) { return newFakePort(), nil })

	link, err := NewSerialLink(testSerialConfig(), zap.NewNop())
	require.NoError(err)
	require.NoError(link.Open(context.Background(), quickProfile(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = link.ReadLine(ctx)
	require.ErrorIs(err, context.DeadlineExceeded)
	require.Equal(model.LinkStateOpen, link.State())
}

func TestSerialLink_OpenRetries(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		require := require.New(t)

		port := newFakePort()
		calls := 0
		stubOpenPort(t, func(name string, mode *serial.Mode) (serialPort, error) {
			calls++
			require.Equal("/dev/ttyTEST0", name)
			require.Equal(serial.EvenParity, mode.Parity)
			if calls < 3 {
				return nil, errors.New("no such device")
			}
			return port, nil
		})

		cfg := testSerialConfig()
		high, low := true, false
		cfg.RTS = &high
		cfg.DTR = &low

		link, err := NewSerialLink(cfg, zap.NewNop())
		require.NoError(err)
		require.NoError(link.Open(context.Background(), quickProfile(3)))
		require.Equal(3, calls)
		require.Equal(model.LinkStateOpen, link.State())
		require.NotNil(port.rts)
		require.True(*port.rts)
		require.NotNil(port.dtr)
		require.False(*port.dtr)
	})

	t.Run("gives up when the profile is exhausted", func(t *testing.T) {
		require := require.New(t)

		calls := 0
		stubOpenPort(t, func(string, *serial.Mode) (serialPort, error) {
			calls++
			return nil, errors.New("no such device")
		})

		link, err := NewSerialLink(testSerialConfig(), zap.NewNop())
		require.NoError(err)

		err = link.Open(context.Background(), quickProfile(2))
		require.ErrorIs(err, ErrRetriesExhausted)
		require.ErrorIs(err, ErrSerialOpen)
		require.Equal(2, calls)
		require.Equal(model.LinkStateFaulted, link.State())
	})

	t.Run("unbounded profile stops on cancellation", func(t *testing.T) {
		require := require.New(t)

		stubOpenPort(t, func(string, *serial.Mode) (serialPort, error) {
			return nil, errors.New("no such device")
		})

		link, err := NewSerialLink(testSerialConfig(), zap.NewNop())
		require.NoError(err)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		err = link.Open(ctx, quickProfile(0))
		require.ErrorIs(err, context.DeadlineExceeded)
		require.Equal(model.LinkStateClosed, link.State())
	})
}

func TestSerialLink_FaultAndReopen(t *testing.T) {
	require := require.New(t)

	first := newFakePort("BASE 1\n")
	second := newFakePort("BASE 2\n")
	ports := []*fakePort{first, second}
	stubOpenPort(t, func(string, *serial.Mode) (serialPort, error) {
		p := ports[0]
		ports = ports[1:]
		return p, nil
	})

	var transitions []model.LinkState
	link, err := NewSerialLink(testSerialConfig(), zap.NewNop(),
		func(kind model.ConnectionType, _, newState model.LinkState) {
			require.Equal(model.ConnectionTypeSerial, kind)
			transitions = append(transitions, newState)
		})
	require.NoError(err)
	require.NoError(link.Open(context.Background(), quickProfile(1)))

	line, err := link.ReadLine(context.Background())
	require.NoError(err)
	require.Equal("BASE 1", line)

	first.fail(errors.New("device unplugged"))
	_, err = link.ReadLine(context.Background())
	require.ErrorIs(err, ErrSerialFault)
	require.Equal(model.LinkStateFaulted, link.State())
	require.True(first.isClosed())

	_, err = link.ReadLine(context.Background())
	require.ErrorIs(err, ErrLinkNotOpen)

	require.NoError(link.Open(context.Background(), quickProfile(1)))
	line, err = link.ReadLine(context.Background())
	require.NoError(err)
	require.Equal("BASE 2", line)

	require.Equal([]model.LinkState{
		model.LinkStateOpening, model.LinkStateOpen,
		model.LinkStateFaulted,
		model.LinkStateOpening, model.LinkStateOpen,
	}, transitions)
	require.EqualValues(2, link.Stats().OpenCount)
}

func TestSerialLink_ResetInputBufferDropsPartialLine(t *testing.T) {
	require := require.New(t)

	port := newFakePort("BASE 99")
	stubOpenPort(t, func(string, *serial.Mode) (serialPort, error) { return port, nil })

	link, err := NewSerialLink(testSerialConfig(), zap.NewNop())
	require.NoError(err)
	require.NoError(link.Open(context.Background(), quickProfile(1)))

	// leaves "BASE 99" pending without a terminator
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = link.ReadLine(ctx)
	require.ErrorIs(err, context.DeadlineExceeded)

	require.NoError(link.ResetInputBuffer())
	require.Equal(1, port.resets)

	port.push("PAPP 10\n")
	line, err := link.ReadLine(context.Background())
	require.NoError(err)
	require.Equal("PAPP 10", line)
}

func TestSerialLink_Close(t *testing.T) {
	require := require.New(t)

	port := newFakePort()
	stubOpenPort(t, func(string, *serial.Mode) (serialPort, error) { return port, nil })

	link, err := NewSerialLink(testSerialConfig(), zap.NewNop())
	require.NoError(err)
	require.NoError(link.Close())
	require.NoError(link.Open(context.Background(), quickProfile(1)))
	require.NoError(link.Close())
	require.True(port.isClosed())
	require.Equal(model.LinkStateClosed, link.State())
	require.Equal(model.ConnectionTypeSerial, link.GetProtocolType())
}

func TestSerialMode(t *testing.T) {
	tests := []struct {
		name     string
		parity   string
		stopBits float64
		byteSize int
		want     *serial.Mode
		wantErr  bool
	}{
		{"defaults", "N", 1, 8, &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}, false},
		{"historic tic", "E", 1, 7, &serial.Mode{BaudRate: 9600, DataBits: 7, Parity: serial.EvenParity, StopBits: serial.OneStopBit}, false},
		{"mark one and a half", "M", 1.5, 8, &serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.MarkParity, StopBits: serial.OnePointFiveStopBits}, false},
		{"space two", "S", 2, 6, &serial.Mode{BaudRate: 9600, DataBits: 6, Parity: serial.SpaceParity, StopBits: serial.TwoStopBits}, false},
		{"odd", "O", 1, 5, &serial.Mode{BaudRate: 9600, DataBits: 5, Parity: serial.OddParity, StopBits: serial.OneStopBit}, false},
		{"bad parity", "X", 1, 8, nil, true},
		{"bad stop bits", "N", 3, 8, nil, true},
		{"bad byte size", "N", 1, 9, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := serialMode(&SerialLinkConfig{BaudRate: 9600, ByteSize: tt.byteSize, Parity: tt.parity, StopBits: tt.stopBits})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, mode)
		})
	}
}

func TestLineLevel(t *testing.T) {
	assert.Nil(t, lineLevel(-1))
	require.NotNil(t, lineLevel(0))
	assert.False(t, *lineLevel(0))
	assert.True(t, *lineLevel(1))
}
