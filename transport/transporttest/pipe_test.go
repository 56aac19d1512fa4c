package transporttest

import (
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/transport"
)

func started(t *testing.T, a, b Options) (*Endpoint, *Endpoint) {
	t.Helper()
	ea, eb := Pipe(a, b)
	require.NoError(t, ea.Start(1))
	require.NoError(t, eb.Start(2))
	return ea, eb
}

func recv(t *testing.T, e *Endpoint) string {
	t.Helper()
	buf := make([]byte, 64)
	n, err := e.ReceivePacket(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestPipeDelivers(t *testing.T) {
	a, b := started(t, Options{}, Options{})
	require.NoError(t, a.SendPacket([]byte("ping")))
	require.NoError(t, b.SendPacket([]byte("pong")))
	assert.Equal(t, "ping", recv(t, b))
	assert.Equal(t, "pong", recv(t, a))
	assert.Equal(t, [][]byte{[]byte("ping")}, a.Sent())
	assert.Equal(t, 1, a.Port())
}

func TestPipeDropHoldMutate(t *testing.T) {
	a, b := started(t, Options{
		Drop: func(n int, _ []byte) bool { return n == 0 },
		Hold: func(n int, _ []byte) bool { return n == 1 },
		Mutate: func(n int, data []byte) []byte {
			if n == 3 {
				data[0] = 'X'
			}
			return data
		},
	}, Options{})

	for _, m := range []string{"zero", "one", "two", "three"} {
		require.NoError(t, a.SendPacket([]byte(m)))
	}
	assert.Equal(t, "two", recv(t, b))
	assert.Equal(t, "one", recv(t, b))
	assert.Equal(t, "Xhree", recv(t, b))
	assert.Len(t, a.Sent(), 4)
	assert.Equal(t, "three", string(a.Sent()[3]))
}

func TestPipeFlushReleasesHeld(t *testing.T) {
	a, b := started(t, Options{Hold: func(int, []byte) bool { return true }}, Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, a.SendPacket([]byte("late")))

	_, err := b.ReceivePacket(make([]byte, 8))
	assert.ErrorIs(t, err, transport.ErrTimeout)

	require.NoError(t, a.Flush(time.Second))
	assert.Equal(t, "late", recv(t, b))
}

func TestPipeErrors(t *testing.T) {
	startErr := errors.New("bind failed")
	a, _ := Pipe(Options{StartErr: startErr}, Options{})
	assert.Equal(t, startErr, a.Start(1))
	assert.ErrorIs(t, a.SendPacket([]byte("x")), transport.ErrNotStarted)

	sendErr := errors.New("link down")
	c, d := started(t, Options{SendErr: func(n int) error {
		if n == 1 {
			return sendErr
		}
		return nil
	}}, Options{})
	assert.NoError(t, c.SendPacket([]byte("a")))
	assert.Equal(t, sendErr, c.SendPacket([]byte("b")))

	_, err := d.ReceivePacket(make([]byte, 0))
	assert.ErrorIs(t, err, io.ErrShortBuffer)
}

func TestPipeShutdownUnblocks(t *testing.T) {
	a, _ := started(t, Options{Timeout: time.Minute}, Options{})
	done := make(chan error, 1)
	go func() {
		_, err := a.ReceivePacket(make([]byte, 8))
		done <- err
	}()
	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("ReceivePacket still blocked")
	}
	assert.ErrorIs(t, a.SendPacket([]byte("x")), transport.ErrClosed)
}

func TestPipeDelay(t *testing.T) {
	a, b := started(t, Options{Delay: 30 * time.Millisecond}, Options{})
	begin := time.Now()
	require.NoError(t, a.SendPacket([]byte("slow")))
	assert.Equal(t, "slow", recv(t, b))
	assert.GreaterOrEqual(t, time.Since(begin), 30*time.Millisecond)
}
