package transport

import (
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	clientHost = Address{A: 10, D: 1}
	serverHost = Address{A: 10, D: 2}
)

const (
	clientPort = 30001
	serverPort = 30000
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.Tick = 5 * time.Millisecond
	cfg.InitialRTO = 30 * time.Millisecond
	cfg.MinRTO = 10 * time.Millisecond
	cfg.KeepAlive = 50 * time.Millisecond
	cfg.MaxRetries = 20
	return cfg
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

// newPair starts a listening server and a client connected to it.
func newPair(t *testing.T, network *memNetwork, clientCfg, serverCfg Config) (client, server *ReliableConnection) {
	t.Helper()
	server = NewReliableConnection(serverCfg, network.opener(serverHost), quietLogger())
	require.NoError(t, server.Start(serverPort))
	require.NoError(t, server.Listen())
	t.Cleanup(func() { server.Shutdown() })

	client = NewReliableConnection(clientCfg, network.opener(clientHost), quietLogger())
	require.NoError(t, client.Start(clientPort))
	t.Cleanup(func() { client.Shutdown() })

	to := serverHost
	to.Port = serverPort
	require.NoError(t, client.Connect(to))
	return client, server
}

func dataSeq(cfg Config, frame []byte) (uint32, bool) {
	env, err := decodeEnvelope(cfg.ProtocolID, frame)
	if err != nil || env.kind != kindData {
		return 0, false
	}
	return env.seq, true
}

func sendAndCollect(t *testing.T, client, server *ReliableConnection, count int) {
	t.Helper()
	go func() {
		for i := 0; i < count; i++ {
			if err := client.SendPacket([]byte(fmt.Sprintf("message-%04d", i))); err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
		}
	}()

	buf := make([]byte, 64)
	for i := 0; i < count; i++ {
		n, err := server.ReceivePacket(buf)
		require.NoError(t, err, "receive %d", i)
		require.Equal(t, fmt.Sprintf("message-%04d", i), string(buf[:n]))
	}
}

func TestReliableDeliversInOrder(t *testing.T) {
	cfg := testConfig()
	client, server := newPair(t, newMemNetwork(), cfg, cfg)

	sendAndCollect(t, client, server, 100)
	require.NoError(t, client.Flush(time.Second))

	assert.Equal(t, 100, client.Stats().PacketsSent)
	assert.GreaterOrEqual(t, server.Stats().PacketsReceived, 100)
	assert.Equal(t, clientHost.A, server.RemoteAddr().A)
	assert.Equal(t, uint16(clientPort), server.RemoteAddr().Port)
}

func TestReliableRecoversFromLoss(t *testing.T) {
	cfg := testConfig()
	network := newMemNetwork()
	// one frame in ten is lost in either direction, data and acks alike. The
	// filter runs under the network lock, so the source needs no locking.
	rng := rand.New(rand.NewSource(7))
	network.setFilter(func(from, to Address, frame []byte) bool {
		return rng.Intn(10) == 0
	})
	client, server := newPair(t, network, cfg, cfg)

	sendAndCollect(t, client, server, 60)
	require.NoError(t, client.Flush(3*cfg.Timeout))
	assert.NotZero(t, client.Stats().Retransmits)
}

func TestReliableReordersEarlyArrivals(t *testing.T) {
	cfg := testConfig()
	network := newMemNetwork()
	var droppedFirst int32
	network.setFilter(func(from, to Address, frame []byte) bool {
		seq, ok := dataSeq(cfg, frame)
		// lose the first transmission of seq 0 so that 1..n arrive ahead of it
		return ok && seq == 0 && atomic.CompareAndSwapInt32(&droppedFirst, 0, 1)
	})
	client, server := newPair(t, network, cfg, cfg)

	sendAndCollect(t, client, server, 10)
	assert.Equal(t, int32(1), atomic.LoadInt32(&droppedFirst))
}

func TestReceivePacketTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	server := NewReliableConnection(cfg, newMemNetwork().opener(serverHost), quietLogger())
	require.NoError(t, server.Start(serverPort))
	defer server.Shutdown()
	require.NoError(t, server.Listen())

	n, err := server.ReceivePacket(make([]byte, 16))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestShutdownUnblocksReceive(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = time.Minute
	server := NewReliableConnection(cfg, newMemNetwork().opener(serverHost), quietLogger())
	require.NoError(t, server.Start(serverPort))
	require.NoError(t, server.Listen())

	done := make(chan error, 1)
	go func() {
		_, err := server.ReceivePacket(make([]byte, 16))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.Shutdown())
	require.NoError(t, server.Shutdown())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("ReceivePacket still blocked after Shutdown")
	}
	assert.ErrorIs(t, server.SendPacket([]byte("x")), ErrClosed)
	assert.ErrorIs(t, server.Start(serverPort), ErrClosed)
}

func TestConnectFailsWithoutPeer(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	client := NewReliableConnection(cfg, newMemNetwork().opener(clientHost), quietLogger())
	require.NoError(t, client.Start(clientPort))
	defer client.Shutdown()
	require.NoError(t, client.Connect(Address{A: 10, D: 9, Port: serverPort}))

	require.NoError(t, client.SendPacket([]byte("hello")))
	_, err := client.ReceivePacket(make([]byte, 16))
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		return errors.Is(client.SendPacket([]byte("again")), ErrPeerLost)
	}, time.Second, 20*time.Millisecond)
}

func TestForeignProtocolIgnored(t *testing.T) {
	serverCfg := testConfig()
	serverCfg.Timeout = 200 * time.Millisecond
	clientCfg := serverCfg
	clientCfg.ProtocolID = 0xDEADBEEF
	client, server := newPair(t, newMemNetwork(), clientCfg, serverCfg)

	require.NoError(t, client.SendPacket([]byte("hello")))
	_, err := server.ReceivePacket(make([]byte, 16))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, server.RemoteAddr().IsZero())
}

func TestSendRequiresPeer(t *testing.T) {
	cfg := testConfig()
	idle := NewReliableConnection(cfg, newMemNetwork().opener(clientHost), quietLogger())
	assert.ErrorIs(t, idle.SendPacket([]byte("x")), ErrNotStarted)
	assert.ErrorIs(t, idle.Listen(), ErrNotStarted)
	_, err := idle.ReceivePacket(make([]byte, 4))
	assert.ErrorIs(t, err, ErrNotStarted)

	server := NewReliableConnection(cfg, newMemNetwork().opener(serverHost), quietLogger())
	require.NoError(t, server.Start(serverPort))
	defer server.Shutdown()
	require.NoError(t, server.Listen())
	assert.ErrorIs(t, server.SendPacket([]byte("x")), ErrNotConnected)
	assert.Error(t, server.Listen())
}

func TestReceivePacketShortBuffer(t *testing.T) {
	cfg := testConfig()
	client, server := newPair(t, newMemNetwork(), cfg, cfg)

	require.NoError(t, client.SendPacket([]byte("0123456789")))
	buf := make([]byte, 4)
	n, err := server.ReceivePacket(buf)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.ErrShortBuffer)
	assert.Equal(t, "0123", string(buf))
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Window = 0
	c := NewReliableConnection(cfg, newMemNetwork().opener(clientHost), quietLogger())
	assert.Error(t, c.Start(clientPort))
}

func TestListenerIgnoresStrayAck(t *testing.T) {
	cfg := testConfig()
	network := newMemNetwork()
	server := NewReliableConnection(cfg, network.opener(serverHost), quietLogger())
	require.NoError(t, server.Start(serverPort))
	defer server.Shutdown()
	require.NoError(t, server.Listen())

	raw, err := network.opener(clientHost)(clientPort)
	require.NoError(t, err)
	defer raw.Close()
	to := serverHost
	to.Port = serverPort

	require.NoError(t, raw.Send(encodeEnvelope(cfg.ProtocolID, envelope{kind: kindAck, seq: 3}), to))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, server.RemoteAddr().IsZero())

	require.NoError(t, raw.Send(encodeEnvelope(cfg.ProtocolID, envelope{kind: kindKeepAlive}), to))
	require.Eventually(t, func() bool {
		return !server.RemoteAddr().IsZero()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint16(clientPort), server.RemoteAddr().Port)
}
