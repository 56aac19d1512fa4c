package main

import (
	"bytes"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/session"
	"github.com/mehtab-ctrl/ReliableUDP-assignment1/transport"
)

func parse(argv ...string) (*Arguments, error) {
	fs := flag.NewFlagSet("receiver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return parseArguments(fs, argv)
}

func freePort(t *testing.T, network string) int {
	t.Helper()
	if network == "udp" {
		c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		defer c.Close()
		return c.LocalAddr().(*net.UDPAddr).Port
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestParseArgumentsDefaults(t *testing.T) {
	args, err := parse()
	require.NoError(t, err)
	assert.Equal(t, "received.bin", args.Output)
	assert.Zero(t, args.HTTPPort)
	assert.Equal(t, 32, args.History)

	cfg := args.sessionConfig()
	assert.Equal(t, 30000, cfg.ServerPort)
	assert.False(t, cfg.Replace)
	assert.False(t, cfg.NegativeAck)
}

func TestParseArgumentsOverrides(t *testing.T) {
	args, err := parse("-port", "4500", "-output", "out.dat", "-replace", "-negative-ack", "-one-file", "-packet-size", "256")
	require.NoError(t, err)
	assert.True(t, args.OneFile)
	assert.Equal(t, "out.dat", args.Output)

	cfg := args.sessionConfig()
	assert.Equal(t, 4500, cfg.ServerPort)
	assert.Equal(t, 256, cfg.MaxPacketSize)
	assert.True(t, cfg.Replace)
	assert.True(t, cfg.NegativeAck)
}

func TestParseArgumentsRejects(t *testing.T) {
	for _, argv := range [][]string{
		{"extra"},
		{"-port", "0"},
		{"-port", "70000"},
		{"-connection", "serial"},
		{"-protocol-id", "0x1FFFFFFFF"},
		{"-mqtt-host", "broker", "-mqtt-port", "1883"},
	} {
		_, err := parse(argv...)
		assert.Error(t, err, "%q", argv)
	}
}

func TestStartMonitorDisabled(t *testing.T) {
	args, err := parse()
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	mon, stop, err := startMonitor(args, log)
	require.NoError(t, err)
	assert.Nil(t, mon)
	stop()
}

func TestStartMonitorServesStatus(t *testing.T) {
	accessLog := filepath.Join(t.TempDir(), "access.log")
	port := freePort(t, "tcp")
	args, err := parse("-http-port", strconv.Itoa(port), "-http-log-file", accessLog)
	require.NoError(t, err)
	log, _ := test.NewNullLogger()

	mon, stop, err := startMonitor(args, log)
	require.NoError(t, err)
	require.NotNil(t, mon)

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	stop()

	b, err := os.ReadFile(accessLog)
	require.NoError(t, err)
	assert.Contains(t, string(b), "GET /status")
}

func TestStartMonitorBadLogFile(t *testing.T) {
	args, err := parse("-http-port", strconv.Itoa(freePort(t, "tcp")),
		"-http-log-file", filepath.Join(t.TempDir(), "missing", "access.log"))
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	_, _, err = startMonitor(args, log)
	assert.Error(t, err)
}

func TestReceiverMainOneFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")
	port := freePort(t, "udp")
	args, err := parse("-port", strconv.Itoa(port), "-output", out, "-one-file")
	require.NoError(t, err)
	log, _ := test.NewNullLogger()

	code := make(chan int, 1)
	go func() { code <- receiverMain(args, log) }()

	data := bytes.Repeat([]byte{0xA5, 0x5A, 0x00}, 1100)
	in := filepath.Join(dir, "in.bin")
	require.NoError(t, os.WriteFile(in, data, 0644))

	cfg := session.DefaultConfig()
	cfg.LocalPort = 0
	cfg.ServerPort = port
	cfg.PacingInterval = time.Millisecond
	st := transport.NewReliableConnection(transport.DefaultConfig(), transport.UDP(), log)
	s := session.NewSender(st, cfg, log)
	defer s.Close()

	res, err := s.TransferFile("127.0.0.1", in)
	require.NoError(t, err)
	assert.Equal(t, session.OutcomeConfirmed, res.Outcome)

	select {
	case c := <-code:
		assert.Equal(t, 0, c)
	case <-time.After(10 * time.Second):
		t.Fatal("receiver did not exit after one file")
	}
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReceiverMainPortInUse(t *testing.T) {
	taken, err := net.ListenUDP("udp4", &net.UDPAddr{})
	require.NoError(t, err)
	defer taken.Close()

	args, err := parse("-port", strconv.Itoa(taken.LocalAddr().(*net.UDPAddr).Port), "-output", filepath.Join(t.TempDir(), "o"))
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	assert.Equal(t, 1, receiverMain(args, log))
}
