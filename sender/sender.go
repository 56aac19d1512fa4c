// sender.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/internal/cli"
	"github.com/mehtab-ctrl/ReliableUDP-assignment1/session"
	"github.com/mehtab-ctrl/ReliableUDP-assignment1/transport"
	"github.com/mehtab-ctrl/ReliableUDP-assignment1/watch"
)

// ---------------------
// Command-Line Arguments
// ---------------------

type Arguments struct {
	cli.Common
	Port       int           // Local port to bind
	ServerPort int           // Receiver's port
	Pacing     time.Duration // Pause after each chunk
	Wait       time.Duration // Wait up to this long for the file to appear (0 = don't wait)
	ServerIP   string        // Receiver's IPv4 address (positional)
	File       string        // File to send (positional)
}

const usage = "usage: sender [flags] <server_ip> <file_path>"

func parseArguments(fs *flag.FlagSet, argv []string) (*Arguments, error) {
	args := &Arguments{}
	args.Common.Register(fs)
	fs.IntVar(&args.Port, "port", 30001, "Local port to bind")
	fs.IntVar(&args.ServerPort, "server-port", 30000, "Receiver port")
	fs.DurationVar(&args.Pacing, "pacing", 10*time.Millisecond, "Pause after each chunk")
	fs.DurationVar(&args.Wait, "wait", 0, "Wait up to this long for the file to appear")
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	if fs.NArg() != 2 {
		return nil, errors.New(usage)
	}
	args.ServerIP, args.File = fs.Arg(0), fs.Arg(1)
	if err := args.Common.Validate(); err != nil {
		return nil, err
	}
	if args.Pacing < 0 {
		return nil, errors.New("-pacing must not be negative")
	}
	if args.ServerPort <= 0 || args.ServerPort > 65535 {
		return nil, errors.Errorf("-server-port %d out of range", args.ServerPort)
	}
	// checked here so a bad address fails before the MQTT dial or file wait
	if _, err := transport.ParseAddress(args.ServerIP, uint16(args.ServerPort)); err != nil {
		return nil, err
	}
	return args, nil
}

func (a *Arguments) sessionConfig() session.Config {
	cfg := a.SessionConfig()
	cfg.LocalPort = a.Port
	cfg.ServerPort = a.ServerPort
	cfg.PacingInterval = a.Pacing
	return cfg
}

// ---------------------
// Sender Main Function
// ---------------------

func senderMain(args *Arguments, log *logrus.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args.Wait > 0 {
		wctx, cancel := context.WithTimeout(ctx, args.Wait)
		err := watch.WaitForFile(wctx, args.File, log)
		cancel()
		if err != nil {
			log.WithError(err).Error("file did not appear")
			return 1
		}
	}

	reporter, closeReporter, err := args.Reporter("sender", log)
	if err != nil {
		log.WithError(err).Error("error connecting to MQTT broker")
		return 1
	}
	defer closeReporter()

	t := args.NewTransport(log)
	sender := session.NewSender(t, args.sessionConfig(), log)
	defer sender.Close()

	// closing the transport is how a running transfer is cancelled
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			log.Warn("interrupted, closing connection")
			t.Shutdown()
		case <-finished:
		}
	}()

	res, err := sender.TransferFile(args.ServerIP, args.File)
	if err != nil {
		log.WithError(err).WithField("kind", session.KindOf(err)).Error("transfer failed")
		return cli.ExitCode(err)
	}
	if st := t.Stats(); st.Retransmits > 0 {
		log.WithFields(logrus.Fields{"retransmits": st.Retransmits, "srtt": st.SmoothedRTT}).Debug("transport stats")
	}
	if err := reporter.Report(res); err != nil {
		log.WithError(err).Warn("error publishing report")
	}
	return 0
}

// ---------------------
// Main
// ---------------------

func main() {
	args, err := parseArguments(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		flag.Usage()
		os.Exit(1)
	}
	log := cli.SetupLogging(args.Debug)
	os.Exit(senderMain(args, log))
}
