// receiver.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/internal/cli"
	"github.com/mehtab-ctrl/ReliableUDP-assignment1/monitor"
	"github.com/mehtab-ctrl/ReliableUDP-assignment1/session"
)

// ---------------------
// Command-Line Arguments
// ---------------------

type Arguments struct {
	cli.Common
	Port        int    // Port to listen on
	Output      string // Where to write the received file
	Replace     bool   // Overwrite existing files instead of adding a _N suffix
	OneFile     bool   // Exit after one transfer
	NegativeAck bool   // Answer a checksum mismatch with FAIL instead of silence
	HTTPPort    int    // Monitor HTTP port (0 = disabled)
	HTTPLogFile string // Monitor access log (default stderr)
	History     int    // Receipts kept for /transfers
}

func parseArguments(fs *flag.FlagSet, argv []string) (*Arguments, error) {
	args := &Arguments{}
	args.Common.Register(fs)
	fs.IntVar(&args.Port, "port", 30000, "Port to listen on")
	fs.StringVar(&args.Output, "output", "received.bin", "Output file")
	fs.BoolVar(&args.Replace, "replace", false, "Overwrite existing files if a new file is received with the same name")
	fs.BoolVar(&args.OneFile, "one-file", false, "Exit after receiving one file")
	fs.BoolVar(&args.NegativeAck, "negative-ack", false, "Send FAIL to the sender on checksum mismatch")
	fs.IntVar(&args.HTTPPort, "http-port", 0, "Serve transfer status and Socket.IO events on this port (0 = disabled)")
	fs.StringVar(&args.HTTPLogFile, "http-log-file", "", "HTTP access log file (default stderr)")
	fs.IntVar(&args.History, "history", 32, "Number of transfers listed by /transfers")
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	if fs.NArg() != 0 {
		return nil, errors.Errorf("unexpected arguments %q", fs.Args())
	}
	if err := args.Common.Validate(); err != nil {
		return nil, err
	}
	if args.Port <= 0 || args.Port > 65535 {
		return nil, errors.Errorf("-port %d out of range", args.Port)
	}
	return args, nil
}

func (a *Arguments) sessionConfig() session.Config {
	cfg := a.SessionConfig()
	cfg.ServerPort = a.Port
	cfg.Replace = a.Replace
	cfg.NegativeAck = a.NegativeAck
	return cfg
}

// startMonitor serves the monitor when -http-port is set. The returned
// function stops it.
func startMonitor(args *Arguments, log logrus.FieldLogger) (*monitor.Monitor, func(), error) {
	if args.HTTPPort == 0 {
		return nil, func() {}, nil
	}
	var accessLog io.Writer = os.Stderr
	var logFile *os.File
	if args.HTTPLogFile != "" {
		f, err := os.OpenFile(args.HTTPLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open HTTP log file")
		}
		accessLog, logFile = f, f
	}
	mon := monitor.New(args.History, log)
	srv, err := mon.Serve(fmt.Sprintf(":%d", args.HTTPPort), accessLog)
	if err != nil {
		mon.Close()
		if logFile != nil {
			logFile.Close()
		}
		return nil, nil, err
	}
	return mon, func() {
		srv.Shutdown(2 * time.Second)
		mon.Close()
		if logFile != nil {
			logFile.Close()
		}
	}, nil
}

// ---------------------
// Receiver Main Function
// ---------------------

func receiverMain(args *Arguments, log *logrus.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon, stopMonitor, err := startMonitor(args, log)
	if err != nil {
		log.WithError(err).Error("error starting monitor")
		return 1
	}
	defer stopMonitor()

	reporter, closeReporter, err := args.Reporter("receiver", log)
	if err != nil {
		log.WithError(err).Error("error connecting to MQTT broker")
		return 1
	}
	defer closeReporter()

	// each transfer gets its own connection: the listener adopts the first
	// peer it hears from
	for {
		t := args.NewTransport(log)
		r := session.NewReceiver(t, args.sessionConfig(), log)
		if mon != nil {
			r.Observe(mon)
		}

		finished := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				t.Shutdown()
			case <-finished:
			}
		}()
		receipt, err := r.ReceiveFile(args.Output)
		close(finished)
		t.Shutdown()

		if ctx.Err() != nil {
			log.Info("shutting down receiver")
			return 0
		}
		if err != nil {
			kind := session.KindOf(err)
			log.WithError(err).WithField("kind", kind).Error("transfer failed")
			if kind == session.SetupError || kind == session.ArgumentError || args.OneFile {
				return 1
			}
			continue
		}
		if err := reporter.ReportReceipt(receipt); err != nil {
			log.WithError(err).Warn("error publishing report")
		}
		if args.OneFile {
			log.Info("received one file, exiting as -one-file is set")
			return 0
		}
	}
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
	os.Exit(receiverMain(args, log))
}
