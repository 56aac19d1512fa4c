// Package report publishes transfer summaries: to the log, and optionally to
// an MQTT broker so other tools can follow transfers.
package report

import (
	"github.com/sirupsen/logrus"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/session"
)

// Reporter receives the summary of each finished transfer.
type Reporter interface {
	Report(res *session.Result) error
	ReportReceipt(rc *session.Receipt) error
}

// Multi forwards to every reporter and returns the first error.
type Multi []Reporter

func (m Multi) Report(res *session.Result) error {
	var first error
	for _, r := range m {
		if err := r.Report(res); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) ReportReceipt(rc *session.Receipt) error {
	var first error
	for _, r := range m {
		if err := r.ReportReceipt(rc); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogReporter writes one Info line per transfer.
type LogReporter struct {
	Log logrus.FieldLogger
}

func (l LogReporter) logger() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

func (l LogReporter) Report(res *session.Result) error {
	l.logger().WithFields(logrus.Fields{
		"session": res.SessionID,
		"file":    res.FilePath,
		"size":    res.FileSize,
		"crc32":   res.Checksum,
		"chunks":  res.Chunks,
		"elapsed": res.Elapsed,
		"mbps":    res.Mbps,
		"outcome": res.Outcome,
	}).Info("transfer summary")
	return nil
}

func (l LogReporter) ReportReceipt(rc *session.Receipt) error {
	l.logger().WithFields(logrus.Fields{
		"session": rc.SessionID,
		"remote":  rc.Remote,
		"size":    rc.DeclaredSize,
		"crc32":   rc.Computed,
		"output":  rc.OutputPath,
		"elapsed": rc.Elapsed,
		"mbps":    rc.Mbps,
		"verdict": rc.Verdict,
	}).Info("receive summary")
	return nil
}
