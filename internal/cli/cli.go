// Package cli holds the flags and setup shared by the sender and receiver
// commands.
package cli

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mehtab-ctrl/ReliableUDP-assignment1/report"
	"github.com/mehtab-ctrl/ReliableUDP-assignment1/session"
	"github.com/mehtab-ctrl/ReliableUDP-assignment1/transport"
)

// Common holds the flags both commands accept.
type Common struct {
	Connection string        // "udp", "tcp" (KISS TNC) or "serial" (KISS TNC)
	Host       string        // TNC host for tcp
	TNCPort    int           // TNC port for tcp
	SerialPort string        // Serial port (e.g. COM3 or /dev/ttyUSB0)
	Baud       int           // Baud rate for serial
	ProtocolID string        // Reliable connection protocol id
	Timeout    time.Duration // Transport timeout
	PacketSize int           // Largest chunk
	Debug      bool
	MQTT       report.MQTTConfig
}

// Register adds the common flags to fs.
func (c *Common) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.Connection, "connection", "udp", "Connection type: udp, tcp (KISS TNC) or serial (KISS TNC)")
	fs.StringVar(&c.Host, "host", "127.0.0.1", "TNC host for tcp connections")
	fs.IntVar(&c.TNCPort, "tnc-port", 9001, "TNC port for tcp connections")
	fs.StringVar(&c.SerialPort, "serial-port", "", "Serial port (e.g. COM3 or /dev/ttyUSB0)")
	fs.IntVar(&c.Baud, "baud", 115200, "Baud rate for serial")
	fs.StringVar(&c.ProtocolID, "protocol-id", "0x11223344", "Protocol id shared by sender and receiver")
	fs.DurationVar(&c.Timeout, "timeout", 10*time.Second, "Transport timeout")
	fs.IntVar(&c.PacketSize, "packet-size", 1024, "Maximum payload bytes per packet")
	fs.BoolVar(&c.Debug, "debug", false, "Enable debug output")
	fs.StringVar(&c.MQTT.Host, "mqtt-host", "", "MQTT server host")
	fs.IntVar(&c.MQTT.Port, "mqtt-port", 0, "MQTT server port")
	fs.StringVar(&c.MQTT.User, "mqtt-user", "", "MQTT username")
	fs.StringVar(&c.MQTT.Pass, "mqtt-pass", "", "MQTT password")
	fs.StringVar(&c.MQTT.Topic, "mqtt-topic", "", "MQTT topic to publish transfer reports")
	fs.BoolVar(&c.MQTT.TLS, "mqtt-tls", false, "Use TLS for MQTT")
}

// Validate checks option combinations flag parsing cannot.
func (c *Common) Validate() error {
	switch c.Connection {
	case "udp", "tcp":
	case "serial":
		if c.SerialPort == "" {
			return errors.New("-serial-port is required for serial connection")
		}
	default:
		return errors.Errorf("unknown connection type %q", c.Connection)
	}
	if c.PacketSize <= 0 {
		return errors.Errorf("-packet-size must be positive, got %d", c.PacketSize)
	}
	if _, err := c.protocolID(); err != nil {
		return err
	}
	return c.MQTT.Validate()
}

func (c *Common) protocolID() (uint32, error) {
	id, err := strconv.ParseUint(c.ProtocolID, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid -protocol-id %q", c.ProtocolID)
	}
	return uint32(id), nil
}

// TransportConfig derives the reliable connection parameters.
func (c *Common) TransportConfig() transport.Config {
	cfg := transport.DefaultConfig()
	if id, err := c.protocolID(); err == nil {
		cfg.ProtocolID = id
	}
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	return cfg
}

// SessionConfig derives the session parameters.
func (c *Common) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.MaxPacketSize = c.PacketSize
	return cfg
}

// Opener returns the link opener for the selected connection type.
func (c *Common) Opener(log logrus.FieldLogger) transport.LinkOpener {
	switch c.Connection {
	case "tcp":
		return transport.KISSTCP(c.Host, c.TNCPort, log)
	case "serial":
		return transport.KISSSerial(c.SerialPort, c.Baud, log)
	}
	return transport.UDP()
}

// NewTransport builds a reliable connection over the selected link.
func (c *Common) NewTransport(log logrus.FieldLogger) *transport.ReliableConnection {
	return transport.NewReliableConnection(c.TransportConfig(), c.Opener(log), log)
}

// Reporter returns the log reporter, plus an MQTT reporter when MQTT is
// configured. The returned close function releases the broker connection.
func (c *Common) Reporter(clientPrefix string, log logrus.FieldLogger) (report.Reporter, func(), error) {
	reporters := report.Multi{report.LogReporter{Log: log}}
	if !c.MQTT.Enabled() {
		return reporters, func() {}, nil
	}
	clientID := clientPrefix + "-" + fmt.Sprint(time.Now().UnixNano())
	mq, err := report.DialMQTT(c.MQTT, clientID, log)
	if err != nil {
		return nil, nil, err
	}
	return append(reporters, mq), mq.Close, nil
}

// SetupLogging configures the standard logrus logger. Debug adds debug
// entries and the calling function to each line.
func SetupLogging(debug bool) *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	log.SetReportCaller(false)
	if debug {
		log.SetLevel(logrus.DebugLevel)
		log.SetReportCaller(true)
	}
	return log
}

// ExitCode maps a transfer error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
