package session

import (
	"time"

	"github.com/pkg/errors"
)

// Config holds the session parameters. They are fixed for one transfer.
type Config struct {
	LocalPort      int           // sender's bound port
	ServerPort     int           // receiver's listening port
	MaxPacketSize  int           // largest payload chunk
	PacingInterval time.Duration // pause after each chunk; zero disables it
	NegativeAck    bool          // receiver answers a checksum mismatch with FAIL
	Replace        bool          // receiver overwrites an existing output file
	FlushTimeout   time.Duration // how long the receiver waits for its ack to be delivered
}

// DefaultConfig returns the values the command-line tools start from.
func DefaultConfig() Config {
	return Config{
		LocalPort:      30001,
		ServerPort:     30000,
		MaxPacketSize:  1024,
		PacingInterval: 10 * time.Millisecond,
		FlushTimeout:   5 * time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxPacketSize <= 0:
		return errors.Errorf("packet size must be positive, got %d", c.MaxPacketSize)
	case c.PacingInterval < 0:
		return errors.Errorf("pacing interval must not be negative, got %v", c.PacingInterval)
	case c.LocalPort < 0 || c.LocalPort > 65535:
		return errors.Errorf("local port %d out of range", c.LocalPort)
	case c.ServerPort <= 0 || c.ServerPort > 65535:
		return errors.Errorf("server port %d out of range", c.ServerPort)
	case c.FlushTimeout < 0:
		return errors.New("flush timeout must not be negative")
	}
	return nil
}
