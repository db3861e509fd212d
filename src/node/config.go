package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/chirp/src/common"
	"github.com/sirupsen/logrus"
)

// Config holds the settings of the node loop.
type Config struct {
	// PollTimeout is how long the loop waits for a console command, and then
	// for an inbound message, before moving on.
	PollTimeout time.Duration `mapstructure:"poll-timeout"`
	Logger      *logrus.Logger
}

// NewConfig ...
func NewConfig(pollTimeout time.Duration, logger *logrus.Logger) *Config {
	return &Config{
		PollTimeout: pollTimeout,
		Logger:      logger,
	}
}

// DefaultConfig ...
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		PollTimeout: 1000 * time.Millisecond,
		Logger:      logger,
	}
}

// TestConfig returns a Config with a short poll timeout and a logger that
// writes to t.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.PollTimeout = 10 * time.Millisecond
	config.Logger = common.NewTestLogger(t, common.TestLogLevel)
	return config
}
