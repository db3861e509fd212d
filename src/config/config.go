package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/chirp/src/clock"
	"github.com/mosaicnetworks/chirp/src/common"
	"github.com/mosaicnetworks/chirp/src/net"
	"github.com/mosaicnetworks/chirp/src/node"
	"github.com/mosaicnetworks/chirp/src/peers"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultPeersFile is the default name of the node directory file, in the
	// data directory.
	DefaultPeersFile = "peers.csv"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database, in the node directory.
	DefaultBadgerFile = "badger_db"

	// DefaultLogFile is the default name of the file receiving the logs, in
	// the node directory.
	DefaultLogFile = "chirp.log"
)

// Default configuration values.
const (
	DefaultLogLevel    = "info"
	DefaultServiceAddr = "127.0.0.1:8000"
	DefaultTCPTimeout  = 1000 * time.Millisecond
	DefaultPollTimeout = 1000 * time.Millisecond
	DefaultStore       = true
	DefaultNoService   = false
	DefaultMergePolicy = "full"
	DefaultMaxFrame    = net.DefaultMaxFrame
)

// Config contains all the configuration properties of a chirp node.
type Config struct {
	// DataDir is the storage root. It contains the directory file, and one
	// sub-directory per node name holding the log, the state database and
	// the log file.
	DataDir string `mapstructure:"datadir"`

	// Name is the directory entry this process runs as.
	Name string `mapstructure:"name"`

	// PeersFile overrides the location of the directory file. When empty,
	// peers.csv is read from DataDir.
	PeersFile string `mapstructure:"peers"`

	// LogLevel determines the chattiness of the log file.
	LogLevel string `mapstructure:"log"`

	// TCPTimeout bounds outbound dials and writes, and inbound reads.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// PollTimeout is how long the node loop waits on each input source.
	PollTimeout time.Duration `mapstructure:"poll-timeout"`

	// Store activates the persistent badger state store. When false, the
	// clock snapshot, pending queues and buffer are kept in memory and only
	// the log survives a restart.
	Store bool `mapstructure:"store"`

	// MergePolicy selects how received clocks are merged: "full" or
	// "sender-row".
	MergePolicy string `mapstructure:"merge-policy"`

	// ServiceAddr is the address:port of the HTTP inspection API.
	ServiceAddr string `mapstructure:"service-listen"`

	// NoService disables the HTTP inspection API.
	NoService bool `mapstructure:"no-service"`

	// MaxFrame is the largest inbound message accepted, in bytes.
	MaxFrame int `mapstructure:"max-frame"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:     DefaultDataDir(),
		LogLevel:    DefaultLogLevel,
		TCPTimeout:  DefaultTCPTimeout,
		PollTimeout: DefaultPollTimeout,
		Store:       DefaultStore,
		MergePolicy: DefaultMergePolicy,
		ServiceAddr: DefaultServiceAddr,
		NoService:   DefaultNoService,
		MaxFrame:    DefaultMaxFrame,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("node name is required")
	}
	if err := peers.ValidateName(c.Name); err != nil {
		return err
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.MaxFrame <= 0 {
		return fmt.Errorf("max-frame must be positive, not %d", c.MaxFrame)
	}
	return nil
}

// PeersPath returns the full path of the directory file.
func (c *Config) PeersPath() string {
	if c.PeersFile != "" {
		return c.PeersFile
	}
	return filepath.Join(c.DataDir, DefaultPeersFile)
}

// NodeDir returns the directory holding this node's files.
func (c *Config) NodeDir() string {
	return filepath.Join(c.DataDir, c.Name)
}

// BadgerDir returns the full path of the badger database.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.NodeDir(), DefaultBadgerFile)
}

// LogFile returns the full path of the file receiving the logs.
func (c *Config) LogFile() string {
	return filepath.Join(c.NodeDir(), DefaultLogFile)
}

// Policy parses MergePolicy.
func (c *Config) Policy() (clock.MergePolicy, error) {
	return clock.ParseMergePolicy(c.MergePolicy)
}

// NodeConfig returns the settings of the node loop.
func (c *Config) NodeConfig() *node.Config {
	return node.NewConfig(c.PollTimeout, c.Logger().Logger)
}

// Logger returns a formatted logrus Entry, with prefix set to "chirp".
//
// The console is interactive, so only warnings and errors reach the
// terminal. Every enabled level is written to LogFile.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = c.newLogger()
	}
	return c.logger.WithField("prefix", "chirp")
}

func (c *Config) newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Level = LogLevel(c.LogLevel)
	logger.Formatter = new(prefixed.TextFormatter)

	logger.Out = ioutil.Discard
	logger.Hooks.Add(lfshook.NewHook(
		lfshook.WriterMap{
			logrus.WarnLevel:  os.Stderr,
			logrus.ErrorLevel: os.Stderr,
			logrus.FatalLevel: os.Stderr,
			logrus.PanicLevel: os.Stderr,
		},
		new(prefixed.TextFormatter),
	))

	if err := os.MkdirAll(c.NodeDir(), 0700); err != nil {
		logger.WithError(err).Warn("Cannot create node directory, logging to stderr only")
		return logger
	}

	pathMap := lfshook.PathMap{}
	for _, level := range logrus.AllLevels {
		pathMap[level] = c.LogFile()
	}
	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&prefixed.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		},
	))

	return logger
}

// DefaultDataDir return the default storage root based on the underlying OS,
// attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Chirp")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Chirp")
		} else {
			return filepath.Join(home, ".chirp")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
