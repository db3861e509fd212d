package commands

import (
	"github.com/mosaicnetworks/chirp/src/config"
)

// CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Chirp config.Config `mapstructure:",squash"`
}

// NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Chirp: *config.NewDefaultConfig(),
	}
}
