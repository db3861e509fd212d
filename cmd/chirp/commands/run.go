package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/chirp/src/chirp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRunCmd returns the command that starts a chirp node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runChirp,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runChirp(cmd *cobra.Command, args []string) error {
	engine := chirp.NewChirp(&_config.Chirp, os.Stdin, os.Stdout)

	if err := engine.Init(); err != nil {
		_config.Chirp.Logger().WithError(err).Error("Cannot initialize engine")
		return err
	}

	// interrupt stops the node loop, which closes the transport and stores
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			engine.Shutdown()
		}
	}()

	if err := engine.Run(); err != nil {
		_config.Chirp.Logger().WithError(err).Error("Node stopped")
		return err
	}

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Chirp.DataDir, "Storage root, containing peers.csv and one directory per node")
	cmd.Flags().StringP("name", "n", _config.Chirp.Name, "Name of this node in the directory")
	cmd.Flags().String("peers", _config.Chirp.PeersFile, "Directory file (defaults to [datadir]/peers.csv)")
	cmd.Flags().String("log", _config.Chirp.LogLevel, "debug, info, warn, error, fatal, panic")

	// Network
	cmd.Flags().DurationP("timeout", "t", _config.Chirp.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-frame", _config.Chirp.MaxFrame, "Largest inbound message in bytes")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.Chirp.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.Chirp.NoService, "Disable HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Chirp.Store, "Persist node state in badgerDB instead of memory")

	// Node configuration
	cmd.Flags().Duration("poll-timeout", _config.Chirp.PollTimeout, "Time spent waiting on each input source")
	cmd.Flags().String("merge-policy", _config.Chirp.MergePolicy, "full, sender-row")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	if err := _config.Chirp.Validate(); err != nil {
		return err
	}

	_config.Chirp.Logger().WithFields(logrus.Fields{
		"chirp.DataDir":     _config.Chirp.DataDir,
		"chirp.Name":        _config.Chirp.Name,
		"chirp.PeersFile":   _config.Chirp.PeersPath(),
		"chirp.LogLevel":    _config.Chirp.LogLevel,
		"chirp.TCPTimeout":  _config.Chirp.TCPTimeout,
		"chirp.PollTimeout": _config.Chirp.PollTimeout,
		"chirp.Store":       _config.Chirp.Store,
		"chirp.MergePolicy": _config.Chirp.MergePolicy,
		"chirp.ServiceAddr": _config.Chirp.ServiceAddr,
		"chirp.NoService":   _config.Chirp.NoService,
		"chirp.MaxFrame":    _config.Chirp.MaxFrame,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/chirp.toml (.json, .yaml also work)
	viper.SetConfigName("chirp")               // name of config file (without extension)
	viper.AddConfigPath(_config.Chirp.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
