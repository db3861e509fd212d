package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

// RootCmd is the root command for chirp
var RootCmd = &cobra.Command{
	Use:              "chirp",
	Short:            "causally ordered peer-to-peer feed",
	TraverseChildren: true,
	// Do not print usage when error occurs
	SilenceUsage: true,
}

// Execute registers the subcommands and runs the one selected by the command
// line. The returned error is the one of the failed command.
func Execute() error {
	RootCmd.AddCommand(
		VersionCmd,
		NewRunCmd(),
	)
	return RootCmd.Execute()
}
