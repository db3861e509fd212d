package main

import (
	"os"

	"github.com/mosaicnetworks/chirp/cmd/chirp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
