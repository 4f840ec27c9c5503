// Command progressctl administers the Shadow Ranch progress store.
package main

import (
	"os"

	"github.com/alem-hub/shadow-ranch/cmd/progressctl/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := commands.NewRootCmd()
	commands.SetVersionInfo(root, version, commit, date)

	// Errors are already printed in color by the commands package
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
