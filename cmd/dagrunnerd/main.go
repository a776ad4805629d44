// Command dagrunnerd runs the dagrunner scheduling daemon, or drives it
// one-off from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/ashgrove/dagrunner/cmd/dagrunnerd/commands"
)

var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dagrunnerd: %v\n", err)
		os.Exit(1)
	}
}
