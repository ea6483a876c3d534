// Command actord is the reference host for the actor runtime: a
// registry of counter actors served over HTTP and websocket, the way
// teranos/QNTX's cmd/qntx wraps its graph server for local use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/actorcore/cmd/actord/commands"
)

var rootCmd = &cobra.Command{
	Use:   "actord",
	Short: "actord - reference host for the actor runtime core",
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
