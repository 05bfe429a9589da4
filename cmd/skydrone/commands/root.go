package commands

import (
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"
)

const configEnv = "SKYDRONE_CONFIG"

var log = logging.MustGetLogger("skydrone")

var rootCmd = &cobra.Command{
	Use:   "skydrone",
	Short: "Simulates source-routed drone networks",
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
