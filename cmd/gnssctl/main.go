// Command gnssctl duty-cycles a serial GNSS receiver and publishes its status.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "gnssctl",
		Short:         "Power-managed GNSS receiver controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/gnssctl.yaml", "Path to YAML config")

	root.AddCommand(runCmd(&configPath))
	root.AddCommand(probeCmd(&configPath))
	root.AddCommand(resetCmd(&configPath))
	root.AddCommand(monitorCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
