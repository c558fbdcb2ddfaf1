// Command bridge keeps a bot connected to voice/chat servers and forwards
// join/leave presence to Telegram subscribers.
//
//	bridge serve --config config.yaml
//	bridge hash-password
//	bridge token
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func buildRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "bridge",
		Short:        "Voice/chat presence to Telegram bridge",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	serveCmd := buildServeCmd(opts)
	rootCmd.RunE = serveCmd.RunE

	rootCmd.AddCommand(
		serveCmd,
		buildHashPasswordCmd(),
		buildTokenCmd(opts),
		buildVersionCmd(),
	)
	return rootCmd
}
