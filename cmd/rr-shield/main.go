package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/config"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-shield"
)

// loadConfig is swapped out in tests.
var loadConfig = config.Load

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Ad and tracker blocking engine host",
		Long:          `Acquires a compiled filter engine, enables it on browsing sessions and keeps it fresh.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newUpdateCmd(),
		newCacheCmd(),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration, configures global logging and wires the
// application.
func setup() (*Application, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("logging configuration error: %w", err)
	}
	return buildApplication(cfg)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}
}
