// Command parley runs the parley chat orchestration server and offers a
// command line client over the same orchestrator.
//
// Usage:
//
//	parley serve [--port 8080]
//	parley chat "What's 2+2?" [--backend local] [--model m] [--stream]
//	parley templates list
//	parley templates run greeting --var name=Ada
//	parley backends
//	parley tools
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhuss/parley/pkg/config"
	"github.com/rhuss/parley/pkg/debug"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// loadFunc loads the configuration and installs the process logger.
type loadFunc func() (*config.Config, *slog.Logger, error)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "parley",
		Short:         "Provider-agnostic streaming chat orchestration",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML or TOML); defaults to PARLEY_CONFIG or ./parley.yaml")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		return cfg, debug.Setup(cfg.Logging, nil), nil
	}

	root.AddCommand(
		newServeCmd(load),
		newChatCmd(load),
		newTemplatesCmd(load),
		newBackendsCmd(load),
		newToolsCmd(load),
		newVersionCmd(),
	)
	return root
}
