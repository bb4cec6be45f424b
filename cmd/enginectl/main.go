// Command enginectl is the CLI entry point for the orchestration engine:
// it loads an engine configuration and an agent roster, wires up every
// C1-C11 component, and exposes them through a small set of subcommands
// driven by NDJSON over stdin/stdout (§6.1, §6.2).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// configPath and agentsPath are shared across every subcommand that needs
// to build an engine, set once via root's persistent flags.
var (
	configPath string
	agentsPath string
)

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "enginectl",
		Short: "Run and inspect the multi-agent orchestration engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "engine.yaml", "path to the engine configuration file")
	root.PersistentFlags().StringVar(&agentsPath, "agents", "agents.yaml", "path to the agent roster file")
	root.AddCommand(buildServeCmd(), buildInspectCmd(), buildRespondInterruptCmd())
	return root
}
