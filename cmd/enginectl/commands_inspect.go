package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func buildInspectCmd() *cobra.Command {
	var executionID string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the registry's current snapshot of an execution (§6.1 get_snapshot)",
		Example: "enginectl inspect --execution-id 3c9f...",
		RunE: func(cmd *cobra.Command, args []string) error {
			if executionID == "" {
				return fmt.Errorf("--execution-id is required")
			}
			eng, err := buildEngine(cmd.Context(), configPath, agentsPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			exec, err := eng.orchestrator.GetSnapshot(executionID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(exec)
		},
	}
	cmd.Flags().StringVar(&executionID, "execution-id", "", "execution to inspect")
	return cmd
}
