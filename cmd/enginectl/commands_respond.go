package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxorch/engine/pkg/models"
)

func buildRespondInterruptCmd() *cobra.Command {
	var (
		executionID string
		respType    string
		text        string
		args        string
	)
	cmd := &cobra.Command{
		Use:   "respond-interrupt",
		Short: "Resolve a pending approval on an execution (§6.1 respond_to_interrupt)",
		Example: "enginectl respond-interrupt --execution-id 3c9f... --type accept",
		RunE: func(cmd *cobra.Command, cobraArgs []string) error {
			if executionID == "" {
				return fmt.Errorf("--execution-id is required")
			}
			typ, err := parseInterruptRespType(respType)
			if err != nil {
				return err
			}
			eng, err := buildEngine(cmd.Context(), configPath, agentsPath)
			if err != nil {
				return err
			}
			defer eng.Close()

			outcome := eng.orchestrator.RespondToInterrupt(cmd.Context(), executionID, models.InterruptResponse{
				Type: typ,
				Text: text,
				Args: []byte(args),
			})
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&executionID, "execution-id", "", "execution whose pending approval this resolves")
	cmd.Flags().StringVar(&respType, "type", "", "one of accept, edit, respond, ignore")
	cmd.Flags().StringVar(&text, "text", "", "free-form reply text, for type=respond")
	cmd.Flags().StringVar(&args, "args", "", "replacement tool-call arguments as JSON, for type=edit")
	return cmd
}

func parseInterruptRespType(s string) (models.InterruptRespType, error) {
	switch models.InterruptRespType(s) {
	case models.RespAccept, models.RespEdit, models.RespRespond, models.RespIgnore:
		return models.InterruptRespType(s), nil
	default:
		return "", fmt.Errorf("--type must be one of accept, edit, respond, ignore (got %q)", s)
	}
}
