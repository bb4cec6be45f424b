package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/internal/orchestrator"
	"github.com/fluxorch/engine/pkg/models"
)

// serveRequest is one line of §6.1's execute() request, read from stdin.
type serveRequest struct {
	Input           string          `json:"input"`
	AgentID         string          `json:"agent_id"`
	UserID          string          `json:"user_id"`
	PriorMessages   []models.Message `json:"prior_messages"`
	ForceSupervised bool            `json:"force_supervised"`
	Options         serveReqOptions `json:"options"`
}

type serveReqOptions struct {
	TimeoutMS     int    `json:"timeout_ms"`
	MaxToolCalls  int    `json:"max_tool_calls"`
	MaxAgentSteps int    `json:"max_agent_steps"`
	ModelOverride string `json:"model_override"`
}

func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read execute() requests as NDJSON from stdin and write results and events as NDJSON to stdout",
		Long: "Each line of stdin is one §6.1 execute() request. serve runs it to completion, " +
			"writing every event the run emits (§6.2) as its own line, then one final result line.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

func runServe(ctx context.Context, in io.Reader, out io.Writer) error {
	eng, err := buildEngine(ctx, configPath, agentsPath)
	if err != nil {
		return err
	}
	defer eng.Close()

	var writeMu sync.Mutex
	enc := json.NewEncoder(out)
	encode := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return enc.Encode(v)
	}

	sub := eng.orchestrator.Subscribe(events.Filter{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range sub.Events() {
			_ = encode(e)
		}
	}()
	defer func() {
		sub.Close()
		wg.Wait()
	}()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req serveRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = encode(map[string]string{"error": fmt.Sprintf("invalid request: %v", err)})
			continue
		}
		result, err := eng.orchestrator.Execute(ctx, orchestrator.Request{
			Input:           req.Input,
			AgentID:         req.AgentID,
			UserID:          req.UserID,
			PriorMessages:   req.PriorMessages,
			ForceSupervised: req.ForceSupervised,
			Options: orchestrator.RequestOptions{
				TimeoutMS:     req.Options.TimeoutMS,
				MaxToolCalls:  req.Options.MaxToolCalls,
				MaxAgentSteps: req.Options.MaxAgentSteps,
				ModelOverride: req.Options.ModelOverride,
			},
		})
		if err != nil {
			if encErr := encode(map[string]string{"error": err.Error()}); encErr != nil {
				return fmt.Errorf("write error result: %w", encErr)
			}
			continue
		}
		if err := encode(result); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	return scanner.Err()
}
