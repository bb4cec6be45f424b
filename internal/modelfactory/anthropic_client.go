package modelfactory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/pkg/models"
)

const defaultAnthropicMaxTokens = 4096

type anthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

func newAnthropicClient(modelID string, opts Options) (LLMClient, error) {
	if opts.APIKey == "" {
		return nil, enginerr.Classify(models.ErrorKindConfig, "anthropic client requires an API key", enginerr.ErrProviderUnavailable)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if strings.TrimSpace(opts.BaseURL) != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &anthropicClient{
		client:    anthropic.NewClient(reqOpts...),
		model:     modelID,
		maxTokens: maxTokens,
	}, nil
}

func (c *anthropicClient) SupportsNativeTools() bool { return true }

func (c *anthropicClient) Invoke(ctx context.Context, system string, messages []models.Message, tools []ToolSpec) (Result, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  convertMessages(messages),
		MaxTokens: int64(c.maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Result{}, enginerr.Classify(models.ErrorKindModel, fmt.Sprintf("anthropic invoke failed for model %s", c.model), err)
	}

	var res Result
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			res.Content += variant.Text
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			res.ToolCalls = append(res.ToolCalls, models.ToolCall{
				ID:   variant.ID,
				Name: variant.Name,
				Args: args,
			})
		}
	}
	res.Usage = models.UsageMetadata{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return res, nil
}

func convertMessages(messages []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleHuman:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAI:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal(tc.Args, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError),
			))
		}
	}
	return out
}

func convertTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(t.Schema, &schema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}
