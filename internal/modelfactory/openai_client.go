package modelfactory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIMaxTokens = 4096

type openAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func newOpenAIClient(modelID string, opts Options) (LLMClient, error) {
	var client *openai.Client
	switch {
	case opts.OAuth != nil:
		if opts.BaseURL == "" {
			return nil, enginerr.Classify(models.ErrorKindConfig, "oauth-fronted openai client requires a base url", enginerr.ErrProviderUnavailable)
		}
		cfg := openai.DefaultConfig("")
		cfg.BaseURL = opts.BaseURL
		cfg.HTTPClient = opts.OAuth.httpClient(context.Background())
		client = openai.NewClientWithConfig(cfg)
	case opts.APIKey != "":
		if opts.BaseURL != "" {
			cfg := openai.DefaultConfig(opts.APIKey)
			cfg.BaseURL = opts.BaseURL
			client = openai.NewClientWithConfig(cfg)
		} else {
			client = openai.NewClient(opts.APIKey)
		}
	default:
		return nil, enginerr.Classify(models.ErrorKindConfig, "openai client requires an API key or OAuth credentials", enginerr.ErrProviderUnavailable)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultOpenAIMaxTokens
	}

	return &openAIClient{client: client, model: modelID, maxTokens: maxTokens}, nil
}

func (c *openAIClient) SupportsNativeTools() bool { return true }

func (c *openAIClient) Invoke(ctx context.Context, system string, messages []models.Message, tools []ToolSpec) (Result, error) {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		chatMessages = append(chatMessages, convertOpenAIMessage(m))
	}

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  chatMessages,
		MaxTokens: c.maxTokens,
	}
	if len(tools) > 0 {
		req.Tools = convertOpenAITools(tools)
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Result{}, enginerr.Classify(models.ErrorKindModel, fmt.Sprintf("openai invoke failed for model %s", c.model), err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, enginerr.Classify(models.ErrorKindModel, "openai returned no choices", nil)
	}

	choice := resp.Choices[0].Message
	var toolCalls []models.ToolCall
	for _, tc := range choice.ToolCalls {
		toolCalls = append(toolCalls, models.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}

	return Result{
		Content:   choice.Content,
		ToolCalls: toolCalls,
		Usage: models.UsageMetadata{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

func convertOpenAIMessage(m models.Message) openai.ChatCompletionMessage {
	switch m.Role {
	case models.RoleHuman:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content}
	case models.RoleAI:
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		return msg
	case models.RoleTool:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: m.Content, ToolCallID: m.ToolCallID}
	default:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content}
	}
}

func convertOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}
