package modelfactory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/pkg/models"
)

const defaultBedrockMaxTokens = 4096

type bedrockClient struct {
	client    *bedrockruntime.Client
	model     string
	maxTokens int
}

func newBedrockClient(modelID string, opts Options) (LLMClient, error) {
	ctx := context.Background()
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	var awsOpts []func(*awsconfig.LoadOptions) error
	awsOpts = append(awsOpts, awsconfig.WithRegion(region))
	if opts.APIKey != "" {
		// opts.APIKey here carries "access_key_id:secret_access_key" for
		// explicit-credential deployments; the default chain (env, IAM
		// role) is used otherwise.
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.APIKey, "", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, enginerr.Classify(models.ErrorKindConfig, "failed to load AWS config for bedrock client", err)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultBedrockMaxTokens
	}

	return &bedrockClient{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		model:     modelID,
		maxTokens: maxTokens,
	}, nil
}

func (c *bedrockClient) SupportsNativeTools() bool { return true }

func (c *bedrockClient) Invoke(ctx context.Context, system string, messages []models.Message, tools []ToolSpec) (Result, error) {
	req := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model),
		Messages: convertBedrockMessages(messages),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(c.maxTokens)),
		},
	}
	if system != "" {
		req.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}
	if len(tools) > 0 {
		req.ToolConfig = &types.ToolConfiguration{Tools: convertBedrockTools(tools)}
	}

	out, err := c.client.Converse(ctx, req)
	if err != nil {
		return Result{}, enginerr.Classify(models.ErrorKindModel, fmt.Sprintf("bedrock invoke failed for model %s", c.model), err)
	}

	output, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return Result{}, enginerr.Classify(models.ErrorKindModel, "bedrock returned no message output", nil)
	}

	var res Result
	for _, block := range output.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			res.Content += v.Value
		case *types.ContentBlockMemberToolUse:
			args, _ := json.Marshal(v.Value.Input)
			res.ToolCalls = append(res.ToolCalls, models.ToolCall{
				ID:   aws.ToString(v.Value.ToolUseId),
				Name: aws.ToString(v.Value.Name),
				Args: args,
			})
		}
	}
	if out.Usage != nil {
		res.Usage = models.UsageMetadata{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return res, nil
}

func convertBedrockMessages(messages []models.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		var content []types.ContentBlock
		role := types.ConversationRoleUser

		switch m.Role {
		case models.RoleAI:
			role = types.ConversationRoleAssistant
			if m.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var input document.Interface
				_ = json.Unmarshal(tc.Args, &input)
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(tc.Args),
					},
				})
			}
		case models.RoleTool:
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: m.Content},
					},
					Status: toolResultStatus(m.IsError),
				},
			})
		default:
			content = append(content, &types.ContentBlockMemberText{Value: m.Content})
		}

		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}

func toolResultStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func convertBedrockTools(tools []ToolSpec) []types.Tool {
	out := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(t.Schema),
				},
			},
		})
	}
	return out
}
