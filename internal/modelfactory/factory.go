// Package modelfactory implements the Model Factory (C4): a cached
// `get(model_id, options) -> LLMClient` lookup over the configured LLM
// providers.
package modelfactory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/fluxorch/engine/internal/enginerr"
	"github.com/fluxorch/engine/pkg/models"
)

// ToolSpec is the provider-agnostic tool definition passed to Invoke when
// the caller wants native tool-calling.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Result is what an LLMClient.Invoke call returns: the assistant's content,
// any tool calls it requested, and token usage for cost accounting.
type Result struct {
	Content   string
	ToolCalls []models.ToolCall
	Usage     models.UsageMetadata
}

// LLMClient is the uniform interface every provider implementation
// presents to the rest of the engine (§4.4).
type LLMClient interface {
	Invoke(ctx context.Context, system string, messages []models.Message, tools []ToolSpec) (Result, error)
	SupportsNativeTools() bool
}

// Options configures a client instance. Two Get calls for the same model_id
// with equal Options (by value) share a cached client.
type Options struct {
	APIKey      string
	BaseURL     string
	Region      string
	MaxTokens   int
	Temperature float64

	// OAuth, when set, tells the OpenAI-compatible client to authenticate
	// via client-credentials OAuth2 refresh instead of a static APIKey —
	// for a gateway that sits in front of the actual model provider.
	OAuth *OAuthCredentials
}

func (o Options) hash() string {
	b, _ := json.Marshal(o)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Factory caches LLMClient instances by {model_id, hash(options)} with
// unbounded process lifetime, per §4.4 ("models are cheap handles to
// remote services").
type Factory struct {
	mu    sync.Mutex
	cache map[string]LLMClient
}

// New constructs an empty Factory.
func New() *Factory {
	return &Factory{cache: make(map[string]LLMClient)}
}

// Get returns the cached client for (modelID, options), constructing and
// caching one on first use. Fails with enginerr.ErrModelUnknown if modelID
// maps to no known provider, or enginerr.ErrProviderUnavailable if the
// provider's credentials/transport cannot be built.
func (f *Factory) Get(modelID string, opts Options) (LLMClient, error) {
	key := modelID + ":" + opts.hash()

	f.mu.Lock()
	if c, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return c, nil
	}
	f.mu.Unlock()

	client, err := f.build(modelID, opts)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cache[key]; ok {
		return c, nil
	}
	f.cache[key] = client
	return client, nil
}

func (f *Factory) build(modelID string, opts Options) (LLMClient, error) {
	switch providerOf(modelID) {
	case "anthropic":
		return newAnthropicClient(modelID, opts)
	case "openai":
		return newOpenAIClient(modelID, opts)
	case "bedrock":
		return newBedrockClient(modelID, opts)
	default:
		return nil, enginerr.Classify(models.ErrorKindModel, fmt.Sprintf("no provider maps model %q", modelID), enginerr.ErrModelUnknown)
	}
}

// providerOf classifies a model ID by prefix, the same heuristic the usage
// recorder uses for its totals-by-provider bucketing.
func providerOf(modelID string) string {
	switch {
	case strings.HasPrefix(modelID, "claude"):
		return "anthropic"
	case strings.HasPrefix(modelID, "gpt"), strings.HasPrefix(modelID, "o1"), strings.HasPrefix(modelID, "o3"):
		return "openai"
	case strings.HasPrefix(modelID, "anthropic."), strings.HasPrefix(modelID, "amazon."), strings.HasPrefix(modelID, "meta."), strings.HasPrefix(modelID, "mistral."):
		return "bedrock"
	default:
		return "unknown"
	}
}
