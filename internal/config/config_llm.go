package config

// LLMConfig configures the model providers the Model Factory (C4) can
// build clients for.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain lists provider IDs the Orchestrator's one-shot model
	// fallback (§4.9, provider_unavailable) may try after the primary model
	// fails, in order.
	FallbackChain []string `yaml:"fallback_chain"`

	// Bedrock configures AWS Bedrock model catalog discovery.
	Bedrock BedrockConfig `yaml:"bedrock"`
}

// LLMProviderConfig carries one provider's credentials and default model.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	Region       string `yaml:"region"`

	// OAuth configures client-credentials OAuth2 token refresh for a
	// provider fronted by an OAuth2 gateway instead of a static APIKey.
	OAuth *OAuthConfig `yaml:"oauth"`
}

// OAuthConfig mirrors modelfactory.OAuthCredentials at the YAML boundary.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// BedrockConfig configures AWS Bedrock foundation-model discovery, wired
// into the model catalog at startup when Enabled.
type BedrockConfig struct {
	Enabled bool `yaml:"enabled"`

	// Region is the AWS region to query for models. Default: us-east-1.
	Region string `yaml:"region"`

	// ProviderFilter limits discovery to specific model providers.
	// Example: ["anthropic", "amazon", "meta"]. Empty means all providers.
	ProviderFilter []string `yaml:"provider_filter"`

	// DefaultContextWindow is used when a discovered model doesn't report
	// its own context size. Default: 32000.
	DefaultContextWindow int `yaml:"default_context_window"`

	// DefaultMaxTokens is used when a discovered model doesn't report its
	// own max output. Default: 4096.
	DefaultMaxTokens int `yaml:"default_max_tokens"`
}
