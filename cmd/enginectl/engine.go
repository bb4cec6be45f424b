package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/fluxorch/engine/internal/budget"
	"github.com/fluxorch/engine/internal/checkpoint"
	"github.com/fluxorch/engine/internal/config"
	"github.com/fluxorch/engine/internal/events"
	"github.com/fluxorch/engine/internal/interrupt"
	"github.com/fluxorch/engine/internal/modelfactory"
	modelcatalog "github.com/fluxorch/engine/internal/models"
	"github.com/fluxorch/engine/internal/observability"
	"github.com/fluxorch/engine/internal/orchestrator"
	"github.com/fluxorch/engine/internal/registry"
	"github.com/fluxorch/engine/internal/toolruntime"
	"github.com/fluxorch/engine/internal/usage"
)

// engine bundles everything a subcommand needs: the wired Orchestrator plus
// whatever has a process-lifetime Close to release (a durable checkpoint
// store's *sql.DB).
type engine struct {
	orchestrator *orchestrator.Orchestrator
	logger       *observability.Logger
	closers      []func() error
}

func (e *engine) Close() error {
	var first error
	for _, c := range e.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// buildEngine loads configPath and agentsPath and wires up every C1-C11
// component into one Orchestrator, the same assembly every enginectl
// subcommand shares.
func buildEngine(ctx context.Context, configPath, agentsPath string) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	agentConfigs, err := config.LoadAgents(agentsPath)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging.ToLogConfig())

	if cfg.LLM.Bedrock.Enabled {
		discovery := modelcatalog.NewBedrockDiscovery(modelcatalog.BedrockDiscoveryConfig{
			Enabled:              cfg.LLM.Bedrock.Enabled,
			Region:               cfg.LLM.Bedrock.Region,
			ProviderFilter:       cfg.LLM.Bedrock.ProviderFilter,
			DefaultContextWindow: cfg.LLM.Bedrock.DefaultContextWindow,
			DefaultMaxTokens:     cfg.LLM.Bedrock.DefaultMaxTokens,
		}, slog.Default())
		if err := discovery.RegisterWithCatalog(ctx, modelcatalog.DefaultCatalog); err != nil {
			logger.Warn(ctx, "bedrock model discovery failed", "error", err)
		}
	}

	e := &engine{logger: logger}

	checkpointStore, err := buildCheckpointStore(ctx, cfg.Checkpoint, e)
	if err != nil {
		return nil, fmt.Errorf("build checkpoint store: %w", err)
	}

	bus := events.New(logger)
	toolRuntime := toolruntime.New(bus)
	interruptMgr := interrupt.New(bus, cfg.Interrupt.TTL(), nil)
	budgetMgr := budget.New()
	reg := registry.New(cfg.Registry.CapacityOrDefault())
	usageRecorder := usage.NewRecorder(bus, usage.RecorderConfig{})
	models := modelfactory.New()

	o := orchestrator.New(orchestrator.Deps{
		Registry:       reg,
		Tools:          toolRuntime,
		Interrupts:     interruptMgr,
		Budget:         budgetMgr,
		Models:         models,
		Bus:            bus,
		Usage:          usageRecorder,
		Agents:         orchestrator.NewStaticAgentProvider(agentConfigs),
		Checkpoint:     checkpointStore,
		ResolveOptions: resolveOptionsFor(cfg.LLM),
	})

	e.orchestrator = o
	return e, nil
}

// buildCheckpointStore selects C11's backend per cfg.Backend ("memory" by
// default), registering any *sql.DB it opens with eng for later Close.
func buildCheckpointStore(ctx context.Context, cfg config.CheckpointConfig, eng *engine) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return checkpoint.NewMemoryStore(signerFor(cfg)), nil
	case "sqlite":
		store, err := checkpoint.NewSQLStore(ctx, cfg.DSN, checkpoint.DefaultSQLConfig(), signerFor(cfg))
		if err != nil {
			return nil, err
		}
		eng.closers = append(eng.closers, store.Close)
		return store, nil
	case "postgres":
		store, err := checkpoint.NewPGStore(cfg.DSN, checkpoint.DefaultPGConfig(), signerFor(cfg))
		if err != nil {
			return nil, err
		}
		eng.closers = append(eng.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// signerFor builds a checkpoint.Signer from the configured key, or (for a
// durable backend) a fresh random one so a checkpoint is never persisted
// unsigned just because the operator left signing_key unset. A memory
// backend has no cross-process trust boundary to defend, so it is left
// unsigned in that case instead.
func signerFor(cfg config.CheckpointConfig) *checkpoint.Signer {
	key := []byte(cfg.SigningKey)
	if len(key) == 0 {
		if cfg.Backend == "" || cfg.Backend == "memory" {
			return nil
		}
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil
		}
	}
	return checkpoint.NewSigner(key, 0)
}

// resolveOptionsFor adapts llm to the orchestrator.Deps.ResolveOptions
// signature: a model ID maps to a provider via the catalog, and a provider
// maps to its configured credentials via llm.Providers.
func resolveOptionsFor(llm config.LLMConfig) func(modelID string) modelfactory.Options {
	return func(modelID string) modelfactory.Options {
		model, ok := modelcatalog.Get(modelID)
		if !ok {
			return modelfactory.Options{}
		}
		provider, ok := llm.Providers[string(model.Provider)]
		if !ok {
			return modelfactory.Options{}
		}
		return modelfactory.Options{
			APIKey:  provider.APIKey,
			BaseURL: provider.BaseURL,
			Region:  provider.Region,
			OAuth:   oauthCredentialsFor(provider.OAuth),
		}
	}
}

// oauthCredentialsFor adapts the YAML-facing config.OAuthConfig to
// modelfactory.OAuthCredentials. A nil cfg (the common case — most
// providers authenticate with a static API key) yields a nil result.
func oauthCredentialsFor(cfg *config.OAuthConfig) *modelfactory.OAuthCredentials {
	if cfg == nil {
		return nil
	}
	return &modelfactory.OAuthCredentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
}
