// Package config loads engine configuration from YAML with
// environment-variable overrides for every key spec.md §6.4 names.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fluxorch/engine/internal/budget"
	"github.com/fluxorch/engine/internal/observability"
	"github.com/fluxorch/engine/internal/registry"
	"github.com/fluxorch/engine/internal/toolruntime"
)

// BudgetConfig configures C3's adaptive deadline-extension policy
// (§4.3, §6.4).
type BudgetConfig struct {
	ProgressMinDelta        int `yaml:"progress_min_delta"`
	NoProgressNoExtendMS    int `yaml:"no_progress_no_extend_ms"`
	ExtendOnProgressMS      int `yaml:"extend_on_progress_ms"`
	MaxTotalExtensionMS     int `yaml:"max_total_extension_ms"`
}

// ToPolicy converts b into a budget.ExtensionPolicy, falling back to
// budget.DefaultExtensionPolicy for any zero field.
func (b BudgetConfig) ToPolicy() budget.ExtensionPolicy {
	d := budget.DefaultExtensionPolicy()
	if b.ProgressMinDelta > 0 {
		d.ProgressMinDelta = b.ProgressMinDelta
	}
	if b.NoProgressNoExtendMS > 0 {
		d.NoProgressNoExtendAfter = time.Duration(b.NoProgressNoExtendMS) * time.Millisecond
	}
	if b.ExtendOnProgressMS > 0 {
		d.ExtendOnProgress = time.Duration(b.ExtendOnProgressMS) * time.Millisecond
	}
	if b.MaxTotalExtensionMS > 0 {
		d.MaxTotalExtension = time.Duration(b.MaxTotalExtensionMS) * time.Millisecond
	}
	return d
}

// DelegationConfig configures C7 (§6.4).
type DelegationConfig struct {
	PollMS    int `yaml:"poll_ms"`
	TimeoutMS int `yaml:"timeout_ms"`
	MaxDepth  int `yaml:"max_depth"`
}

func (d DelegationConfig) Timeout() time.Duration {
	if d.TimeoutMS <= 0 {
		return 180 * time.Second
	}
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

func (d DelegationConfig) Poll() time.Duration {
	if d.PollMS <= 0 {
		return 750 * time.Millisecond
	}
	return time.Duration(d.PollMS) * time.Millisecond
}

func (d DelegationConfig) MaxDepthOrDefault() int {
	if d.MaxDepth <= 0 {
		return 3
	}
	return d.MaxDepth
}

// InterruptConfig configures C6's pending-approval TTL (§6.4).
type InterruptConfig struct {
	TTLMS int `yaml:"ttl_ms"`
}

func (i InterruptConfig) TTL() time.Duration {
	if i.TTLMS <= 0 {
		return 0 // interrupt.New treats <= 0 as DefaultTTL
	}
	return time.Duration(i.TTLMS) * time.Millisecond
}

// RegistryConfig configures C2 (§6.4).
type RegistryConfig struct {
	Capacity        int `yaml:"capacity"`
	TerminalGraceMS int `yaml:"terminal_grace_ms"`
}

func (r RegistryConfig) CapacityOrDefault() int {
	if r.Capacity <= 0 {
		return registry.DefaultCapacity
	}
	return r.Capacity
}

func (r RegistryConfig) TerminalGrace() time.Duration {
	if r.TerminalGraceMS <= 0 {
		return registry.DefaultTerminalGrace
	}
	return time.Duration(r.TerminalGraceMS) * time.Millisecond
}

// ToolConfig configures C5's per-call hard timeout (§6.4).
type ToolConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

func (t ToolConfig) Timeout() time.Duration {
	if t.TimeoutMS <= 0 {
		return toolruntime.DefaultTimeout
	}
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

// CheckpointConfig selects C11's durable backend.
type CheckpointConfig struct {
	// Backend is one of "memory" (default), "sqlite", "postgres".
	Backend string `yaml:"backend"`
	// DSN is the driver-specific connection string for sqlite/postgres.
	DSN string `yaml:"dsn"`
	// SigningKey signs resume tokens (golang-jwt/jwt/v5, HS256). Empty
	// disables signing for a memory backend; cmd/enginectl generates a
	// random per-process key for sqlite/postgres backends in that case, so
	// a durable checkpoint is never stored unsigned.
	SigningKey string `yaml:"signing_key"`
}

// Config is the engine's top-level configuration document.
type Config struct {
	Version int `yaml:"version"`

	Budget     BudgetConfig     `yaml:"budget"`
	Delegation DelegationConfig `yaml:"delegation"`
	Interrupt  InterruptConfig  `yaml:"interrupt"`
	Registry   RegistryConfig   `yaml:"registry"`
	Tool       ToolConfig       `yaml:"tool"`

	LLM LLMConfig `yaml:"llm"`

	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ToTraceConfig adapts the YAML-facing TracingConfig to
// observability.TraceConfig, the type NewTracer actually takes.
func (t TracingConfig) ToTraceConfig() observability.TraceConfig {
	return observability.TraceConfig{
		ServiceName:    t.ServiceName,
		ServiceVersion: t.ServiceVersion,
		Environment:    t.Environment,
		Endpoint:       t.Endpoint,
		SamplingRate:   t.SamplingRate,
		Attributes:     t.Attributes,
		EnableInsecure: t.Insecure,
	}
}

// ToLogConfig adapts LoggingConfig to observability.LogConfig.
func (l LoggingConfig) ToLogConfig() observability.LogConfig {
	return observability.LogConfig{Level: l.Level, Format: l.Format}
}

// Load reads path, resolves $include directives, decodes strictly (unknown
// fields reject), applies §6.4 env-var overrides, fills in defaults for any
// unset knob, and validates the config version.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place per every recognized key in
// spec.md §6.4. A missing or unparseable env var leaves the YAML-supplied
// (or zero) value untouched.
func applyEnvOverrides(cfg *Config) {
	overrideInt("PROGRESS_MIN_DELTA", &cfg.Budget.ProgressMinDelta)
	overrideInt("NO_PROGRESS_NO_EXTEND_MS", &cfg.Budget.NoProgressNoExtendMS)
	overrideInt("EXTEND_ON_PROGRESS_MS", &cfg.Budget.ExtendOnProgressMS)
	overrideInt("MAX_TOTAL_EXTENSION_MS", &cfg.Budget.MaxTotalExtensionMS)
	overrideInt("DELEGATION_POLL_MS", &cfg.Delegation.PollMS)
	overrideInt("DELEGATION_TIMEOUT_MS", &cfg.Delegation.TimeoutMS)
	overrideInt("MAX_DELEGATION_DEPTH", &cfg.Delegation.MaxDepth)
	overrideInt("INTERRUPT_TTL_MS", &cfg.Interrupt.TTLMS)
	overrideInt("REGISTRY_CAPACITY", &cfg.Registry.Capacity)
	overrideInt("REGISTRY_TERMINAL_GRACE_MS", &cfg.Registry.TerminalGraceMS)
	overrideInt("TOOL_TIMEOUT_MS", &cfg.Tool.TimeoutMS)
}

func overrideInt(envKey string, dst *int) {
	v, ok := os.LookupEnv(envKey)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

// validate rejects configurations that would make no sense to run, mirroring
// the teacher's own fail-fast config validation.
func (c *Config) validate() error {
	if c.LLM.DefaultProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("llm.default_provider %q has no matching entry in llm.providers", c.LLM.DefaultProvider)
		}
	}
	switch c.Checkpoint.Backend {
	case "", "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("checkpoint.backend %q is not one of memory, sqlite, postgres", c.Checkpoint.Backend)
	}
	return nil
}
