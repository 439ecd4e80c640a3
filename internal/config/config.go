// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	MCP             MCPConfig                 `toml:"mcp"`
	Cache           CacheConfig               `toml:"cache"`
	UI              UIConfig                  `toml:"ui"`
	Agent           AgentConfig               `toml:"agent"`
}

// AgentConfig holds settings for approval, sandboxing, delegation, and the
// ambient turn-management loop.
type AgentConfig struct {
	// ApprovalPolicy gates command execution: "untrusted", "on-request",
	// "on-failure", or "never". Defaults to "on-request".
	ApprovalPolicy string `toml:"approval_policy"`

	// SandboxPolicy bounds what an approved command may touch: "read-only",
	// "workspace-write", or "danger-full-access". Defaults to "workspace-write".
	SandboxPolicy string `toml:"sandbox_policy"`

	// MaxConcurrentDelegates caps simultaneous in-flight SubAgent delegations,
	// attached and detached together.
	MaxConcurrentDelegates int `toml:"max_concurrent_delegates"`

	// AutoCompactTokenLimit triggers history summarization once a session's
	// estimated token count crosses this threshold. 0 disables auto-compact.
	AutoCompactTokenLimit int `toml:"auto_compact_token_limit"`

	// EffectiveContextPercent is the fraction (0-100) of a model's context
	// window considered usable. It is parsed and defaulted (see
	// EffectiveContextPercentOrDefault) but nothing reads it; auto-compact is
	// triggered by AutoCompactTokenLimit alone.
	EffectiveContextPercent int `toml:"effective_context_percent"`

	// RateLimitPollSeconds sets the poll interval for the rate-limit poller.
	// 0 uses the default of 60 seconds; a negative value disables polling.
	RateLimitPollSeconds int `toml:"rate_limit_poll_seconds"`

	// SandboxRoots lists the filesystem roots a workspace-write sandbox
	// confines exec/apply-patch writes to. Defaults to the current working
	// directory.
	SandboxRoots []string `toml:"sandbox_roots"`
}

// ApprovalPolicyOrDefault returns the configured approval policy or "on-request".
func (a AgentConfig) ApprovalPolicyOrDefault() string {
	if a.ApprovalPolicy == "" {
		return "on-request"
	}
	return a.ApprovalPolicy
}

// SandboxPolicyOrDefault returns the configured sandbox policy or "workspace-write".
func (a AgentConfig) SandboxPolicyOrDefault() string {
	if a.SandboxPolicy == "" {
		return "workspace-write"
	}
	return a.SandboxPolicy
}

// MaxConcurrentDelegatesOrDefault returns the configured cap or 3.
func (a AgentConfig) MaxConcurrentDelegatesOrDefault() int {
	if a.MaxConcurrentDelegates <= 0 {
		return 3
	}
	return a.MaxConcurrentDelegates
}

// EffectiveContextPercentOrDefault returns the configured percent or 80.
func (a AgentConfig) EffectiveContextPercentOrDefault() int {
	if a.EffectiveContextPercent <= 0 {
		return 80
	}
	return a.EffectiveContextPercent
}

// RateLimitPollSecondsOrDefault returns the configured interval or 60.
func (a AgentConfig) RateLimitPollSecondsOrDefault() int {
	if a.RateLimitPollSeconds <= 0 {
		return 60
	}
	return a.RateLimitPollSeconds
}

// SandboxRootsOrDefault returns the configured sandbox roots, or the current
// working directory if unset.
func (a AgentConfig) SandboxRootsOrDefault() []string {
	if len(a.SandboxRoots) > 0 {
		return a.SandboxRoots
	}
	if wd, err := os.Getwd(); err == nil {
		return []string{wd}
	}
	return nil
}

// UIConfig holds user-interface settings.
type UIConfig struct {
	// SyntaxTheme is the Chroma syntax highlighting theme used across the TUI.
	// UI chrome colors are derived from this theme via highlight.ThemePalette.
	// Defaults to "vulcan" if unset.
	SyntaxTheme string `toml:"syntax_theme"`
}

// SyntaxThemeOrDefault returns the configured syntax theme or "vulcan" if unset.
func (u UIConfig) SyntaxThemeOrDefault() string {
	if u.SyntaxTheme == "" {
		return "vulcan"
	}
	return u.SyntaxTheme
}

// CacheConfig holds web cache settings.
type CacheConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

// CacheTTLOrDefault returns the configured TTL or 24 hours if unset.
func (c CacheConfig) CacheTTLOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	// Dialect selects the wire protocol: "ollama" (default), "anthropic",
	// "responses", "vllm", "opencode", "zen", "gemini", or "mock".
	Dialect     string  `toml:"dialect"`
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
}

// DialectOrDefault returns the configured dialect, defaulting to "ollama"
// for configs written before dialects existed.
func (p ProviderConfig) DialectOrDefault() string {
	if p.Dialect == "" {
		return "ollama"
	}
	return p.Dialect
}

// MCPConfig holds MCP proxy settings.
type MCPConfig struct {
	Upstream string `toml:"upstream"`
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
	}

	// Config file is required
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// File must exist
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Load from file
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	// Validate default provider if specified
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"SYMB_MCP_ENDPOINT", func(v string) {
			if v != "" {
				cfg.MCP.Upstream = v
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// DataDir returns the path to the Symb data directory (~/.config/symb).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "symb"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
