// Package config loads the router configuration from YAML with environment
// overrides and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Router     RouterConfig     `yaml:"router"`
	Directory  DirectoryConfig  `yaml:"directory"`
	History    HistoryConfig    `yaml:"history"`
	Credential CredentialConfig `yaml:"credential"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Decision   DecisionConfig   `yaml:"decision"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
}

// RouterConfig tunes the orchestration engine.
type RouterConfig struct {
	Name               string `yaml:"name"`
	HistoryWindow      int    `yaml:"history_window"`
	MaxIterations      int    `yaml:"max_iterations"`
	MaxConcurrentTurns int    `yaml:"max_concurrent_turns"`
	// Instruction overrides the routing instruction template.
	Instruction     string `yaml:"instruction"`
	InstructionFile string `yaml:"instruction_file"`
	// SessionIdleTTL evicts sessions without a turn for this long; zero keeps
	// them forever.
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl"`
}

// AgentConfig declares one agent statically.
type AgentConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Endpoint    string   `yaml:"endpoint"`
}

// DirectoryConfig lists agent sources.
type DirectoryConfig struct {
	Agents []AgentConfig `yaml:"agents"`
	// CardURLs are base URLs serving /.well-known/agent.json.
	CardURLs []string `yaml:"card_urls"`
	// RegistryFile is a JSON array of card base URLs.
	RegistryFile    string        `yaml:"registry_file"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RefreshSchedule string        `yaml:"refresh_schedule"`
}

// HistoryConfig selects the conversation store.
type HistoryConfig struct {
	Backend    string        `yaml:"backend"` // "memory", "sqlite", "redis"
	SQLitePath string        `yaml:"sqlite_path"`
	RedisURL   string        `yaml:"redis_url"`
	RedisTTL   time.Duration `yaml:"redis_ttl"`
}

// CredentialConfig configures token issuance and caching.
type CredentialConfig struct {
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// ScopePrefix is prepended to the agent name to form the OAuth2 scope.
	ScopePrefix  string        `yaml:"scope_prefix"`
	SafetyBuffer time.Duration `yaml:"safety_buffer"`
	Cache        string        `yaml:"cache"` // "memory", "redis"
	RedisURL     string        `yaml:"redis_url"`
	// StaticToken bypasses issuance; intended for local development.
	StaticToken string `yaml:"static_token"`
}

// DispatchConfig configures downstream calls.
type DispatchConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
	BreakerInterval    time.Duration `yaml:"breaker_interval"`
}

// DecisionConfig selects the decision-maker.
type DecisionConfig struct {
	Provider    string  `yaml:"provider"` // "openai", "anthropic", "scripted"
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
	APIKey      string  `yaml:"api_key"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // "json", "text"
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig configures OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout", "noop"
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Router: RouterConfig{
			Name:           "orchestrator",
			HistoryWindow:  20,
			MaxIterations:  25,
			SessionIdleTTL: 24 * time.Hour,
		},
		History: HistoryConfig{
			Backend:    "memory",
			SQLitePath: "agentrouter.db",
		},
		Credential: CredentialConfig{
			SafetyBuffer: 300 * time.Second,
			Cache:        "memory",
		},
		Dispatch: DispatchConfig{
			Timeout:            300 * time.Second,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
			BreakerInterval:    60 * time.Second,
		},
		Decision: DecisionConfig{
			Provider:  "openai",
			MaxTokens: 1024,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides and validates the
// result. A missing file yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if cfg.Router.Instruction == "" && cfg.Router.InstructionFile != "" {
		raw, err := os.ReadFile(cfg.Router.InstructionFile)
		if err != nil {
			return nil, fmt.Errorf("read instruction file: %w", err)
		}
		cfg.Router.Instruction = string(raw)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps AGENTROUTER_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTROUTER_ROUTER_NAME"); v != "" {
		cfg.Router.Name = v
	}
	if v := os.Getenv("AGENTROUTER_ROUTER_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Router.MaxIterations = n
		}
	}
	if v := os.Getenv("AGENTROUTER_DIRECTORY_CARD_URLS"); v != "" {
		cfg.Directory.CardURLs = splitList(v)
	}
	if v := os.Getenv("AGENTROUTER_DIRECTORY_REGISTRY_FILE"); v != "" {
		cfg.Directory.RegistryFile = v
	}
	if v := os.Getenv("AGENTROUTER_HISTORY_BACKEND"); v != "" {
		cfg.History.Backend = v
	}
	if v := os.Getenv("AGENTROUTER_HISTORY_SQLITE_PATH"); v != "" {
		cfg.History.SQLitePath = v
	}
	if v := os.Getenv("AGENTROUTER_HISTORY_REDIS_URL"); v != "" {
		cfg.History.RedisURL = v
	}
	if v := os.Getenv("AGENTROUTER_CREDENTIAL_TOKEN_URL"); v != "" {
		cfg.Credential.TokenURL = v
	}
	if v := os.Getenv("AGENTROUTER_CREDENTIAL_CLIENT_ID"); v != "" {
		cfg.Credential.ClientID = v
	}
	if v := os.Getenv("AGENTROUTER_CREDENTIAL_CLIENT_SECRET"); v != "" {
		cfg.Credential.ClientSecret = v
	}
	if v := os.Getenv("AGENTROUTER_CREDENTIAL_CACHE"); v != "" {
		cfg.Credential.Cache = v
	}
	if v := os.Getenv("AGENTROUTER_CREDENTIAL_REDIS_URL"); v != "" {
		cfg.Credential.RedisURL = v
	}
	if v := os.Getenv("AGENTROUTER_CREDENTIAL_STATIC_TOKEN"); v != "" {
		cfg.Credential.StaticToken = v
	}
	if v := os.Getenv("AGENTROUTER_DISPATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.Timeout = d
		}
	}
	if v := os.Getenv("AGENTROUTER_DECISION_PROVIDER"); v != "" {
		cfg.Decision.Provider = v
	}
	if v := os.Getenv("AGENTROUTER_DECISION_MODEL"); v != "" {
		cfg.Decision.Model = v
	}
	if v := os.Getenv("AGENTROUTER_DECISION_API_KEY"); v != "" {
		cfg.Decision.APIKey = v
	}
	if v := os.Getenv("AGENTROUTER_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTROUTER_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTROUTER_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGENTROUTER_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
