package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hupe1980/agentrouter/logging"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateRouter(cfg, ve)
	validateDirectory(cfg, ve)
	validateHistory(cfg, ve)
	validateCredential(cfg, ve)
	validateDispatch(cfg, ve)
	validateDecision(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateRouter(cfg *Config, ve *ValidationError) {
	if strings.TrimSpace(cfg.Router.Name) == "" {
		ve.Add("router.name must not be empty")
	}
	if cfg.Router.HistoryWindow <= 0 {
		ve.Add("router.history_window must be > 0")
	}
	if cfg.Router.MaxIterations < 0 {
		ve.Add("router.max_iterations must be >= 0")
	}
	if cfg.Router.MaxConcurrentTurns < 0 {
		ve.Add("router.max_concurrent_turns must be >= 0")
	}
	if cfg.Router.SessionIdleTTL < 0 {
		ve.Add("router.session_idle_ttl must be >= 0")
	}
}

func validateDirectory(cfg *Config, ve *ValidationError) {
	seen := map[string]bool{}
	for i, a := range cfg.Directory.Agents {
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if name == "" {
			ve.Add("directory.agents[%d].name must not be empty", i)
			continue
		}
		if seen[name] {
			ve.Add("directory.agents[%d].name %q is duplicated", i, a.Name)
		}
		seen[name] = true
		if !validURL(a.Endpoint) {
			ve.Add("directory.agents[%d].endpoint %q is not a valid http(s) URL", i, a.Endpoint)
		}
	}
	for i, u := range cfg.Directory.CardURLs {
		if !validURL(u) {
			ve.Add("directory.card_urls[%d] %q is not a valid http(s) URL", i, u)
		}
	}
	if cfg.Directory.RefreshInterval < 0 {
		ve.Add("directory.refresh_interval must be >= 0")
	}
}

func validateHistory(cfg *Config, ve *ValidationError) {
	switch cfg.History.Backend {
	case "memory":
	case "sqlite":
		if cfg.History.SQLitePath == "" {
			ve.Add("history.sqlite_path is required for the sqlite backend")
		}
	case "redis":
		if cfg.History.RedisURL == "" {
			ve.Add("history.redis_url is required for the redis backend")
		}
	default:
		ve.Add("history.backend %q is not one of memory, sqlite, redis", cfg.History.Backend)
	}
}

func validateCredential(cfg *Config, ve *ValidationError) {
	c := cfg.Credential
	if c.StaticToken == "" && c.TokenURL != "" {
		if !validURL(c.TokenURL) {
			ve.Add("credential.token_url %q is not a valid http(s) URL", c.TokenURL)
		}
		if c.ClientID == "" {
			ve.Add("credential.client_id is required with credential.token_url")
		}
	}
	if c.SafetyBuffer < 0 {
		ve.Add("credential.safety_buffer must be >= 0")
	}
	switch c.Cache {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			ve.Add("credential.redis_url is required for the redis cache")
		}
	default:
		ve.Add("credential.cache %q is not one of memory, redis", c.Cache)
	}
}

func validateDispatch(cfg *Config, ve *ValidationError) {
	if cfg.Dispatch.Timeout <= 0 {
		ve.Add("dispatch.timeout must be > 0")
	}
}

func validateDecision(cfg *Config, ve *ValidationError) {
	switch cfg.Decision.Provider {
	case "openai", "anthropic", "scripted":
	default:
		ve.Add("decision.provider %q is not one of openai, anthropic, scripted", cfg.Decision.Provider)
	}
	if cfg.Decision.MaxTokens < 0 {
		ve.Add("decision.max_tokens must be >= 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if _, err := logging.ParseLevel(cfg.Logger.Level); err != nil {
		ve.Add("logger.level: %v", err)
	}
	switch cfg.Logger.Format {
	case "json", "text":
	default:
		ve.Add("logger.format %q is not one of json, text", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not one of noop, stdout", cfg.Tracer.Exporter)
	}
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
