// Package logging provides a minimal logging interface and adapters for agentrouter.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, dispatcher and stores use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - RouterLogger with conversation/component context and routing helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng, err := engine.New(func(o *engine.Options) { o.Logger = logger })
//
// Arguments after the message are slog-style key/value pairs.
package logging
