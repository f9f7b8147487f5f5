// Package session houses implementations of core.SessionStore. The interface
// and the Session struct live in the core package; the engine falls back to
// InMemoryStore when no store is configured.
package session
