// Package credential implements the credential broker: a cache-first source
// of short-lived bearer tokens scoped to downstream agents.
package credential

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/logging"
)

// DefaultSafetyBuffer is subtracted from the issued lifetime before caching
// so a cached token is never handed out right before it expires.
const DefaultSafetyBuffer = 300 * time.Second

// Issuer performs the external token-issuance call for one scope.
type Issuer interface {
	Issue(ctx context.Context, scope string) (core.Token, error)
}

// IssuerFunc adapts a function to the Issuer interface.
type IssuerFunc func(ctx context.Context, scope string) (core.Token, error)

// Issue implements Issuer.
func (f IssuerFunc) Issue(ctx context.Context, scope string) (core.Token, error) {
	return f(ctx, scope)
}

// Options configures a Broker.
type Options struct {
	// Cache defaults to a fresh InMemoryCache.
	Cache Cache
	// SafetyBuffer defaults to DefaultSafetyBuffer.
	SafetyBuffer time.Duration
	Logger       logging.Logger
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Broker implements core.CredentialBroker.
//
// Concurrent misses for the same scope may each call the issuer; caching is
// best-effort and duplicate issuance is accepted.
type Broker struct {
	issuer Issuer
	cache  Cache
	buffer time.Duration
	logger logging.Logger
	now    func() time.Time
}

// NewBroker creates a broker around issuer.
func NewBroker(issuer Issuer, optFns ...func(o *Options)) *Broker {
	opts := Options{
		SafetyBuffer: DefaultSafetyBuffer,
		Logger:       logging.NoOpLogger{},
		Now:          time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Cache == nil {
		opts.Cache = NewInMemoryCache(func(o *InMemoryCacheOptions) { o.Now = opts.Now })
	}

	return &Broker{
		issuer: issuer,
		cache:  opts.Cache,
		buffer: opts.SafetyBuffer,
		logger: logging.OrNoOp(opts.Logger),
		now:    opts.Now,
	}
}

// GetToken returns a cached token for scope or issues a new one.
func (b *Broker) GetToken(ctx context.Context, scope string) (core.Token, error) {
	if tok, ok, err := b.cache.Get(ctx, scope); err != nil {
		b.logger.Warn("credential cache read failed", "scope", scope, "error", err)
	} else if ok && tok.Value != "" {
		return tok, nil
	}

	tok, err := b.issuer.Issue(ctx, scope)
	if err != nil {
		var cErr *core.CredentialError
		if errors.As(err, &cErr) {
			return core.Token{}, err
		}
		return core.Token{}, &core.CredentialError{Scope: scope, Reason: "issuance failed", Err: err}
	}
	if strings.TrimSpace(tok.Value) == "" {
		return core.Token{}, &core.CredentialError{Scope: scope, Reason: "issuer returned no token"}
	}
	tok.Scope = scope

	ttl := CacheTTL(tok.ExpiresAt.Sub(b.now()), b.buffer)
	if ttl <= 0 {
		b.logger.Debug("issued token too short-lived to cache", "scope", scope)
		return tok, nil
	}

	if err := b.cache.Set(ctx, scope, tok, ttl); err != nil {
		b.logger.Warn("credential cache write failed", "scope", scope, "error", err)
	}

	return tok, nil
}

// CacheTTL is the issued lifetime minus the safety buffer, clamped at zero.
func CacheTTL(issued, buffer time.Duration) time.Duration {
	ttl := issued - buffer
	if ttl < 0 {
		return 0
	}
	return ttl
}

var _ core.CredentialBroker = (*Broker)(nil)

// StaticIssuer issues the same value for every scope, valid for ttl. It is
// meant for local development against agents that accept a fixed token.
func StaticIssuer(value string, ttl time.Duration) Issuer {
	return IssuerFunc(func(_ context.Context, scope string) (core.Token, error) {
		return core.Token{Scope: scope, Value: value, ExpiresAt: time.Now().Add(ttl)}, nil
	})
}
