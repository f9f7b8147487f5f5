package core

import (
	"context"
	"time"
)

// Token is a short-lived, scope-bound access credential.
type Token struct {
	Scope     string    `json:"scope"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FreshAt reports whether the token may still be handed out at now given a
// safety buffer before expiry.
func (t Token) FreshAt(now time.Time, buffer time.Duration) bool {
	if t.Value == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-buffer))
}

// CredentialBroker issues tokens authorizing calls to a named agent.
type CredentialBroker interface {
	// GetToken returns a token for scope or an error matching ErrCredential.
	GetToken(ctx context.Context, scope string) (Token, error)
}
