package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hupe1980/agentrouter/core"
)

// DefaultExpiresIn is the lifetime assumed for tokens issued without an
// expiry.
const DefaultExpiresIn = 3600 * time.Second

// ClientCredentialsOptions configures a ClientCredentialsIssuer.
type ClientCredentialsOptions struct {
	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
	// ScopeFunc maps an agent scope to the OAuth2 scope parameter. Defaults to
	// the identity.
	ScopeFunc func(scope string) string
	// DefaultExpiresIn applies when the issuer omits expires_in. Defaults to
	// DefaultExpiresIn.
	DefaultExpiresIn time.Duration
	// Now is the clock used for the default expiry.
	Now func() time.Time
}

// ClientCredentialsIssuer exchanges client credentials for an access token
// at an OAuth2 token endpoint.
type ClientCredentialsIssuer struct {
	tokenURL     string
	clientID     string
	clientSecret string
	opts         ClientCredentialsOptions
}

// NewClientCredentialsIssuer creates an issuer for tokenURL.
func NewClientCredentialsIssuer(tokenURL, clientID, clientSecret string, optFns ...func(o *ClientCredentialsOptions)) *ClientCredentialsIssuer {
	opts := ClientCredentialsOptions{
		HTTPClient:       &http.Client{Timeout: 30 * time.Second},
		ScopeFunc:        func(s string) string { return s },
		DefaultExpiresIn: DefaultExpiresIn,
		Now:              time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.DefaultExpiresIn <= 0 {
		opts.DefaultExpiresIn = DefaultExpiresIn
	}
	return &ClientCredentialsIssuer{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		opts:         opts,
	}
}

// Issue performs the client_credentials grant for scope.
func (i *ClientCredentialsIssuer) Issue(ctx context.Context, scope string) (core.Token, error) {
	cfg := clientcredentials.Config{
		ClientID:     i.clientID,
		ClientSecret: i.clientSecret,
		TokenURL:     i.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if s := i.opts.ScopeFunc(scope); s != "" {
		cfg.Scopes = []string{s}
	}

	if i.opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, i.opts.HTTPClient)
	}

	tok, err := cfg.Token(ctx)
	if err != nil {
		return core.Token{}, credentialError(scope, err)
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = i.opts.Now().Add(i.opts.DefaultExpiresIn)
	}

	return core.Token{
		Scope:     scope,
		Value:     tok.AccessToken,
		ExpiresAt: expiresAt,
	}, nil
}

func credentialError(scope string, err error) *core.CredentialError {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return &core.CredentialError{Scope: scope, Reason: "token request failed", Err: err}
	}

	reason := "issuer rejected request"
	if re.Response != nil {
		reason = fmt.Sprintf("issuer rejected request with status %d", re.Response.StatusCode)
	}
	switch {
	case re.ErrorCode != "":
		reason += ": " + re.ErrorCode
		if re.ErrorDescription != "" {
			reason += " (" + re.ErrorDescription + ")"
		}
	case len(re.Body) > 0:
		reason += ": " + strings.TrimSpace(string(re.Body))
	}

	return &core.CredentialError{Scope: scope, Reason: reason}
}

var _ Issuer = (*ClientCredentialsIssuer)(nil)
