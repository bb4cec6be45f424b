package modelfactory

import (
	"context"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"
)

// OAuthCredentials configures client-credentials OAuth2 token refresh for an
// OpenAI-compatible provider fronted by an OAuth2 gateway (an internal LLM
// proxy behind SSO, say) instead of a static API key. The token is fetched
// and refreshed transparently by the *http.Client httpClient returns; the
// Model Factory never sees or caches a bearer token itself.
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// httpClient builds an *http.Client whose RoundTripper requests a token via
// the client-credentials grant on first use and refreshes it once it is
// within its expiry window, per oauth2's own caching contract.
func (c OAuthCredentials) httpClient(ctx context.Context) *http.Client {
	cfg := clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
	return cfg.Client(ctx)
}
