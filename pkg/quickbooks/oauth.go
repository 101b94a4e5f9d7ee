package quickbooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	AuthURL         = "https://appcenter.intuit.com/connect/oauth2"
	TokenURL        = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	ScopeAccounting = "com.intuit.quickbooks.accounting"
)

// Endpoint is Intuit's OAuth2 endpoint. Client credentials go in the basic auth header.
var Endpoint = oauth2.Endpoint{
	AuthURL:   AuthURL,
	TokenURL:  TokenURL,
	AuthStyle: oauth2.AuthStyleInHeader,
}

// ErrRefreshRejected means the token endpoint refused the refresh token (expired or revoked).
var ErrRefreshRejected = errors.New("refresh token rejected")

// OAuthConfig builds the oauth2 config for the accounting scope.
func OAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     Endpoint,
		Scopes:       []string{ScopeAccounting},
	}
}

// BuildAuthURL builds the Intuit authorize URL.
func BuildAuthURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state)
}

func withClient(ctx context.Context, httpClient *http.Client) context.Context {
	if httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, httpClient)
}

// ExchangeCode exchanges an authorization code for tokens.
func ExchangeCode(ctx context.Context, httpClient *http.Client, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("code empty")
	}
	tok, err := cfg.Exchange(withClient(ctx, httpClient), code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return tok, nil
}

// RefreshToken exchanges a refresh token for a new access/refresh pair.
// A rejected refresh token is reported as ErrRefreshRejected.
func RefreshToken(ctx context.Context, httpClient *http.Client, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token empty", ErrRefreshRejected)
	}
	// an empty access token forces the source to hit the token endpoint
	src := cfg.TokenSource(withClient(ctx, httpClient), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rejected(rerr) {
			return nil, fmt.Errorf("%w: %v", ErrRefreshRejected, err)
		}
		return nil, fmt.Errorf("refresh failed: %w", err)
	}
	return tok, nil
}

func rejected(rerr *oauth2.RetrieveError) bool {
	if rerr.ErrorCode == "invalid_grant" || rerr.ErrorCode == "invalid_client" {
		return true
	}
	if rerr.Response == nil {
		return false
	}
	return rerr.Response.StatusCode == http.StatusBadRequest || rerr.Response.StatusCode == http.StatusUnauthorized
}
