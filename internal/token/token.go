package token

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/pkg/quickbooks"
)

// defaultLifetime is used when the token endpoint omits expires_in.
const defaultLifetime = time.Hour

// Credential is the OAuth state for one realm.
type Credential struct {
	AccessToken  string
	RefreshToken string
	RealmID      string
	ExpiresAt    time.Time
}

// ValidFor reports whether the access token outlives now+margin.
func (c Credential) ValidFor(now time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && now.Add(margin).Before(c.ExpiresAt)
}

// Store persists credentials. SaveCredential is called after every rotation.
type Store interface {
	LoadCredential(ctx context.Context, realmID string) (Credential, bool, error)
	SaveCredential(ctx context.Context, c Credential) error
}

// Refresher exchanges a refresh token for a new pair. A rejected refresh token
// must be reported as *errs.AuthError; retryable failures as errs.Transient.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credential, error)
}

// OAuthRefresher refreshes against Intuit's token endpoint.
type OAuthRefresher struct {
	cfg    *oauth2.Config
	client *http.Client
	now    func() time.Time
}

func NewOAuthRefresher(cfg *oauth2.Config, client *http.Client) *OAuthRefresher {
	return &OAuthRefresher{cfg: cfg, client: client, now: time.Now}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (Credential, error) {
	tok, err := quickbooks.RefreshToken(ctx, r.client, r.cfg, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, quickbooks.ErrRefreshRejected):
			return Credential{}, &errs.AuthError{Op: "refresh", Err: err}
		case quickbooks.IsTransient(err):
			return Credential{}, errs.Transient(err)
		}
		return Credential{}, err
	}
	return FromOAuth2(tok, "", r.now()), nil
}

// FromOAuth2 converts an oauth2 token, defaulting the expiry to one hour.
func FromOAuth2(tok *oauth2.Token, realmID string, now time.Time) Credential {
	expires := tok.Expiry
	if expires.IsZero() {
		expires = now.Add(defaultLifetime)
	}
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		RealmID:      realmID,
		ExpiresAt:    expires,
	}
}
