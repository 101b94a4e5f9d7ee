package commands

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/blob"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/config"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/importer"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/store"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/token"
	"github.com/aiengrshafiq/QuickBooksImporter/pkg/quickbooks"
)

func connectDB(ctx context.Context, dbURL string) (*store.Store, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	return store.New(ctx, dbURL)
}

// credentialStore picks where refreshed tokens are persisted. st may be nil
// when CREDENTIAL_STORE is env.
func credentialStore(cfg *config.Config, st *store.Store) (token.Store, error) {
	switch cfg.CredentialStore {
	case "postgres":
		if st == nil {
			return nil, fmt.Errorf("credential store postgres needs DATABASE_URL")
		}
		return st, nil
	default:
		return config.NewEnvFileStore(cfg.EnvFile), nil
	}
}

// tokenManager starts from the stored credential when one exists for the
// realm, since it may be newer than the one in the environment.
func tokenManager(ctx context.Context, cfg *config.Config, creds token.Store, log *logrus.Entry) (*token.Manager, error) {
	initial := cfg.InitialCredential()
	stored, ok, err := creds.LoadCredential(ctx, cfg.RealmID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if ok {
		initial = stored
		if initial.RealmID == "" {
			initial.RealmID = cfg.RealmID
		}
	}
	if initial.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token for realm %s; run control-panel connect", cfg.RealmID)
	}

	oauthCfg := quickbooks.OAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI)
	return token.NewManager(initial, token.NewOAuthRefresher(oauthCfg, cfg.HTTPClient()), creds,
		token.WithMargin(cfg.TokenRefreshMargin),
		token.WithRetry(cfg.RetryPolicy()),
		token.WithLogger(log),
	), nil
}

func quickBooksClient(cfg *config.Config, tokens quickbooks.TokenSource, realmID string) *quickbooks.Client {
	c := quickbooks.NewClient(cfg.HTTPClient(), cfg.APIBaseURL(), realmID, tokens)
	c.SetMinorVersion(cfg.MinorVersion)
	return c
}

// blobStore returns the attachment store and a close func.
func blobStore(ctx context.Context, cfg *config.Config) (importer.BlobStore, func(), error) {
	if cfg.StorageProvider == "gcs" {
		s, err := blob.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := blob.NewFSStore(cfg.AttachmentDir)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}
