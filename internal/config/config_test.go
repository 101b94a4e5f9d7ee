package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/token"
)

var configKeys = []string{
	"ENV_FILE", "DATABASE_URL", "QB_CLIENT_ID", "QB_CLIENT_SECRET", "QB_REDIRECT_URI", "QB_ENVIRONMENT",
	"QB_BASE_URL", "QB_MINOR_VERSION", "QB_REALM_ID", "QB_ACCESS_TOKEN", "QB_REFRESH_TOKEN",
	"QB_TOKEN_EXPIRES_AT", "CREDENTIAL_STORE", "STORAGE_PROVIDER", "ATTACHMENT_DIR", "GCS_BUCKET",
	"GCS_PREFIX", "GCS_CREDENTIALS_FILE", "IMPORT_FROM", "IMPORT_TO", "IMPORT_LIMIT", "SKIP_WITHOUT_LPO",
	"DOC_TYPES", "WORKERS", "QB_PAGE_SIZE", "TAX_RATE", "HTTP_TIMEOUT", "WRITE_TIMEOUT",
	"TOKEN_REFRESH_MARGIN", "RETRY_ATTEMPTS", "RETRY_INITIAL_INTERVAL", "RETRY_MAX_INTERVAL",
	"REDIS_ADDR", "REDIS_PASSWORD", "LOCK_TTL", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
	"OAUTH_STATE_SECRET", "CONTROL_PANEL_ADDR",
}

// isolateEnv unsets every config key for the duration of the test. Values
// that godotenv.Load sets are removed again by the t.Setenv cleanup.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeEnv(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv("QB_CLIENT_ID", "id")
	t.Setenv("QB_CLIENT_SECRET", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ImportFrom.Format(time.DateOnly) != DefaultImportFrom || cfg.ImportTo.Format(time.DateOnly) != DefaultImportTo {
		t.Fatalf("unexpected default range %s..%s", cfg.ImportFrom, cfg.ImportTo)
	}
	if !cfg.SkipWithoutLPO || cfg.Workers != 1 || cfg.PageSize != 100 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.DocTypes) != 1 || cfg.DocTypes[0] != "Invoice" {
		t.Fatalf("expected Invoice only, got %v", cfg.DocTypes)
	}
	if cfg.TaxRate.String() != "0.05" {
		t.Fatalf("expected tax rate 0.05, got %s", cfg.TaxRate)
	}
	if cfg.APIBaseURL() != "https://sandbox-quickbooks.api.intuit.com" {
		t.Fatalf("unexpected base url %s", cfg.APIBaseURL())
	}
	if !cfg.InitialCredential().ExpiresAt.IsZero() {
		t.Fatal("expected a zero expiry so the first call refreshes")
	}
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	isolateEnv(t)
	path := writeEnv(t, strings.Join([]string{
		"QB_CLIENT_ID=file-id",
		"QB_CLIENT_SECRET=file-secret",
		"QB_ENVIRONMENT=production",
		"QB_REALM_ID=9130",
		"QB_TOKEN_EXPIRES_AT=2025-06-01T10:00:00Z",
		"DOC_TYPES=invoice,PurchaseOrder",
		"WORKERS=4",
	}, "\n"))
	// the process environment wins over the file
	t.Setenv("QB_CLIENT_ID", "env-id")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientID != "env-id" || cfg.ClientSecret != "file-secret" {
		t.Fatalf("unexpected client credentials %q / %q", cfg.ClientID, cfg.ClientSecret)
	}
	if cfg.APIBaseURL() != "https://quickbooks.api.intuit.com" {
		t.Fatalf("unexpected base url %s", cfg.APIBaseURL())
	}
	if got := strings.Join(cfg.DocTypes, ","); got != "Invoice,LPO" {
		t.Fatalf("expected normalized doc types, got %s", got)
	}
	if cfg.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.TokenExpiresAt.IsZero() {
		t.Fatal("expected token expiry to be parsed")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing client id": {"QB_CLIENT_SECRET": "s"},
		"bad environment":   {"QB_CLIENT_ID": "i", "QB_CLIENT_SECRET": "s", "QB_ENVIRONMENT": "staging"},
		"postgres store":    {"QB_CLIENT_ID": "i", "QB_CLIENT_SECRET": "s", "CREDENTIAL_STORE": "postgres"},
		"gcs no bucket":     {"QB_CLIENT_ID": "i", "QB_CLIENT_SECRET": "s", "STORAGE_PROVIDER": "gcs"},
		"range reversed":    {"QB_CLIENT_ID": "i", "QB_CLIENT_SECRET": "s", "IMPORT_FROM": "2025-09-01", "IMPORT_TO": "2025-04-01"},
		"bad date":          {"QB_CLIENT_ID": "i", "QB_CLIENT_SECRET": "s", "IMPORT_FROM": "01/04/2025"},
		"bad doc type":      {"QB_CLIENT_ID": "i", "QB_CLIENT_SECRET": "s", "DOC_TYPES": "Bill"},
		"tax rate":          {"QB_CLIENT_ID": "i", "QB_CLIENT_SECRET": "s", "TAX_RATE": "5"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Fatal("expected a configuration error")
			}
		})
	}
}

func TestRequireImport(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	err := cfg.RequireImport()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), "QB_REALM_ID") {
		t.Fatalf("expected both keys to be reported, got %v", err)
	}
}

func TestEnvFileStore_SaveKeepsOtherKeys(t *testing.T) {
	t.Parallel()

	path := writeEnv(t, "QB_CLIENT_ID=keep-me\nQB_REFRESH_TOKEN=old\n")
	s := NewEnvFileStore(path)
	exp := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := s.SaveCredential(context.Background(), token.Credential{
		RealmID: "9130", AccessToken: "at-2", RefreshToken: "rt-2", ExpiresAt: exp,
	}); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}

	env, err := godotenv.Read(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if env["QB_CLIENT_ID"] != "keep-me" || env["QB_REFRESH_TOKEN"] != "rt-2" {
		t.Fatalf("unexpected file contents %v", env)
	}

	c, ok, err := s.LoadCredential(context.Background(), "9130")
	if err != nil || !ok {
		t.Fatalf("LoadCredential: ok=%v err=%v", ok, err)
	}
	if c.AccessToken != "at-2" || !c.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected credential %+v", c)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestEnvFileStore_OtherRealmIsNotLoaded(t *testing.T) {
	t.Parallel()

	s := NewEnvFileStore(writeEnv(t, "QB_REALM_ID=1\nQB_REFRESH_TOKEN=rt\n"))
	if _, ok, err := s.LoadCredential(context.Background(), "2"); err != nil || ok {
		t.Fatalf("expected no credential for realm 2, got ok=%v err=%v", ok, err)
	}
}

func TestEnvFileStore_MissingFile(t *testing.T) {
	t.Parallel()

	s := NewEnvFileStore(filepath.Join(t.TempDir(), "absent.env"))
	if _, ok, err := s.LoadCredential(context.Background(), ""); err != nil || ok {
		t.Fatalf("expected nothing, got ok=%v err=%v", ok, err)
	}
	if err := s.SaveCredential(context.Background(), token.Credential{RefreshToken: "rt"}); err != nil {
		t.Fatalf("expected SaveCredential to create the file, got %v", err)
	}
}
