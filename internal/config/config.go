package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/retry"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/token"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/utils"
	"github.com/aiengrshafiq/QuickBooksImporter/pkg/quickbooks"
)

const (
	DefaultEnvFile     = ".env"
	DefaultImportFrom  = "2025-04-01"
	DefaultImportTo    = "2025-09-30"
	DefaultRedirectURI = "http://localhost:8000/callback"
)

// Config is the whole process configuration, read from ENV_FILE and the
// environment. Process environment values win over the file.
type Config struct {
	EnvFile string

	DatabaseURL string `validate:"required_if=CredentialStore postgres"`

	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	RedirectURI  string `validate:"required,url"`
	Environment  string `validate:"oneof=sandbox production"`
	BaseURL      string `validate:"omitempty,url"`
	MinorVersion string `validate:"required,numeric"`

	RealmID        string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time

	CredentialStore string `validate:"oneof=env postgres"`

	StorageProvider    string `validate:"oneof=fs gcs"`
	AttachmentDir      string `validate:"required_if=StorageProvider fs"`
	GCSBucket          string `validate:"required_if=StorageProvider gcs"`
	GCSPrefix          string
	GCSCredentialsFile string `validate:"omitempty,file"`

	ImportFrom     time.Time
	ImportTo       time.Time
	ImportLimit    int      `validate:"gte=0"`
	SkipWithoutLPO bool
	DocTypes       []string `validate:"min=1,dive,oneof=Invoice LPO"`
	Workers        int      `validate:"gte=1,lte=32"`
	PageSize       int      `validate:"gte=1,lte=1000"`
	TaxRate        decimal.Decimal

	HTTPTimeout          time.Duration `validate:"gt=0"`
	WriteTimeout         time.Duration `validate:"gt=0"`
	TokenRefreshMargin   time.Duration `validate:"gte=0"`
	RetryAttempts        int           `validate:"gte=1,lte=10"`
	RetryInitialInterval time.Duration `validate:"gt=0"`
	RetryMaxInterval     time.Duration `validate:"gtefield=RetryInitialInterval"`

	RedisAddr     string `validate:"omitempty,hostname_port"`
	RedisPassword string
	LockTTL       time.Duration `validate:"gt=0"`

	LogLevel  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `validate:"oneof=text json"`
	LogFile   string

	OAuthStateSecret string
	ControlPanelAddr string `validate:"required"`
}

// Load reads envFile (missing is fine) into the environment and builds a
// validated Config.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = utils.GetEnv("ENV_FILE", DefaultEnvFile)
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		EnvFile:     envFile,
		DatabaseURL: os.Getenv("DATABASE_URL"),

		ClientID:     os.Getenv("QB_CLIENT_ID"),
		ClientSecret: os.Getenv("QB_CLIENT_SECRET"),
		RedirectURI:  utils.GetEnv("QB_REDIRECT_URI", DefaultRedirectURI),
		Environment:  strings.ToLower(utils.GetEnv("QB_ENVIRONMENT", "sandbox")),
		BaseURL:      os.Getenv("QB_BASE_URL"),
		MinorVersion: utils.GetEnv("QB_MINOR_VERSION", quickbooks.DefaultMinorVersion),

		RealmID:      os.Getenv("QB_REALM_ID"),
		AccessToken:  os.Getenv("QB_ACCESS_TOKEN"),
		RefreshToken: os.Getenv("QB_REFRESH_TOKEN"),

		CredentialStore: strings.ToLower(utils.GetEnv("CREDENTIAL_STORE", "env")),

		StorageProvider:    strings.ToLower(utils.GetEnv("STORAGE_PROVIDER", "fs")),
		AttachmentDir:      utils.GetEnv("ATTACHMENT_DIR", "attachments"),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		GCSPrefix:          os.Getenv("GCS_PREFIX"),
		GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),

		ImportLimit:    utils.GetEnvInt("IMPORT_LIMIT", 0),
		SkipWithoutLPO: utils.GetEnvBool("SKIP_WITHOUT_LPO", true),
		DocTypes:       normalizeDocTypes(utils.GetEnvList("DOC_TYPES", []string{"Invoice"})),
		Workers:        utils.GetEnvInt("WORKERS", 1),
		PageSize:       utils.GetEnvInt("QB_PAGE_SIZE", 100),

		HTTPTimeout:          utils.GetEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		WriteTimeout:         utils.GetEnvDuration("WRITE_TIMEOUT", 30*time.Second),
		TokenRefreshMargin:   utils.GetEnvDuration("TOKEN_REFRESH_MARGIN", token.DefaultMargin),
		RetryAttempts:        utils.GetEnvInt("RETRY_ATTEMPTS", 4),
		RetryInitialInterval: utils.GetEnvDuration("RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
		RetryMaxInterval:     utils.GetEnvDuration("RETRY_MAX_INTERVAL", 10*time.Second),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		LockTTL:       utils.GetEnvDuration("LOCK_TTL", 2*time.Minute),

		LogLevel:  strings.ToLower(utils.GetEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(utils.GetEnv("LOG_FORMAT", "text")),
		LogFile:   utils.GetEnv("LOG_FILE", "logs/import.log"),

		OAuthStateSecret: os.Getenv("OAUTH_STATE_SECRET"),
		ControlPanelAddr: utils.GetEnv("CONTROL_PANEL_ADDR", ":8000"),
	}

	var err error
	if cfg.ImportFrom, err = parseDate("IMPORT_FROM", DefaultImportFrom); err != nil {
		return nil, err
	}
	if cfg.ImportTo, err = parseDate("IMPORT_TO", DefaultImportTo); err != nil {
		return nil, err
	}
	if v := os.Getenv("QB_TOKEN_EXPIRES_AT"); v != "" {
		if cfg.TokenExpiresAt, err = time.Parse(time.RFC3339, v); err != nil {
			return nil, fmt.Errorf("QB_TOKEN_EXPIRES_AT: %w", err)
		}
	}
	if cfg.TaxRate, err = decimal.NewFromString(utils.GetEnv("TAX_RATE", "0.05")); err != nil {
		return nil, fmt.Errorf("TAX_RATE: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", formatValidationErrors(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.ImportTo.Before(c.ImportFrom) {
		return fmt.Errorf("invalid configuration: IMPORT_TO %s is before IMPORT_FROM %s",
			c.ImportTo.Format(time.DateOnly), c.ImportFrom.Format(time.DateOnly))
	}
	if c.TaxRate.IsNegative() || c.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid configuration: TAX_RATE %s must be in [0, 1)", c.TaxRate)
	}
	return nil
}

// RequireImport checks what the importer needs beyond the base config.
func (c *Config) RequireImport() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.RealmID == "" {
		missing = append(missing, "QB_REALM_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid configuration: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// APIBaseURL is QB_BASE_URL when set, otherwise the host for QB_ENVIRONMENT.
func (c *Config) APIBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return quickbooks.BaseURL(c.Environment)
}

func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts:        c.RetryAttempts,
		InitialInterval: c.RetryInitialInterval,
		MaxInterval:     c.RetryMaxInterval,
	}
}

// InitialCredential is the credential carried in the environment. A missing
// expiry makes the first AccessToken call refresh.
func (c *Config) InitialCredential() token.Credential {
	return token.Credential{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		RealmID:      c.RealmID,
		ExpiresAt:    c.TokenExpiresAt,
	}
}

func (c *Config) HTTPClient() *http.Client {
	return &http.Client{Timeout: c.HTTPTimeout}
}

func parseDate(key, def string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, utils.GetEnv(key, def))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func normalizeDocTypes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		switch strings.ToLower(s) {
		case "invoice":
			out = append(out, "Invoice")
		case "lpo", "purchaseorder":
			out = append(out, "LPO")
		default:
			out = append(out, s)
		}
	}
	return out
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
