package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/config"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/frontend"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/handler"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/logging"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/store"
	authpkg "github.com/aiengrshafiq/QuickBooksImporter/pkg/auth"
	"github.com/aiengrshafiq/QuickBooksImporter/pkg/quickbooks"
)

const stateTTL = 10 * time.Minute

// RunMigrationsUp applies the embedded schema migrations.
func RunMigrationsUp(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	st, err := connectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer st.Close()

	log.Info("running DB migrations")
	applied, err := st.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info("schema up to date")
		return nil
	}
	log.WithField("versions", applied).Info("migrations applied")
	return nil
}

// Connect serves the OAuth bootstrap routes until one company is connected
// or ctx is done.
func Connect(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	var st *store.Store
	if cfg.CredentialStore == "postgres" {
		var err error
		if st, err = connectDB(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		defer st.Close()
	}
	creds, err := credentialStore(cfg, st)
	if err != nil {
		return err
	}
	states, err := authpkg.NewJWTStates(cfg.OAuthStateSecret, stateTTL)
	if err != nil {
		return err
	}
	tpls, err := frontend.BuildTemplates()
	if err != nil {
		return fmt.Errorf("build templates: %w", err)
	}

	h := handler.New(handler.Deps{
		OAuth:     quickbooks.OAuthConfig(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI),
		Client:    cfg.HTTPClient(),
		States:    states,
		Store:     creds,
		StoreName: cfg.CredentialStore,
		Templates: tpls,
		Log:       log,
	})
	srv := &http.Server{
		Addr:         cfg.ControlPanelAddr,
		Handler:      h.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	log.WithField("addr", cfg.ControlPanelAddr).Infof("open %s to connect QuickBooks", connectURL(cfg))

	var result error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case cred := <-h.Connected():
		log.WithField("realm_id", cred.RealmID).Info("credential saved; set QB_REALM_ID to this realm to import")
	case <-ctx.Done():
		result = ctx.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(log, "commands", "Connect", err, logrus.Fields{"step": "shutdown"})
	}
	return result
}

func connectURL(cfg *config.Config) string {
	host := cfg.ControlPanelAddr
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}
	return "http://" + host + "/connect"
}

// Check calls CompanyInfo with the stored credential.
func Check(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	if cfg.RealmID == "" {
		return fmt.Errorf("QB_REALM_ID not set")
	}
	var st *store.Store
	if cfg.CredentialStore == "postgres" {
		var err error
		if st, err = connectDB(ctx, cfg.DatabaseURL); err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		defer st.Close()
	}
	creds, err := credentialStore(cfg, st)
	if err != nil {
		return err
	}
	mgr, err := tokenManager(ctx, cfg, creds, log)
	if err != nil {
		return err
	}

	info, err := quickBooksClient(cfg, mgr, cfg.RealmID).GetCompanyInfo(ctx)
	if err != nil {
		return fmt.Errorf("company info: %w", err)
	}
	log.WithFields(logrus.Fields{
		"realm_id":     cfg.RealmID,
		"company":      info.CompanyName,
		"country":      info.Country,
		"token_expiry": mgr.Current().ExpiresAt.Format(time.RFC3339),
	}).Info("connection ok")
	return nil
}
