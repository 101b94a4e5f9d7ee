package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/token"
)

const (
	keyRealmID      = "QB_REALM_ID"
	keyAccessToken  = "QB_ACCESS_TOKEN"
	keyRefreshToken = "QB_REFRESH_TOKEN"
	keyExpiresAt    = "QB_TOKEN_EXPIRES_AT"
)

// EnvFileStore keeps the QuickBooks credential in the .env file. Other keys in
// the file are preserved; comments and ordering are not.
type EnvFileStore struct {
	path string
	mu   sync.Mutex
}

var _ token.Store = (*EnvFileStore)(nil)

func NewEnvFileStore(path string) *EnvFileStore {
	return &EnvFileStore{path: path}
}

func (s *EnvFileStore) read() (map[string]string, error) {
	env, err := godotenv.Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return env, nil
}

func (s *EnvFileStore) LoadCredential(_ context.Context, realmID string) (token.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read()
	if err != nil {
		return token.Credential{}, false, err
	}
	if env[keyRefreshToken] == "" {
		return token.Credential{}, false, nil
	}
	if realmID != "" && env[keyRealmID] != "" && env[keyRealmID] != realmID {
		return token.Credential{}, false, nil
	}
	c := token.Credential{
		AccessToken:  env[keyAccessToken],
		RefreshToken: env[keyRefreshToken],
		RealmID:      env[keyRealmID],
	}
	if v := env[keyExpiresAt]; v != "" {
		if c.ExpiresAt, err = time.Parse(time.RFC3339, v); err != nil {
			return token.Credential{}, false, fmt.Errorf("%s in %s: %w", keyExpiresAt, s.path, err)
		}
	}
	return c, true, nil
}

// SaveCredential rewrites the token keys through a temp file and rename, so a
// crash never leaves a half written file.
func (s *EnvFileStore) SaveCredential(_ context.Context, c token.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.read()
	if err != nil {
		return err
	}
	if c.RealmID != "" {
		env[keyRealmID] = c.RealmID
	}
	env[keyAccessToken] = c.AccessToken
	env[keyRefreshToken] = c.RefreshToken
	if c.ExpiresAt.IsZero() {
		delete(env, keyExpiresAt)
	} else {
		env[keyExpiresAt] = c.ExpiresAt.UTC().Format(time.RFC3339)
	}

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal env: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".env-*")
	if err != nil {
		return fmt.Errorf("create temp env file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp env file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp env file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp env file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
