package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/token"
)

var _ token.Store = (*Store)(nil)

// LoadCredential returns the stored QuickBooks connection for realmID.
func (s *Store) LoadCredential(ctx context.Context, realmID string) (token.Credential, bool, error) {
	c := token.Credential{RealmID: realmID}
	err := s.pool.QueryRow(ctx,
		`SELECT access_token, refresh_token, expires_at FROM qb_connections WHERE realm_id = $1`,
		realmID).Scan(&c.AccessToken, &c.RefreshToken, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return token.Credential{}, false, nil
	}
	if err != nil {
		return token.Credential{}, false, fmt.Errorf("query connection: %w", err)
	}
	return c, true, nil
}

// SaveCredential upserts the connection for the credential's realm.
func (s *Store) SaveCredential(ctx context.Context, c token.Credential) error {
	if c.RealmID == "" {
		return fmt.Errorf("save connection: realm id missing")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO qb_connections (realm_id, access_token, refresh_token, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (realm_id) DO UPDATE
SET access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    expires_at = EXCLUDED.expires_at,
    updated_at = now()
`, c.RealmID, c.AccessToken, c.RefreshToken, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert connection: %w", err)
	}
	return nil
}
