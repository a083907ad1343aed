package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"formsync/internal/models"
)

// ErrCredentialNotFound means the bootstrap step has not run for this name.
var ErrCredentialNotFound = errors.New("credential not found")

func (s *Store) GetCredential(ctx context.Context, name string) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, access_token, refresh_token, token_uri, client_id, client_secret, scopes, expiry, updated_at
         FROM credentials WHERE name = ?`, name)

	var c models.Credential
	var scopes string
	var expiry sql.NullTime
	err := row.Scan(&c.Name, &c.AccessToken, &c.RefreshToken, &c.TokenURI,
		&c.ClientID, &c.ClientSecret, &scopes, &expiry, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if scopes != "" {
		c.Scopes = strings.Split(scopes, " ")
	}
	if expiry.Valid {
		c.Expiry = &expiry.Time
	}
	return &c, nil
}

// SaveCredential writes the whole row in one statement so a credential is
// never observed partially written.
func (s *Store) SaveCredential(ctx context.Context, c *models.Credential) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (name, access_token, refresh_token, token_uri, client_id, client_secret, scopes, expiry, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET
            access_token = excluded.access_token,
            refresh_token = excluded.refresh_token,
            token_uri = excluded.token_uri,
            client_id = excluded.client_id,
            client_secret = excluded.client_secret,
            scopes = excluded.scopes,
            expiry = excluded.expiry,
            updated_at = excluded.updated_at`,
		c.Name, c.AccessToken, c.RefreshToken, c.TokenURI, c.ClientID, c.ClientSecret,
		strings.Join(c.Scopes, " "), c.Expiry, now)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	c.UpdatedAt = now
	return nil
}
