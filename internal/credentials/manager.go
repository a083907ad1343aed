// Package credentials owns the OAuth2 token lifecycle: expiry detection,
// refresh with single-writer discipline, and persistence of every refreshed
// token before it is handed out.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"formsync/internal/errs"
	"formsync/internal/models"
	"formsync/internal/store"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is how long before expiry a token is treated as
// expired, so it stays valid across a dependent provider call.
const DefaultExpiryMargin = 60 * time.Second

// CredentialStore is the slice of the record store the manager needs.
type CredentialStore interface {
	GetCredential(ctx context.Context, name string) (*models.Credential, error)
	SaveCredential(ctx context.Context, c *models.Credential) error
}

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error)
}

// Manager guards one named credential. The mutex is held for the whole
// refresh, so concurrent callers that observe an expired token block on the
// in-flight refresh instead of issuing duplicate refresh calls; under a
// rotating-refresh-token provider a duplicate would invalidate the winner.
type Manager struct {
	store     CredentialStore
	refresher Refresher
	name      string
	margin    time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	cached *models.Credential
	state  string
}

func NewManager(credStore CredentialStore, refresher Refresher, name string, logger zerolog.Logger) *Manager {
	return &Manager{
		store:     credStore,
		refresher: refresher,
		name:      name,
		margin:    DefaultExpiryMargin,
		logger:    logger.With().Str("component", "credentials").Str("credential", name).Logger(),
		state:     models.CredentialUnauthenticated,
	}
}

// SetExpiryMargin overrides the safety margin. Zero keeps the default.
func (m *Manager) SetExpiryMargin(margin time.Duration) {
	if margin > 0 {
		m.margin = margin
	}
}

// State returns the lifecycle state for introspection and tests.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetValidCredential returns a credential whose access token is valid for
// at least the safety margin, refreshing it first when needed. The updated
// credential is persisted before being returned, so a crash after refresh
// never loses the new token.
func (m *Manager) GetValidCredential(ctx context.Context, scopes []string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == models.CredentialFailed {
		return nil, &errs.AuthError{Reason: "credential requires re-bootstrap"}
	}

	if m.cached == nil {
		cred, err := m.store.GetCredential(ctx, m.name)
		if errors.Is(err, store.ErrCredentialNotFound) {
			m.state = models.CredentialUnauthenticated
			return nil, &errs.AuthError{Reason: "no bootstrap credential, run the consent flow first"}
		}
		if err != nil {
			return nil, fmt.Errorf("load credential: %w", err)
		}
		m.cached = cred
		m.state = models.CredentialAuthorized
	}

	if !m.cached.HasScopes(scopes) {
		return nil, &errs.AuthError{
			Reason: fmt.Sprintf("credential lacks requested scopes %v", scopes),
		}
	}

	if !m.cached.ExpiresWithin(m.margin) {
		return cloneCredential(m.cached), nil
	}

	m.state = models.CredentialExpired
	return m.refreshLocked(ctx)
}

// refreshLocked is called with the mutex held and the cached credential
// known to be expired.
func (m *Manager) refreshLocked(ctx context.Context) (*models.Credential, error) {
	m.state = models.CredentialRefreshing
	m.logger.Info().Msg("access token expired, refreshing")

	refreshed, err := m.refresher.Refresh(ctx, m.cached)
	if err != nil {
		var ae *errs.AuthError
		if errors.As(err, &ae) {
			// Terminal: refresh token revoked, nothing to retry.
			m.state = models.CredentialFailed
			m.logger.Error().Err(err).Msg("refresh token rejected, credential failed")
			return nil, err
		}
		m.state = models.CredentialExpired
		return nil, err
	}

	if err := m.store.SaveCredential(ctx, refreshed); err != nil {
		m.state = models.CredentialExpired
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}

	m.cached = refreshed
	m.state = models.CredentialAuthorized
	m.logger.Info().Time("expiry", expiryOrZero(refreshed)).Msg("credential refreshed and persisted")
	return cloneCredential(refreshed), nil
}

// Reset clears the failed state after an operator re-ran the bootstrap
// step; the next call reloads the credential from the store.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.state = models.CredentialUnauthenticated
}

// TokenSource adapts the manager to oauth2.TokenSource for Google API
// clients.
func (m *Manager) TokenSource(ctx context.Context, scopes []string) oauth2.TokenSource {
	return &managerTokenSource{manager: m, ctx: ctx, scopes: scopes}
}

type managerTokenSource struct {
	manager *Manager
	ctx     context.Context
	scopes  []string
}

func (ts *managerTokenSource) Token() (*oauth2.Token, error) {
	cred, err := ts.manager.GetValidCredential(ts.ctx, ts.scopes)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
	}
	if cred.Expiry != nil {
		tok.Expiry = *cred.Expiry
	}
	return tok, nil
}

func cloneCredential(c *models.Credential) *models.Credential {
	out := *c
	out.Scopes = append([]string(nil), c.Scopes...)
	if c.Expiry != nil {
		e := *c.Expiry
		out.Expiry = &e
	}
	return &out
}

func expiryOrZero(c *models.Credential) time.Time {
	if c.Expiry == nil {
		return time.Time{}
	}
	return *c.Expiry
}
