package credentials

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"formsync/internal/errs"
	"formsync/internal/models"
	"formsync/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryCredStore struct {
	mu    sync.Mutex
	creds map[string]*models.Credential
	saves int
}

func newMemoryCredStore() *memoryCredStore {
	return &memoryCredStore{creds: make(map[string]*models.Credential)}
}

func (m *memoryCredStore) GetCredential(ctx context.Context, name string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[name]
	if !ok {
		return nil, store.ErrCredentialNotFound
	}
	copied := *cred
	return &copied, nil
}

func (m *memoryCredStore) SaveCredential(ctx context.Context, c *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *c
	m.creds[c.Name] = &copied
	m.saves++
	return nil
}

type fakeRefresher struct {
	calls int32
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	out := *cred
	out.AccessToken = fmt.Sprintf("refreshed-%d", n)
	expiry := time.Now().Add(time.Hour)
	out.Expiry = &expiry
	return &out, nil
}

func seedCredential(t *testing.T, credStore *memoryCredStore, expiry time.Time) {
	t.Helper()
	require.NoError(t, credStore.SaveCredential(context.Background(), &models.Credential{
		Name:         "google",
		AccessToken:  "stale",
		RefreshToken: "refresh",
		TokenURI:     "https://oauth2.example/token",
		ClientID:     "client",
		ClientSecret: "secret",
		Scopes:       []string{"sheets", "calendar"},
		Expiry:       &expiry,
	}))
	credStore.saves = 0
}

func TestGetValidCredentialFresh(t *testing.T) {
	credStore := newMemoryCredStore()
	seedCredential(t, credStore, time.Now().Add(time.Hour))
	refresher := &fakeRefresher{}
	manager := NewManager(credStore, refresher, "google", zerolog.Nop())

	cred, err := manager.GetValidCredential(context.Background(), []string{"sheets"})
	require.NoError(t, err)
	assert.Equal(t, "stale", cred.AccessToken)
	assert.Equal(t, int32(0), refresher.calls)
	assert.Equal(t, models.CredentialAuthorized, manager.State())
}

func TestGetValidCredentialRefreshesExpired(t *testing.T) {
	credStore := newMemoryCredStore()
	seedCredential(t, credStore, time.Now().Add(-time.Minute))
	refresher := &fakeRefresher{}
	manager := NewManager(credStore, refresher, "google", zerolog.Nop())

	cred, err := manager.GetValidCredential(context.Background(), []string{"sheets"})
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", cred.AccessToken)
	assert.Equal(t, int32(1), refresher.calls)
	// Persisted before returning.
	assert.Equal(t, 1, credStore.saves)
	assert.Equal(t, "refreshed-1", credStore.creds["google"].AccessToken)
}

func TestGetValidCredentialRefreshesWithinMargin(t *testing.T) {
	credStore := newMemoryCredStore()
	// Valid, but inside the 60s safety margin.
	seedCredential(t, credStore, time.Now().Add(30*time.Second))
	refresher := &fakeRefresher{}
	manager := NewManager(credStore, refresher, "google", zerolog.Nop())

	cred, err := manager.GetValidCredential(context.Background(), []string{"sheets"})
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", cred.AccessToken)
}

func TestConcurrentCallersSingleRefresh(t *testing.T) {
	credStore := newMemoryCredStore()
	seedCredential(t, credStore, time.Now().Add(-time.Minute))
	refresher := &fakeRefresher{}
	manager := NewManager(credStore, refresher, "google", zerolog.Nop())

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := manager.GetValidCredential(context.Background(), []string{"sheets"})
			if assert.NoError(t, err) {
				tokens[i] = cred.AccessToken
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), refresher.calls)
	for _, token := range tokens {
		assert.Equal(t, "refreshed-1", token)
	}
}

func TestRevokedRefreshTokenIsTerminal(t *testing.T) {
	credStore := newMemoryCredStore()
	seedCredential(t, credStore, time.Now().Add(-time.Minute))
	refresher := &fakeRefresher{err: &errs.AuthError{Reason: "refresh token revoked"}}
	manager := NewManager(credStore, refresher, "google", zerolog.Nop())

	_, err := manager.GetValidCredential(context.Background(), []string{"sheets"})
	var ae *errs.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, models.CredentialFailed, manager.State())

	// Failed is sticky: no further refresh attempts.
	_, err = manager.GetValidCredential(context.Background(), []string{"sheets"})
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, int32(1), refresher.calls)

	// Re-bootstrap resets the state machine.
	seedCredential(t, credStore, time.Now().Add(time.Hour))
	manager.Reset()
	cred, err := manager.GetValidCredential(context.Background(), []string{"sheets"})
	require.NoError(t, err)
	assert.Equal(t, "stale", cred.AccessToken)
}

func TestTransientRefreshFailureStaysRetryable(t *testing.T) {
	credStore := newMemoryCredStore()
	seedCredential(t, credStore, time.Now().Add(-time.Minute))
	refresher := &fakeRefresher{err: &errs.TransientNetworkError{Op: "token refresh"}}
	manager := NewManager(credStore, refresher, "google", zerolog.Nop())

	_, err := manager.GetValidCredential(context.Background(), []string{"sheets"})
	var te *errs.TransientNetworkError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, models.CredentialExpired, manager.State())

	// A later attempt may succeed.
	refresher.err = nil
	cred, err := manager.GetValidCredential(context.Background(), []string{"sheets"})
	require.NoError(t, err)
	assert.Equal(t, "refreshed-2", cred.AccessToken)
	assert.Equal(t, models.CredentialAuthorized, manager.State())
}

func TestMissingScopesFail(t *testing.T) {
	credStore := newMemoryCredStore()
	seedCredential(t, credStore, time.Now().Add(time.Hour))
	manager := NewManager(credStore, &fakeRefresher{}, "google", zerolog.Nop())

	_, err := manager.GetValidCredential(context.Background(), []string{"gmail"})
	var ae *errs.AuthError
	assert.ErrorAs(t, err, &ae)
}

func TestMissingBootstrapCredential(t *testing.T) {
	manager := NewManager(newMemoryCredStore(), &fakeRefresher{}, "google", zerolog.Nop())
	_, err := manager.GetValidCredential(context.Background(), []string{"sheets"})
	var ae *errs.AuthError
	assert.ErrorAs(t, err, &ae)
	assert.Equal(t, models.CredentialUnauthenticated, manager.State())
}
