package credentials

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"formsync/internal/errs"
	"formsync/internal/models"

	"golang.org/x/oauth2"
)

// OAuth2Refresher performs the refresh-token exchange against the token
// endpoint recorded on the credential itself.
type OAuth2Refresher struct{}

func NewOAuth2Refresher() *OAuth2Refresher {
	return &OAuth2Refresher{}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	conf := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Scopes:       cred.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL: cred.TokenURI,
		},
	}

	// Force the exchange by presenting a token that is already expired.
	stale := &oauth2.Token{
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	}

	fresh, err := conf.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	out := *cred
	out.AccessToken = fresh.AccessToken
	// Providers that rotate refresh tokens return a new one; keep the old
	// token otherwise.
	if fresh.RefreshToken != "" {
		out.RefreshToken = fresh.RefreshToken
	}
	if !fresh.Expiry.IsZero() {
		e := fresh.Expiry
		out.Expiry = &e
	}
	out.Scopes = append([]string(nil), cred.Scopes...)
	return &out, nil
}

// classifyRefreshError maps a token endpoint failure onto the taxonomy:
// invalid_grant means the refresh token is revoked (terminal), anything
// that looks like connectivity is transient.
func classifyRefreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		body := strings.ToLower(string(retrieveErr.Body))
		if retrieveErr.ErrorCode == "invalid_grant" || strings.Contains(body, "invalid_grant") {
			return &errs.AuthError{Reason: "refresh token revoked", Err: err}
		}
		if retrieveErr.Response != nil {
			switch retrieveErr.Response.StatusCode {
			case http.StatusUnauthorized, http.StatusBadRequest:
				return &errs.AuthError{Reason: "token endpoint rejected client", Err: err}
			}
		}
		return &errs.TransientNetworkError{Op: "token refresh", Err: err}
	}

	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded) {
		return &errs.TransientNetworkError{Op: "token refresh", Err: err}
	}
	return &errs.TransientNetworkError{Op: "token refresh", Err: err}
}
