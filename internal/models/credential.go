package models

import (
	"time"
)

// Credential states as managed by credentials.Manager.
const (
	CredentialUnauthenticated = "unauthenticated"
	CredentialAuthorized      = "authorized"
	CredentialExpired         = "expired"
	CredentialRefreshing      = "refreshing"
	CredentialFailed          = "failed"
)

// Credential holds an OAuth2 token pair plus the client material needed to
// refresh it. Created by the manual bootstrap step, mutated only by the
// credential manager, persisted after every successful refresh.
type Credential struct {
	Name         string     `json:"name"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenURI     string     `json:"token_uri"`
	ClientID     string     `json:"client_id"`
	ClientSecret string     `json:"client_secret"`
	Scopes       []string   `json:"scopes"`
	Expiry       *time.Time `json:"expiry,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ExpiresWithin reports whether the access token is absent, already expired,
// or will expire within the given safety margin.
func (c *Credential) ExpiresWithin(margin time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.Expiry == nil {
		return false
	}
	return time.Now().Add(margin).After(*c.Expiry)
}

// HasScopes reports whether the credential covers every requested scope.
func (c *Credential) HasScopes(scopes []string) bool {
	have := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		have[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}
