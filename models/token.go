package models

import "time"

// AccessToken is the access part of an OAuthToken. Value is plaintext in
// memory only; stores persist it encrypted.
type AccessToken struct {
	Value                string             `json:"value"`
	Grant                AuthorizationGrant `json:"grant"`
	ClientCertThumbprint string             `json:"client_cert_thumbprint,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	ExpiresAt            time.Time          `json:"expires_at"`
}

// IsExpired reports whether the access token lifetime has ended.
func (t AccessToken) IsExpired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// ExpiresIn is the lifetime in whole seconds measured from creation.
func (t AccessToken) ExpiresIn() int64 {
	return int64(t.ExpiresAt.Sub(t.CreatedAt) / time.Second)
}

// RefreshToken is the optional refresh part of an OAuthToken.
type RefreshToken struct {
	Value     string    `json:"value,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (t RefreshToken) Exists() bool { return t.Value != "" }

// IsExpired reports whether the refresh token lifetime has ended.
func (t RefreshToken) IsExpired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// IDToken is the optional OpenID Connect part of an OAuthToken.
type IDToken struct {
	Value string `json:"value,omitempty"`
}

func (t IDToken) Exists() bool { return t.Value != "" }

// OAuthToken is one issued token bundle.
type OAuthToken struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Issuer       string       `json:"issuer"`
	TokenType    string       `json:"token_type"`
	AccessToken  AccessToken  `json:"access_token"`
	RefreshToken RefreshToken `json:"refresh_token"`
	IDToken      IDToken      `json:"id_token"`
}

// Grant is the authorization grant the bundle was minted from.
func (t *OAuthToken) Grant() AuthorizationGrant { return t.AccessToken.Grant }

// ClientID is the client the bundle was issued to.
func (t *OAuthToken) ClientID() string { return t.AccessToken.Grant.RequestedClientID }

// UserSub is the subject of the bundle, empty for client credentials.
func (t *OAuthToken) UserSub() string { return t.AccessToken.Grant.User.Sub }

// Scopes are the scopes granted to the bundle.
func (t *OAuthToken) Scopes() Scopes { return t.AccessToken.Grant.Scopes }
