package models

import (
	"time"

	"github.com/legit-games/oauth2"
)

// RefreshTokenStrategy decides the expiry of a rotated refresh token.
type RefreshTokenStrategy string

const (
	// RefreshFixed keeps the expiry of the first refresh token.
	RefreshFixed RefreshTokenStrategy = "FIXED"
	// RefreshExtends restarts the lifetime on every rotation.
	RefreshExtends RefreshTokenStrategy = "EXTENDS"
)

// SigningKey is the tenant key used to sign access and ID tokens.
type SigningKey struct {
	KeyID      string `json:"kid" koanf:"kid"`
	Algorithm  string `json:"alg" koanf:"alg"`
	PrivateKey string `json:"-" koanf:"private_key"`
}

// ServerConfiguration is the authorization server configuration of a tenant.
type ServerConfiguration struct {
	TenantID                          string               `koanf:"tenant_id"`
	Issuer                            string               `koanf:"issuer"`
	TokenEndpoint                     string               `koanf:"token_endpoint"`
	BackchannelAuthenticationEndpoint string               `koanf:"backchannel_authentication_endpoint"`
	SigningKey                        SigningKey           `koanf:"signing_key"`
	GrantTypesSupported               []oauth2.GrantType   `koanf:"grant_types_supported"`
	ScopesSupported                   []string             `koanf:"scopes_supported"`
	AccessTokenDuration               time.Duration        `koanf:"access_token_duration"`
	RefreshTokenDuration              time.Duration        `koanf:"refresh_token_duration"`
	IDTokenDuration                   time.Duration        `koanf:"id_token_duration"`
	AuthorizationCodeDuration         time.Duration        `koanf:"authorization_code_duration"`
	RefreshTokenStrategy              RefreshTokenStrategy `koanf:"refresh_token_strategy"`
	BackchannelRequestExpiry          time.Duration        `koanf:"backchannel_request_expiry"`
	BackchannelPollingInterval        time.Duration        `koanf:"backchannel_polling_interval"`
	BackchannelBindingMessageMaxLen   int                  `koanf:"backchannel_binding_message_max_length"`
}

// Defaults applied when a tenant leaves a lifetime unset.
const (
	DefaultAccessTokenDuration        = time.Hour
	DefaultRefreshTokenDuration       = 24 * time.Hour
	DefaultIDTokenDuration            = time.Hour
	DefaultAuthorizationCodeDuration  = 10 * time.Minute
	DefaultBackchannelRequestExpiry   = 5 * time.Minute
	DefaultBackchannelPollingInterval = 5 * time.Second
	DefaultBindingMessageMaxLen       = 128
)

// Exists reports whether the tenant is configured.
func (c ServerConfiguration) Exists() bool { return c.TenantID != "" }

// WithDefaults fills unset lifetimes.
func (c ServerConfiguration) WithDefaults() ServerConfiguration {
	if c.AccessTokenDuration <= 0 {
		c.AccessTokenDuration = DefaultAccessTokenDuration
	}
	if c.RefreshTokenDuration <= 0 {
		c.RefreshTokenDuration = DefaultRefreshTokenDuration
	}
	if c.IDTokenDuration <= 0 {
		c.IDTokenDuration = DefaultIDTokenDuration
	}
	if c.AuthorizationCodeDuration <= 0 {
		c.AuthorizationCodeDuration = DefaultAuthorizationCodeDuration
	}
	if c.BackchannelRequestExpiry <= 0 {
		c.BackchannelRequestExpiry = DefaultBackchannelRequestExpiry
	}
	if c.BackchannelPollingInterval <= 0 {
		c.BackchannelPollingInterval = DefaultBackchannelPollingInterval
	}
	if c.BackchannelBindingMessageMaxLen <= 0 {
		c.BackchannelBindingMessageMaxLen = DefaultBindingMessageMaxLen
	}
	if c.RefreshTokenStrategy == "" {
		c.RefreshTokenStrategy = RefreshFixed
	}
	return c
}

// SupportsGrantType reports whether the tenant enables gt.
func (c ServerConfiguration) SupportsGrantType(gt oauth2.GrantType) bool {
	for _, v := range c.GrantTypesSupported {
		if v == gt {
			return true
		}
	}
	return false
}

// AssertionAudiences are the values a client assertion may name in aud.
func (c ServerConfiguration) AssertionAudiences() []string {
	out := make([]string, 0, 3)
	for _, v := range []string{c.Issuer, c.TokenEndpoint, c.BackchannelAuthenticationEndpoint} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ClientConfiguration is the registration of one client within a tenant.
type ClientConfiguration struct {
	TenantID                              string                          `koanf:"tenant_id"`
	ClientID                              string                          `koanf:"client_id"`
	ClientSecret                          string                          `koanf:"client_secret"`
	TokenEndpointAuthMethod               oauth2.ClientAuthenticationType `koanf:"token_endpoint_auth_method"`
	JWKS                                  string                          `koanf:"jwks"`
	TLSClientAuthSubjectDN                string                          `koanf:"tls_client_auth_subject_dn"`
	TLSClientAuthSANDNS                   string                          `koanf:"tls_client_auth_san_dns"`
	TLSClientAuthSANURI                   string                          `koanf:"tls_client_auth_san_uri"`
	TLSClientAuthSANIP                    string                          `koanf:"tls_client_auth_san_ip"`
	TLSClientAuthSANEmail                 string                          `koanf:"tls_client_auth_san_email"`
	TLSClientCertificateBoundAccessTokens bool                            `koanf:"tls_client_certificate_bound_access_tokens"`
	RedirectURIs                          []string                        `koanf:"redirect_uris"`
	GrantTypes                            []oauth2.GrantType              `koanf:"grant_types"`
	Scope                                 string                          `koanf:"scope"`
	BackchannelTokenDeliveryMode          oauth2.DeliveryMode             `koanf:"backchannel_token_delivery_mode"`
	BackchannelClientNotificationEndpoint string                          `koanf:"backchannel_client_notification_endpoint"`
	AccessTokenDuration                   time.Duration                   `koanf:"access_token_duration"`
	RefreshTokenDuration                  time.Duration                   `koanf:"refresh_token_duration"`
	RefreshTokenStrategy                  RefreshTokenStrategy            `koanf:"refresh_token_strategy"`
}

// Exists reports whether the client is registered.
func (c ClientConfiguration) Exists() bool { return c.ClientID != "" }

// SupportsGrantType reports whether the client registered gt.
func (c ClientConfiguration) SupportsGrantType(gt oauth2.GrantType) bool {
	for _, v := range c.GrantTypes {
		if v == gt {
			return true
		}
	}
	return false
}

// Scopes are the scopes the client may request.
func (c ClientConfiguration) Scopes() Scopes { return ParseScopes(c.Scope) }

// FilterScopes keeps the requested scopes the client may request.
func (c ClientConfiguration) FilterScopes(requested Scopes) Scopes {
	return requested.Intersect(c.Scopes())
}

// HasRedirectURI reports whether uri is registered.
func (c ClientConfiguration) HasRedirectURI(uri string) bool {
	for _, v := range c.RedirectURIs {
		if v == uri {
			return true
		}
	}
	return false
}

// AccessTokenLifetime resolves the client override against the tenant default.
func (c ClientConfiguration) AccessTokenLifetime(server ServerConfiguration) time.Duration {
	if c.AccessTokenDuration > 0 {
		return c.AccessTokenDuration
	}
	return server.AccessTokenDuration
}

// RefreshTokenLifetime resolves the client override against the tenant default.
func (c ClientConfiguration) RefreshTokenLifetime(server ServerConfiguration) time.Duration {
	if c.RefreshTokenDuration > 0 {
		return c.RefreshTokenDuration
	}
	return server.RefreshTokenDuration
}

// RefreshStrategy resolves the client override against the tenant default.
func (c ClientConfiguration) RefreshStrategy(server ServerConfiguration) RefreshTokenStrategy {
	if c.RefreshTokenStrategy != "" {
		return c.RefreshTokenStrategy
	}
	return server.RefreshTokenStrategy
}

// HasTLSClientAuthBinding reports whether any tls_client_auth field is configured.
func (c ClientConfiguration) HasTLSClientAuthBinding() bool {
	return c.TLSClientAuthSubjectDN != "" || c.TLSClientAuthSANDNS != "" ||
		c.TLSClientAuthSANURI != "" || c.TLSClientAuthSANIP != "" || c.TLSClientAuthSANEmail != ""
}
