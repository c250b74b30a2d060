package oauth2

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// GrantType authorization model
type GrantType string

// define authorization model
const (
	AuthorizationCode   GrantType = "authorization_code"
	PasswordCredentials GrantType = "password"
	ClientCredentials   GrantType = "client_credentials"
	Refreshing          GrantType = "refresh_token"
	CIBA                GrantType = "urn:openid:params:grant-type:ciba"
)

func (gt GrantType) String() string {
	if gt == AuthorizationCode ||
		gt == PasswordCredentials ||
		gt == ClientCredentials ||
		gt == Refreshing ||
		gt == CIBA {
		return string(gt)
	}
	return ""
}

// ClientAuthenticationType is the token_endpoint_auth_method of a client
type ClientAuthenticationType string

// define client authentication methods
const (
	ClientSecretBasic       ClientAuthenticationType = "client_secret_basic"
	ClientSecretPost        ClientAuthenticationType = "client_secret_post"
	ClientSecretJWT         ClientAuthenticationType = "client_secret_jwt"
	PrivateKeyJWT           ClientAuthenticationType = "private_key_jwt"
	TLSClientAuth           ClientAuthenticationType = "tls_client_auth"
	SelfSignedTLSClientAuth ClientAuthenticationType = "self_signed_tls_client_auth"
	NoClientAuth            ClientAuthenticationType = "none"
)

func (t ClientAuthenticationType) String() string { return string(t) }

// IsAssertion reports whether the method authenticates with a signed JWT.
func (t ClientAuthenticationType) IsAssertion() bool {
	return t == ClientSecretJWT || t == PrivateKeyJWT
}

// IsCertificateBound reports whether the method authenticates with the TLS client certificate.
func (t ClientAuthenticationType) IsCertificateBound() bool {
	return t == TLSClientAuth || t == SelfSignedTLSClientAuth
}

// ClientAssertionTypeJWTBearer is the only accepted client_assertion_type (RFC 7523).
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// DeliveryMode backchannel token delivery mode
type DeliveryMode string

// define CIBA delivery modes
const (
	DeliveryPoll DeliveryMode = "poll"
	DeliveryPing DeliveryMode = "ping"
	DeliveryPush DeliveryMode = "push"
)

func (m DeliveryMode) String() string { return string(m) }

// CodeChallengeMethod PCKE method
type CodeChallengeMethod string

const (
	// CodeChallengePlain PCKE Method
	CodeChallengePlain CodeChallengeMethod = "plain"
	// CodeChallengeS256 PCKE Method
	CodeChallengeS256 CodeChallengeMethod = "S256"
)

func (ccm CodeChallengeMethod) String() string {
	if ccm == CodeChallengePlain ||
		ccm == CodeChallengeS256 {
		return string(ccm)
	}
	return ""
}

// Validate code challenge
func (ccm CodeChallengeMethod) Validate(cc, ver string) bool {
	switch ccm {
	case CodeChallengePlain:
		return cc == ver
	case CodeChallengeS256:
		s256 := sha256.Sum256([]byte(ver))
		// trim padding
		a := strings.TrimRight(base64.URLEncoding.EncodeToString(s256[:]), "=")
		b := strings.TrimRight(cc, "=")
		return a == b
	default:
		return false
	}
}

// TokenType is the token_type returned by the token endpoint.
const TokenType = "Bearer"
