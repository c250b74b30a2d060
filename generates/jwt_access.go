package generates

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
)

// GenerateBasic provide the basis of the generated token data
type GenerateBasic struct {
	Server      models.ServerConfiguration
	Client      models.ClientConfiguration
	Credentials models.ClientCredentials
	Grant       models.AuthorizationGrant
	CreateAt    time.Time
	ExpiresAt   time.Time
	Nonce       string
	AccessToken string
	// AuthReqID is set when tokens are pushed to a CIBA push mode client.
	AuthReqID string
}

// AccessGenerate generate the access token
type AccessGenerate interface {
	Token(ctx context.Context, data *GenerateBasic) (string, error)
}

// RefreshGenerate generate the refresh token value
type RefreshGenerate interface {
	Refresh(ctx context.Context, data *GenerateBasic) (string, error)
}

// IDTokenGenerate generate the OpenID Connect ID token
type IDTokenGenerate interface {
	IDToken(ctx context.Context, data *GenerateBasic) (string, error)
}

// Confirmation binds an access token to the client certificate (RFC 8705).
type Confirmation struct {
	X5TS256 string `json:"x5t#S256"`
}

// JWTAccessClaims jwt claims
type JWTAccessClaims struct {
	jwt.RegisteredClaims
	ClientID     string        `json:"client_id"`
	Scope        string        `json:"scope,omitempty"`
	Confirmation *Confirmation `json:"cnf,omitempty"`
}

// Valid claims verification
func (a *JWTAccessClaims) Valid() error {
	if a.ExpiresAt != nil && time.Unix(a.ExpiresAt.Unix(), 0).Before(time.Now()) {
		return errors.ErrInvalidAccessToken
	}
	return nil
}

// NewJWTAccessGenerate create to generate the jwt access token instance
func NewJWTAccessGenerate() *JWTAccessGenerate {
	return &JWTAccessGenerate{}
}

// JWTAccessGenerate signs access tokens with the signing key of the tenant.
type JWTAccessGenerate struct{}

// Token based on the tenant signing key
func (a *JWTAccessGenerate) Token(ctx context.Context, data *GenerateBasic) (string, error) {
	subject := data.Grant.User.Sub
	if subject == "" {
		subject = data.Grant.RequestedClientID
	}
	claims := &JWTAccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    data.Server.Issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{data.Grant.RequestedClientID},
			ExpiresAt: jwt.NewNumericDate(data.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(data.CreateAt),
			ID:        uuid.NewString(),
		},
		ClientID: data.Grant.RequestedClientID,
		Scope:    data.Grant.Scopes.String(),
	}
	if data.Client.TLSClientCertificateBoundAccessTokens && data.Credentials.CertificateThumbprint != "" {
		claims.Confirmation = &Confirmation{X5TS256: data.Credentials.CertificateThumbprint}
	}
	return sign(data.Server.SigningKey, claims)
}

// NewOpaqueRefreshGenerate create to generate opaque refresh token values
func NewOpaqueRefreshGenerate() *OpaqueRefreshGenerate {
	return &OpaqueRefreshGenerate{}
}

// OpaqueRefreshGenerate derives a random refresh value bound to the access token.
type OpaqueRefreshGenerate struct{}

// Refresh based on the UUID generated token
func (g *OpaqueRefreshGenerate) Refresh(ctx context.Context, data *GenerateBasic) (string, error) {
	t := uuid.NewSHA1(uuid.Must(uuid.NewRandom()), []byte(data.AccessToken)).String()
	refresh := base64.URLEncoding.EncodeToString([]byte(t))
	return strings.ToUpper(strings.TrimRight(refresh, "=")), nil
}
