package generates

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/legit-games/oauth2/models"
)

// IDTokenClaims are the OpenID Connect claims of an ID token.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	AuthTime          *jwt.NumericDate `json:"auth_time,omitempty"`
	Nonce             string           `json:"nonce,omitempty"`
	ACR               string           `json:"acr,omitempty"`
	AMR               []string         `json:"amr,omitempty"`
	AtHash            string           `json:"at_hash,omitempty"`
	Name              string           `json:"name,omitempty"`
	PreferredUsername string           `json:"preferred_username,omitempty"`
	Email             string           `json:"email,omitempty"`
	PhoneNumber       string           `json:"phone_number,omitempty"`
	AuthReqID         string           `json:"urn:openid:params:jwt:claim:auth_req_id,omitempty"`
}

// NewJWTIDTokenGenerate create to generate ID tokens
func NewJWTIDTokenGenerate() *JWTIDTokenGenerate {
	return &JWTIDTokenGenerate{}
}

// JWTIDTokenGenerate signs ID tokens with the signing key of the tenant.
type JWTIDTokenGenerate struct{}

// IDToken builds the ID token for a grant carrying an end-user.
func (g *JWTIDTokenGenerate) IDToken(ctx context.Context, data *GenerateBasic) (string, error) {
	grant := data.Grant
	claims := &IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    data.Server.Issuer,
			Subject:   grant.User.Sub,
			Audience:  jwt.ClaimStrings{grant.RequestedClientID},
			IssuedAt:  jwt.NewNumericDate(data.CreateAt),
			ExpiresAt: jwt.NewNumericDate(data.CreateAt.Add(data.Server.IDTokenDuration)),
		},
		Nonce:     data.Nonce,
		ACR:       grant.Authentication.ACR,
		AMR:       grant.Authentication.Methods,
		AuthReqID: data.AuthReqID,
	}
	if grant.Authentication.Exists() {
		claims.AuthTime = jwt.NewNumericDate(grant.Authentication.Time)
	}
	if data.AccessToken != "" {
		claims.AtHash = leftHalfHash(data.Server.SigningKey.Algorithm, data.AccessToken)
	}

	requested := models.Scopes(grant.IDTokenClaims)
	if grant.Scopes.Contains("profile") || requested.Contains("name") {
		claims.Name = grant.User.Name
	}
	if grant.Scopes.Contains("profile") || requested.Contains("preferred_username") {
		claims.PreferredUsername = grant.User.PreferredUsername
	}
	if grant.Scopes.Contains("email") || requested.Contains("email") {
		claims.Email = grant.User.Email
	}
	if grant.Scopes.Contains("phone") || requested.Contains("phone_number") {
		claims.PhoneNumber = grant.User.PhoneNumber
	}
	return sign(data.Server.SigningKey, claims)
}
