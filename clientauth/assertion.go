package clientauth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/jwks"
	"github.com/legit-games/oauth2/models"
)

var (
	hmacAlgs       = []string{"HS256", "HS384", "HS512"}
	asymmetricAlgs = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}
)

// keyResolver returns the verification key for an assertion, and the JWK it
// came from when there is one.
type keyResolver func(req *Request, token *jwt.Token) (interface{}, *models.ClientCredentials, error)

// assertionAuthenticator verifies RFC 7523 client assertions.
type assertionAuthenticator struct {
	method  oauth2.ClientAuthenticationType
	algs    []string
	resolve keyResolver
	replay  ReplayStore
	now     func() time.Time
}

func newClientSecretJWT(replay ReplayStore, now func() time.Time) *assertionAuthenticator {
	return &assertionAuthenticator{
		method: oauth2.ClientSecretJWT,
		algs:   hmacAlgs,
		replay: replay,
		now:    now,
		resolve: func(req *Request, _ *jwt.Token) (interface{}, *models.ClientCredentials, error) {
			if req.Client.ClientSecret == "" {
				return nil, nil, errors.New("client has no secret registered")
			}
			return []byte(req.Client.ClientSecret), &models.ClientCredentials{ClientSecret: req.Client.ClientSecret}, nil
		},
	}
}

func newPrivateKeyJWT(replay ReplayStore, now func() time.Time) *assertionAuthenticator {
	return &assertionAuthenticator{
		method: oauth2.PrivateKeyJWT,
		algs:   asymmetricAlgs,
		replay: replay,
		now:    now,
		resolve: func(req *Request, token *jwt.Token) (interface{}, *models.ClientCredentials, error) {
			set, err := jwks.Parse(req.Client.JWKS)
			if err != nil {
				return nil, nil, err
			}
			kid, _ := token.Header["kid"].(string)
			key, err := jwks.VerificationKey(set, kid)
			if err != nil {
				return nil, nil, err
			}
			return jwks.PublicKey(key), &models.ClientCredentials{PublicKey: key}, nil
		},
	}
}

func (a *assertionAuthenticator) Method() oauth2.ClientAuthenticationType { return a.method }

func (a *assertionAuthenticator) Authenticate(ctx context.Context, req *Request) (models.ClientCredentials, error) {
	id := req.ClientID
	if req.ClientAssertion == "" {
		return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion is required", nil)
	}
	if req.ClientAssertionType == "" {
		return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion_type is required", nil)
	}
	if req.ClientAssertionType != oauth2.ClientAssertionTypeJWTBearer {
		return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion_type is not supported", nil)
	}

	var creds *models.ClientCredentials
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(req.ClientAssertion, claims,
		func(token *jwt.Token) (interface{}, error) {
			key, c, err := a.resolve(req, token)
			creds = c
			return key, err
		},
		jwt.WithValidMethods(a.algs),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion is invalid", err)
	}

	if claims.Issuer == "" {
		return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion iss is required", nil)
	}
	if claims.Issuer != id {
		return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion iss must be the client_id", nil)
	}
	if claims.Subject != claims.Issuer {
		return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion sub must equal iss", nil)
	}
	if !audienceMatches(claims.Audience, req.Server.AssertionAudiences()) {
		return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion aud does not name this authorization server", nil)
	}
	if claims.ID == "" {
		return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion jti is required", nil)
	}
	if a.replay != nil {
		fresh, err := a.replay.MarkUsed(ctx, req.TenantID, id, claims.ID, claims.ExpiresAt.Time)
		if err != nil {
			return models.ClientCredentials{}, err
		}
		if !fresh {
			return models.ClientCredentials{}, errors.ClientUnauthorized(id, "client_assertion jti has already been used", nil)
		}
	}

	out := models.ClientCredentials{Assertion: req.ClientAssertion}
	if creds != nil {
		out.ClientSecret = creds.ClientSecret
		out.PublicKey = creds.PublicKey
	}
	return out, nil
}

func audienceMatches(aud jwt.ClaimStrings, accepted []string) bool {
	for _, a := range aud {
		for _, b := range accepted {
			if a == b {
				return true
			}
		}
	}
	return false
}
