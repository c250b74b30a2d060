package clientauth

import (
	"context"
	"crypto/subtle"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
)

func secretEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type secretBasic struct{}

func (*secretBasic) Method() oauth2.ClientAuthenticationType { return oauth2.ClientSecretBasic }

func (*secretBasic) Authenticate(_ context.Context, req *Request) (models.ClientCredentials, error) {
	if !req.HasBasic {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "client_secret_basic requires the authorization header", nil)
	}
	if req.Client.ClientSecret == "" || !secretEqual(req.BasicClientSecret, req.Client.ClientSecret) {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "client secret does not match", nil)
	}
	return models.ClientCredentials{ClientSecret: req.BasicClientSecret}, nil
}

type secretPost struct{}

func (*secretPost) Method() oauth2.ClientAuthenticationType { return oauth2.ClientSecretPost }

func (*secretPost) Authenticate(_ context.Context, req *Request) (models.ClientCredentials, error) {
	if req.ClientSecret == "" {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "client_secret is required", nil)
	}
	if req.Client.ClientSecret == "" || !secretEqual(req.ClientSecret, req.Client.ClientSecret) {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "client secret does not match", nil)
	}
	return models.ClientCredentials{ClientSecret: req.ClientSecret}, nil
}

// public clients hold no credential.
type public struct{}

func (*public) Method() oauth2.ClientAuthenticationType { return oauth2.NoClientAuth }

func (*public) Authenticate(_ context.Context, req *Request) (models.ClientCredentials, error) {
	if req.HasBasic || req.ClientSecret != "" || req.ClientAssertion != "" {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "public client must not present credentials", nil)
	}
	return models.ClientCredentials{}, nil
}
