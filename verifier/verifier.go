// Package verifier holds the grant checks that must pass before a token is
// minted. Verifiers only read; they never mutate state.
package verifier

import (
	"time"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
)

// ValidScopes keeps the requested scopes the client may request and, when the
// tenant restricts them, the tenant supports.
func ValidScopes(server models.ServerConfiguration, client models.ClientConfiguration, requested models.Scopes) models.Scopes {
	valid := client.FilterScopes(requested)
	if len(server.ScopesSupported) > 0 {
		valid = valid.Intersect(models.Scopes(server.ScopesSupported))
	}
	return valid
}

// ActiveUser fails with invalid_grant unless the user exists and is active.
func ActiveUser(user models.User) error {
	if !user.Exists() {
		return errors.InvalidGrant("user is not found")
	}
	if !user.IsActive() {
		return errors.InvalidGrant("user is not active")
	}
	return nil
}

// RefreshToken checks a stored token against a refresh request. user is the
// current state of the token subject, zero for client grants.
func RefreshToken(token *models.OAuthToken, user models.User, tenantID, clientID string, requested models.Scopes, now time.Time) error {
	if token == nil || !token.RefreshToken.Exists() {
		return errors.InvalidGrant("refresh token is not found")
	}
	if token.TenantID != tenantID {
		return errors.InvalidGrant("refresh token is not found")
	}
	if token.ClientID() != clientID {
		return errors.InvalidGrant("refresh token was issued to another client")
	}
	if token.RefreshToken.IsExpired(now) {
		return errors.InvalidGrant("refresh token is expired")
	}
	if token.Grant().HasUser() {
		if err := ActiveUser(user); err != nil {
			return err
		}
	}
	if len(requested) > 0 && !token.Scopes().ContainsAll(requested) {
		return errors.InvalidScope("requested scope exceeds the original grant")
	}
	return nil
}

// Password checks a resource owner password grant. valid are the requested
// scopes that survived ValidScopes.
func Password(user models.User, valid models.Scopes) error {
	if !user.IsActive() {
		return errors.InvalidGrant("user is not found or not active")
	}
	if len(valid) == 0 {
		return errors.InvalidScope("no requested scope is valid")
	}
	return nil
}

// Ciba checks that a CIBA grant can be redeemed by clientID now.
func Ciba(g models.CibaGrant, clientID string, now time.Time) error {
	if g.Grant.RequestedClientID != clientID {
		return errors.InvalidGrant("auth_req_id was issued to another client")
	}
	if g.IsExpired(now) {
		return errors.InvalidGrant("auth_req_id is expired")
	}
	switch g.Status {
	case models.CibaAuthorized:
		return nil
	case models.CibaAuthorizationPending:
		return errors.InvalidGrant("authorization is pending")
	case models.CibaAccessDenied:
		return errors.InvalidGrant("authorization was denied")
	default:
		return errors.InvalidGrant("auth_req_id is not authorized")
	}
}

// AuthorizationCode checks a code redemption.
func AuthorizationCode(code models.AuthorizationCodeGrant, clientID, redirectURI, codeVerifier string, now time.Time) error {
	if code.Grant.RequestedClientID != clientID {
		return errors.InvalidGrant("authorization code was issued to another client")
	}
	if code.IsExpired(now) {
		return errors.InvalidGrant("authorization code is expired")
	}
	if code.RedirectURI != redirectURI {
		return errors.InvalidGrant("redirect_uri does not match the authorization request")
	}
	if code.CodeChallenge != "" {
		if codeVerifier == "" {
			return errors.TokenBadRequest(errors.ErrInvalidGrant, errors.ErrMissingCodeVerifier.Error())
		}
		method := code.CodeChallengeMethod
		if method == "" {
			method = oauth2.CodeChallengePlain
		}
		if !method.Validate(code.CodeChallenge, codeVerifier) {
			return errors.TokenBadRequest(errors.ErrInvalidGrant, errors.ErrInvalidCodeChallenge.Error())
		}
	} else if codeVerifier != "" {
		return errors.InvalidGrant("code_verifier was sent but no code_challenge was registered")
	}
	return nil
}

// ClientCredentials checks a client credentials grant.
func ClientCredentials(valid models.Scopes) error {
	if len(valid) == 0 {
		return errors.InvalidScope("no requested scope is valid")
	}
	return nil
}
