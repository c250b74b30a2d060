package manage

import (
	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/models"
)

// TokenRequestContext is one token request after client authentication.
type TokenRequestContext struct {
	TenantID     string
	GrantType    oauth2.GrantType
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scopes       models.Scopes
	Username     string
	Password     string
	AuthReqID    string
	Server       models.ServerConfiguration
	Client       models.ClientConfiguration

	// push marks a CIBA redemption made on behalf of a push mode client.
	push bool
}

// issuesRefreshToken reports whether tenant and client both enable the
// refresh_token grant.
func (r *TokenRequestContext) issuesRefreshToken() bool {
	return r.Server.SupportsGrantType(oauth2.Refreshing) && r.Client.SupportsGrantType(oauth2.Refreshing)
}

// AuthorizeRequest is an approved authorization request of the code flow.
// The end-user has already been authenticated by the caller.
type AuthorizeRequest struct {
	TenantID            string
	Server              models.ServerConfiguration
	Client              models.ClientConfiguration
	User                models.User
	Authentication      models.Authentication
	Scopes              models.Scopes
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeChallengeMethod
	Nonce               string
	IDTokenClaims       []string
	UserinfoClaims      []string
	ConsentClaims       map[string][]string
	CustomProperties    map[string]any
}
