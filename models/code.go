package models

import (
	"time"

	"github.com/legit-games/oauth2"
)

// AuthorizationCodeGrant is the state bound to an issued authorization code.
type AuthorizationCodeGrant struct {
	TenantID            string                     `json:"tenant_id"`
	Code                string                     `json:"code"`
	Grant               AuthorizationGrant         `json:"grant"`
	RedirectURI         string                     `json:"redirect_uri"`
	CodeChallenge       string                     `json:"code_challenge,omitempty"`
	CodeChallengeMethod oauth2.CodeChallengeMethod `json:"code_challenge_method,omitempty"`
	Nonce               string                     `json:"nonce,omitempty"`
	CreatedAt           time.Time                  `json:"created_at"`
	ExpiresAt           time.Time                  `json:"expires_at"`
}

// IsExpired checks if the code has expired.
func (c AuthorizationCodeGrant) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
