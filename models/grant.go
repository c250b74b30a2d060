package models

import (
	"time"

	"github.com/legit-games/oauth2"
)

// Authentication is the result of the end-user authentication behind a grant.
type Authentication struct {
	Time    time.Time `json:"time"`
	Methods []string  `json:"methods,omitempty"`
	ACR     string    `json:"acr,omitempty"`
}

// Exists reports whether an authentication took place.
func (a Authentication) Exists() bool { return !a.Time.IsZero() }

// AuthorizationGrant is what one authorization event resolved: subject,
// client, scopes and claims. Treat it as a value; Merge returns a new one.
type AuthorizationGrant struct {
	TenantID          string              `json:"tenant_id"`
	User              User                `json:"user"`
	Authentication    Authentication      `json:"authentication"`
	RequestedClientID string              `json:"requested_client_id"`
	GrantType         oauth2.GrantType    `json:"grant_type"`
	Scopes            Scopes              `json:"scopes"`
	IDTokenClaims     []string            `json:"id_token_claims,omitempty"`
	UserinfoClaims    []string            `json:"userinfo_claims,omitempty"`
	ConsentClaims     map[string][]string `json:"consent_claims,omitempty"`
	CustomProperties  map[string]any      `json:"custom_properties,omitempty"`
}

// HasUser reports whether the grant was issued on behalf of an end-user.
func (g AuthorizationGrant) HasUser() bool { return g.User.Exists() }

// Merge combines g with a newer grant for the same tenant, client and user.
// Scopes and claims are unions so nothing already granted is dropped; the
// subject snapshot, authentication and custom properties come from newer.
func (g AuthorizationGrant) Merge(newer AuthorizationGrant) AuthorizationGrant {
	merged := newer
	merged.Scopes = g.Scopes.Union(newer.Scopes)
	merged.IDTokenClaims = union(g.IDTokenClaims, newer.IDTokenClaims)
	merged.UserinfoClaims = union(g.UserinfoClaims, newer.UserinfoClaims)
	merged.ConsentClaims = mergeConsentClaims(g.ConsentClaims, newer.ConsentClaims)
	if len(newer.CustomProperties) == 0 {
		merged.CustomProperties = g.CustomProperties
	}
	if !newer.Authentication.Exists() {
		merged.Authentication = g.Authentication
	}
	return merged
}

func mergeConsentClaims(a, b map[string][]string) map[string][]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string][]string, len(a)+len(b))
	for k, v := range a {
		out[k] = union(nil, v)
	}
	for k, v := range b {
		out[k] = union(out[k], v)
	}
	return out
}

// AuthorizationGranted is the durable consent record of one
// (tenant, client, user) triple.
type AuthorizationGranted struct {
	ID        string             `json:"id"`
	Grant     AuthorizationGrant `json:"grant"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewAuthorizationGranted creates the first consent record for a triple.
func NewAuthorizationGranted(id string, grant AuthorizationGrant, now time.Time) AuthorizationGranted {
	return AuthorizationGranted{ID: id, Grant: grant, CreatedAt: now, UpdatedAt: now}
}

// Merge folds grant into the record and returns the updated copy.
func (g AuthorizationGranted) Merge(grant AuthorizationGrant, now time.Time) AuthorizationGranted {
	g.Grant = g.Grant.Merge(grant)
	g.UpdatedAt = now
	return g
}

func (g AuthorizationGranted) TenantID() string { return g.Grant.TenantID }
func (g AuthorizationGranted) ClientID() string { return g.Grant.RequestedClientID }
func (g AuthorizationGranted) UserSub() string  { return g.Grant.User.Sub }
