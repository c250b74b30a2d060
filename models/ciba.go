package models

import (
	"time"

	"github.com/legit-games/oauth2"
)

// UserHintType identifies how a backchannel request names the end-user.
type UserHintType string

const (
	LoginHint      UserHintType = "login_hint"
	IDTokenHint    UserHintType = "id_token_hint"
	LoginHintToken UserHintType = "login_hint_token"
)

// BackchannelAuthenticationRequest is the immutable record of an accepted
// CIBA request.
type BackchannelAuthenticationRequest struct {
	ID                      string              `json:"id"`
	TenantID                string              `json:"tenant_id"`
	RequestedClientID       string              `json:"requested_client_id"`
	Scopes                  Scopes              `json:"scopes"`
	BindingMessage          string              `json:"binding_message,omitempty"`
	UserHint                string              `json:"user_hint"`
	UserHintType            UserHintType        `json:"user_hint_type"`
	UserCode                string              `json:"user_code,omitempty"`
	ACRValues               string              `json:"acr_values,omitempty"`
	DeliveryMode            oauth2.DeliveryMode `json:"delivery_mode"`
	ClientNotificationToken string              `json:"client_notification_token,omitempty"`
	RequestedExpiry         int                 `json:"requested_expiry,omitempty"`
	CreatedAt               time.Time           `json:"created_at"`
}

// CibaGrantStatus is the decision state of a CIBA grant.
type CibaGrantStatus string

const (
	CibaAuthorizationPending CibaGrantStatus = "authorization_pending"
	CibaAuthorized           CibaGrantStatus = "authorized"
	CibaAccessDenied         CibaGrantStatus = "access_denied"
)

// CibaGrant tracks a backchannel request from acceptance to redemption.
// Expiry is computed from ExpiresAt, it is never a stored status.
type CibaGrant struct {
	TenantID                           string             `json:"tenant_id"`
	BackchannelAuthenticationRequestID string             `json:"backchannel_authentication_request_id"`
	AuthReqID                          string             `json:"auth_req_id"`
	Status                             CibaGrantStatus    `json:"status"`
	Grant                              AuthorizationGrant `json:"grant"`
	DeniedScopes                       Scopes             `json:"denied_scopes,omitempty"`
	Interval                           time.Duration      `json:"interval"`
	ExpiresAt                          time.Time          `json:"expires_at"`
	CreatedAt                          time.Time          `json:"created_at"`
	UpdatedAt                          time.Time          `json:"updated_at"`
}

func (g CibaGrant) IsPending() bool    { return g.Status == CibaAuthorizationPending }
func (g CibaGrant) IsAuthorized() bool { return g.Status == CibaAuthorized }
func (g CibaGrant) IsDenied() bool     { return g.Status == CibaAccessDenied }

// IsExpired reports whether the grant can no longer be decided or redeemed.
func (g CibaGrant) IsExpired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// ExpiresIn is the remaining lifetime in whole seconds.
func (g CibaGrant) ExpiresIn(now time.Time) int64 {
	d := g.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Authorize returns the authorized copy of a pending grant. Denied scopes are
// removed from the grant and remembered.
func (g CibaGrant) Authorize(authn Authentication, deniedScopes Scopes, now time.Time) CibaGrant {
	g.Status = CibaAuthorized
	g.Grant.Authentication = authn
	g.Grant.Scopes = g.Grant.Scopes.Remove(deniedScopes)
	g.DeniedScopes = deniedScopes
	g.UpdatedAt = now
	return g
}

// Deny returns the denied copy of a pending grant.
func (g CibaGrant) Deny(now time.Time) CibaGrant {
	g.Status = CibaAccessDenied
	g.UpdatedAt = now
	return g
}
