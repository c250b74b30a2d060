package manage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/event"
	"github.com/legit-games/oauth2/generates"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/verifier"
)

// Authorize records the consent of an approved code flow request and issues
// the authorization code. The consent is durable even when the code is never
// redeemed.
func (m *Manager) Authorize(ctx context.Context, req *AuthorizeRequest) (models.AuthorizationCodeGrant, error) {
	if !req.Server.SupportsGrantType(oauth2.AuthorizationCode) {
		return models.AuthorizationCodeGrant{}, errors.TokenBadRequest(errors.ErrUnsupportedResponseType, "authorization code flow is not enabled for this tenant")
	}
	if !req.Client.SupportsGrantType(oauth2.AuthorizationCode) {
		return models.AuthorizationCodeGrant{}, errors.TokenBadRequest(errors.ErrUnauthorizedClient, "client is not allowed to use the authorization code flow")
	}
	if req.RedirectURI == "" || !req.Client.HasRedirectURI(req.RedirectURI) {
		return models.AuthorizationCodeGrant{}, errors.InvalidRequest("redirect_uri is not registered")
	}
	method := req.CodeChallengeMethod
	if req.CodeChallenge != "" {
		if method == "" {
			method = oauth2.CodeChallengePlain
		}
		if method.String() == "" {
			return models.AuthorizationCodeGrant{}, errors.InvalidRequest("code_challenge_method %q is not supported", req.CodeChallengeMethod)
		}
	}
	if !req.User.IsActive() {
		return models.AuthorizationCodeGrant{}, errors.TokenBadRequest(errors.ErrAccessDenied, "user is not active")
	}
	valid := verifier.ValidScopes(req.Server, req.Client, req.Scopes)
	if len(valid) == 0 {
		return models.AuthorizationCodeGrant{}, errors.InvalidScope("no requested scope is valid")
	}

	now := m.now()
	grant := models.AuthorizationGrant{
		TenantID:          req.TenantID,
		User:              req.User,
		Authentication:    req.Authentication,
		RequestedClientID: req.Client.ClientID,
		GrantType:         oauth2.AuthorizationCode,
		Scopes:            valid,
		IDTokenClaims:     req.IDTokenClaims,
		UserinfoClaims:    req.UserinfoClaims,
		ConsentClaims:     req.ConsentClaims,
		CustomProperties:  req.CustomProperties,
	}
	value, err := m.authorize.Code(ctx, &generates.GenerateBasic{
		Server:   req.Server,
		Client:   req.Client,
		Grant:    grant,
		CreateAt: now,
	})
	if err != nil {
		return models.AuthorizationCodeGrant{}, fmt.Errorf("generate authorization code: %w", err)
	}
	code := models.AuthorizationCodeGrant{
		TenantID:            req.TenantID,
		Code:                value,
		Grant:               grant,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		Nonce:               req.Nonce,
		CreatedAt:           now,
		ExpiresAt:           now.Add(req.Server.AuthorizationCodeDuration),
	}

	err = m.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		_, err := m.registrar.RegisterOrUpdate(ctx, req.TenantID, grant)
		return err
	})
	if err != nil {
		return models.AuthorizationCodeGrant{}, fmt.Errorf("consolidate grant: %w", err)
	}
	if err := m.codes.Save(ctx, code); err != nil {
		return models.AuthorizationCodeGrant{}, fmt.Errorf("save authorization code: %w", err)
	}

	m.log.Info("authorization code issued",
		zap.String("tenant_id", req.TenantID),
		zap.String("client_id", req.Client.ClientID),
		zap.String("user_sub", req.User.Sub))
	m.events.Publish(ctx, event.SecurityEvent{
		Type:       event.AuthorizationCodeIssued,
		TenantID:   req.TenantID,
		ClientID:   req.Client.ClientID,
		UserSub:    req.User.Sub,
		Detail:     map[string]string{"scope": valid.String()},
		OccurredAt: now,
	})
	return code, nil
}
