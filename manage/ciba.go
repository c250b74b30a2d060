package manage

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/verifier"
)

type cibaService struct{ *engine }

func (s *cibaService) GrantType() oauth2.GrantType { return oauth2.CIBA }

// Create redeems an authorized CIBA grant. The grant is deleted together with
// the token insert so it can be redeemed at most once.
func (s *cibaService) Create(ctx context.Context, req *TokenRequestContext, creds models.ClientCredentials) (*models.OAuthToken, error) {
	if req.AuthReqID == "" {
		return nil, errors.InvalidRequest("auth_req_id is required")
	}
	if req.Client.BackchannelTokenDeliveryMode == oauth2.DeliveryPush && !req.push {
		return nil, errors.TokenBadRequest(errors.ErrUnauthorizedClient, "push mode clients receive tokens at their notification endpoint")
	}
	g, err := s.cibas.FindByAuthReqID(ctx, req.TenantID, req.AuthReqID)
	if err != nil {
		return nil, notFound(err, "auth_req_id is not found", "find ciba grant")
	}
	now := s.now()
	if err := verifier.Ciba(g, creds.ClientID, now); err != nil {
		return nil, err
	}
	user, err := s.users.FindBySub(ctx, req.TenantID, g.Grant.User.Sub)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := verifier.ActiveUser(user); err != nil {
		return nil, err
	}

	grant := g.Grant
	grant.User = user
	opts := mintOptions{refresh: req.issuesRefreshToken(), idToken: true}
	if req.push {
		opts.authReqID = req.AuthReqID
	}
	token, err := s.mint.mint(ctx, now, req, creds, grant, opts)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.cibas.Delete(ctx, req.TenantID, g.BackchannelAuthenticationRequestID); err != nil {
			return consumed(err, "auth_req_id was already used")
		}
		if _, err := s.registrar.RegisterOrUpdate(ctx, req.TenantID, grant); err != nil {
			return fmt.Errorf("consolidate grant: %w", err)
		}
		// Registered last: the buntdb token store is outside the transaction.
		if err := s.tokens.Register(ctx, token); err != nil {
			return fmt.Errorf("register token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.requests != nil {
		err := s.requests.Delete(ctx, req.TenantID, g.BackchannelAuthenticationRequestID)
		if err != nil && !stderrors.Is(err, errors.ErrNotFound) {
			s.log.Warn("delete backchannel request",
				zap.String("tenant_id", req.TenantID),
				zap.String("request_id", g.BackchannelAuthenticationRequestID),
				zap.Error(err))
		}
	}
	return token, nil
}

// RedeemBackchannelGrant redeems an authorized CIBA grant for a push mode
// client. It applies the same checks and single-use consumption as a token
// request with grant_type ciba. The tokens are not certificate bound since no
// client TLS session exists.
func (m *Manager) RedeemBackchannelGrant(ctx context.Context, server models.ServerConfiguration, client models.ClientConfiguration, authReqID string) (*models.OAuthToken, error) {
	req := &TokenRequestContext{
		TenantID:  server.TenantID,
		GrantType: oauth2.CIBA,
		AuthReqID: authReqID,
		Server:    server,
		Client:    client,
		push:      true,
	}
	return m.CreateToken(ctx, req, models.ClientCredentials{ClientID: client.ClientID})
}
