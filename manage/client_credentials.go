package manage

import (
	"context"
	"fmt"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/verifier"
)

type clientCredentialsService struct{ *engine }

func (s *clientCredentialsService) GrantType() oauth2.GrantType { return oauth2.ClientCredentials }

// Create issues an access token for the client itself. No refresh or ID
// token is issued.
func (s *clientCredentialsService) Create(ctx context.Context, req *TokenRequestContext, creds models.ClientCredentials) (*models.OAuthToken, error) {
	valid := verifier.ValidScopes(req.Server, req.Client, req.Scopes)
	if err := verifier.ClientCredentials(valid); err != nil {
		return nil, err
	}
	now := s.now()
	grant := models.AuthorizationGrant{
		TenantID:          req.TenantID,
		RequestedClientID: creds.ClientID,
		GrantType:         oauth2.ClientCredentials,
		Scopes:            valid,
	}
	token, err := s.mint.mint(ctx, now, req, creds, grant, mintOptions{})
	if err != nil {
		return nil, err
	}
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.tokens.Register(ctx, token)
	})
	if err != nil {
		return nil, fmt.Errorf("register token: %w", err)
	}
	return token, nil
}
