package manage

import (
	"context"
	"fmt"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/verifier"
)

type passwordService struct{ *engine }

func (s *passwordService) GrantType() oauth2.GrantType { return oauth2.PasswordCredentials }

func (s *passwordService) Create(ctx context.Context, req *TokenRequestContext, creds models.ClientCredentials) (*models.OAuthToken, error) {
	if req.Username == "" || req.Password == "" {
		return nil, errors.InvalidRequest("username and password are required")
	}
	user, err := s.users.FindByPassword(ctx, req.TenantID, req.Username, req.Password)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	valid := verifier.ValidScopes(req.Server, req.Client, req.Scopes)
	if err := verifier.Password(user, valid); err != nil {
		return nil, err
	}

	now := s.now()
	grant := models.AuthorizationGrant{
		TenantID:          req.TenantID,
		User:              user,
		Authentication:    models.Authentication{Time: now, Methods: []string{"pwd"}},
		RequestedClientID: creds.ClientID,
		GrantType:         oauth2.PasswordCredentials,
		Scopes:            valid,
	}
	token, err := s.mint.mint(ctx, now, req, creds, grant, mintOptions{refresh: req.issuesRefreshToken()})
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
