package manage

import (
	"context"
	"fmt"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/verifier"
)

type refreshTokenService struct{ *engine }

func (s *refreshTokenService) GrantType() oauth2.GrantType { return oauth2.Refreshing }

// Create rotates the presented refresh token. The old bundle is removed in
// the same transaction that registers the new one.
func (s *refreshTokenService) Create(ctx context.Context, req *TokenRequestContext, creds models.ClientCredentials) (*models.OAuthToken, error) {
	if req.RefreshToken == "" {
		return nil, errors.InvalidRequest("refresh_token is required")
	}
	old, err := s.tokens.FindByRefreshToken(ctx, req.TenantID, req.RefreshToken)
	if err != nil {
		return nil, notFound(err, "refresh token is not found", "find refresh token")
	}

	var user models.User
	if old.Grant().HasUser() {
		user, err = s.users.FindBySub(ctx, req.TenantID, old.UserSub())
		if err != nil {
			return nil, fmt.Errorf("find user: %w", err)
		}
	}
	now := s.now()
	if err := verifier.RefreshToken(old, user, req.TenantID, creds.ClientID, req.Scopes, now); err != nil {
		return nil, err
	}

	grant := old.Grant()
	if grant.HasUser() {
		grant.User = user
	}
	if len(req.Scopes) > 0 {
		grant.Scopes = grant.Scopes.Intersect(req.Scopes)
	}
	opts := mintOptions{refresh: true, idToken: true}
	if req.Client.RefreshStrategy(req.Server) == models.RefreshFixed {
		opts.refreshExpiresAt = old.RefreshToken.ExpiresAt
	}
	token, err := s.mint.mint(ctx, now, req, creds, grant, opts)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if grant.HasUser() {
			if _, err := s.registrar.RegisterOrUpdate(ctx, req.TenantID, grant); err != nil {
				return fmt.Errorf("consolidate grant: %w", err)
			}
		}
		if err := s.tokens.Rotate(ctx, old, token); err != nil {
			return consumed(err, "refresh token was already used")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}
