package manage

import (
	"context"
	"fmt"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/verifier"
)

type authorizationCodeService struct{ *engine }

func (s *authorizationCodeService) GrantType() oauth2.GrantType { return oauth2.AuthorizationCode }

func (s *authorizationCodeService) Create(ctx context.Context, req *TokenRequestContext, creds models.ClientCredentials) (*models.OAuthToken, error) {
	if req.Code == "" {
		return nil, errors.InvalidRequest("code is required")
	}
	code, err := s.codes.Find(ctx, req.TenantID, req.Code)
	if err != nil {
		return nil, notFound(err, "authorization code is not found", "find authorization code")
	}
	now := s.now()
	if err := verifier.AuthorizationCode(code, creds.ClientID, req.RedirectURI, req.CodeVerifier, now); err != nil {
		return nil, err
	}
	user, err := s.users.FindBySub(ctx, req.TenantID, code.Grant.User.Sub)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := verifier.ActiveUser(user); err != nil {
		return nil, err
	}

	grant := code.Grant
	grant.User = user
	token, err := s.mint.mint(ctx, now, req, creds, grant, mintOptions{
		refresh: req.issuesRefreshToken(),
		idToken: true,
		nonce:   code.Nonce,
	})
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.codes.Delete(ctx, req.TenantID, req.Code); err != nil {
			return consumed(err, "authorization code was already used")
		}
		if _, err := s.registrar.RegisterOrUpdate(ctx, req.TenantID, grant); err != nil {
			return fmt.Errorf("consolidate grant: %w", err)
		}
		if err := s.tokens.Register(ctx, token); err != nil {
			return fmt.Errorf("register token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}
