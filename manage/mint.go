package manage

import (
	"context"
	"fmt"
	"time"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/generates"
	"github.com/legit-games/oauth2/models"
)

type minter struct {
	access  generates.AccessGenerate
	refresh generates.RefreshGenerate
	idToken generates.IDTokenGenerate
	newID   func() string
}

type mintOptions struct {
	refresh bool
	// refreshExpiresAt pins the refresh expiry; zero starts a new lifetime.
	refreshExpiresAt time.Time
	idToken          bool
	nonce            string
	authReqID        string
}

// mint builds a token bundle for grant. Nothing is persisted.
func (m *minter) mint(ctx context.Context, now time.Time, req *TokenRequestContext, creds models.ClientCredentials, grant models.AuthorizationGrant, opts mintOptions) (*models.OAuthToken, error) {
	data := &generates.GenerateBasic{
		Server:      req.Server,
		Client:      req.Client,
		Credentials: creds,
		Grant:       grant,
		CreateAt:    now,
		ExpiresAt:   now.Add(req.Client.AccessTokenLifetime(req.Server)),
		Nonce:       opts.nonce,
		AuthReqID:   opts.authReqID,
	}
	access, err := m.access.Token(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	data.AccessToken = access

	token := &models.OAuthToken{
		ID:        m.newID(),
		TenantID:  req.TenantID,
		Issuer:    req.Server.Issuer,
		TokenType: oauth2.TokenType,
		AccessToken: models.AccessToken{
			Value:     access,
			Grant:     grant,
			CreatedAt: now,
			ExpiresAt: data.ExpiresAt,
		},
	}
	if req.Client.TLSClientCertificateBoundAccessTokens {
		token.AccessToken.ClientCertThumbprint = creds.CertificateThumbprint
	}

	if opts.refresh {
		refresh, err := m.refresh.Refresh(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("generate refresh token: %w", err)
		}
		expiresAt := opts.refreshExpiresAt
		if expiresAt.IsZero() {
			expiresAt = now.Add(req.Client.RefreshTokenLifetime(req.Server))
		}
		token.RefreshToken = models.RefreshToken{Value: refresh, CreatedAt: now, ExpiresAt: expiresAt}
	}

	if opts.idToken && grant.HasUser() && grant.Scopes.HasOpenID() {
		idToken, err := m.idToken.IDToken(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("generate id token: %w", err)
		}
		token.IDToken = models.IDToken{Value: idToken}
	}
	return token, nil
}
