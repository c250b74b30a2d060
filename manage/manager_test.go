package manage_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/event"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/models"
)

func requireOAuthError(t *testing.T, err error, code error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, errors.ResponseFor(err).Error, "got %v", err)
}

func TestClientCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(tenantA, oauth2.ClientCredentials)
	req.Scopes = models.Scopes{"read", "admin"}
	token, err := f.manager.CreateToken(ctx, req, f.creds())
	require.NoError(t, err)

	assert.Equal(t, models.Scopes{"read"}, token.Scopes())
	assert.False(t, token.RefreshToken.Exists())
	assert.False(t, token.IDToken.Exists())
	assert.Empty(t, token.UserSub())
	assert.Equal(t, oauth2.TokenType, token.TokenType)

	stored, err := f.tokens.FindByAccessToken(ctx, tenantA, token.AccessToken.Value)
	require.NoError(t, err)
	assert.Equal(t, token.ID, stored.ID)

	assert.Contains(t, f.events.types(), event.TokenIssued)
	n, err := testutil.GatherAndCount(f.registry, "idp_tokens_issued_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	req.Scopes = models.Scopes{"admin"}
	_, err = f.manager.CreateToken(ctx, req, f.creds())
	requireOAuthError(t, err, errors.ErrInvalidScope)
	assert.Contains(t, f.events.types(), event.TokenRequestFailed)
}

func TestGrantTypeDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(tenantA, "urn:ietf:params:oauth:grant-type:device_code")
	_, err := f.manager.CreateToken(ctx, req, f.creds())
	requireOAuthError(t, err, errors.ErrUnsupportedGrantType)

	req = f.request(tenantA, oauth2.ClientCredentials)
	req.Server.GrantTypesSupported = []oauth2.GrantType{oauth2.AuthorizationCode}
	_, err = f.manager.CreateToken(ctx, req, f.creds())
	requireOAuthError(t, err, errors.ErrUnsupportedGrantType)

	req = f.request(tenantA, oauth2.ClientCredentials)
	req.Client.GrantTypes = []oauth2.GrantType{oauth2.AuthorizationCode}
	_, err = f.manager.CreateToken(ctx, req, f.creds())
	requireOAuthError(t, err, errors.ErrUnauthorizedClient)

	req = f.request(tenantA, oauth2.ClientCredentials)
	_, err = f.manager.CreateToken(ctx, req, models.ClientCredentials{ClientID: "someone-else"})
	requireOAuthError(t, err, errors.ErrInvalidClient)
}

func TestPasswordGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(tenantA, oauth2.PasswordCredentials)
	req.Username, req.Password = "alice", password
	req.Scopes = models.Scopes{"openid", "email", "admin"}
	token, err := f.manager.CreateToken(ctx, req, f.creds())
	require.NoError(t, err)
	assert.Equal(t, userSub, token.UserSub())
	assert.Equal(t, models.Scopes{"openid", "email"}, token.Scopes())
	assert.True(t, token.RefreshToken.Exists())

	_, err = f.granted.Find(ctx, tenantA, clientA, userSub)
	assert.True(t, stderrors.Is(err, errors.ErrNotFound), "password grants are not consolidated")

	t.Run("wrong password", func(t *testing.T) {
		before := f.tokenRows(t)
		bad := *req
		bad.Password = "wrong"
		_, err := f.manager.CreateToken(ctx, &bad, f.creds())
		requireOAuthError(t, err, errors.ErrInvalidGrant)
		assert.Equal(t, before, f.tokenRows(t))
	})

	t.Run("no valid scope", func(t *testing.T) {
		bad := *req
		bad.Scopes = models.Scopes{"admin"}
		_, err := f.manager.CreateToken(ctx, &bad, f.creds())
		requireOAuthError(t, err, errors.ErrInvalidScope)
	})

	t.Run("inactive user", func(t *testing.T) {
		u := f.user(t, tenantA)
		u.Status = models.UserLocked
		f.users.Put(tenantA, u)
		_, err := f.manager.CreateToken(ctx, req, f.creds())
		requireOAuthError(t, err, errors.ErrInvalidGrant)
	})

	t.Run("missing credentials", func(t *testing.T) {
		bad := *req
		bad.Password = ""
		_, err := f.manager.CreateToken(ctx, &bad, f.creds())
		requireOAuthError(t, err, errors.ErrInvalidRequest)
	})
}

func TestRefreshRotationInvalidatesOldToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(tenantA, oauth2.PasswordCredentials)
	req.Username, req.Password = "alice", password
	req.Scopes = models.Scopes{"openid", "profile"}
	first, err := f.manager.CreateToken(ctx, req, f.creds())
	require.NoError(t, err)
	r1 := first.RefreshToken.Value

	refresh := f.request(tenantA, oauth2.Refreshing)
	refresh.RefreshToken = r1
	second, err := f.manager.CreateToken(ctx, refresh, f.creds())
	require.NoError(t, err)
	r2 := second.RefreshToken.Value
	require.NotEqual(t, r1, r2)
	assert.True(t, second.IDToken.Exists(), "openid scope yields an id token on refresh")

	_, err = f.manager.CreateToken(ctx, refresh, f.creds())
	requireOAuthError(t, err, errors.ErrInvalidGrant)

	_, err = f.tokens.FindByAccessToken(ctx, tenantA, first.AccessToken.Value)
	assert.True(t, stderrors.Is(err, errors.ErrNotFound), "old bundle is removed")

	refresh.RefreshToken = r2
	third, err := f.manager.CreateToken(ctx, refresh, f.creds())
	require.NoError(t, err)
	assert.NotEqual(t, r2, third.RefreshToken.Value)

	granted, err := f.granted.Find(ctx, tenantA, clientA, userSub)
	require.NoError(t, err)
	assert.ElementsMatch(t, models.Scopes{"openid", "profile"}, granted.Grant.Scopes)
}

func TestRefreshScopeNarrowing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request(tenantA, oauth2.PasswordCredentials)
	req.Username, req.Password = "alice", password
	req.Scopes = models.Scopes{"openid", "profile", "email"}
	first, err := f.manager.CreateToken(ctx, req, f.creds())
	require.NoError(t, err)

	refresh := f.request(tenantA, oauth2.Refreshing)
	refresh.RefreshToken = first.RefreshToken.Value
	refresh.Scopes = models.Scopes{"openid", "admin"}
	_, err = f.manager.CreateToken(ctx, refresh, f.creds())
	requireOAuthError(t, err, errors.ErrInvalidScope)

	refresh.Scopes = models.Scopes{"email"}
	next, err := f.manager.CreateToken(ctx, refresh, f.creds())
	require.NoError(t, err)
	assert.Equal(t, models.Scopes{"email"}, next.Scopes())
	assert.False(t, next.IDToken.Exists())
}

func TestRefreshExpiryStrategy(t *testing.T) {
	for _, tc := range []struct {
		strategy models.RefreshTokenStrategy
		fixed    bool
	}{
		{models.RefreshFixed, true},
		{models.RefreshExtends, false},
	} {
		t.Run(string(tc.strategy), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			req := f.request(tenantA, oauth2.PasswordCredentials)
			req.Username, req.Password = "alice", password
			req.Scopes = models.Scopes{"read"}
			req.Client.RefreshTokenStrategy = tc.strategy
			first, err := f.manager.CreateToken(ctx, req, f.creds())
			require.NoError(t, err)

			time.Sleep(1100 * time.Millisecond)

			refresh := f.request(tenantA, oauth2.Refreshing)
			refresh.RefreshToken = first.RefreshToken.Value
			refresh.Client.RefreshTokenStrategy = tc.strategy
			next, err := f.manager.CreateToken(ctx, refresh, f.creds())
			require.NoError(t, err)

			if tc.fixed {
				assert.WithinDuration(t, first.RefreshToken.ExpiresAt, next.RefreshToken.ExpiresAt, time.Second)
			} else {
				assert.True(t, next.RefreshToken.ExpiresAt.After(first.RefreshToken.ExpiresAt))
			}
		})
	}
}

func TestClientCredentialsNeverIssuesRefresh(t *testing.T) {
	f := newFixture(t)
	req := f.request(tenantA, oauth2.ClientCredentials)
	req.Scopes = models.Scopes{"read"}
	token, err := f.manager.CreateToken(context.Background(), req, f.creds())
	require.NoError(t, err)
	assert.False(t, token.RefreshToken.Exists())
}

func TestRefreshNotIssuedWhenClientLacksGrant(t *testing.T) {
	f := newFixture(t)
	req := f.request(tenantA, oauth2.PasswordCredentials)
	req.Client.GrantTypes = []oauth2.GrantType{oauth2.PasswordCredentials}
	req.Username, req.Password = "alice", password
	req.Scopes = models.Scopes{"read"}
	token, err := f.manager.CreateToken(context.Background(), req, f.creds())
	require.NoError(t, err)
	assert.False(t, token.RefreshToken.Exists())
}

func TestCertificateBoundAccessToken(t *testing.T) {
	f := newFixture(t)
	req := f.request(tenantA, oauth2.ClientCredentials)
	req.Scopes = models.Scopes{"read"}
	req.Client.TLSClientCertificateBoundAccessTokens = true
	creds := f.creds()
	creds.CertificateThumbprint = "thumbprint"

	token, err := f.manager.CreateToken(context.Background(), req, creds)
	require.NoError(t, err)
	assert.Equal(t, "thumbprint", token.AccessToken.ClientCertThumbprint)
}

func TestManagerAcceptsMinimalDependencies(t *testing.T) {
	m := manage.NewManager(manage.Dependencies{})
	_, err := m.CreateToken(context.Background(), &manage.TokenRequestContext{GrantType: "unknown"}, models.ClientCredentials{})
	requireOAuthError(t, err, errors.ErrUnsupportedGrantType)
}
