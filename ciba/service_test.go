package ciba_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	valkey "github.com/valkey-io/valkey-go"
	"go.uber.org/zap/zaptest"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/ciba"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/generates"
	"github.com/legit-games/oauth2/granted"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/migrate"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/notify"
	"github.com/legit-games/oauth2/store"
	"github.com/legit-games/oauth2/utils/cipher"
)

const (
	tenant   = "tenant-a"
	pollID   = "poller"
	pingID   = "pinger"
	pushID   = "pusher"
	userSub  = "user-1"
	issuer   = "https://idp.example.com/tenant-a"
	pingAuth = "Bearer notify-me"
)

// callbackReceiver is a client notification endpoint recording every
// callback it receives.
type callbackReceiver struct {
	sync.Mutex
	auth    []string
	bodies  []notify.PushResult
	handler *httptest.Server
}

func newCallbackReceiver(t *testing.T) *callbackReceiver {
	r := &callbackReceiver{}
	r.handler = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body notify.PushResult
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.Lock()
		r.auth = append(r.auth, req.Header.Get("Authorization"))
		r.bodies = append(r.bodies, body)
		r.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(r.handler.Close)
	return r
}

func (r *callbackReceiver) received() ([]string, []string) {
	r.Lock()
	defer r.Unlock()
	ids := make([]string, 0, len(r.bodies))
	for _, b := range r.bodies {
		ids = append(ids, b.AuthReqID)
	}
	return append([]string(nil), r.auth...), ids
}

func (r *callbackReceiver) results() []notify.PushResult {
	r.Lock()
	defer r.Unlock()
	return append([]notify.PushResult(nil), r.bodies...)
}

type fixture struct {
	service  *ciba.Service
	grants   *store.CibaGrantStore
	requests *store.BackchannelRequestStore
	granted  *store.AuthorizationGrantedStore
	tokens   *store.OAuthTokenStore
	configs  *store.MemoryConfigurationStore
	users    *store.MemoryUserStore
	manager  *manage.Manager
	ping     *callbackReceiver
	push     *callbackReceiver
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ciba.db")
	require.NoError(t, migrate.Run(migrate.Options{Driver: "sqlite", DSN: dsn, Command: "up"}))
	db, err := store.OpenDatabase(store.DatabaseOptions{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	vk, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{mr.Addr()}, DisableCache: true})
	require.NoError(t, err)
	t.Cleanup(vk.Close)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	ping := newCallbackReceiver(t)
	push := newCallbackReceiver(t)
	configs := store.NewMemoryConfigurationStore()
	require.NoError(t, configs.PutServer(models.ServerConfiguration{
		TenantID: tenant,
		Issuer:   issuer,
		SigningKey: models.SigningKey{
			KeyID:      "k1",
			Algorithm:  "ES256",
			PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})),
		},
		GrantTypesSupported:      []oauth2.GrantType{oauth2.CIBA},
		BackchannelRequestExpiry: 2 * time.Minute,
	}))
	require.NoError(t, configs.PutClient(models.ClientConfiguration{
		TenantID:   tenant,
		ClientID:   pollID,
		GrantTypes: []oauth2.GrantType{oauth2.CIBA},
		Scope:      "openid profile email",
	}))
	require.NoError(t, configs.PutClient(models.ClientConfiguration{
		TenantID:                              tenant,
		ClientID:                              pingID,
		GrantTypes:                            []oauth2.GrantType{oauth2.CIBA},
		Scope:                                 "openid profile",
		BackchannelTokenDeliveryMode:          oauth2.DeliveryPing,
		BackchannelClientNotificationEndpoint: ping.handler.URL,
	}))
	require.NoError(t, configs.PutClient(models.ClientConfiguration{
		TenantID:                              tenant,
		ClientID:                              pushID,
		GrantTypes:                            []oauth2.GrantType{oauth2.CIBA},
		Scope:                                 "openid profile",
		BackchannelTokenDeliveryMode:          oauth2.DeliveryPush,
		BackchannelClientNotificationEndpoint: push.handler.URL,
	}))

	users := store.NewMemoryUserStore()
	users.Put(tenant, models.User{
		Sub:               userSub,
		PreferredUsername: "alice",
		Email:             "alice@example.com",
		Status:            models.UserRegistered,
	})
	users.Put(tenant, models.User{Sub: "user-2", Email: "locked@example.com", Status: models.UserLocked})

	protector, err := cipher.NewProtectorFromSecret([]byte("ciba-test-master-secret"))
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	f := &fixture{
		grants:   store.NewCibaGrantStore(db),
		requests: store.NewBackchannelRequestStore(vk, ""),
		granted:  store.NewAuthorizationGrantedStore(db),
		tokens:   store.NewOAuthTokenStore(db, protector),
		configs:  configs,
		users:    users,
		ping:     ping,
		push:     push,
		mr:       mr,
	}
	registrar := granted.NewRegistrar(f.granted, log)
	tx := store.NewTxManager(db)
	f.manager = manage.NewManager(manage.Dependencies{
		Tokens:              f.tokens,
		CibaGrants:          f.grants,
		BackchannelRequests: f.requests,
		Users:               users,
		Registrar:           registrar,
		Transactor:          tx,
		Logger:              log,
	})
	f.service = ciba.NewService(ciba.Dependencies{
		Grants:     f.grants,
		Requests:   f.requests,
		Users:      users,
		Configs:    configs,
		Registrar:  registrar,
		Transactor: tx,
		Notifier:   notify.NewPingNotifier(nil, log),
		Pusher:     notify.NewPushNotifier(nil, log),
		Tokens:     f.manager,
		Logger:     log,
	})
	t.Cleanup(f.service.Wait)
	return f
}

func (f *fixture) requestContext(t *testing.T, clientID string) *ciba.RequestContext {
	t.Helper()
	ctx := context.Background()
	server, err := f.configs.Server(ctx, tenant)
	require.NoError(t, err)
	client, err := f.configs.Client(ctx, tenant, clientID)
	require.NoError(t, err)
	return &ciba.RequestContext{
		TenantID:    tenant,
		Server:      server,
		Client:      client,
		Credentials: models.ClientCredentials{ClientID: clientID, Method: oauth2.ClientSecretBasic},
		Scopes:      models.Scopes{"openid", "profile", "email"},
		LoginHint:   "email:alice@example.com",
	}
}

// requestID resolves the backchannel request behind an auth_req_id.
func (f *fixture) requestID(t *testing.T, authReqID string) string {
	t.Helper()
	g, err := f.grants.FindByAuthReqID(context.Background(), tenant, authReqID)
	require.NoError(t, err)
	return g.BackchannelAuthenticationRequestID
}

func oauthError(t *testing.T, err error) error {
	t.Helper()
	require.Error(t, err)
	return errors.ResponseFor(err).Error
}

func TestRequestCreatesPendingGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := f.requestContext(t, pollID)
	rc.BindingMessage = "W4SCT"
	resp, err := f.service.Request(ctx, rc)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AuthReqID)
	assert.Equal(t, int64(120), resp.ExpiresIn)
	assert.Equal(t, int64(5), resp.Interval)

	id := f.requestID(t, resp.AuthReqID)
	g, err := f.service.Get(ctx, tenant, id)
	require.NoError(t, err)
	assert.True(t, g.IsPending())
	assert.Equal(t, userSub, g.Grant.User.Sub)
	assert.Equal(t, pollID, g.Grant.RequestedClientID)
	assert.Equal(t, models.Scopes{"openid", "profile", "email"}, g.Grant.Scopes)

	req, err := f.requests.Find(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, "W4SCT", req.BindingMessage)
	assert.Equal(t, oauth2.DeliveryPoll, req.DeliveryMode)
	assert.Equal(t, models.LoginHint, req.UserHintType)
}

func TestRequestedExpiryOverridesDefault(t *testing.T) {
	f := newFixture(t)
	rc := f.requestContext(t, pollID)
	rc.RequestedExpiry = 30
	resp, err := f.service.Request(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, int64(30), resp.ExpiresIn)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(rc *ciba.RequestContext)
		want   error
	}{
		{"no hint", func(rc *ciba.RequestContext) { rc.LoginHint = "" }, errors.ErrInvalidRequest},
		{"two hints", func(rc *ciba.RequestContext) { rc.IDTokenHint = "x.y.z" }, errors.ErrInvalidRequest},
		{"login_hint_token", func(rc *ciba.RequestContext) {
			rc.LoginHint = ""
			rc.LoginHintToken = "opaque"
		}, errors.ErrInvalidRequest},
		{"no openid", func(rc *ciba.RequestContext) { rc.Scopes = models.Scopes{"profile"} }, errors.ErrInvalidScope},
		{"unknown user", func(rc *ciba.RequestContext) { rc.LoginHint = "email:nobody@example.com" }, errors.ErrUnknownUserID},
		{"inactive user", func(rc *ciba.RequestContext) { rc.LoginHint = "email:locked@example.com" }, errors.ErrAccessDenied},
		{"binding message too long", func(rc *ciba.RequestContext) {
			rc.BindingMessage = strings.Repeat("é", 129)
		}, errors.ErrInvalidBindingMessage},
		{"negative expiry", func(rc *ciba.RequestContext) { rc.RequestedExpiry = -1 }, errors.ErrInvalidRequest},
		{"push without notification token", func(rc *ciba.RequestContext) {
			rc.Client.BackchannelTokenDeliveryMode = oauth2.DeliveryPush
		}, errors.ErrInvalidRequest},
		{"client without ciba", func(rc *ciba.RequestContext) {
			rc.Client.GrantTypes = []oauth2.GrantType{oauth2.AuthorizationCode}
		}, errors.ErrUnauthorizedClient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := f.requestContext(t, pollID)
			tc.mutate(rc)
			_, err := f.service.Request(ctx, rc)
			assert.Equal(t, tc.want, oauthError(t, err))
		})
	}
	assert.Empty(t, f.mr.Keys())
}

func TestBindingMessageCountsCharacters(t *testing.T) {
	f := newFixture(t)
	rc := f.requestContext(t, pollID)
	rc.BindingMessage = strings.Repeat("é", 128)
	_, err := f.service.Request(context.Background(), rc)
	require.NoError(t, err)
}

func TestPingRequiresNotificationToken(t *testing.T) {
	f := newFixture(t)
	rc := f.requestContext(t, pingID)
	_, err := f.service.Request(context.Background(), rc)
	assert.Equal(t, errors.ErrInvalidRequest, oauthError(t, err))
}

func TestIDTokenHint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	server, err := f.configs.Server(ctx, tenant)
	require.NoError(t, err)

	user, err := f.users.FindBySub(ctx, tenant, userSub)
	require.NoError(t, err)
	past := time.Now().Add(-3 * time.Hour)
	hint, err := generates.NewJWTIDTokenGenerate().IDToken(ctx, &generates.GenerateBasic{
		Server:   server,
		Grant:    models.AuthorizationGrant{TenantID: tenant, User: user, RequestedClientID: pollID},
		CreateAt: past,
	})
	require.NoError(t, err)

	rc := f.requestContext(t, pollID)
	rc.LoginHint = ""
	rc.IDTokenHint = hint
	resp, err := f.service.Request(ctx, rc)
	require.NoError(t, err, "an expired id_token_hint still names the user")
	g, err := f.grants.FindByAuthReqID(ctx, tenant, resp.AuthReqID)
	require.NoError(t, err)
	assert.Equal(t, userSub, g.Grant.User.Sub)

	other := server
	other.Issuer = "https://elsewhere.example.com"
	foreign, err := generates.NewJWTIDTokenGenerate().IDToken(ctx, &generates.GenerateBasic{
		Server:   other,
		Grant:    models.AuthorizationGrant{TenantID: tenant, User: user, RequestedClientID: pollID},
		CreateAt: time.Now(),
	})
	require.NoError(t, err)
	rc.IDTokenHint = foreign
	_, err = f.service.Request(ctx, rc)
	assert.Equal(t, errors.ErrInvalidRequest, oauthError(t, err))

	rc.IDTokenHint = hint[:strings.LastIndex(hint, ".")] + foreign[strings.LastIndex(foreign, "."):]
	_, err = f.service.Request(ctx, rc)
	assert.Equal(t, errors.ErrInvalidRequest, oauthError(t, err))
}

func TestAuthorizeTransitionsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp, err := f.service.Request(ctx, f.requestContext(t, pollID))
	require.NoError(t, err)
	id := f.requestID(t, resp.AuthReqID)

	authn := models.Authentication{Time: time.Now(), Methods: []string{"fido-uaf"}, ACR: "urn:mace:incommon:iap:silver"}
	require.NoError(t, f.service.Authorize(ctx, tenant, id, authn, models.Scopes{"email"}))

	g, err := f.service.Get(ctx, tenant, id)
	require.NoError(t, err)
	assert.True(t, g.IsAuthorized())
	assert.Equal(t, models.Scopes{"openid", "profile"}, g.Grant.Scopes)
	assert.Equal(t, models.Scopes{"email"}, g.DeniedScopes)
	assert.Equal(t, []string{"fido-uaf"}, g.Grant.Authentication.Methods)

	consent, err := f.granted.Find(ctx, tenant, pollID, userSub)
	require.NoError(t, err)
	assert.Equal(t, models.Scopes{"openid", "profile"}, consent.Grant.Scopes)

	err = f.service.Authorize(ctx, tenant, id, authn, nil)
	assert.Equal(t, errors.ErrInvalidGrant, oauthError(t, err))
	err = f.service.Deny(ctx, tenant, id)
	assert.Equal(t, errors.ErrInvalidGrant, oauthError(t, err))
}

func TestConcurrentDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp, err := f.service.Request(ctx, f.requestContext(t, pollID))
	require.NoError(t, err)
	id := f.requestID(t, resp.AuthReqID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = f.service.Authorize(ctx, tenant, id, models.Authentication{Time: time.Now()}, nil)
			} else {
				err = f.service.Deny(ctx, tenant, id)
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestDenyRemovesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp, err := f.service.Request(ctx, f.requestContext(t, pollID))
	require.NoError(t, err)
	id := f.requestID(t, resp.AuthReqID)

	require.NoError(t, f.service.Deny(ctx, tenant, id))
	g, err := f.service.Get(ctx, tenant, id)
	require.NoError(t, err)
	assert.True(t, g.IsDenied())

	_, err = f.requests.Find(ctx, tenant, id)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = f.granted.Find(ctx, tenant, pollID, userSub)
	assert.ErrorIs(t, err, errors.ErrNotFound, "a denial grants nothing")
}

func TestDecisionOnExpiredRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rc := f.requestContext(t, pollID)
	rc.RequestedExpiry = 1
	resp, err := f.service.Request(ctx, rc)
	require.NoError(t, err)
	id := f.requestID(t, resp.AuthReqID)

	time.Sleep(1100 * time.Millisecond)
	err = f.service.Authorize(ctx, tenant, id, models.Authentication{Time: time.Now()}, nil)
	assert.Equal(t, errors.ErrInvalidGrant, oauthError(t, err))

	g, err := f.service.Get(ctx, tenant, id)
	require.NoError(t, err)
	assert.True(t, g.IsPending(), "expiry is computed, never stored")
}

func TestUnknownRequest(t *testing.T) {
	f := newFixture(t)
	err := f.service.Authorize(context.Background(), tenant, "missing", models.Authentication{}, nil)
	assert.Equal(t, errors.ErrInvalidGrant, oauthError(t, err))
	_, err = f.service.Get(context.Background(), "tenant-b", "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestPingOnDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := f.requestContext(t, pingID)
	rc.Scopes = models.Scopes{"openid"}
	rc.ClientNotificationToken = "notify-me"
	resp, err := f.service.Request(ctx, rc)
	require.NoError(t, err)
	assert.Zero(t, resp.Interval, "ping clients are not told to poll")

	id := f.requestID(t, resp.AuthReqID)
	require.NoError(t, f.service.Authorize(ctx, tenant, id, models.Authentication{Time: time.Now()}, nil))
	f.service.Wait()

	auth, ids := f.ping.received()
	assert.Equal(t, []string{pingAuth}, auth)
	assert.Equal(t, []string{resp.AuthReqID}, ids)
}

func TestPingFailureKeepsDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := f.requestContext(t, pingID)
	rc.Scopes = models.Scopes{"openid"}
	rc.ClientNotificationToken = "notify-me"
	resp, err := f.service.Request(ctx, rc)
	require.NoError(t, err)

	f.ping.handler.Close()
	id := f.requestID(t, resp.AuthReqID)
	require.NoError(t, f.service.Deny(ctx, tenant, id))

	g, err := f.service.Get(ctx, tenant, id)
	require.NoError(t, err)
	assert.True(t, g.IsDenied())
}

func (f *fixture) pushRequest(t *testing.T) *ciba.Response {
	t.Helper()
	rc := f.requestContext(t, pushID)
	rc.Scopes = models.Scopes{"openid", "profile"}
	rc.ClientNotificationToken = "push-me"
	resp, err := f.service.Request(context.Background(), rc)
	require.NoError(t, err)
	return resp
}

func TestPushOnAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.pushRequest(t)
	assert.Zero(t, resp.Interval, "push clients are not told to poll")
	id := f.requestID(t, resp.AuthReqID)
	require.NoError(t, f.service.Authorize(ctx, tenant, id, models.Authentication{Time: time.Now()}, nil))
	f.service.Wait()

	auth, _ := f.push.received()
	assert.Equal(t, []string{"Bearer push-me"}, auth)
	results := f.push.results()
	require.Len(t, results, 1)
	got := results[0]
	assert.Equal(t, resp.AuthReqID, got.AuthReqID)
	assert.Empty(t, got.Error)
	assert.Equal(t, oauth2.TokenType, got.TokenType)
	assert.Positive(t, got.ExpiresIn)
	require.NotEmpty(t, got.AccessToken)
	require.NotEmpty(t, got.IDToken)

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(got.IDToken, claims)
	require.NoError(t, err)
	assert.Equal(t, resp.AuthReqID, claims["urn:openid:params:jwt:claim:auth_req_id"])

	token, err := f.tokens.FindByAccessToken(ctx, tenant, got.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, pushID, token.ClientID())

	_, err = f.grants.FindByAuthReqID(ctx, tenant, resp.AuthReqID)
	assert.ErrorIs(t, err, errors.ErrNotFound, "the grant is consumed by delivery")
	_, err = f.requests.Find(ctx, tenant, id)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestPushOnDeny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.pushRequest(t)
	id := f.requestID(t, resp.AuthReqID)
	require.NoError(t, f.service.Deny(ctx, tenant, id))
	f.service.Wait()

	results := f.push.results()
	require.Len(t, results, 1)
	assert.Equal(t, resp.AuthReqID, results[0].AuthReqID)
	assert.Equal(t, errors.ErrAccessDenied.Error(), results[0].Error)
	assert.Empty(t, results[0].AccessToken)
}

func TestPushFailureKeepsDecision(t *testing.T) {
	t.Run("authorize", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		resp := f.pushRequest(t)
		f.push.handler.Close()
		id := f.requestID(t, resp.AuthReqID)
		require.NoError(t, f.service.Authorize(ctx, tenant, id, models.Authentication{Time: time.Now()}, nil))
		f.service.Wait()

		consent, err := f.granted.Find(ctx, tenant, pushID, userSub)
		require.NoError(t, err)
		assert.True(t, consent.Grant.Scopes.Contains("profile"))
		_, err = f.grants.FindByAuthReqID(ctx, tenant, resp.AuthReqID)
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("deny", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		resp := f.pushRequest(t)
		f.push.handler.Close()
		id := f.requestID(t, resp.AuthReqID)
		require.NoError(t, f.service.Deny(ctx, tenant, id))
		f.service.Wait()

		g, err := f.service.Get(ctx, tenant, id)
		require.NoError(t, err)
		assert.True(t, g.IsDenied())
	})
}

func TestPushUnavailable(t *testing.T) {
	f := newFixture(t)
	log := zaptest.NewLogger(t)
	service := ciba.NewService(ciba.Dependencies{
		Grants:    f.grants,
		Requests:  f.requests,
		Users:     f.users,
		Configs:   f.configs,
		Registrar: granted.NewRegistrar(f.granted, log),
		Notifier:  notify.NewPingNotifier(nil, log),
		Logger:    log,
	})

	rc := f.requestContext(t, pushID)
	rc.ClientNotificationToken = "push-me"
	_, err := service.Request(context.Background(), rc)
	assert.ErrorIs(t, oauthError(t, err), errors.ErrInvalidRequest)
}

func TestTokenEndpointRejectsPushClients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.pushRequest(t)
	server, err := f.configs.Server(ctx, tenant)
	require.NoError(t, err)
	client, err := f.configs.Client(ctx, tenant, pushID)
	require.NoError(t, err)

	_, err = f.manager.CreateToken(ctx, &manage.TokenRequestContext{
		TenantID:  tenant,
		GrantType: oauth2.CIBA,
		AuthReqID: resp.AuthReqID,
		Server:    server,
		Client:    client,
	}, models.ClientCredentials{ClientID: pushID, Method: oauth2.ClientSecretBasic})
	assert.ErrorIs(t, oauthError(t, err), errors.ErrUnauthorizedClient)
}
