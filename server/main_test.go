package server_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gavv/httpexpect/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	valkey "github.com/valkey-io/valkey-go"
	"go.uber.org/zap/zaptest"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/ciba"
	"github.com/legit-games/oauth2/clientauth"
	"github.com/legit-games/oauth2/event"
	"github.com/legit-games/oauth2/granted"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/metrics"
	"github.com/legit-games/oauth2/migrate"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/notify"
	"github.com/legit-games/oauth2/server"
	"github.com/legit-games/oauth2/store"
	"github.com/legit-games/oauth2/utils/cipher"
)

const (
	tenantID      = "tenant-a"
	issuer        = "https://idp.example.com/tenant-a"
	webID         = "web"
	webSecret     = "web-secret"
	serviceID     = "service"
	serviceSecret = "service-secret"
	mtlsID        = "mtls"
	userSub       = "user-1"
	username      = "alice"
	password      = "correct horse"
	callback      = "https://app.example.com/cb"
	internalToken = "internal-secret"
	certHeader    = "X-Client-Cert"

	pkceVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	pkceChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

// requestRecorder remembers the backchannel request ids announced to the
// authentication device.
type requestRecorder struct {
	sync.Mutex
	ids []string
}

func (r *requestRecorder) Publish(_ context.Context, e event.SecurityEvent) {
	if e.Type != event.BackchannelRequested {
		return
	}
	r.Lock()
	defer r.Unlock()
	r.ids = append(r.ids, e.Detail["request_id"])
}

func (r *requestRecorder) last() string {
	r.Lock()
	defer r.Unlock()
	if len(r.ids) == 0 {
		return ""
	}
	return r.ids[len(r.ids)-1]
}

type fixture struct {
	srv       *httptest.Server
	e         *httpexpect.Expect
	signingPK *ecdsa.PrivateKey
	requests  *requestRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "server.db")
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

	protector, err := cipher.NewProtectorFromSecret([]byte("server-test-master-secret"))
	require.NoError(t, err)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	configs := store.NewMemoryConfigurationStore()
	require.NoError(t, configs.PutServer(models.ServerConfiguration{
		TenantID:                          tenantID,
		Issuer:                            issuer,
		TokenEndpoint:                     issuer + "/oauth/token",
		BackchannelAuthenticationEndpoint: issuer + "/backchannel/authentications",
		SigningKey: models.SigningKey{
			KeyID:      "k1",
			Algorithm:  "ES256",
			PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})),
		},
		GrantTypesSupported: []oauth2.GrantType{
			oauth2.AuthorizationCode, oauth2.Refreshing, oauth2.CIBA,
			oauth2.PasswordCredentials, oauth2.ClientCredentials,
		},
		ScopesSupported: []string{"openid", "profile", "email", "read"},
	}))
	require.NoError(t, configs.PutClient(models.ClientConfiguration{
		TenantID:     tenantID,
		ClientID:     webID,
		ClientSecret: webSecret,
		RedirectURIs: []string{callback},
		GrantTypes: []oauth2.GrantType{
			oauth2.AuthorizationCode, oauth2.Refreshing, oauth2.CIBA, oauth2.PasswordCredentials,
		},
		Scope: "openid profile email",
	}))
	require.NoError(t, configs.PutClient(models.ClientConfiguration{
		TenantID:                tenantID,
		ClientID:                serviceID,
		ClientSecret:            serviceSecret,
		TokenEndpointAuthMethod: oauth2.ClientSecretPost,
		GrantTypes:              []oauth2.GrantType{oauth2.ClientCredentials},
		Scope:                   "read",
	}))
	require.NoError(t, configs.PutClient(models.ClientConfiguration{
		TenantID:                              tenantID,
		ClientID:                              mtlsID,
		TokenEndpointAuthMethod:               oauth2.TLSClientAuth,
		TLSClientAuthSANDNS:                   "client.example.com",
		TLSClientCertificateBoundAccessTokens: true,
		GrantTypes:                            []oauth2.GrantType{oauth2.ClientCredentials},
		Scope:                                 "read",
	}))

	users := store.NewMemoryUserStore()
	hash, err := store.HashPassword(password)
	require.NoError(t, err)
	users.Put(tenantID, models.User{
		Sub:               userSub,
		PreferredUsername: username,
		Email:             "alice@example.com",
		Status:            models.UserRegistered,
		PasswordHash:      hash,
	})

	log := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	tx := store.NewTxManager(db)
	registrar := granted.NewRegistrar(store.NewAuthorizationGrantedStore(db), log)
	cibas := store.NewCibaGrantStore(db)
	requests := store.NewBackchannelRequestStore(vk, "")
	recorder := &requestRecorder{}

	manager := manage.NewManager(manage.Dependencies{
		Tokens:              store.NewOAuthTokenStore(db, protector),
		Codes:               store.NewAuthorizationCodeStore(vk, ""),
		CibaGrants:          cibas,
		BackchannelRequests: requests,
		Users:               users,
		Registrar:           registrar,
		Transactor:          tx,
		Metrics:             m,
		Logger:              log,
	})
	backchannel := ciba.NewService(ciba.Dependencies{
		Grants:     cibas,
		Requests:   requests,
		Users:      users,
		Configs:    configs,
		Registrar:  registrar,
		Transactor: tx,
		Notifier:   notify.NewPingNotifier(nil, log),
		Pusher:     notify.NewPushNotifier(nil, log),
		Tokens:     manager,
		Events:     event.Publishers{event.NewLogPublisher(log), recorder},
		Metrics:    m,
		Logger:     log,
	})
	t.Cleanup(backchannel.Wait)

	s := server.NewServer(server.Options{
		Configs:     configs,
		Clients:     clientauth.NewRegistry(configs, store.NewAssertionReplayStore(vk, ""), log, m),
		Manager:     manager,
		Backchannel: backchannel,
		Users:       users,
		Gatherer:    reg,
		Logger:      log,
		HTTP: server.HTTPConfig{
			ClientCertHeader: certHeader,
			InternalToken:    internalToken,
		},
	})
	srv := httptest.NewServer(server.NewGinEngine(s))
	t.Cleanup(srv.Close)

	return &fixture{
		srv:       srv,
		e:         httpexpect.Default(t, srv.URL),
		signingPK: key,
		requests:  recorder,
	}
}

func (f *fixture) tokenURL() string {
	return f.srv.URL + "/" + tenantID + "/oauth/token"
}

// internal sends an operator request with the internal token.
func (f *fixture) internal(method, path string) *httpexpect.Request {
	return f.e.Request(method, "/"+tenantID+"/internal"+path).
		WithHeader("Authorization", "Bearer "+internalToken)
}
