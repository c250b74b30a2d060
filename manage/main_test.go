package manage_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	valkey "github.com/valkey-io/valkey-go"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/event"
	"github.com/legit-games/oauth2/granted"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/metrics"
	"github.com/legit-games/oauth2/migrate"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/store"
	"github.com/legit-games/oauth2/utils/cipher"
)

const (
	tenantA  = "tenant-a"
	tenantB  = "tenant-b"
	clientA  = "client-a"
	userSub  = "user-1"
	password = "correct horse"
	callback = "https://app.example.com/cb"
)

type recordingPublisher struct {
	sync.Mutex
	events []event.SecurityEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e event.SecurityEvent) {
	p.Lock()
	defer p.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []event.Type {
	p.Lock()
	defer p.Unlock()
	out := make([]event.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	tokens    *store.OAuthTokenStore
	codes     *store.AuthorizationCodeStore
	cibas     *store.CibaGrantStore
	requests  *store.BackchannelRequestStore
	granted   *store.AuthorizationGrantedStore
	users     *store.MemoryUserStore
	events    *recordingPublisher
	registry  *prometheus.Registry
	manager   *manage.Manager
	servers   map[string]models.ServerConfiguration
	client    models.ClientConfiguration
	signingPK *ecdsa.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "idp.db")
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

	protector, err := cipher.NewProtectorFromSecret([]byte("manage-test-master-secret"))
	require.NoError(t, err)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	signing := models.SigningKey{
		KeyID:      "k1",
		Algorithm:  "ES256",
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})),
	}

	allGrants := []oauth2.GrantType{
		oauth2.AuthorizationCode, oauth2.Refreshing, oauth2.CIBA,
		oauth2.PasswordCredentials, oauth2.ClientCredentials,
	}
	servers := map[string]models.ServerConfiguration{}
	for _, tenant := range []string{tenantA, tenantB} {
		servers[tenant] = models.ServerConfiguration{
			TenantID:            tenant,
			Issuer:              "https://idp.example.com/" + tenant,
			SigningKey:          signing,
			GrantTypesSupported: allGrants,
		}.WithDefaults()
	}

	users := store.NewMemoryUserStore()
	hash, err := store.HashPassword(password)
	require.NoError(t, err)
	for _, tenant := range []string{tenantA, tenantB} {
		users.Put(tenant, models.User{
			Sub:               userSub,
			PreferredUsername: "alice",
			Email:             "alice@example.com",
			Status:            models.UserRegistered,
			PasswordHash:      hash,
		})
	}

	log := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		mr:       mr,
		tokens:   store.NewOAuthTokenStore(db, protector),
		codes:    store.NewAuthorizationCodeStore(vk, ""),
		cibas:    store.NewCibaGrantStore(db),
		requests: store.NewBackchannelRequestStore(vk, ""),
		granted:  store.NewAuthorizationGrantedStore(db),
		users:    users,
		events:   &recordingPublisher{},
		registry: reg,
		servers:  servers,
		client: models.ClientConfiguration{
			TenantID:     tenantA,
			ClientID:     clientA,
			RedirectURIs: []string{callback},
			GrantTypes:   allGrants,
			Scope:        "openid profile email phone read",
		},
		signingPK: key,
	}
	f.manager = manage.NewManager(manage.Dependencies{
		Tokens:              f.tokens,
		Codes:               f.codes,
		CibaGrants:          f.cibas,
		BackchannelRequests: f.requests,
		Users:               users,
		Registrar:           granted.NewRegistrar(f.granted, log),
		Transactor:          store.NewTxManager(db),
		Events:              f.events,
		Metrics:             m,
		Logger:              log,
	})
	return f
}

func (f *fixture) request(tenant string, gt oauth2.GrantType) *manage.TokenRequestContext {
	client := f.client
	client.TenantID = tenant
	return &manage.TokenRequestContext{
		TenantID:  tenant,
		GrantType: gt,
		Server:    f.servers[tenant],
		Client:    client,
	}
}

func (f *fixture) creds() models.ClientCredentials {
	return models.ClientCredentials{ClientID: clientA, Method: oauth2.ClientSecretBasic}
}

func (f *fixture) tokenRows(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Table("oauth_token").Count(&n).Error)
	return n
}

func (f *fixture) user(t *testing.T, tenant string) models.User {
	t.Helper()
	u, err := f.users.FindBySub(context.Background(), tenant, userSub)
	require.NoError(t, err)
	return u
}

// authorizedCiba registers a CIBA grant in the given status.
func (f *fixture) authorizedCiba(t *testing.T, tenant, requestID, authReqID string, status models.CibaGrantStatus, scopes ...string) models.CibaGrant {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	g := models.CibaGrant{
		TenantID:                           tenant,
		BackchannelAuthenticationRequestID: requestID,
		AuthReqID:                          authReqID,
		Status:                             status,
		Grant: models.AuthorizationGrant{
			TenantID:          tenant,
			User:              f.user(t, tenant),
			Authentication:    models.Authentication{Time: now, Methods: []string{"fido-uaf"}},
			RequestedClientID: clientA,
			GrantType:         oauth2.CIBA,
			Scopes:            models.Scopes(scopes),
		},
		Interval:  5 * time.Second,
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.cibas.Register(context.Background(), g))
	return g
}
