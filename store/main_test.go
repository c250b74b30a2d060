package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/migrate"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/utils/cipher"
	valkey "github.com/valkey-io/valkey-go"
	"gorm.io/gorm"
)

// newTestDB opens a migrated sqlite database private to the test.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "idp.db")
	if err := migrate.Run(migrate.Options{Driver: "sqlite", DSN: dsn, Command: "up"}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := OpenDatabase(DatabaseOptions{Driver: "sqlite", DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestValkey(t *testing.T) (*miniredis.Miniredis, valkey.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{mr.Addr()}, DisableCache: true})
	if err != nil {
		t.Fatalf("valkey client: %v", err)
	}
	t.Cleanup(client.Close)
	return mr, client
}

func newTestProtector(t *testing.T) *cipher.Protector {
	t.Helper()
	p, err := cipher.NewProtectorFromSecret([]byte("store-test-master-secret"))
	if err != nil {
		t.Fatalf("protector: %v", err)
	}
	return p
}

func testGrant(tenantID, clientID, sub string, scopes ...string) models.AuthorizationGrant {
	return models.AuthorizationGrant{
		TenantID:          tenantID,
		User:              models.User{Sub: sub, Status: models.UserRegistered},
		RequestedClientID: clientID,
		GrantType:         oauth2.AuthorizationCode,
		Scopes:            models.Scopes(scopes),
	}
}

func testToken(id, tenantID, clientID, sub, access, refresh string, now time.Time) *models.OAuthToken {
	t := &models.OAuthToken{
		ID:        id,
		TenantID:  tenantID,
		Issuer:    "https://idp.example.com/" + tenantID,
		TokenType: oauth2.TokenType,
		AccessToken: models.AccessToken{
			Value:     access,
			Grant:     testGrant(tenantID, clientID, sub, "openid", "profile"),
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		},
	}
	if refresh != "" {
		t.RefreshToken = models.RefreshToken{Value: refresh, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	}
	return t
}
