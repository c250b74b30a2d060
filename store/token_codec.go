package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/utils/cipher"
)

// oauthTokenRecord is the persisted form of a token bundle. Token values are
// stored encrypted and looked up by their HMAC.
type oauthTokenRecord struct {
	ID                            string     `gorm:"column:id;primaryKey" json:"id"`
	TenantID                      string     `gorm:"column:tenant_id" json:"tenant_id"`
	TokenIssuer                   string     `gorm:"column:token_issuer" json:"token_issuer"`
	TokenType                     string     `gorm:"column:token_type" json:"token_type"`
	EncryptedAccessToken          string     `gorm:"column:encrypted_access_token" json:"encrypted_access_token"`
	HashedAccessToken             string     `gorm:"column:hashed_access_token" json:"hashed_access_token"`
	UserID                        string     `gorm:"column:user_id" json:"user_id"`
	ClientID                      string     `gorm:"column:client_id" json:"client_id"`
	GrantType                     string     `gorm:"column:grant_type" json:"grant_type"`
	Scopes                        string     `gorm:"column:scopes" json:"scopes"`
	AuthorizationGrant            string     `gorm:"column:authorization_grant" json:"authorization_grant"`
	ClientCertificationThumbprint string     `gorm:"column:client_certification_thumbprint" json:"client_certification_thumbprint"`
	AccessTokenCreatedAt          time.Time  `gorm:"column:access_token_created_at" json:"access_token_created_at"`
	AccessTokenExpiresAt          time.Time  `gorm:"column:access_token_expires_at" json:"access_token_expires_at"`
	EncryptedRefreshToken         string     `gorm:"column:encrypted_refresh_token" json:"encrypted_refresh_token"`
	HashedRefreshToken            string     `gorm:"column:hashed_refresh_token" json:"hashed_refresh_token"`
	RefreshTokenCreatedAt         *time.Time `gorm:"column:refresh_token_created_at" json:"refresh_token_created_at,omitempty"`
	RefreshTokenExpiresAt         *time.Time `gorm:"column:refresh_token_expires_at" json:"refresh_token_expires_at,omitempty"`
	CreatedAt                     time.Time  `gorm:"column:created_at" json:"created_at"`
}

func (oauthTokenRecord) TableName() string { return "oauth_token" }

// expiresAt is the last instant any part of the bundle is usable.
func (r oauthTokenRecord) expiresAt() time.Time {
	if r.RefreshTokenExpiresAt != nil && r.RefreshTokenExpiresAt.After(r.AccessTokenExpiresAt) {
		return *r.RefreshTokenExpiresAt
	}
	return r.AccessTokenExpiresAt
}

type tokenCodec struct {
	protector *cipher.Protector
}

func (c tokenCodec) encode(t *models.OAuthToken) (oauthTokenRecord, error) {
	access, err := c.encrypt(t.AccessToken.Value)
	if err != nil {
		return oauthTokenRecord{}, err
	}
	grant, err := json.Marshal(t.AccessToken.Grant)
	if err != nil {
		return oauthTokenRecord{}, err
	}
	rec := oauthTokenRecord{
		ID:                            t.ID,
		TenantID:                      t.TenantID,
		TokenIssuer:                   t.Issuer,
		TokenType:                     t.TokenType,
		EncryptedAccessToken:          access,
		HashedAccessToken:             c.protector.Hasher.Hash(t.AccessToken.Value),
		UserID:                        t.UserSub(),
		ClientID:                      t.ClientID(),
		GrantType:                     string(t.AccessToken.Grant.GrantType),
		Scopes:                        t.Scopes().String(),
		AuthorizationGrant:            string(grant),
		ClientCertificationThumbprint: t.AccessToken.ClientCertThumbprint,
		AccessTokenCreatedAt:          t.AccessToken.CreatedAt.UTC(),
		AccessTokenExpiresAt:          t.AccessToken.ExpiresAt.UTC(),
		CreatedAt:                     t.AccessToken.CreatedAt.UTC(),
	}
	if t.RefreshToken.Exists() {
		refresh, err := c.encrypt(t.RefreshToken.Value)
		if err != nil {
			return oauthTokenRecord{}, err
		}
		created, expires := t.RefreshToken.CreatedAt.UTC(), t.RefreshToken.ExpiresAt.UTC()
		rec.EncryptedRefreshToken = refresh
		rec.HashedRefreshToken = c.protector.Hasher.Hash(t.RefreshToken.Value)
		rec.RefreshTokenCreatedAt = &created
		rec.RefreshTokenExpiresAt = &expires
	}
	return rec, nil
}

func (c tokenCodec) decode(rec oauthTokenRecord) (*models.OAuthToken, error) {
	access, err := c.decrypt(rec.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("access token %s: %w", rec.ID, err)
	}
	var grant models.AuthorizationGrant
	if err := json.Unmarshal([]byte(rec.AuthorizationGrant), &grant); err != nil {
		return nil, fmt.Errorf("authorization grant %s: %w", rec.ID, err)
	}
	t := &models.OAuthToken{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Issuer:    rec.TokenIssuer,
		TokenType: rec.TokenType,
		AccessToken: models.AccessToken{
			Value:                access,
			Grant:                grant,
			ClientCertThumbprint: rec.ClientCertificationThumbprint,
			CreatedAt:            rec.AccessTokenCreatedAt,
			ExpiresAt:            rec.AccessTokenExpiresAt,
		},
	}
	if rec.EncryptedRefreshToken != "" {
		refresh, err := c.decrypt(rec.EncryptedRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("refresh token %s: %w", rec.ID, err)
		}
		t.RefreshToken.Value = refresh
		if rec.RefreshTokenCreatedAt != nil {
			t.RefreshToken.CreatedAt = *rec.RefreshTokenCreatedAt
		}
		if rec.RefreshTokenExpiresAt != nil {
			t.RefreshToken.ExpiresAt = *rec.RefreshTokenExpiresAt
		}
	}
	return t, nil
}

func (c tokenCodec) encrypt(plain string) (string, error) {
	v, err := c.protector.Cipher.Encrypt(plain)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func (c tokenCodec) decrypt(stored string) (string, error) {
	var v cipher.EncryptedValue
	if err := json.Unmarshal([]byte(stored), &v); err != nil {
		return "", cipher.ErrMalformedCiphertext
	}
	return c.protector.Cipher.Decrypt(v)
}
