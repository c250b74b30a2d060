package store

import (
	"context"
	stderrors "errors"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/utils/cipher"
	"gorm.io/gorm"
)

// OAuthTokenStore keeps issued token bundles in the oauth_token table.
type OAuthTokenStore struct {
	db    *gorm.DB
	codec tokenCodec
}

// NewOAuthTokenStore returns a gorm-backed token store.
func NewOAuthTokenStore(db *gorm.DB, protector *cipher.Protector) *OAuthTokenStore {
	return &OAuthTokenStore{db: db, codec: tokenCodec{protector: protector}}
}

// Register persists a newly minted bundle.
func (s *OAuthTokenStore) Register(ctx context.Context, token *models.OAuthToken) error {
	rec, err := s.codec.encode(token)
	if err != nil {
		return err
	}
	return conn(ctx, s.db).Create(&rec).Error
}

// FindByAccessToken resolves a bundle by its plaintext access token.
func (s *OAuthTokenStore) FindByAccessToken(ctx context.Context, tenantID, value string) (*models.OAuthToken, error) {
	return s.find(ctx, "tenant_id = ? AND hashed_access_token = ?", tenantID, s.codec.protector.Hasher.Hash(value))
}

// FindByRefreshToken resolves a bundle by its plaintext refresh token.
func (s *OAuthTokenStore) FindByRefreshToken(ctx context.Context, tenantID, value string) (*models.OAuthToken, error) {
	if value == "" {
		return nil, errors.ErrNotFound
	}
	return s.find(ctx, "tenant_id = ? AND hashed_refresh_token = ?", tenantID, s.codec.protector.Hasher.Hash(value))
}

func (s *OAuthTokenStore) find(ctx context.Context, query string, args ...interface{}) (*models.OAuthToken, error) {
	var rec oauthTokenRecord
	err := conn(ctx, s.db).Where(query, args...).Take(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.codec.decode(rec)
}

// Delete removes a bundle. It fails with ErrNotFound when the bundle is
// already gone, so concurrent consumers cannot both succeed.
func (s *OAuthTokenStore) Delete(ctx context.Context, token *models.OAuthToken) error {
	res := conn(ctx, s.db).
		Where("tenant_id = ? AND id = ?", token.TenantID, token.ID).
		Delete(&oauthTokenRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// Rotate replaces old with next atomically.
func (s *OAuthTokenStore) Rotate(ctx context.Context, old, next *models.OAuthToken) error {
	return NewTxManager(s.db).WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.Delete(ctx, old); err != nil {
			return err
		}
		return s.Register(ctx, next)
	})
}

// DeleteByUserAndClient removes every bundle issued to clientID for userSub.
func (s *OAuthTokenStore) DeleteByUserAndClient(ctx context.Context, tenantID, userSub, clientID string) (int64, error) {
	res := conn(ctx, s.db).
		Where("tenant_id = ? AND user_id = ? AND client_id = ?", tenantID, userSub, clientID).
		Delete(&oauthTokenRecord{})
	return res.RowsAffected, res.Error
}
