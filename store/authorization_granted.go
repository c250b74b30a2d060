package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type authorizationGrantedRecord struct {
	ID                 string    `gorm:"column:id;primaryKey"`
	TenantID           string    `gorm:"column:tenant_id"`
	ClientID           string    `gorm:"column:client_id"`
	UserID             string    `gorm:"column:user_id"`
	Scopes             string    `gorm:"column:scopes"`
	AuthorizationGrant string    `gorm:"column:authorization_grant"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

func (authorizationGrantedRecord) TableName() string { return "authorization_granted" }

func newAuthorizationGrantedRecord(g models.AuthorizationGranted) (authorizationGrantedRecord, error) {
	grant, err := json.Marshal(g.Grant)
	if err != nil {
		return authorizationGrantedRecord{}, err
	}
	return authorizationGrantedRecord{
		ID:                 g.ID,
		TenantID:           g.TenantID(),
		ClientID:           g.ClientID(),
		UserID:             g.UserSub(),
		Scopes:             g.Grant.Scopes.String(),
		AuthorizationGrant: string(grant),
		CreatedAt:          g.CreatedAt.UTC(),
		UpdatedAt:          g.UpdatedAt.UTC(),
	}, nil
}

func (r authorizationGrantedRecord) model() (models.AuthorizationGranted, error) {
	var grant models.AuthorizationGrant
	if err := json.Unmarshal([]byte(r.AuthorizationGrant), &grant); err != nil {
		return models.AuthorizationGranted{}, err
	}
	return models.AuthorizationGranted{
		ID:        r.ID,
		Grant:     grant,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// AuthorizationGrantedStore keeps one consolidated grant per tenant, client
// and user, enforced by a unique index.
type AuthorizationGrantedStore struct {
	db *gorm.DB
}

// NewAuthorizationGrantedStore returns a gorm-backed consolidated grant store.
func NewAuthorizationGrantedStore(db *gorm.DB) *AuthorizationGrantedStore {
	return &AuthorizationGrantedStore{db: db}
}

// Find loads the consolidated grant without locking.
func (s *AuthorizationGrantedStore) Find(ctx context.Context, tenantID, clientID, userSub string) (models.AuthorizationGranted, error) {
	return s.find(conn(ctx, s.db), tenantID, clientID, userSub)
}

// FindForUpdate loads the consolidated grant and, where the database supports
// it, locks the row until the surrounding transaction ends.
func (s *AuthorizationGrantedStore) FindForUpdate(ctx context.Context, tenantID, clientID, userSub string) (models.AuthorizationGranted, error) {
	db := conn(ctx, s.db)
	if lockingSupported(db) {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return s.find(db, tenantID, clientID, userSub)
}

func (s *AuthorizationGrantedStore) find(db *gorm.DB, tenantID, clientID, userSub string) (models.AuthorizationGranted, error) {
	var rec authorizationGrantedRecord
	err := db.Where("tenant_id = ? AND client_id = ? AND user_id = ?", tenantID, clientID, userSub).Take(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return models.AuthorizationGranted{}, errors.ErrNotFound
	}
	if err != nil {
		return models.AuthorizationGranted{}, err
	}
	return rec.model()
}

// Insert creates the consolidated grant. ErrConflict reports that another
// writer created the row first.
func (s *AuthorizationGrantedStore) Insert(ctx context.Context, g models.AuthorizationGranted) error {
	rec, err := newAuthorizationGrantedRecord(g)
	if err != nil {
		return err
	}
	res := conn(ctx, s.db).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrConflict
	}
	return nil
}

// Update overwrites the merged grant.
func (s *AuthorizationGrantedStore) Update(ctx context.Context, g models.AuthorizationGranted) error {
	rec, err := newAuthorizationGrantedRecord(g)
	if err != nil {
		return err
	}
	res := conn(ctx, s.db).Model(&authorizationGrantedRecord{}).
		Where("tenant_id = ? AND id = ?", rec.TenantID, rec.ID).
		Updates(map[string]interface{}{
			"scopes":              rec.Scopes,
			"authorization_grant": rec.AuthorizationGrant,
			"updated_at":          rec.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// Delete removes the consolidated grant of a user and client.
func (s *AuthorizationGrantedStore) Delete(ctx context.Context, tenantID, clientID, userSub string) error {
	return conn(ctx, s.db).
		Where("tenant_id = ? AND client_id = ? AND user_id = ?", tenantID, clientID, userSub).
		Delete(&authorizationGrantedRecord{}).Error
}
