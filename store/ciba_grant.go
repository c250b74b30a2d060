package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"gorm.io/gorm"
)

type cibaGrantRecord struct {
	BackchannelAuthenticationRequestID string    `gorm:"column:backchannel_authentication_request_id;primaryKey"`
	TenantID                           string    `gorm:"column:tenant_id;primaryKey"`
	AuthReqID                          string    `gorm:"column:auth_req_id"`
	Status                             string    `gorm:"column:status"`
	ClientID                           string    `gorm:"column:client_id"`
	UserID                             string    `gorm:"column:user_id"`
	Scopes                             string    `gorm:"column:scopes"`
	DeniedScopes                       string    `gorm:"column:denied_scopes"`
	AuthorizationGrant                 string    `gorm:"column:authorization_grant"`
	PollingInterval                    int       `gorm:"column:polling_interval"`
	ExpiresAt                          time.Time `gorm:"column:expires_at"`
	CreatedAt                          time.Time `gorm:"column:created_at"`
	UpdatedAt                          time.Time `gorm:"column:updated_at"`
}

func (cibaGrantRecord) TableName() string { return "ciba_grant" }

func newCibaGrantRecord(g models.CibaGrant) (cibaGrantRecord, error) {
	grant, err := json.Marshal(g.Grant)
	if err != nil {
		return cibaGrantRecord{}, err
	}
	return cibaGrantRecord{
		BackchannelAuthenticationRequestID: g.BackchannelAuthenticationRequestID,
		TenantID:                           g.TenantID,
		AuthReqID:                          g.AuthReqID,
		Status:                             string(g.Status),
		ClientID:                           g.Grant.RequestedClientID,
		UserID:                             g.Grant.User.Sub,
		Scopes:                             g.Grant.Scopes.String(),
		DeniedScopes:                       g.DeniedScopes.String(),
		AuthorizationGrant:                 string(grant),
		PollingInterval:                    int(g.Interval / time.Second),
		ExpiresAt:                          g.ExpiresAt.UTC(),
		CreatedAt:                          g.CreatedAt.UTC(),
		UpdatedAt:                          g.UpdatedAt.UTC(),
	}, nil
}

func (r cibaGrantRecord) model() (models.CibaGrant, error) {
	var grant models.AuthorizationGrant
	if err := json.Unmarshal([]byte(r.AuthorizationGrant), &grant); err != nil {
		return models.CibaGrant{}, err
	}
	return models.CibaGrant{
		TenantID:                           r.TenantID,
		BackchannelAuthenticationRequestID: r.BackchannelAuthenticationRequestID,
		AuthReqID:                          r.AuthReqID,
		Status:                             models.CibaGrantStatus(r.Status),
		Grant:                              grant,
		DeniedScopes:                       models.ParseScopes(r.DeniedScopes),
		Interval:                           time.Duration(r.PollingInterval) * time.Second,
		ExpiresAt:                          r.ExpiresAt,
		CreatedAt:                          r.CreatedAt,
		UpdatedAt:                          r.UpdatedAt,
	}, nil
}

// CibaGrantStore keeps CIBA grants in the ciba_grant table.
type CibaGrantStore struct {
	db *gorm.DB
}

// NewCibaGrantStore returns a gorm-backed CIBA grant store.
func NewCibaGrantStore(db *gorm.DB) *CibaGrantStore {
	return &CibaGrantStore{db: db}
}

// Register stores a new pending grant.
func (s *CibaGrantStore) Register(ctx context.Context, g models.CibaGrant) error {
	rec, err := newCibaGrantRecord(g)
	if err != nil {
		return err
	}
	return conn(ctx, s.db).Create(&rec).Error
}

// Find loads the grant of a backchannel authentication request.
func (s *CibaGrantStore) Find(ctx context.Context, tenantID, requestID string) (models.CibaGrant, error) {
	return s.find(ctx, "tenant_id = ? AND backchannel_authentication_request_id = ?", tenantID, requestID)
}

// FindByAuthReqID loads the grant a client polls for.
func (s *CibaGrantStore) FindByAuthReqID(ctx context.Context, tenantID, authReqID string) (models.CibaGrant, error) {
	return s.find(ctx, "tenant_id = ? AND auth_req_id = ?", tenantID, authReqID)
}

func (s *CibaGrantStore) find(ctx context.Context, query string, args ...interface{}) (models.CibaGrant, error) {
	var rec cibaGrantRecord
	err := conn(ctx, s.db).Where(query, args...).Take(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return models.CibaGrant{}, errors.ErrNotFound
	}
	if err != nil {
		return models.CibaGrant{}, err
	}
	return rec.model()
}

// Transition persists g only while the stored status is still from. A lost
// race yields ErrStaleState.
func (s *CibaGrantStore) Transition(ctx context.Context, g models.CibaGrant, from models.CibaGrantStatus) error {
	rec, err := newCibaGrantRecord(g)
	if err != nil {
		return err
	}
	res := conn(ctx, s.db).Model(&cibaGrantRecord{}).
		Where("tenant_id = ? AND backchannel_authentication_request_id = ? AND status = ?",
			g.TenantID, g.BackchannelAuthenticationRequestID, string(from)).
		Updates(map[string]interface{}{
			"status":              rec.Status,
			"user_id":             rec.UserID,
			"scopes":              rec.Scopes,
			"denied_scopes":       rec.DeniedScopes,
			"authorization_grant": rec.AuthorizationGrant,
			"updated_at":          rec.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrStaleState
	}
	return nil
}

// Delete removes a grant, failing with ErrNotFound when it is already gone.
func (s *CibaGrantStore) Delete(ctx context.Context, tenantID, requestID string) error {
	res := conn(ctx, s.db).
		Where("tenant_id = ? AND backchannel_authentication_request_id = ?", tenantID, requestID).
		Delete(&cibaGrantRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.ErrNotFound
	}
	return nil
}
