// Package granted consolidates authorization grants into one durable consent
// record per tenant, client and user.
package granted

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/models"
	"go.uber.org/zap"
)

// Store persists consolidated grants. Insert must report ErrConflict when
// the record for the same owner already exists.
type Store interface {
	FindForUpdate(ctx context.Context, tenantID, clientID, userSub string) (models.AuthorizationGranted, error)
	Insert(ctx context.Context, g models.AuthorizationGranted) error
	Update(ctx context.Context, g models.AuthorizationGranted) error
}

// DefaultMaxTries bounds the insert race retries.
const DefaultMaxTries = 3

// Registrar merges grants into the consolidated record.
type Registrar struct {
	store    Store
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
	maxTries uint
	backoff  func() backoff.BackOff
}

// NewRegistrar returns a registrar writing to store.
func NewRegistrar(store Store, log *zap.Logger) *Registrar {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registrar{
		store:    store,
		log:      log.Named("granted"),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		maxTries: DefaultMaxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 100 * time.Millisecond
			return b
		},
	}
}

// RegisterOrUpdate creates the consolidated record for the grant owner or
// merges grant into it. Grants without an end-user are not consolidated.
func (r *Registrar) RegisterOrUpdate(ctx context.Context, tenantID string, grant models.AuthorizationGrant) (models.AuthorizationGranted, error) {
	if !grant.HasUser() {
		return models.AuthorizationGranted{}, nil
	}
	if grant.TenantID != tenantID {
		return models.AuthorizationGranted{}, fmt.Errorf("grant belongs to tenant %q, not %q", grant.TenantID, tenantID)
	}
	clientID, sub := grant.RequestedClientID, grant.User.Sub

	op := func() (models.AuthorizationGranted, error) {
		now := r.now()
		cur, err := r.store.FindForUpdate(ctx, tenantID, clientID, sub)
		switch {
		case stderrors.Is(err, errors.ErrNotFound):
			rec := models.NewAuthorizationGranted(r.newID(), grant, now)
			if err := r.store.Insert(ctx, rec); err != nil {
				if stderrors.Is(err, errors.ErrConflict) {
					// lost the insert race, merge into the winner's row
					return models.AuthorizationGranted{}, err
				}
				return models.AuthorizationGranted{}, backoff.Permanent(err)
			}
			return rec, nil
		case err != nil:
			return models.AuthorizationGranted{}, backoff.Permanent(err)
		}
		merged := cur.Merge(grant, now)
		if err := r.store.Update(ctx, merged); err != nil {
			return models.AuthorizationGranted{}, backoff.Permanent(err)
		}
		return merged, nil
	}

	rec, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.backoff()),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			r.log.Debug("retrying authorization grant consolidation",
				zap.String("tenant_id", tenantID),
				zap.String("client_id", clientID),
				zap.Duration("backoff", d),
				zap.Error(err))
		}),
	)
	if err != nil {
		return models.AuthorizationGranted{}, fmt.Errorf("consolidate grant: %w", err)
	}
	return rec, nil
}
