package manage

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/event"
	"github.com/legit-games/oauth2/models"
)

// Token type hints of RFC 7009.
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// Revoke removes the bundle holding value (RFC 7009). Unknown tokens and
// tokens issued to another client are ignored so their existence is not
// disclosed.
func (m *Manager) Revoke(ctx context.Context, tenantID, clientID, value, hint string) error {
	if value == "" {
		return errors.InvalidRequest("token is required")
	}
	token, err := m.findForRevocation(ctx, tenantID, value, hint)
	if stderrors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find token: %w", err)
	}
	if token.ClientID() != clientID {
		m.log.Warn("revocation by another client ignored",
			zap.String("tenant_id", tenantID),
			zap.String("client_id", clientID))
		return nil
	}
	if err := m.tokens.Delete(ctx, token); err != nil && !stderrors.Is(err, errors.ErrNotFound) {
		return fmt.Errorf("delete token: %w", err)
	}
	m.events.Publish(ctx, event.SecurityEvent{
		Type:       event.TokenRevoked,
		TenantID:   tenantID,
		ClientID:   clientID,
		UserSub:    token.UserSub(),
		Detail:     map[string]string{"token_id": token.ID},
		OccurredAt: m.now(),
	})
	return nil
}

func (m *Manager) findForRevocation(ctx context.Context, tenantID, value, hint string) (*models.OAuthToken, error) {
	lookups := []func(context.Context, string, string) (*models.OAuthToken, error){
		m.tokens.FindByAccessToken,
		m.tokens.FindByRefreshToken,
	}
	if hint == HintRefreshToken {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}
	for _, find := range lookups {
		token, err := find(ctx, tenantID, value)
		if err == nil {
			return token, nil
		}
		if !stderrors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
	}
	return nil, errors.ErrNotFound
}

// RevokeByUserAndClient removes every bundle the client holds for the user
// and returns how many were removed.
func (m *Manager) RevokeByUserAndClient(ctx context.Context, tenantID, userSub, clientID string) (int64, error) {
	n, err := m.tokens.DeleteByUserAndClient(ctx, tenantID, userSub, clientID)
	if err != nil {
		return 0, fmt.Errorf("delete tokens: %w", err)
	}
	if n > 0 {
		m.events.Publish(ctx, event.SecurityEvent{
			Type:       event.TokenRevoked,
			TenantID:   tenantID,
			ClientID:   clientID,
			UserSub:    userSub,
			Detail:     map[string]string{"count": strconv.FormatInt(n, 10)},
			OccurredAt: m.now(),
		})
	}
	return n, nil
}
