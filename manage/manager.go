// Package manage is the grant type engine. It turns authenticated token
// requests into persisted token bundles.
package manage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/event"
	"github.com/legit-games/oauth2/generates"
	"github.com/legit-games/oauth2/metrics"
	"github.com/legit-games/oauth2/models"
)

// TokenStore persists issued token bundles.
type TokenStore interface {
	Register(ctx context.Context, token *models.OAuthToken) error
	FindByAccessToken(ctx context.Context, tenantID, value string) (*models.OAuthToken, error)
	FindByRefreshToken(ctx context.Context, tenantID, value string) (*models.OAuthToken, error)
	Delete(ctx context.Context, token *models.OAuthToken) error
	Rotate(ctx context.Context, old, next *models.OAuthToken) error
	DeleteByUserAndClient(ctx context.Context, tenantID, userSub, clientID string) (int64, error)
}

// CodeStore keeps issued authorization codes until they are redeemed.
type CodeStore interface {
	Save(ctx context.Context, code models.AuthorizationCodeGrant) error
	Find(ctx context.Context, tenantID, code string) (models.AuthorizationCodeGrant, error)
	Delete(ctx context.Context, tenantID, code string) error
}

// CibaGrantStore reads and consumes CIBA grants.
type CibaGrantStore interface {
	FindByAuthReqID(ctx context.Context, tenantID, authReqID string) (models.CibaGrant, error)
	Delete(ctx context.Context, tenantID, requestID string) error
}

// BackchannelRequestStore removes backchannel requests once their grant is consumed.
type BackchannelRequestStore interface {
	Delete(ctx context.Context, tenantID, id string) error
}

// UserLookup resolves end-users. A miss is the zero User, not an error.
type UserLookup interface {
	FindBySub(ctx context.Context, tenantID, sub string) (models.User, error)
	FindByPassword(ctx context.Context, tenantID, username, password string) (models.User, error)
}

// GrantRegistrar consolidates grants into the consent record of their owner.
type GrantRegistrar interface {
	RegisterOrUpdate(ctx context.Context, tenantID string, grant models.AuthorizationGrant) (models.AuthorizationGranted, error)
}

// Transactor runs fn in one unit of work.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type directTransactor struct{}

func (directTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// TokenCreationService issues tokens for one grant type.
type TokenCreationService interface {
	GrantType() oauth2.GrantType
	Create(ctx context.Context, req *TokenRequestContext, creds models.ClientCredentials) (*models.OAuthToken, error)
}

// Dependencies are the collaborators of a Manager. Generators, Transactor,
// Events and Now have defaults.
type Dependencies struct {
	Tokens              TokenStore
	Codes               CodeStore
	CibaGrants          CibaGrantStore
	BackchannelRequests BackchannelRequestStore
	Users               UserLookup
	Registrar           GrantRegistrar
	Transactor          Transactor
	Events              event.Publisher
	Metrics             *metrics.Metrics
	Logger              *zap.Logger

	AccessGenerate    generates.AccessGenerate
	RefreshGenerate   generates.RefreshGenerate
	IDTokenGenerate   generates.IDTokenGenerate
	AuthorizeGenerate generates.AuthorizeGenerate
	Now               func() time.Time
}

// Manager dispatches token requests to the service of their grant type.
type Manager struct {
	*engine
	services map[oauth2.GrantType]TokenCreationService
	events   event.Publisher
	metrics  *metrics.Metrics
}

// engine is the state shared by the grant services.
type engine struct {
	tokens    TokenStore
	codes     CodeStore
	cibas     CibaGrantStore
	requests  BackchannelRequestStore
	users     UserLookup
	registrar GrantRegistrar
	tx        Transactor
	mint      *minter
	authorize generates.AuthorizeGenerate
	log       *zap.Logger
	now       func() time.Time
}

// NewManager builds the manager with every supported grant type.
func NewManager(d Dependencies) *Manager {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Transactor == nil {
		d.Transactor = directTransactor{}
	}
	if d.Events == nil {
		d.Events = event.Nop()
	}
	if d.AccessGenerate == nil {
		d.AccessGenerate = generates.NewJWTAccessGenerate()
	}
	if d.RefreshGenerate == nil {
		d.RefreshGenerate = generates.NewOpaqueRefreshGenerate()
	}
	if d.IDTokenGenerate == nil {
		d.IDTokenGenerate = generates.NewJWTIDTokenGenerate()
	}
	if d.AuthorizeGenerate == nil {
		d.AuthorizeGenerate = generates.NewAuthorizeGenerate()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	e := &engine{
		tokens:    d.Tokens,
		codes:     d.Codes,
		cibas:     d.CibaGrants,
		requests:  d.BackchannelRequests,
		users:     d.Users,
		registrar: d.Registrar,
		tx:        d.Transactor,
		mint: &minter{
			access:  d.AccessGenerate,
			refresh: d.RefreshGenerate,
			idToken: d.IDTokenGenerate,
			newID:   func() string { return uuid.NewString() },
		},
		authorize: d.AuthorizeGenerate,
		log:       d.Logger.Named("manage"),
		now:       d.Now,
	}
	m := &Manager{
		engine:   e,
		services: make(map[oauth2.GrantType]TokenCreationService),
		events:   d.Events,
		metrics:  d.Metrics,
	}
	for _, s := range []TokenCreationService{
		&authorizationCodeService{e},
		&refreshTokenService{e},
		&cibaService{e},
		&passwordService{e},
		&clientCredentialsService{e},
	} {
		m.services[s.GrantType()] = s
	}
	return m
}

// CreateToken issues a token bundle for an authenticated client.
func (m *Manager) CreateToken(ctx context.Context, req *TokenRequestContext, creds models.ClientCredentials) (*models.OAuthToken, error) {
	token, err := m.createToken(ctx, req, creds)
	gt := string(req.GrantType)
	if err != nil {
		resp := errors.ResponseFor(err)
		m.metrics.TokenFailed(gt, resp.Error.Error())
		if resp.StatusCode >= 500 {
			m.log.Error("token request failed",
				zap.String("tenant_id", req.TenantID),
				zap.String("client_id", creds.ClientID),
				zap.String("grant_type", gt),
				zap.Error(err))
		} else {
			m.log.Info("token request rejected",
				zap.String("tenant_id", req.TenantID),
				zap.String("client_id", creds.ClientID),
				zap.String("grant_type", gt),
				zap.String("error", resp.Error.Error()),
				zap.String("reason", resp.Description))
		}
		m.events.Publish(ctx, event.SecurityEvent{
			Type:       event.TokenRequestFailed,
			TenantID:   req.TenantID,
			ClientID:   creds.ClientID,
			Detail:     map[string]string{"grant_type": gt, "error": resp.Error.Error()},
			OccurredAt: m.now(),
		})
		return nil, err
	}

	m.metrics.TokenIssued(gt)
	m.events.Publish(ctx, event.SecurityEvent{
		Type:       event.TokenIssued,
		TenantID:   req.TenantID,
		ClientID:   creds.ClientID,
		UserSub:    token.UserSub(),
		Detail:     map[string]string{"grant_type": gt, "token_id": token.ID},
		OccurredAt: token.AccessToken.CreatedAt,
	})
	return token, nil
}

func (m *Manager) createToken(ctx context.Context, req *TokenRequestContext, creds models.ClientCredentials) (*models.OAuthToken, error) {
	gt := req.GrantType
	svc, ok := m.services[gt]
	if !ok {
		return nil, errors.TokenBadRequest(errors.ErrUnsupportedGrantType, fmt.Sprintf("grant_type %q is not supported", gt))
	}
	if !req.Server.SupportsGrantType(gt) {
		return nil, errors.TokenBadRequest(errors.ErrUnsupportedGrantType, fmt.Sprintf("grant_type %q is not enabled for this tenant", gt))
	}
	if !req.Client.SupportsGrantType(gt) {
		return nil, errors.TokenBadRequest(errors.ErrUnauthorizedClient, fmt.Sprintf("client is not allowed to use grant_type %q", gt))
	}
	if creds.ClientID != req.Client.ClientID {
		return nil, errors.ClientUnauthorized(creds.ClientID, "client credentials do not match the client configuration", nil)
	}
	return svc.Create(ctx, req, creds)
}

// consumed maps the failure to delete a single-use record. A record that is
// already gone means another request consumed it first.
func consumed(err error, description string) error {
	if stderrors.Is(err, errors.ErrNotFound) {
		return errors.InvalidGrant("%s", description)
	}
	return err
}

// notFound maps a store miss to invalid_grant and wraps anything else.
func notFound(err error, description, op string) error {
	if stderrors.Is(err, errors.ErrNotFound) {
		return errors.InvalidGrant("%s", description)
	}
	return fmt.Errorf("%s: %w", op, err)
}
