// Package ciba drives the Client Initiated Backchannel Authentication state
// machine: a request creates a pending grant, the end-user decision moves it
// to authorized or access_denied exactly once, and the token endpoint
// redeems authorized grants.
package ciba

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/event"
	"github.com/legit-games/oauth2/generates"
	"github.com/legit-games/oauth2/metrics"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/notify"
	"github.com/legit-games/oauth2/verifier"
)

// GrantStore persists CIBA grants.
type GrantStore interface {
	Register(ctx context.Context, g models.CibaGrant) error
	Find(ctx context.Context, tenantID, requestID string) (models.CibaGrant, error)
	Transition(ctx context.Context, g models.CibaGrant, from models.CibaGrantStatus) error
}

// RequestStore keeps accepted backchannel requests until they expire or are consumed.
type RequestStore interface {
	Save(ctx context.Context, req models.BackchannelAuthenticationRequest, expiresAt time.Time) error
	Find(ctx context.Context, tenantID, id string) (models.BackchannelAuthenticationRequest, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// UserLookup resolves the end-user named by a request hint. A miss is the
// zero User, not an error.
type UserLookup interface {
	FindBySub(ctx context.Context, tenantID, sub string) (models.User, error)
	FindByLoginHint(ctx context.Context, tenantID, hint string) (models.User, error)
}

// ConfigurationLookup loads tenant and client registrations for client
// notifications.
type ConfigurationLookup interface {
	Server(ctx context.Context, tenantID string) (models.ServerConfiguration, error)
	Client(ctx context.Context, tenantID, clientID string) (models.ClientConfiguration, error)
}

// Notifier delivers ping callbacks.
type Notifier interface {
	Ping(ctx context.Context, endpoint, notificationToken, authReqID string) error
}

// Pusher delivers tokens or errors to push mode clients.
type Pusher interface {
	Push(ctx context.Context, endpoint, notificationToken string, result notify.PushResult) error
}

// TokenIssuer redeems an authorized grant on behalf of a push mode client.
type TokenIssuer interface {
	RedeemBackchannelGrant(ctx context.Context, server models.ServerConfiguration, client models.ClientConfiguration, authReqID string) (*models.OAuthToken, error)
}

// GrantRegistrar consolidates authorized grants into the consent record.
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

// Dependencies are the collaborators of a Service. Configs, Notifier,
// Pusher, Tokens, Transactor, Events and Now are optional. Push delivery is
// accepted only when Configs, Pusher and Tokens are all set.
type Dependencies struct {
	Grants     GrantStore
	Requests   RequestStore
	Users      UserLookup
	Configs    ConfigurationLookup
	Registrar  GrantRegistrar
	Transactor Transactor
	Notifier   Notifier
	Pusher     Pusher
	Tokens     TokenIssuer
	Events     event.Publisher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// Service implements the backchannel authentication endpoint and the
// end-user decision operations.
type Service struct {
	grants    GrantStore
	requests  RequestStore
	users     UserLookup
	configs   ConfigurationLookup
	registrar GrantRegistrar
	tx        Transactor
	notifier  Notifier
	pusher    Pusher
	tokens    TokenIssuer
	events    event.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
	newID     func() string

	deliveries sync.WaitGroup
}

// NewService builds the CIBA service.
func NewService(d Dependencies) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Transactor == nil {
		d.Transactor = directTransactor{}
	}
	if d.Events == nil {
		d.Events = event.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		grants:    d.Grants,
		requests:  d.Requests,
		users:     d.Users,
		configs:   d.Configs,
		registrar: d.Registrar,
		tx:        d.Transactor,
		notifier:  d.Notifier,
		pusher:    d.Pusher,
		tokens:    d.Tokens,
		events:    d.Events,
		metrics:   d.Metrics,
		log:       d.Logger.Named("ciba"),
		now:       d.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// RequestContext is an authenticated backchannel authentication request.
type RequestContext struct {
	TenantID                string
	Server                  models.ServerConfiguration
	Client                  models.ClientConfiguration
	Credentials             models.ClientCredentials
	Scopes                  models.Scopes
	LoginHint               string
	LoginHintToken          string
	IDTokenHint             string
	BindingMessage          string
	UserCode                string
	ACRValues               string
	ClientNotificationToken string
	// RequestedExpiry is in seconds; zero means the tenant default.
	RequestedExpiry int
}

// Response is the body of a successful backchannel authentication response.
type Response struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int64  `json:"expires_in"`
	Interval  int64  `json:"interval,omitempty"`
}

// Request accepts a backchannel authentication request and creates its
// pending grant.
func (s *Service) Request(ctx context.Context, rc *RequestContext) (*Response, error) {
	if !rc.Server.SupportsGrantType(oauth2.CIBA) || !rc.Client.SupportsGrantType(oauth2.CIBA) {
		return nil, errors.TokenBadRequest(errors.ErrUnauthorizedClient, "client is not allowed to use backchannel authentication")
	}
	if rc.Credentials.ClientID != rc.Client.ClientID {
		return nil, errors.ClientUnauthorized(rc.Credentials.ClientID, "client credentials do not match the client configuration", nil)
	}
	hint, hintType, err := rc.userHint()
	if err != nil {
		return nil, err
	}
	scopes := verifier.ValidScopes(rc.Server, rc.Client, rc.Scopes)
	if !scopes.HasOpenID() {
		return nil, errors.InvalidScope("backchannel authentication requires the openid scope")
	}
	mode, err := s.deliveryMode(rc)
	if err != nil {
		return nil, err
	}
	if rc.RequestedExpiry < 0 {
		return nil, errors.InvalidRequest("requested_expiry must be a positive integer")
	}
	if utf8.RuneCountInString(rc.BindingMessage) > rc.Server.BackchannelBindingMessageMaxLen {
		return nil, errors.TokenBadRequest(errors.ErrInvalidBindingMessage,
			fmt.Sprintf("binding_message exceeds %d characters", rc.Server.BackchannelBindingMessageMaxLen))
	}

	user, err := s.resolveUser(ctx, rc, hint, hintType)
	if err != nil {
		return nil, err
	}
	if !user.Exists() {
		return nil, errors.TokenBadRequest(errors.ErrUnknownUserID, "the user hint does not identify a user")
	}
	if !user.IsActive() {
		return nil, errors.TokenBadRequest(errors.ErrAccessDenied, "user is not active")
	}

	now := s.now().UTC().Truncate(time.Second)
	expiry := rc.Server.BackchannelRequestExpiry
	if rc.RequestedExpiry > 0 {
		expiry = time.Duration(rc.RequestedExpiry) * time.Second
	}
	req := models.BackchannelAuthenticationRequest{
		ID:                      s.newID(),
		TenantID:                rc.TenantID,
		RequestedClientID:       rc.Client.ClientID,
		Scopes:                  scopes,
		BindingMessage:          rc.BindingMessage,
		UserHint:                hint,
		UserHintType:            hintType,
		UserCode:                rc.UserCode,
		ACRValues:               rc.ACRValues,
		DeliveryMode:            mode,
		ClientNotificationToken: rc.ClientNotificationToken,
		RequestedExpiry:         rc.RequestedExpiry,
		CreatedAt:               now,
	}
	g := models.CibaGrant{
		TenantID:                           rc.TenantID,
		BackchannelAuthenticationRequestID: req.ID,
		AuthReqID:                          s.newID(),
		Status:                             models.CibaAuthorizationPending,
		Grant: models.AuthorizationGrant{
			TenantID:          rc.TenantID,
			User:              user,
			RequestedClientID: rc.Client.ClientID,
			GrantType:         oauth2.CIBA,
			Scopes:            scopes,
		},
		Interval:  rc.Server.BackchannelPollingInterval,
		ExpiresAt: now.Add(expiry),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.requests.Save(ctx, req, g.ExpiresAt); err != nil {
		return nil, fmt.Errorf("save backchannel request: %w", err)
	}
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.grants.Register(ctx, g)
	})
	if err != nil {
		s.discardRequest(ctx, rc.TenantID, req.ID)
		return nil, fmt.Errorf("register ciba grant: %w", err)
	}

	s.metrics.CibaTransition(string(g.Status))
	s.log.Info("backchannel authentication requested",
		zap.String("tenant_id", rc.TenantID),
		zap.String("client_id", rc.Client.ClientID),
		zap.String("request_id", req.ID),
		zap.String("delivery_mode", mode.String()))
	s.events.Publish(ctx, event.SecurityEvent{
		Type:       event.BackchannelRequested,
		TenantID:   rc.TenantID,
		ClientID:   rc.Client.ClientID,
		UserSub:    user.Sub,
		Detail:     map[string]string{"request_id": req.ID, "delivery_mode": mode.String()},
		OccurredAt: now,
	})

	resp := &Response{AuthReqID: g.AuthReqID, ExpiresIn: int64(expiry / time.Second)}
	if mode == oauth2.DeliveryPoll {
		resp.Interval = int64(g.Interval / time.Second)
	}
	return resp, nil
}

func (rc *RequestContext) userHint() (string, models.UserHintType, error) {
	var (
		n        int
		hint     string
		hintType models.UserHintType
	)
	for _, h := range []struct {
		value string
		kind  models.UserHintType
	}{
		{rc.LoginHint, models.LoginHint},
		{rc.IDTokenHint, models.IDTokenHint},
		{rc.LoginHintToken, models.LoginHintToken},
	} {
		if h.value != "" {
			n++
			hint, hintType = h.value, h.kind
		}
	}
	switch {
	case n == 0:
		return "", "", errors.InvalidRequest("one of login_hint, id_token_hint or login_hint_token is required")
	case n > 1:
		return "", "", errors.InvalidRequest("only one of login_hint, id_token_hint or login_hint_token may be sent")
	case hintType == models.LoginHintToken:
		return "", "", errors.InvalidRequest("login_hint_token is not supported")
	}
	return hint, hintType, nil
}

func (s *Service) deliveryMode(rc *RequestContext) (oauth2.DeliveryMode, error) {
	mode := rc.Client.BackchannelTokenDeliveryMode
	if mode == "" {
		mode = oauth2.DeliveryPoll
	}
	switch mode {
	case oauth2.DeliveryPoll:
		return mode, nil
	case oauth2.DeliveryPing, oauth2.DeliveryPush:
		if mode == oauth2.DeliveryPush && !s.pushEnabled() {
			return "", errors.InvalidRequest("backchannel token delivery mode push is not enabled")
		}
		if rc.ClientNotificationToken == "" {
			return "", errors.InvalidRequest("client_notification_token is required for %s delivery", mode)
		}
		if rc.Client.BackchannelClientNotificationEndpoint == "" {
			return "", errors.InvalidRequest("client has no backchannel_client_notification_endpoint")
		}
		return mode, nil
	}
	return "", errors.InvalidRequest("backchannel token delivery mode %q is not supported", mode)
}

func (s *Service) pushEnabled() bool {
	return s.configs != nil && s.pusher != nil && s.tokens != nil
}

func (s *Service) resolveUser(ctx context.Context, rc *RequestContext, hint string, hintType models.UserHintType) (models.User, error) {
	if hintType == models.IDTokenHint {
		sub, err := idTokenSubject(rc.Server, hint)
		if err != nil {
			return models.User{}, err
		}
		user, err := s.users.FindBySub(ctx, rc.TenantID, sub)
		if err != nil {
			return models.User{}, fmt.Errorf("find user: %w", err)
		}
		return user, nil
	}
	user, err := s.users.FindByLoginHint(ctx, rc.TenantID, hint)
	if err != nil {
		return models.User{}, fmt.Errorf("find user by login hint: %w", err)
	}
	return user, nil
}

// idTokenSubject returns the subject of an ID token previously issued by the
// tenant. An expired hint is still accepted.
func idTokenSubject(server models.ServerConfiguration, hint string) (string, error) {
	key, err := generates.PublicSigningKey(server.SigningKey)
	if err != nil {
		return "", fmt.Errorf("tenant signing key: %w", err)
	}
	var claims generates.IDTokenClaims
	_, err = jwt.ParseWithClaims(hint, &claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{server.SigningKey.Algorithm}), jwt.WithoutClaimsValidation())
	if err != nil {
		return "", errors.InvalidRequest("id_token_hint is invalid")
	}
	if claims.Issuer != server.Issuer || claims.Subject == "" {
		return "", errors.InvalidRequest("id_token_hint was not issued by this tenant")
	}
	return claims.Subject, nil
}

// Authorize records the end-user approval of a pending request. Denied
// scopes are removed from the grant.
func (s *Service) Authorize(ctx context.Context, tenantID, requestID string, authn models.Authentication, deniedScopes models.Scopes) error {
	g, err := s.pending(ctx, tenantID, requestID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if !authn.Exists() {
		authn.Time = now
	}
	next := g.Authorize(authn, deniedScopes, now)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.grants.Transition(ctx, next, models.CibaAuthorizationPending); err != nil {
			return stale(err)
		}
		if _, err := s.registrar.RegisterOrUpdate(ctx, tenantID, next.Grant); err != nil {
			return fmt.Errorf("consolidate grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.CibaTransition(string(next.Status))
	s.notify(ctx, next)
	s.log.Info("backchannel authentication authorized",
		zap.String("tenant_id", tenantID),
		zap.String("request_id", requestID),
		zap.String("client_id", next.Grant.RequestedClientID))
	s.events.Publish(ctx, event.SecurityEvent{
		Type:       event.BackchannelAuthorized,
		TenantID:   tenantID,
		ClientID:   next.Grant.RequestedClientID,
		UserSub:    next.Grant.User.Sub,
		Detail:     map[string]string{"request_id": requestID, "scope": next.Grant.Scopes.String()},
		OccurredAt: now,
	})
	return nil
}

// Deny records the end-user refusal of a pending request and drops the
// request record.
func (s *Service) Deny(ctx context.Context, tenantID, requestID string) error {
	g, err := s.pending(ctx, tenantID, requestID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	next := g.Deny(now)
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return stale(s.grants.Transition(ctx, next, models.CibaAuthorizationPending))
	})
	if err != nil {
		return err
	}

	s.metrics.CibaTransition(string(next.Status))
	s.notify(ctx, next)
	s.discardRequest(ctx, tenantID, requestID)
	s.log.Info("backchannel authentication denied",
		zap.String("tenant_id", tenantID),
		zap.String("request_id", requestID),
		zap.String("client_id", next.Grant.RequestedClientID))
	s.events.Publish(ctx, event.SecurityEvent{
		Type:       event.BackchannelDenied,
		TenantID:   tenantID,
		ClientID:   next.Grant.RequestedClientID,
		UserSub:    next.Grant.User.Sub,
		Detail:     map[string]string{"request_id": requestID},
		OccurredAt: now,
	})
	return nil
}

// Get returns the grant of a backchannel request.
func (s *Service) Get(ctx context.Context, tenantID, requestID string) (models.CibaGrant, error) {
	g, err := s.grants.Find(ctx, tenantID, requestID)
	if err != nil {
		return models.CibaGrant{}, err
	}
	return g, nil
}

func (s *Service) pending(ctx context.Context, tenantID, requestID string) (models.CibaGrant, error) {
	g, err := s.grants.Find(ctx, tenantID, requestID)
	if stderrors.Is(err, errors.ErrNotFound) {
		return models.CibaGrant{}, errors.InvalidGrant("backchannel authentication request is not found")
	}
	if err != nil {
		return models.CibaGrant{}, fmt.Errorf("find ciba grant: %w", err)
	}
	if g.IsExpired(s.now()) {
		return models.CibaGrant{}, errors.InvalidGrant("backchannel authentication request is expired")
	}
	if !g.IsPending() {
		return models.CibaGrant{}, errors.InvalidGrant("backchannel authentication request was already %s", g.Status)
	}
	return g, nil
}

func stale(err error) error {
	if stderrors.Is(err, errors.ErrStaleState) {
		return errors.InvalidGrant("backchannel authentication request was already decided")
	}
	return err
}

// notification is a callback owed to a ping or push client after a decision.
type notification struct {
	grant  models.CibaGrant
	req    models.BackchannelAuthenticationRequest
	server models.ServerConfiguration
	client models.ClientConfiguration
}

// notify loads what the client callback needs while the request record still
// exists, then delivers it off the request path. Failures are logged and
// never undo the decision.
func (s *Service) notify(ctx context.Context, g models.CibaGrant) {
	if s.configs == nil || (s.notifier == nil && s.pusher == nil) {
		return
	}
	log := s.log.With(
		zap.String("tenant_id", g.TenantID),
		zap.String("request_id", g.BackchannelAuthenticationRequestID))
	req, err := s.requests.Find(ctx, g.TenantID, g.BackchannelAuthenticationRequestID)
	if err != nil {
		log.Warn("load backchannel request for notification", zap.Error(err))
		return
	}
	if req.DeliveryMode == oauth2.DeliveryPoll {
		return
	}
	n := notification{grant: g, req: req}
	if n.server, err = s.configs.Server(ctx, g.TenantID); err != nil {
		log.Warn("load tenant for notification", zap.Error(err))
		return
	}
	if n.client, err = s.configs.Client(ctx, g.TenantID, req.RequestedClientID); err != nil {
		log.Warn("load client for notification", zap.Error(err))
		return
	}

	ctx = context.WithoutCancel(ctx)
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		if err := s.deliver(ctx, n); err != nil {
			log.Warn("client notification failed",
				zap.String("delivery_mode", req.DeliveryMode.String()),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every client notification already started has finished.
func (s *Service) Wait() {
	s.deliveries.Wait()
}

func (s *Service) deliver(ctx context.Context, n notification) error {
	endpoint := n.client.BackchannelClientNotificationEndpoint
	switch n.req.DeliveryMode {
	case oauth2.DeliveryPing:
		if s.notifier == nil {
			return nil
		}
		return s.notifier.Ping(ctx, endpoint, n.req.ClientNotificationToken, n.grant.AuthReqID)
	case oauth2.DeliveryPush:
		if !s.pushEnabled() {
			return nil
		}
		return s.pusher.Push(ctx, endpoint, n.req.ClientNotificationToken, s.pushResult(ctx, n))
	}
	return nil
}

// pushResult redeems an authorized grant, or reports the denial.
func (s *Service) pushResult(ctx context.Context, n notification) notify.PushResult {
	id := n.grant.AuthReqID
	if !n.grant.IsAuthorized() {
		return notify.ErrorResult(id, errors.ErrAccessDenied.Error(), "the end-user denied the authorization request")
	}
	token, err := s.tokens.RedeemBackchannelGrant(ctx, n.server, n.client, id)
	if err != nil {
		resp := errors.ResponseFor(err)
		s.log.Warn("redeem grant for push delivery",
			zap.String("tenant_id", n.grant.TenantID),
			zap.String("request_id", n.grant.BackchannelAuthenticationRequestID),
			zap.Error(err))
		return notify.ErrorResult(id, resp.Error.Error(), resp.Description)
	}
	return notify.TokenResult(id, token)
}

func (s *Service) discardRequest(ctx context.Context, tenantID, requestID string) {
	err := s.requests.Delete(ctx, tenantID, requestID)
	if err != nil && !stderrors.Is(err, errors.ErrNotFound) {
		s.log.Warn("delete backchannel request",
			zap.String("tenant_id", tenantID),
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
