// Package clientauth authenticates OAuth2 clients at the token and
// backchannel authentication endpoints.
package clientauth

import (
	"context"
	"crypto/x509"
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/metrics"
	"github.com/legit-games/oauth2/models"
	"go.uber.org/zap"
)

// ConfigurationLookup resolves tenant and client configuration.
type ConfigurationLookup interface {
	Server(ctx context.Context, tenantID string) (models.ServerConfiguration, error)
	Client(ctx context.Context, tenantID, clientID string) (models.ClientConfiguration, error)
}

// ReplayStore remembers client assertion identifiers until they expire.
type ReplayStore interface {
	// MarkUsed records jti and reports false when it was already recorded.
	MarkUsed(ctx context.Context, tenantID, clientID, jti string, expiresAt time.Time) (bool, error)
}

// Input is the raw client authentication material of one request.
type Input struct {
	TenantID            string
	ClientID            string
	ClientSecret        string
	BasicClientID       string
	BasicClientSecret   string
	HasBasic            bool
	ClientAssertion     string
	ClientAssertionType string
	Certificate         *x509.Certificate
}

// Request is the input together with the stored configuration it is checked against.
type Request struct {
	Input
	Server models.ServerConfiguration
	Client models.ClientConfiguration
}

// Authenticator is one client authentication method.
type Authenticator interface {
	Method() oauth2.ClientAuthenticationType
	Authenticate(ctx context.Context, req *Request) (models.ClientCredentials, error)
}

// Result is a successful authentication and the configuration it used.
type Result struct {
	Credentials models.ClientCredentials
	Server      models.ServerConfiguration
	Client      models.ClientConfiguration
}

// Registry dispatches to the authenticator registered for the client.
type Registry struct {
	configs        ConfigurationLookup
	authenticators map[oauth2.ClientAuthenticationType]Authenticator
	metrics        *metrics.Metrics
	log            *zap.Logger
}

// NewRegistry builds the registry with every supported method.
func NewRegistry(configs ConfigurationLookup, replay ReplayStore, log *zap.Logger, m *metrics.Metrics) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	now := time.Now
	r := &Registry{
		configs:        configs,
		authenticators: make(map[oauth2.ClientAuthenticationType]Authenticator),
		metrics:        m,
		log:            log.Named("clientauth"),
	}
	for _, a := range []Authenticator{
		&secretBasic{},
		&secretPost{},
		&public{},
		newClientSecretJWT(replay, now),
		newPrivateKeyJWT(replay, now),
		&tlsClientAuth{},
		&selfSignedTLSClientAuth{},
	} {
		r.authenticators[a.Method()] = a
	}
	return r
}

// Authenticate resolves the client named by in and verifies it with the
// method the client registered.
func (r *Registry) Authenticate(ctx context.Context, in Input) (*Result, error) {
	server, err := r.configs.Server(ctx, in.TenantID)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return nil, errors.InvalidRequest("unknown tenant")
		}
		return nil, err
	}

	clientID, err := resolveClientID(in)
	if err != nil {
		r.failed(in.TenantID, clientID, "", err)
		return nil, err
	}
	client, err := r.configs.Client(ctx, in.TenantID, clientID)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			err = errors.ClientUnauthorized(clientID, "client is not registered", nil)
			r.failed(in.TenantID, clientID, "", err)
		}
		return nil, err
	}

	method := client.TokenEndpointAuthMethod
	if method == "" {
		method = oauth2.ClientSecretBasic
	}
	a, ok := r.authenticators[method]
	if !ok {
		err := errors.ClientUnauthorized(clientID, "unsupported token_endpoint_auth_method", nil)
		r.failed(in.TenantID, clientID, method, err)
		return nil, err
	}

	in.ClientID = clientID
	creds, err := a.Authenticate(ctx, &Request{Input: in, Server: server, Client: client})
	if err != nil {
		r.failed(in.TenantID, clientID, method, err)
		return nil, err
	}
	creds.ClientID = clientID
	creds.Method = method

	r.metrics.ClientAuthenticated(method.String(), true)
	r.log.Info("client authenticated",
		zap.String("tenant_id", in.TenantID),
		zap.String("client_id", clientID),
		zap.String("method", method.String()),
	)
	return &Result{Credentials: creds, Server: server, Client: client}, nil
}

func (r *Registry) failed(tenantID, clientID string, method oauth2.ClientAuthenticationType, err error) {
	r.metrics.ClientAuthenticated(method.String(), false)
	reason := "client authentication failed"
	var cu *errors.ClientUnauthorizedError
	if stderrors.As(err, &cu) {
		reason = cu.Reason
		if cu.Cause != nil {
			r.log.Debug("client authentication cause",
				zap.String("client_id", clientID), zap.Error(cu.Cause))
		}
	}
	r.log.Warn("client authentication failed",
		zap.String("tenant_id", tenantID),
		zap.String("client_id", clientID),
		zap.String("method", method.String()),
		zap.String("reason", reason),
	)
}

// resolveClientID picks the client identifier from the Basic header, the
// client_id parameter or the assertion subject, rejecting mixed methods.
func resolveClientID(in Input) (string, error) {
	presented := 0
	if in.HasBasic {
		presented++
	}
	if in.ClientSecret != "" {
		presented++
	}
	if in.ClientAssertion != "" {
		presented++
	}
	if presented > 1 {
		return in.ClientID, errors.ClientUnauthorized(in.ClientID, "multiple client authentication methods used", nil)
	}

	id := in.ClientID
	if in.HasBasic {
		if id != "" && id != in.BasicClientID {
			return id, errors.ClientUnauthorized(id, "client_id does not match the authorization header", nil)
		}
		id = in.BasicClientID
	}
	if id == "" && in.ClientAssertion != "" {
		claims := jwt.RegisteredClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(in.ClientAssertion, &claims); err != nil {
			return "", errors.ClientUnauthorized("", "client_assertion is malformed", err)
		}
		id = claims.Subject
		if id == "" {
			id = claims.Issuer
		}
	}
	if id == "" {
		return "", errors.ClientUnauthorized("", "client_id is required", nil)
	}
	return id, nil
}
