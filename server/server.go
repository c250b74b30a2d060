// Package server is the HTTP adapter of the token engine: it extracts
// client credentials and parameters, calls the engine and renders OAuth2
// responses and error bodies.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/ciba"
	"github.com/legit-games/oauth2/clientauth"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/models"
)

// ConfigurationLookup resolves tenant and client configuration.
type ConfigurationLookup interface {
	Server(ctx context.Context, tenantID string) (models.ServerConfiguration, error)
	Client(ctx context.Context, tenantID, clientID string) (models.ClientConfiguration, error)
}

// ClientAuthenticator authenticates the client of a request.
type ClientAuthenticator interface {
	Authenticate(ctx context.Context, in clientauth.Input) (*clientauth.Result, error)
}

// TokenManager is the grant type engine.
type TokenManager interface {
	CreateToken(ctx context.Context, req *manage.TokenRequestContext, creds models.ClientCredentials) (*models.OAuthToken, error)
	Authorize(ctx context.Context, req *manage.AuthorizeRequest) (models.AuthorizationCodeGrant, error)
	Revoke(ctx context.Context, tenantID, clientID, value, hint string) error
	RevokeByUserAndClient(ctx context.Context, tenantID, userSub, clientID string) (int64, error)
}

// Backchannel is the CIBA state machine.
type Backchannel interface {
	Request(ctx context.Context, rc *ciba.RequestContext) (*ciba.Response, error)
	Authorize(ctx context.Context, tenantID, requestID string, authn models.Authentication, deniedScopes models.Scopes) error
	Deny(ctx context.Context, tenantID, requestID string) error
	Get(ctx context.Context, tenantID, requestID string) (models.CibaGrant, error)
}

// UserLookup resolves end-users for direct authorization.
type UserLookup interface {
	FindBySub(ctx context.Context, tenantID, sub string) (models.User, error)
}

// Options are the collaborators of a Server. Gatherer, Logger and the
// HTTP settings are optional.
type Options struct {
	Configs     ConfigurationLookup
	Clients     ClientAuthenticator
	Manager     TokenManager
	Backchannel Backchannel
	Users       UserLookup
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
	HTTP        HTTPConfig
}

// Server provides the token, backchannel authentication, revocation and
// key set endpoints of every tenant.
type Server struct {
	configs     ConfigurationLookup
	clients     ClientAuthenticator
	manager     TokenManager
	backchannel Backchannel
	users       UserLookup
	gatherer    prometheus.Gatherer
	log         *zap.Logger
	http        HTTPConfig
}

// NewServer create authorization server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		configs:     opts.Configs,
		clients:     opts.Clients,
		manager:     opts.Manager,
		backchannel: opts.Backchannel,
		users:       opts.Users,
		gatherer:    opts.Gatherer,
		log:         opts.Logger.Named("server"),
		http:        opts.HTTP,
	}
}

func (s *Server) tokenError(w http.ResponseWriter, err error) error {
	data, statusCode, header := s.GetErrorData(err)
	return s.token(w, data, header, statusCode)
}

func (s *Server) token(w http.ResponseWriter, data map[string]interface{}, header http.Header, statusCode ...int) error {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	for key := range header {
		w.Header().Set(key, header.Get(key))
	}

	status := http.StatusOK
	if len(statusCode) > 0 && statusCode[0] > 0 {
		status = statusCode[0]
	}

	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// GetErrorData get error response data
func (s *Server) GetErrorData(err error) (map[string]interface{}, int, http.Header) {
	re := errors.ResponseFor(err)
	if re.StatusCode >= http.StatusInternalServerError {
		s.log.Error("internal error", zap.Error(err))
	}
	if re.Error == errors.ErrInvalidClient {
		re.SetHeader("WWW-Authenticate", `Basic realm="token"`)
	}

	data := make(map[string]interface{})
	if err := re.Error; err != nil {
		data["error"] = err.Error()
	}

	if v := re.ErrorCode; v != 0 {
		data["error_code"] = v
	}

	if v := re.Description; v != "" {
		data["error_description"] = v
	}

	if v := re.URI; v != "" {
		data["error_uri"] = v
	}

	statusCode := http.StatusInternalServerError
	if v := re.StatusCode; v > 0 {
		statusCode = v
	}

	return data, statusCode, re.Header
}

// authenticateClient runs client authentication for the request.
func (s *Server) authenticateClient(r *http.Request, tenantID string) (*clientauth.Result, error) {
	in, err := ClientInfo(r, tenantID, s.http.ClientCertHeader)
	if err != nil {
		return nil, errors.ClientUnauthorized(in.ClientID, "client certificate is malformed", err)
	}
	return s.clients.Authenticate(r.Context(), in)
}

// ValidationTokenRequest authenticates the client and reads the token request parameters.
func (s *Server) ValidationTokenRequest(r *http.Request, tenantID string) (*manage.TokenRequestContext, models.ClientCredentials, error) {
	if r.Method != http.MethodPost {
		return nil, models.ClientCredentials{}, errors.InvalidRequest("token requests must use POST")
	}
	gt := oauth2.GrantType(FormValue(r, "grant_type"))
	if gt == "" {
		return nil, models.ClientCredentials{}, errors.InvalidRequest("grant_type is required")
	}
	res, err := s.authenticateClient(r, tenantID)
	if err != nil {
		return nil, models.ClientCredentials{}, err
	}
	req := &manage.TokenRequestContext{
		TenantID:     tenantID,
		GrantType:    gt,
		Code:         FormValue(r, "code"),
		RedirectURI:  FormValue(r, "redirect_uri"),
		CodeVerifier: FormValue(r, "code_verifier"),
		RefreshToken: FormValue(r, "refresh_token"),
		Scopes:       scopeValue(r),
		Username:     FormValue(r, "username"),
		Password:     FormValue(r, "password"),
		AuthReqID:    FormValue(r, "auth_req_id"),
		Server:       res.Server,
		Client:       res.Client,
	}
	return req, res.Credentials, nil
}

// GetTokenData token data
func (s *Server) GetTokenData(token *models.OAuthToken) map[string]interface{} {
	data := map[string]interface{}{
		"access_token": token.AccessToken.Value,
		"token_type":   token.TokenType,
		"expires_in":   token.AccessToken.ExpiresIn(),
	}

	if scope := token.Scopes().String(); scope != "" {
		data["scope"] = scope
	}

	if token.RefreshToken.Exists() {
		data["refresh_token"] = token.RefreshToken.Value
	}

	if token.IDToken.Exists() {
		data["id_token"] = token.IDToken.Value
	}
	return data
}

// HandleTokenRequest token request handling
func (s *Server) HandleTokenRequest(w http.ResponseWriter, r *http.Request, tenantID string) error {
	ctx := r.Context()

	req, creds, err := s.ValidationTokenRequest(r, tenantID)
	if err != nil {
		return s.tokenError(w, err)
	}

	token, err := s.manager.CreateToken(ctx, req, creds)
	if err != nil {
		return s.tokenError(w, err)
	}

	return s.token(w, s.GetTokenData(token), nil)
}

// HandleBackchannelAuthenticationRequest accepts a CIBA request from an
// authenticated client.
func (s *Server) HandleBackchannelAuthenticationRequest(w http.ResponseWriter, r *http.Request, tenantID string) error {
	if r.Method != http.MethodPost {
		return s.tokenError(w, errors.InvalidRequest("backchannel authentication requests must use POST"))
	}
	res, err := s.authenticateClient(r, tenantID)
	if err != nil {
		return s.tokenError(w, err)
	}
	expiry, ok := intValue(r, "requested_expiry")
	if !ok {
		return s.tokenError(w, errors.InvalidRequest("requested_expiry must be an integer"))
	}
	resp, err := s.backchannel.Request(r.Context(), &ciba.RequestContext{
		TenantID:                tenantID,
		Server:                  res.Server,
		Client:                  res.Client,
		Credentials:             res.Credentials,
		Scopes:                  scopeValue(r),
		LoginHint:               FormValue(r, "login_hint"),
		LoginHintToken:          FormValue(r, "login_hint_token"),
		IDTokenHint:             FormValue(r, "id_token_hint"),
		BindingMessage:          FormValue(r, "binding_message"),
		UserCode:                FormValue(r, "user_code"),
		ACRValues:               FormValue(r, "acr_values"),
		ClientNotificationToken: FormValue(r, "client_notification_token"),
		RequestedExpiry:         expiry,
	})
	if err != nil {
		return s.tokenError(w, err)
	}

	data := map[string]interface{}{
		"auth_req_id": resp.AuthReqID,
		"expires_in":  resp.ExpiresIn,
	}
	if resp.Interval > 0 {
		data["interval"] = resp.Interval
	}
	return s.token(w, data, nil)
}

// HandleRevocationRequest implements RFC 7009 Token Revocation.
// POST with form fields: token (required), token_type_hint (optional: access_token|refresh_token).
// Successful revocation MUST return 200 OK with empty body.
func (s *Server) HandleRevocationRequest(w http.ResponseWriter, r *http.Request, tenantID string) error {
	if r.Method != http.MethodPost {
		return s.tokenError(w, errors.InvalidRequest("revocation requests must use POST"))
	}
	res, err := s.authenticateClient(r, tenantID)
	if err != nil {
		return s.tokenError(w, err)
	}
	err = s.manager.Revoke(r.Context(), tenantID, res.Credentials.ClientID,
		FormValue(r, "token"), FormValue(r, "token_type_hint"))
	if err != nil {
		return s.tokenError(w, err)
	}

	// per RFC7009, always 200 OK even if the token was invalid/unknown
	w.WriteHeader(http.StatusOK)
	return nil
}
