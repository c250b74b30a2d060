package server

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/manage"
	"github.com/legit-games/oauth2/models"
)

// BackchannelDecisionRequest is the end-user decision reported by the
// authentication device.
type BackchannelDecisionRequest struct {
	Methods      []string `json:"amr"`
	ACR          string   `json:"acr"`
	AuthTime     int64    `json:"auth_time"`
	DeniedScopes []string `json:"denied_scopes"`
}

// BackchannelStatusResponse describes a backchannel request to the
// authentication device.
type BackchannelStatusResponse struct {
	RequestID string    `json:"request_id"`
	ClientID  string    `json:"client_id"`
	Sub       string    `json:"sub"`
	Scope     string    `json:"scope"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DirectAuthorizeRequest asks for an authorization code on behalf of an
// end-user the login frontend already authenticated.
type DirectAuthorizeRequest struct {
	ClientID            string              `json:"client_id" binding:"required"`
	Sub                 string              `json:"sub" binding:"required"`
	Scope               string              `json:"scope"`
	RedirectURI         string              `json:"redirect_uri" binding:"required"`
	CodeChallenge       string              `json:"code_challenge"`
	CodeChallengeMethod string              `json:"code_challenge_method"`
	Nonce               string              `json:"nonce"`
	Methods             []string            `json:"amr"`
	ACR                 string              `json:"acr"`
	IDTokenClaims       []string            `json:"id_token_claims"`
	UserinfoClaims      []string            `json:"userinfo_claims"`
	ConsentClaims       map[string][]string `json:"consent_claims"`
	CustomProperties    map[string]any      `json:"custom_properties"`
}

// DirectAuthorizeResponse carries the issued authorization code.
type DirectAuthorizeResponse struct {
	Code      string `json:"code"`
	ExpiresIn int64  `json:"expires_in"`
}

func (s *Server) jsonError(c *gin.Context, err error) {
	data, status, header := s.GetErrorData(err)
	for k := range header {
		c.Header(k, header.Get(k))
	}
	c.AbortWithStatusJSON(status, data)
}

// HandleGetBackchannelGin returns the state of a backchannel request.
// GET /:tenant/internal/backchannel/:id
func (s *Server) HandleGetBackchannelGin(c *gin.Context) {
	g, err := s.backchannel.Get(c.Request.Context(), c.Param("tenant"), c.Param("id"))
	if stderrors.Is(err, errors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "backchannel authentication request is not found",
		})
		return
	}
	if err != nil {
		s.jsonError(c, err)
		return
	}
	status := string(g.Status)
	if g.IsPending() && g.IsExpired(time.Now()) {
		status = "expired"
	}
	c.JSON(http.StatusOK, BackchannelStatusResponse{
		RequestID: g.BackchannelAuthenticationRequestID,
		ClientID:  g.Grant.RequestedClientID,
		Sub:       g.Grant.User.Sub,
		Scope:     g.Grant.Scopes.String(),
		Status:    status,
		ExpiresAt: g.ExpiresAt,
	})
}

// HandleAuthorizeBackchannelGin records the end-user approval.
// POST /:tenant/internal/backchannel/:id/authorize
func (s *Server) HandleAuthorizeBackchannelGin(c *gin.Context) {
	var req BackchannelDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.jsonError(c, errors.InvalidRequest("malformed body: %v", err))
		return
	}
	authn := models.Authentication{Methods: req.Methods, ACR: req.ACR}
	if req.AuthTime > 0 {
		authn.Time = time.Unix(req.AuthTime, 0).UTC()
	}
	err := s.backchannel.Authorize(c.Request.Context(), c.Param("tenant"), c.Param("id"), authn, models.Scopes(req.DeniedScopes))
	if err != nil {
		s.jsonError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleDenyBackchannelGin records the end-user refusal.
// POST /:tenant/internal/backchannel/:id/deny
func (s *Server) HandleDenyBackchannelGin(c *gin.Context) {
	if err := s.backchannel.Deny(c.Request.Context(), c.Param("tenant"), c.Param("id")); err != nil {
		s.jsonError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleDirectAuthorizeGin issues an authorization code.
// POST /:tenant/internal/authorizations
func (s *Server) HandleDirectAuthorizeGin(c *gin.Context) {
	var req DirectAuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.jsonError(c, errors.InvalidRequest("malformed body: %v", err))
		return
	}
	ctx := c.Request.Context()
	tenantID := c.Param("tenant")

	server, err := s.configs.Server(ctx, tenantID)
	if err != nil {
		s.jsonError(c, notFoundAs(err, errors.InvalidRequest("unknown tenant")))
		return
	}
	client, err := s.configs.Client(ctx, tenantID, req.ClientID)
	if err != nil {
		s.jsonError(c, notFoundAs(err, errors.InvalidRequest("unknown client")))
		return
	}
	user, err := s.users.FindBySub(ctx, tenantID, req.Sub)
	if err != nil {
		s.jsonError(c, err)
		return
	}

	code, err := s.manager.Authorize(ctx, &manage.AuthorizeRequest{
		TenantID:            tenantID,
		Server:              server,
		Client:              client,
		User:                user,
		Authentication:      models.Authentication{Time: time.Now(), Methods: req.Methods, ACR: req.ACR},
		Scopes:              models.ParseScopes(req.Scope),
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: oauth2.CodeChallengeMethod(req.CodeChallengeMethod),
		Nonce:               req.Nonce,
		IDTokenClaims:       req.IDTokenClaims,
		UserinfoClaims:      req.UserinfoClaims,
		ConsentClaims:       req.ConsentClaims,
		CustomProperties:    req.CustomProperties,
	})
	if err != nil {
		s.jsonError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DirectAuthorizeResponse{
		Code:      code.Code,
		ExpiresIn: int64(code.ExpiresAt.Sub(code.CreatedAt) / time.Second),
	})
}

// HandleRevokeUserClientTokensGin revokes every token of a user and client.
// DELETE /:tenant/internal/users/:sub/clients/:client_id/tokens
func (s *Server) HandleRevokeUserClientTokensGin(c *gin.Context) {
	n, err := s.manager.RevokeByUserAndClient(c.Request.Context(), c.Param("tenant"), c.Param("sub"), c.Param("client_id"))
	if err != nil {
		s.jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func notFoundAs(err, replacement error) error {
	if stderrors.Is(err, errors.ErrNotFound) {
		return replacement
	}
	return err
}
