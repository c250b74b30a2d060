package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewGinEngine builds a Gin router and registers the endpoints of every
// tenant under /:tenant.
func NewGinEngine(s *Server) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log))
	r.Use(parseFormMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	t := r.Group("/:tenant")
	t.POST("/oauth/token", tenantFrom(s.HandleTokenRequest))
	t.POST("/oauth/revoke", tenantFrom(s.HandleRevocationRequest))
	t.POST("/backchannel/authentications", tenantFrom(s.HandleBackchannelAuthenticationRequest))
	t.GET("/.well-known/openid-configuration", tenantFrom(s.HandleOIDCDiscovery))
	t.GET("/.well-known/jwks.json", tenantFrom(s.HandleOIDCJWKS))

	// Operator routes for the authentication device and the login frontend.
	if s.http.InternalToken != "" {
		internal := t.Group("/internal")
		internal.Use(s.InternalTokenMiddleware())
		internal.GET("/backchannel/:id", s.HandleGetBackchannelGin)
		internal.POST("/backchannel/:id/authorize", s.HandleAuthorizeBackchannelGin)
		internal.POST("/backchannel/:id/deny", s.HandleDenyBackchannelGin)
		internal.POST("/authorizations", s.HandleDirectAuthorizeGin)
		internal.DELETE("/users/:sub/clients/:client_id/tokens", s.HandleRevokeUserClientTokensGin)
	}
	return r
}

// tenantFrom adapts handlers taking the tenant path parameter to a Gin handler.
func tenantFrom(h func(http.ResponseWriter, *http.Request, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		_ = h(c.Writer, c.Request, c.Param("tenant"))
		c.Abort()
	}
}

// parseFormMiddleware parses urlencoded and multipart bodies up front so
// handlers see a populated r.PostForm.
func parseFormMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.ContentType() {
		case gin.MIMEPOSTForm, gin.MIMEMultipartPOSTForm:
			_ = c.Request.ParseForm()
		}
		c.Next()
	}
}

// InternalTokenMiddleware accepts only requests bearing the configured internal token.
func (s *Server) InternalTokenMiddleware() gin.HandlerFunc {
	want := []byte(s.http.InternalToken)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "missing or invalid internal token",
			})
			return
		}
		c.Next()
	}
}
