package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/generates"
	"github.com/legit-games/oauth2/jwks"
)

var tokenEndpointAuthMethods = []oauth2.ClientAuthenticationType{
	oauth2.ClientSecretBasic,
	oauth2.ClientSecretPost,
	oauth2.ClientSecretJWT,
	oauth2.PrivateKeyJWT,
	oauth2.TLSClientAuth,
	oauth2.SelfSignedTLSClientAuth,
	oauth2.NoClientAuth,
}

// HandleOIDCDiscovery serves the OpenID Provider Metadata of a tenant.
func (s *Server) HandleOIDCDiscovery(w http.ResponseWriter, r *http.Request, tenantID string) error {
	server, err := s.configs.Server(r.Context(), tenantID)
	if stderrors.Is(err, errors.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return nil
	}
	if err != nil {
		return s.tokenError(w, err)
	}
	issuer := server.Issuer
	meta := map[string]interface{}{
		"issuer":                                     issuer,
		"token_endpoint":                             server.TokenEndpoint,
		"jwks_uri":                                   issuer + "/.well-known/jwks.json",
		"response_types_supported":                   []string{"code"},
		"subject_types_supported":                    []string{"public"},
		"id_token_signing_alg_values_supported":      []string{server.SigningKey.Algorithm},
		"grant_types_supported":                      server.GrantTypesSupported,
		"token_endpoint_auth_methods_supported":      tokenEndpointAuthMethods,
		"code_challenge_methods_supported":           []oauth2.CodeChallengeMethod{oauth2.CodeChallengePlain, oauth2.CodeChallengeS256},
		"tls_client_certificate_bound_access_tokens": true,
	}
	if len(server.ScopesSupported) > 0 {
		meta["scopes_supported"] = server.ScopesSupported
	}
	if server.SupportsGrantType(oauth2.CIBA) {
		meta["backchannel_authentication_endpoint"] = server.BackchannelAuthenticationEndpoint
		meta["backchannel_token_delivery_modes_supported"] = []oauth2.DeliveryMode{oauth2.DeliveryPoll, oauth2.DeliveryPing}
		meta["backchannel_user_code_parameter_supported"] = false
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(meta)
}

// HandleOIDCJWKS serves the public key set of a tenant.
func (s *Server) HandleOIDCJWKS(w http.ResponseWriter, r *http.Request, tenantID string) error {
	server, err := s.configs.Server(r.Context(), tenantID)
	if stderrors.Is(err, errors.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return nil
	}
	if err != nil {
		return s.tokenError(w, err)
	}
	pub, err := generates.PublicSigningKey(server.SigningKey)
	if err != nil {
		return s.tokenError(w, err)
	}
	set := jwks.Public(server.SigningKey.KeyID, server.SigningKey.Algorithm, pub)
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(set)
}
