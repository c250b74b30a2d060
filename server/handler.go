package server

import (
	"crypto/x509"
	"net/http"
	"net/url"
	"strconv"

	"github.com/legit-games/oauth2/clientauth"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/utils/certificate"
)

// FormValue returns the first value of key from the request body or query.
func FormValue(r *http.Request, key string) string {
	return r.FormValue(key)
}

// ClientInfo collects the client authentication material of r. The TLS
// client certificate comes from the connection or, behind a TLS
// terminating proxy, from certHeader.
func ClientInfo(r *http.Request, tenantID, certHeader string) (clientauth.Input, error) {
	in := clientauth.Input{
		TenantID:            tenantID,
		ClientID:            FormValue(r, "client_id"),
		ClientSecret:        FormValue(r, "client_secret"),
		ClientAssertion:     FormValue(r, "client_assertion"),
		ClientAssertionType: FormValue(r, "client_assertion_type"),
	}
	if username, password, ok := r.BasicAuth(); ok {
		// RFC 6749 2.3.1: credentials are form-urlencoded before base64.
		if v, err := url.QueryUnescape(username); err == nil {
			username = v
		}
		if v, err := url.QueryUnescape(password); err == nil {
			password = v
		}
		in.HasBasic = true
		in.BasicClientID = username
		in.BasicClientSecret = password
	}
	cert, err := clientCertificate(r, certHeader)
	if err != nil {
		return in, err
	}
	in.Certificate = cert
	return in, nil
}

func clientCertificate(r *http.Request, certHeader string) (*x509.Certificate, error) {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		return r.TLS.PeerCertificates[0], nil
	}
	if certHeader == "" {
		return nil, nil
	}
	v := r.Header.Get(certHeader)
	if v == "" {
		return nil, nil
	}
	return certificate.Parse(v)
}

// scopeValue parses the space separated scope parameter.
func scopeValue(r *http.Request) models.Scopes {
	return models.ParseScopes(FormValue(r, "scope"))
}

func intValue(r *http.Request, key string) (int, bool) {
	v := FormValue(r, key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
