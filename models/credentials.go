package models

import (
	"crypto/x509"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/legit-games/oauth2"
)

// ClientCredentials is what client authentication established for one
// request. It is never persisted.
type ClientCredentials struct {
	ClientID              string
	Method                oauth2.ClientAuthenticationType
	ClientSecret          string
	PublicKey             *jose.JSONWebKey
	Assertion             string
	Certificate           *x509.Certificate
	CertificateThumbprint string
}

// IsCertificateBound reports whether a client certificate was presented.
func (c ClientCredentials) IsCertificateBound() bool { return c.Certificate != nil }
