package clientauth

import (
	"context"
	"net"

	"github.com/legit-games/oauth2"
	"github.com/legit-games/oauth2/errors"
	"github.com/legit-games/oauth2/jwks"
	"github.com/legit-games/oauth2/models"
	"github.com/legit-games/oauth2/utils/certificate"
)

// tlsClientAuth matches the presented certificate against the subject DN or
// one SAN registered for the client (RFC 8705 section 2.1).
type tlsClientAuth struct{}

func (*tlsClientAuth) Method() oauth2.ClientAuthenticationType { return oauth2.TLSClientAuth }

func (*tlsClientAuth) Authenticate(_ context.Context, req *Request) (models.ClientCredentials, error) {
	cert := req.Certificate
	if cert == nil {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "client certificate is required", nil)
	}
	client := req.Client
	if !client.HasTLSClientAuthBinding() {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "client has no certificate binding registered", nil)
	}
	if !matchesBinding(client, certificate.SubjectDN(cert), cert.DNSNames, certificate.URIs(cert), certificate.IPAddresses(cert), cert.EmailAddresses) {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "client certificate does not match the registered subject or SAN", nil)
	}
	return models.ClientCredentials{
		Certificate:           cert,
		CertificateThumbprint: certificate.Thumbprint(cert),
	}, nil
}

func matchesBinding(client models.ClientConfiguration, subject string, dns, uris, ips, emails []string) bool {
	if v := client.TLSClientAuthSubjectDN; v != "" && certificate.EqualDN(subject, v) {
		return true
	}
	if v := client.TLSClientAuthSANDNS; v != "" && contains(dns, v) {
		return true
	}
	if v := client.TLSClientAuthSANURI; v != "" && contains(uris, v) {
		return true
	}
	if v := client.TLSClientAuthSANIP; v != "" {
		want := net.ParseIP(v)
		for _, ip := range ips {
			if want != nil && want.Equal(net.ParseIP(ip)) {
				return true
			}
		}
	}
	if v := client.TLSClientAuthSANEmail; v != "" && contains(emails, v) {
		return true
	}
	return false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// selfSignedTLSClientAuth binds the presented certificate to the single
// registered JWK carrying x5c (RFC 8705 section 2.2).
type selfSignedTLSClientAuth struct{}

func (*selfSignedTLSClientAuth) Method() oauth2.ClientAuthenticationType {
	return oauth2.SelfSignedTLSClientAuth
}

func (*selfSignedTLSClientAuth) Authenticate(_ context.Context, req *Request) (models.ClientCredentials, error) {
	cert := req.Certificate
	if cert == nil {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "client certificate is required", nil)
	}
	set, err := jwks.Parse(req.Client.JWKS)
	if err != nil {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "registered jwks is invalid", err)
	}
	keys := jwks.WithX5C(set)
	switch {
	case len(keys) == 0:
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "no registered jwk carries x5c", nil)
	case len(keys) > 1:
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "more than one registered jwk carries x5c", nil)
	}
	key := keys[0]
	if jwks.LeafX5C(key) != certificate.DERBase64(cert) {
		return models.ClientCredentials{}, errors.ClientUnauthorized(req.ClientID, "client certificate does not match the registered x5c", nil)
	}
	return models.ClientCredentials{
		PublicKey:             &key,
		Certificate:           cert,
		CertificateThumbprint: certificate.Thumbprint(cert),
	}, nil
}
