// Package certificate reads presented TLS client certificates.
package certificate

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidCertificate is returned for values that do not hold one X.509 certificate.
var ErrInvalidCertificate = errors.New("invalid client certificate")

// Parse reads a certificate given as PEM, URL-escaped PEM (as forwarded by
// TLS terminating proxies) or base64 DER.
func Parse(value string) (*x509.Certificate, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrInvalidCertificate
	}
	if strings.Contains(value, "%2D") || strings.Contains(value, "%20") || strings.Contains(value, "%0A") {
		unescaped, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
		value = unescaped
	}
	var der []byte
	if strings.HasPrefix(value, "-----BEGIN") {
		block, _ := pem.Decode([]byte(normalizePEM(value)))
		if block == nil || block.Type != "CERTIFICATE" {
			return nil, ErrInvalidCertificate
		}
		der = block.Bytes
	} else {
		b, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
		der = b
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return cert, nil
}

// Proxies that put the PEM in a header on one line replace newlines with spaces.
func normalizePEM(v string) string {
	if strings.Contains(v, "\n") {
		return v
	}
	const begin, end = "-----BEGIN CERTIFICATE-----", "-----END CERTIFICATE-----"
	body := strings.TrimSuffix(strings.TrimPrefix(v, begin), end)
	body = strings.Join(strings.Fields(body), "\n")
	return begin + "\n" + body + "\n" + end + "\n"
}

// SubjectDN is the RFC 2253 form of the certificate subject.
func SubjectDN(cert *x509.Certificate) string {
	return cert.Subject.String()
}

// EqualDN compares two distinguished names ignoring case and spacing around separators.
func EqualDN(a, b string) bool {
	return normalizeDN(a) == normalizeDN(b)
}

func normalizeDN(dn string) string {
	parts := strings.Split(dn, ",")
	for i, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		for j := range kv {
			kv[j] = strings.TrimSpace(kv[j])
		}
		kv[0] = strings.ToUpper(kv[0])
		parts[i] = strings.Join(kv, "=")
	}
	return strings.Join(parts, ",")
}

// URIs returns the URI SANs as strings.
func URIs(cert *x509.Certificate) []string {
	out := make([]string, 0, len(cert.URIs))
	for _, u := range cert.URIs {
		out = append(out, u.String())
	}
	return out
}

// IPAddresses returns the IP SANs as strings.
func IPAddresses(cert *x509.Certificate) []string {
	out := make([]string, 0, len(cert.IPAddresses))
	for _, ip := range cert.IPAddresses {
		out = append(out, ip.String())
	}
	return out
}

// DERBase64 is the standard base64 of the DER bytes, the form used in x5c.
func DERBase64(cert *x509.Certificate) string {
	return base64.StdEncoding.EncodeToString(cert.Raw)
}

// Thumbprint is the x5t#S256 value of the certificate.
func Thumbprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
