package certificate

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"

	"github.com/legit-games/oauth2/utils/certificate/certtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormats(t *testing.T) {
	c := certtest.New(t, certtest.Options{CommonName: "client", Organization: "Example", Country: "JP"})

	fromPEM, err := Parse(c.PEM)
	require.NoError(t, err)
	assert.Equal(t, c.Cert.Raw, fromPEM.Raw)

	fromEscaped, err := Parse(url.QueryEscape(c.PEM))
	require.NoError(t, err)
	assert.Equal(t, c.Cert.Raw, fromEscaped.Raw)

	oneLine := strings.ReplaceAll(strings.TrimSpace(c.PEM), "\n", " ")
	fromOneLine, err := Parse(oneLine)
	require.NoError(t, err)
	assert.Equal(t, c.Cert.Raw, fromOneLine.Raw)

	fromDER, err := Parse(base64.StdEncoding.EncodeToString(c.Cert.Raw))
	require.NoError(t, err)
	assert.Equal(t, c.Cert.Raw, fromDER.Raw)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, v := range []string{"", "not a cert", "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"} {
		_, err := Parse(v)
		assert.ErrorIs(t, err, ErrInvalidCertificate, v)
	}
}

func TestSubjectAndSANs(t *testing.T) {
	c := certtest.New(t, certtest.Options{
		CommonName:  "client",
		Country:     "JP",
		DNSNames:    []string{"client.example.com"},
		URIs:        []string{"https://client.example.com/id"},
		IPAddresses: []string{"10.0.0.1"},
		Emails:      []string{"ops@example.com"},
	})

	assert.True(t, EqualDN(SubjectDN(c.Cert), "cn=client, C=JP"))
	assert.False(t, EqualDN(SubjectDN(c.Cert), "CN=other,C=JP"))
	assert.Equal(t, []string{"https://client.example.com/id"}, URIs(c.Cert))
	assert.Equal(t, []string{"10.0.0.1"}, IPAddresses(c.Cert))
	assert.Equal(t, base64.StdEncoding.EncodeToString(c.Cert.Raw), DERBase64(c.Cert))
	assert.Len(t, Thumbprint(c.Cert), 43)
}
