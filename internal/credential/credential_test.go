package credential_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/meridianid/meridian-go/internal/credential"
	"github.com/meridianid/meridian-go/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenEndpoint = "https://login.example.com/tenant-1/oauth2/v2.0/token"

func TestSecret(t *testing.T) {
	body := url.Values{}
	require.NoError(t, credential.Secret("s3cret").Authenticate(body, tokenEndpoint, "client-1"))
	assert.Equal(t, "s3cret", body.Get(oauth.ParamClientSecret))
}

func TestAssertionCallback(t *testing.T) {
	cred := credential.Assertion(func(endpoint, clientID string) (string, error) {
		assert.Equal(t, tokenEndpoint, endpoint)
		assert.Equal(t, "client-1", clientID)
		return "signed-elsewhere", nil
	})

	body := url.Values{}
	require.NoError(t, cred.Authenticate(body, tokenEndpoint, "client-1"))
	assert.Equal(t, "signed-elsewhere", body.Get(oauth.ParamClientAssertion))
	assert.Equal(t, oauth.ClientAssertionTypeJWT, body.Get(oauth.ParamClientAssertionT))
}

func selfSignedCert(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "meridian-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func TestCertificateAssertion(t *testing.T) {
	cert, key := selfSignedCert(t)
	cred, err := credential.NewCertificate(cert, key)
	require.NoError(t, err)

	body := url.Values{}
	require.NoError(t, cred.Authenticate(body, tokenEndpoint, "client-1"))

	raw := body.Get(oauth.ParamClientAssertion)
	require.NotEmpty(t, raw)
	assert.Equal(t, oauth.ClientAssertionTypeJWT, body.Get(oauth.ParamClientAssertionT))

	parsed, err := josejwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	require.NoError(t, err)

	var claims josejwt.Claims
	require.NoError(t, parsed.Claims(&key.PublicKey, &claims))
	assert.Equal(t, "client-1", claims.Issuer)
	assert.Equal(t, "client-1", claims.Subject)
	assert.Equal(t, josejwt.Audience{tokenEndpoint}, claims.Audience)
	assert.NotEmpty(t, claims.ID)
}

func TestCertificateAssertionReused(t *testing.T) {
	cert, key := selfSignedCert(t)
	cred, err := credential.NewCertificate(cert, key)
	require.NoError(t, err)

	first := url.Values{}
	require.NoError(t, cred.Authenticate(first, tokenEndpoint, "client-1"))
	second := url.Values{}
	require.NoError(t, cred.Authenticate(second, tokenEndpoint, "client-1"))

	// a fresh assertion is not minted while the cached one is far from expiry
	assert.Equal(t, first.Get(oauth.ParamClientAssertion), second.Get(oauth.ParamClientAssertion))
}

func TestCertificateRejectsNonRSAKey(t *testing.T) {
	cert, _ := selfSignedCert(t)
	_, err := credential.NewCertificate(cert, "not a key")
	assert.Error(t, err)
}
