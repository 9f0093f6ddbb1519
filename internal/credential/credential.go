// Package credential implements the ways a confidential client proves its
// own identity to the token endpoint: a shared secret, a signed assertion
// derived from a certificate, or an externally supplied assertion.
package credential

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/meridianid/meridian-go/internal/oauth"
)

// assertionLifetime bounds the validity of generated client assertions.
// Assertions are regenerated once less than a quarter of the lifetime
// remains.
const assertionLifetime = 10 * time.Minute

// Credential adds client authentication parameters to a token request
// body. Implementations must be safe for concurrent use.
type Credential interface {
	Authenticate(body url.Values, tokenEndpoint, clientID string) error
}

// Secret authenticates with a shared client secret.
type Secret string

func (s Secret) Authenticate(body url.Values, tokenEndpoint, clientID string) error {
	body.Set(oauth.ParamClientSecret, string(s))
	return nil
}

// Assertion authenticates with a caller-supplied signed assertion, for
// hosts that keep the signing key in an HSM or external service.
type Assertion func(tokenEndpoint, clientID string) (string, error)

func (a Assertion) Authenticate(body url.Values, tokenEndpoint, clientID string) error {
	signed, err := a(tokenEndpoint, clientID)
	if err != nil {
		return fmt.Errorf("client assertion callback failed: %w", err)
	}
	body.Set(oauth.ParamClientAssertionT, oauth.ClientAssertionTypeJWT)
	body.Set(oauth.ParamClientAssertion, signed)
	return nil
}

// Certificate authenticates by signing a fresh assertion with the
// certificate's private key. Signed assertions are reused until close to
// expiry; the signer itself is built once.
type Certificate struct {
	signer jose.Signer

	mu        sync.Mutex
	signed    string
	signedFor string
	expiresAt time.Time

	now func() time.Time
}

// NewCertificate builds a certificate credential from the leaf certificate
// and its RSA private key. The certificate thumbprint is carried in the
// assertion header so the provider can locate the registered key.
func NewCertificate(cert *x509.Certificate, key crypto.PrivateKey) (*Certificate, error) {
	if cert == nil {
		return nil, fmt.Errorf("certificate is required")
	}
	if _, ok := key.(*rsa.PrivateKey); !ok {
		return nil, fmt.Errorf("unsupported private key type %T, RSA is required", key)
	}

	thumbprint := sha1.Sum(cert.Raw)

	opts := (&jose.SignerOptions{}).
		WithType("JWT").
		WithHeader("x5t", base64.RawURLEncoding.EncodeToString(thumbprint[:]))

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, opts)
	if err != nil {
		return nil, fmt.Errorf("assertion signer could not be constructed: %w", err)
	}

	return &Certificate{
		signer: signer,
		now:    time.Now,
	}, nil
}

func (c *Certificate) Authenticate(body url.Values, tokenEndpoint, clientID string) error {
	signed, err := c.assertion(tokenEndpoint, clientID)
	if err != nil {
		return err
	}
	body.Set(oauth.ParamClientAssertionT, oauth.ClientAssertionTypeJWT)
	body.Set(oauth.ParamClientAssertion, signed)
	return nil
}

func (c *Certificate) assertion(tokenEndpoint, clientID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	if c.signed != "" && c.signedFor == tokenEndpoint && now.Before(c.expiresAt.Add(-assertionLifetime/4)) {
		return c.signed, nil
	}

	expiry := now.Add(assertionLifetime)
	claims := josejwt.Claims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  josejwt.Audience{tokenEndpoint},
		ID:        uuid.NewString(),
		IssuedAt:  josejwt.NewNumericDate(now),
		NotBefore: josejwt.NewNumericDate(now),
		Expiry:    josejwt.NewNumericDate(expiry),
	}

	signed, err := josejwt.Signed(c.signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("client assertion could not be signed: %w", err)
	}

	c.signed = signed
	c.signedFor = tokenEndpoint
	c.expiresAt = expiry
	return signed, nil
}
