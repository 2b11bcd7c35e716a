package model

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Authorizer produces the Authorization header value for a request.
type Authorizer interface {
	Authorization() (string, error)
}

// APIKey authorizes with a static bearer key.
type APIKey string

// Authorization implements Authorizer.
func (k APIKey) Authorization() (string, error) {
	if k == "" {
		return "", errors.New("API key is empty")
	}
	return "Bearer " + string(k), nil
}

// DefaultTokenTTL is the lifetime of a signed gateway token.
const DefaultTokenTTL = 10 * time.Minute

// TokenRefreshBuffer is how long before expiry a cached token is replaced.
const TokenRefreshBuffer = time.Minute

// JWTSigner authorizes with short-lived RS256 tokens, for model gateways
// that accept signed service tokens instead of static keys. Tokens are
// cached until they are within TokenRefreshBuffer of expiring.
type JWTSigner struct {
	mu sync.Mutex

	issuer     string
	audience   string
	ttl        time.Duration
	privateKey *rsa.PrivateKey

	token     string
	expiresAt time.Time

	nowFunc func() time.Time
}

// JWTOption configures a JWTSigner.
type JWTOption func(*JWTSigner)

// WithAudience sets the aud claim.
func WithAudience(aud string) JWTOption {
	return func(s *JWTSigner) {
		s.audience = aud
	}
}

// WithTTL overrides DefaultTokenTTL.
func WithTTL(ttl time.Duration) JWTOption {
	return func(s *JWTSigner) {
		s.ttl = ttl
	}
}

// WithNowFunc sets a custom time function for testing.
func WithNowFunc(fn func() time.Time) JWTOption {
	return func(s *JWTSigner) {
		s.nowFunc = fn
	}
}

// NewJWTSigner creates a signer for the given issuer and PEM private key.
func NewJWTSigner(issuer string, privateKeyPEM []byte, opts ...JWTOption) (*JWTSigner, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer cannot be empty")
	}
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	s := &JWTSigner{
		issuer:     issuer,
		ttl:        DefaultTokenTTL,
		privateKey: key,
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= TokenRefreshBuffer {
		return nil, fmt.Errorf("token TTL %v must exceed refresh buffer %v", s.ttl, TokenRefreshBuffer)
	}
	return s, nil
}

// Authorization implements Authorizer.
func (s *JWTSigner) Authorization() (string, error) {
	tok, err := s.Token()
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

// Token returns a valid signed token, signing a new one if needed.
func (s *JWTSigner) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if s.token != "" && s.expiresAt.After(now.Add(TokenRefreshBuffer)) {
		return s.token, nil
	}

	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	s.token = signed
	s.expiresAt = now.Add(s.ttl)
	return s.token, nil
}

// parsePrivateKey parses a PEM-encoded RSA private key.
func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// PKCS#1 (RSA PRIVATE KEY)
	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}

	// PKCS#8 (PRIVATE KEY)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}
