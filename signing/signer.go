package signing

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenLifetime = 60 * time.Second

// SignerConfig carries the identity of a signing service.
type SignerConfig struct {
	Issuer    string
	Audience  string
	KeySetURL string
	KeyID     string
	// TokenLifetime is the exp-iat window of minted tokens. Short
	// windows are the scheme's replay-resistance mechanism.
	TokenLifetime time.Duration
}

// Signer mints service tokens for outbound privileged calls. The RSA
// private key lives in a memguard enclave and is materialized only for
// the duration of each signing operation.
type Signer struct {
	cfg SignerConfig
	key *memguard.Enclave
	now func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithSignerClock overrides the signer's time source, for tests.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *Signer) { s.now = now }
}

// NewSigner creates a signer from a PKCS#1 or PKCS#8 DER-encoded RSA
// private key. The key bytes are wiped from the caller's buffer once
// sealed.
func NewSigner(cfg SignerConfig, privateKeyDER []byte, opts ...SignerOption) (*Signer, error) {
	if _, err := parsePrivateKey(privateKeyDER); err != nil {
		return nil, err
	}
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = defaultTokenLifetime
	}
	s := &Signer{
		cfg: cfg,
		key: memguard.NewEnclave(privateKeyDER),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PublicKey returns the public half of the signing key, for publishing
// via KeySetHandler.
func (s *Signer) PublicKey() (*rsa.PublicKey, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	priv, err := parsePrivateKey(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return &priv.PublicKey, nil
}

// Sign mints a service token bound to the given request attributes.
func (s *Signer) Sign(method, requestURI, contentType string, body []byte) (string, error) {
	psh := ""
	if len(body) > 0 {
		psh = PayloadHash(contentType, body)
	}
	nce := uuid.NewString()
	now := s.now()

	claims := jwt.MapClaims{
		"iss": s.cfg.Issuer,
		"aud": s.cfg.Audience,
		"iat": now.Unix(),
		"exp": now.Add(s.cfg.TokenLifetime).Unix(),
		"nce": nce,
		"qsh": QueryHash(nce, method, requestURI, psh),
	}
	if psh != "" {
		claims["psh"] = psh
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["jku"] = s.cfg.KeySetURL
	tok.Header["kid"] = s.cfg.KeyID

	buf, err := s.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening key enclave: %w", err)
	}
	defer buf.Destroy()
	priv, err := parsePrivateKey(buf.Bytes())
	if err != nil {
		return "", err
	}

	signed, err := tok.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("signing service token: %w", err)
	}
	return signed, nil
}

// SignRequest signs an outbound request in place, setting its
// Authorization header. The body must match what will be sent.
func (s *Signer) SignRequest(r *http.Request, body []byte) error {
	tok, err := s.Sign(r.Method, r.URL.RequestURI(), r.Header.Get("Content-Type"), body)
	if err != nil {
		return err
	}
	r.Header.Set("Authorization", SchemeName+" "+tok)
	return nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not RSA")
	}
	return key, nil
}
