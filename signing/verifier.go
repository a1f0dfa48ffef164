// Package signing implements the replay-resistant request-signing scheme
// used for privileged service-to-service calls: a three-part signed
// token carried in a scheme-prefixed Authorization header, verified
// against public keys fetched from an allow-list of trusted key-set
// URLs.
package signing

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config carries the verifier configuration.
type Config struct {
	// Audience is this server's public domain; the aud claim must equal
	// it exactly.
	Audience string
	// TrustedKeySets is the allow-list of key-set URLs. A jku outside
	// this list is rejected before any network fetch.
	TrustedKeySets []string
	// MaxLifetime bounds exp-iat. Nonces are checked for presence only,
	// so short token lifetimes are the replay-resistance mechanism; this
	// guard keeps a cooperating signer honest. Zero disables the bound.
	MaxLifetime time.Duration
	// CacheSize and CacheTTL size the (jku, kid) public-key cache.
	CacheSize int
	CacheTTL  time.Duration
}

// Verifier validates service tokens.
type Verifier struct {
	cfg    Config
	keys   *keyCache
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the structured logger for verification failures.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) { v.log = logger }
}

// WithClock overrides the verifier's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithHTTPClient sets the client used for key-set fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Verifier) { v.client = client }
}

// NewVerifier creates a verifier with the given configuration.
func NewVerifier(cfg Config, opts ...Option) *Verifier {
	v := &Verifier{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.keys = newKeyCache(cfg.CacheSize, cfg.CacheTTL, v.client)
	if v.log == nil {
		v.log = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return v
}

// VerifyRequest authenticates an inbound HTTP request. The body must be
// supplied by the caller since the request stream may already have been
// consumed.
func (v *Verifier) VerifyRequest(ctx context.Context, r *http.Request, body []byte) (*Claims, error) {
	auth := r.Header.Get("Authorization")
	prefix := SchemeName + " "
	if !strings.HasPrefix(auth, prefix) {
		return nil, fmt.Errorf("%w: missing %s authorization", ErrMalformedToken, SchemeName)
	}
	return v.Verify(ctx, strings.TrimPrefix(auth, prefix), r.Method, r.URL.RequestURI(), r.Header.Get("Content-Type"), body)
}

// Verify validates a raw service token against the given request
// attributes. Every check must pass; the first failure short-circuits.
func (v *Verifier) Verify(ctx context.Context, raw, method, requestURI, contentType string, body []byte) (*Claims, error) {
	headerSeg, claimsSeg, sigSeg, err := splitToken(raw)
	if err != nil {
		return nil, err
	}

	hdr, err := decodeHeader(headerSeg)
	if err != nil {
		return nil, err
	}
	if hdr.Alg == "" || strings.EqualFold(hdr.Alg, "none") {
		return nil, fmt.Errorf("%w: unsigned tokens are rejected", ErrMalformedToken)
	}
	if hdr.Alg != "RS256" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedToken, hdr.Alg)
	}

	if !v.trusted(hdr.JKU) {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedKeySet, hdr.JKU)
	}

	key, err := v.keys.get(ctx, hdr.JKU, hdr.KID)
	if err != nil {
		v.log.Warn("service token key resolution failed", "jku", hdr.JKU, "kid", hdr.KID, "error", err)
		return nil, fmt.Errorf("%w: resolving signing key: %v", ErrInvalidSignature, err)
	}

	if err := verifySignature(key, headerSeg+"."+claimsSeg, sigSeg); err != nil {
		return nil, err
	}

	claims, err := decodeClaims(claimsSeg)
	if err != nil {
		return nil, err
	}

	now := v.now().Unix()
	if claims.Exp == 0 || claims.Exp <= now {
		return nil, fmt.Errorf("%w: token expired or missing exp", ErrInvalidTimestamp)
	}
	if claims.Iat != 0 {
		if claims.Iat > now || claims.Iat > claims.Exp {
			return nil, fmt.Errorf("%w: inconsistent iat", ErrInvalidTimestamp)
		}
		if v.cfg.MaxLifetime > 0 && claims.Exp-claims.Iat > int64(v.cfg.MaxLifetime.Seconds()) {
			return nil, fmt.Errorf("%w: token lifetime exceeds maximum", ErrInvalidTimestamp)
		}
	}

	if claims.Aud != v.cfg.Audience {
		return nil, fmt.Errorf("%w: %q", ErrUnverifiableAudience, claims.Aud)
	}

	if claims.Nce == "" {
		return nil, fmt.Errorf("%w: missing nce", ErrInvalidNonce)
	}

	if claims.Qsh == "" {
		return nil, fmt.Errorf("%w: missing qsh", ErrInvalidSignature)
	}
	if claims.Psh != "" {
		localPsh := PayloadHash(contentType, body)
		if subtle.ConstantTimeCompare([]byte(claims.Psh), []byte(localPsh)) != 1 {
			return nil, fmt.Errorf("%w: payload hash mismatch", ErrInvalidSignature)
		}
	}
	expected := QueryHash(claims.Nce, method, requestURI, claims.Psh)
	if subtle.ConstantTimeCompare([]byte(claims.Qsh), []byte(expected)) != 1 {
		return nil, fmt.Errorf("%w: query hash mismatch", ErrInvalidSignature)
	}

	return claims, nil
}

func (v *Verifier) trusted(jku string) bool {
	for _, trusted := range v.cfg.TrustedKeySets {
		if jku == trusted {
			return true
		}
	}
	return false
}

func verifySignature(key *rsa.PublicKey, signingInput, sigSeg string) error {
	sig, err := decodeSegment(sigSeg)
	if err != nil {
		return fmt.Errorf("%w: decoding signature: %v", ErrMalformedToken, err)
	}
	digest := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
