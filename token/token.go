// Package token implements the credential model of the authentication
// core: deterministic derivation of per-kind key triples from random
// seed material, TTL/expiry computation, and authenticated bundling of
// key payloads.
package token

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jmcleod/bastion/internal/util"
)

// Algorithm is the MAC algorithm advertised alongside a token's id/key
// pair to the request-authentication layer.
const Algorithm = "sha256"

// ClientTokenLength is the hex length of a client-bearing token string:
// tokenID || authKey, 64 bytes hex-encoded.
const ClientTokenLength = 2 * 2 * keyLength

// Config carries the token-model configuration. It is passed explicitly
// to NewFactory; nothing in this package reads ambient state.
type Config struct {
	// IsProduction disables the createdAt override escape hatch.
	IsProduction bool
	// Lifetimes maps each kind to its lifetime. A zero or negative
	// duration means the kind never expires.
	Lifetimes map[Kind]time.Duration
}

// DefaultConfig returns production-shaped defaults: sessions and revoke
// tokens never expire, every single-use token lives 15 minutes.
func DefaultConfig() Config {
	return Config{
		IsProduction: true,
		Lifetimes: map[Kind]time.Duration{
			KindSession:        0,
			KindSessionRevoke:  0,
			KindKeyFetch:       15 * time.Minute,
			KindAccountReset:   15 * time.Minute,
			KindPasswordForgot: 15 * time.Minute,
			KindPasswordChange: 15 * time.Minute,
		},
	}
}

// Token is the common record shared by every token kind. Kind-specific
// metadata travels separately (see the *Meta types).
type Token struct {
	Kind      Kind
	ID        []byte
	AuthKey   []byte
	BundleKey []byte
	UID       string
	CreatedAt int64 // epoch millis
	Lifetime  time.Duration
}

// Details carries caller-supplied fields for token construction.
type Details struct {
	UID string
	// CreatedAt overrides the creation timestamp (epoch millis). Only
	// honored outside production, and never into the future.
	CreatedAt int64
}

// Factory constructs tokens. Derivation work runs under the factory's
// DerivePool so that CPU-bound key stretching cannot queue unbounded.
type Factory struct {
	cfg  Config
	pool *DerivePool
	now  func() time.Time
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithDerivePool bounds the factory's concurrent derivation operations.
func WithDerivePool(pool *DerivePool) FactoryOption {
	return func(f *Factory) { f.pool = pool }
}

// WithClock overrides the factory's time source, for tests.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

// NewFactory creates a token factory with the given configuration.
func NewFactory(cfg Config, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// New creates a token of the given kind from a fresh random seed.
func (f *Factory) New(ctx context.Context, kind Kind, details Details) (*Token, error) {
	seed, err := util.RandomBytes(SeedLength)
	if err != nil {
		return nil, fmt.Errorf("generating token seed: %w", err)
	}
	defer util.WipeBytes(seed)
	return f.FromSeed(ctx, kind, seed, details)
}

// FromHex reconstructs a token from a hex-encoded seed previously issued
// to a client. The derivation itself does not validate the seed; a
// mismatched seed surfaces later as an authKey or unbundle failure.
func (f *Factory) FromHex(ctx context.Context, kind Kind, hexSeed string, details Details) (*Token, error) {
	seed, err := util.HexDecode(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding seed hex: %v", ErrDerivation, err)
	}
	defer util.WipeBytes(seed)
	return f.FromSeed(ctx, kind, seed, details)
}

// FromSeed derives a token from known seed bytes.
func (f *Factory) FromSeed(ctx context.Context, kind Kind, seed []byte, details Details) (*Token, error) {
	t := &Token{
		Kind:     kind,
		UID:      details.UID,
		Lifetime: f.cfg.Lifetimes[kind],
	}

	nowMS := f.now().UnixMilli()
	t.CreatedAt = nowMS
	if !f.cfg.IsProduction && details.CreatedAt > 0 && details.CreatedAt <= nowMS {
		t.CreatedAt = details.CreatedAt
	}

	err := f.pool.Do(ctx, func() error {
		var derr error
		t.ID, t.AuthKey, t.BundleKey, derr = deriveKeys(kind, seed)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// StretchPassword derives the stored password verifier from a client's
// stretched password, bound to the account email. Runs under the
// factory's derivation pool since it shares the CPU budget with token
// derivation.
func (f *Factory) StretchPassword(ctx context.Context, authPW []byte, email string) ([]byte, error) {
	var out []byte
	err := f.pool.Do(ctx, func() error {
		var derr error
		out, derr = DeriveEmailKey(authPW, "verifyHash", email, keyLength)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TTL returns the whole seconds remaining before the token expires as of
// the given epoch-millis timestamp, rounding up. Tokens without a finite
// lifetime report the maximum TTL.
func (t *Token) TTL(asOf int64) int64 {
	if t.Lifetime <= 0 {
		return math.MaxInt64
	}
	remaining := t.Lifetime.Milliseconds() - (asOf - t.CreatedAt)
	if remaining <= 0 {
		return 0
	}
	return (remaining + 999) / 1000
}

// Expired reports whether the token's TTL has reached zero.
func (t *Token) Expired(asOf int64) bool {
	return t.TTL(asOf) == 0
}

// HexID returns the token's public identifier as lowercase hex.
func (t *Token) HexID() string {
	return util.HexEncode(t.ID)
}

// ClientToken returns the opaque string issued to clients: lowercase hex
// of tokenID || authKey.
func (t *Token) ClientToken() string {
	joined := make([]byte, 0, len(t.ID)+len(t.AuthKey))
	joined = append(joined, t.ID...)
	joined = append(joined, t.AuthKey...)
	return util.HexEncode(joined)
}

// ParseClientToken splits a client-bearing token string back into its
// tokenID and authKey halves.
func ParseClientToken(s string) (id, authKey []byte, err error) {
	if len(s) != ClientTokenLength {
		return nil, nil, ErrInvalidToken
	}
	raw, err := util.HexDecode(s)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}
	return raw[:keyLength], raw[keyLength:], nil
}

// Bundle seals payload under the token's bundleKey.
func (t *Token) Bundle(keyInfo string, payload []byte) ([]byte, error) {
	return Bundle(t.BundleKey, keyInfo, payload)
}

// Unbundle opens a bundle sealed under the token's bundleKey.
func (t *Token) Unbundle(keyInfo string, blob []byte) ([]byte, error) {
	return Unbundle(t.BundleKey, keyInfo, blob)
}

// Wipe zeroes the token's secret key material.
func (t *Token) Wipe() {
	util.WipeBytes(t.AuthKey)
	util.WipeBytes(t.BundleKey)
}
