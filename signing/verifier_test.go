package signing

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSetup struct {
	priv     *rsa.PrivateKey
	jku      string
	kid      string
	fetches  *atomic.Int64
	verifier *Verifier
	signer   *Signer
}

func newTestSetup(t *testing.T) *testSetup {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fetches atomic.Int64
	keyHandler := KeySetHandler(&priv.PublicKey, "test-key-1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		keyHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	jku := srv.URL + "/.well-known/keys"

	verifier := NewVerifier(Config{
		Audience:       "auth.example.com",
		TrustedKeySets: []string{jku},
		MaxLifetime:    5 * time.Minute,
	})

	signer, err := NewSigner(SignerConfig{
		Issuer:    "batch-jobs",
		Audience:  "auth.example.com",
		KeySetURL: jku,
		KeyID:     "test-key-1",
	}, x509.MarshalPKCS1PrivateKey(priv))
	require.NoError(t, err)

	return &testSetup{
		priv:     priv,
		jku:      jku,
		kid:      "test-key-1",
		fetches:  &fetches,
		verifier: verifier,
		signer:   signer,
	}
}

// mintToken crafts a token with standard (non-URL) base64 segments, the
// way some producers encode header and claims, signed with RS256.
func mintToken(t *testing.T, priv *rsa.PrivateKey, hdr Header, claims map[string]any) string {
	t.Helper()

	headerJSON, err := json.Marshal(hdr)
	require.NoError(t, err)
	claimsJSON, err := json.Marshal(claims)
	require.NoError(t, err)

	h := base64.StdEncoding.EncodeToString(headerJSON)
	c := base64.StdEncoding.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(h + "." + c))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)

	return h + "." + c + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func baseClaims(s *testSetup, method, uri string) map[string]any {
	now := time.Now().Unix()
	nce := "nonce-1"
	return map[string]any{
		"iss": "batch-jobs",
		"aud": "auth.example.com",
		"iat": now,
		"exp": now + 60,
		"nce": nce,
		"qsh": QueryHash(nce, method, uri, ""),
	}
}

func TestVerify_SignerRoundTrip(t *testing.T) {
	s := newTestSetup(t)

	tok, err := s.signer.Sign("GET", "/v1/internal/prune", "", nil)
	require.NoError(t, err)

	claims, err := s.verifier.Verify(context.Background(), tok, "GET", "/v1/internal/prune", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "batch-jobs", claims.Iss)
	assert.NotEmpty(t, claims.Nce)
}

func TestVerify_SignRequestWithBody(t *testing.T) {
	s := newTestSetup(t)
	body := []byte(`{"limit":10}`)

	r := httptest.NewRequest("POST", "https://auth.example.com/v1/internal/prune?dry_run=1", nil)
	r.Header.Set("Content-Type", "application/json")
	require.NoError(t, s.signer.SignRequest(r, body))

	claims, err := s.verifier.VerifyRequest(context.Background(), r, body)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.Psh)

	// A different body must fail the payload hash check.
	_, err = s.verifier.VerifyRequest(context.Background(), r, []byte(`{"limit":11}`))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_MixedBase64Alphabets(t *testing.T) {
	s := newTestSetup(t)

	tok := mintToken(t, s.priv, Header{Alg: "RS256", JKU: s.jku, KID: s.kid},
		baseClaims(s, "GET", "/v1/status"))

	_, err := s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
	require.NoError(t, err)
}

func TestVerify_RejectsUnsigned(t *testing.T) {
	s := newTestSetup(t)

	for _, alg := range []string{"none", "NONE", ""} {
		tok := mintToken(t, s.priv, Header{Alg: alg, JKU: s.jku, KID: s.kid},
			baseClaims(s, "GET", "/v1/status"))
		_, err := s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
		require.ErrorIs(t, err, ErrMalformedToken, "alg=%q", alg)
	}
	// No network fetch should have happened for rejected headers.
	assert.EqualValues(t, 0, s.fetches.Load())
}

func TestVerify_UntrustedKeySet(t *testing.T) {
	s := newTestSetup(t)

	tok := mintToken(t, s.priv, Header{Alg: "RS256", JKU: "https://evil.example.com/keys", KID: s.kid},
		baseClaims(s, "GET", "/v1/status"))

	_, err := s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
	require.ErrorIs(t, err, ErrUntrustedKeySet)
	assert.EqualValues(t, 0, s.fetches.Load(), "untrusted jku must be rejected before any fetch")
}

func TestVerify_BadSignature(t *testing.T) {
	s := newTestSetup(t)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tok := mintToken(t, otherKey, Header{Alg: "RS256", JKU: s.jku, KID: s.kid},
		baseClaims(s, "GET", "/v1/status"))

	_, err = s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Timestamps(t *testing.T) {
	s := newTestSetup(t)
	now := time.Now().Unix()

	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"Expired", func(c map[string]any) { c["iat"] = now - 120; c["exp"] = now - 60 }},
		{"MissingExp", func(c map[string]any) { delete(c, "exp") }},
		{"FutureIat", func(c map[string]any) { c["iat"] = now + 3600; c["exp"] = now + 7200 }},
		{"IatAfterExp", func(c map[string]any) { c["iat"] = now + 30; c["exp"] = now + 10 }},
		{"LifetimeTooLong", func(c map[string]any) { c["iat"] = now; c["exp"] = now + 3600 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := baseClaims(s, "GET", "/v1/status")
			tc.mutate(claims)
			tok := mintToken(t, s.priv, Header{Alg: "RS256", JKU: s.jku, KID: s.kid}, claims)
			_, err := s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
			require.ErrorIs(t, err, ErrInvalidTimestamp)
		})
	}
}

func TestVerify_Audience(t *testing.T) {
	s := newTestSetup(t)

	claims := baseClaims(s, "GET", "/v1/status")
	claims["aud"] = "other.example.com"
	tok := mintToken(t, s.priv, Header{Alg: "RS256", JKU: s.jku, KID: s.kid}, claims)

	_, err := s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
	require.ErrorIs(t, err, ErrUnverifiableAudience)
}

func TestVerify_Nonce(t *testing.T) {
	s := newTestSetup(t)

	claims := baseClaims(s, "GET", "/v1/status")
	delete(claims, "nce")
	tok := mintToken(t, s.priv, Header{Alg: "RS256", JKU: s.jku, KID: s.kid}, claims)

	_, err := s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
	require.ErrorIs(t, err, ErrInvalidNonce)
}

func TestVerify_QueryHashBinding(t *testing.T) {
	s := newTestSetup(t)

	tok, err := s.signer.Sign("GET", "/v1/status", "", nil)
	require.NoError(t, err)

	// Replaying the token against a different method or path fails.
	_, err = s.verifier.Verify(context.Background(), tok, "POST", "/v1/status", "", nil)
	require.ErrorIs(t, err, ErrInvalidSignature)
	_, err = s.verifier.Verify(context.Background(), tok, "GET", "/v1/other", "", nil)
	require.ErrorIs(t, err, ErrInvalidSignature)

	t.Run("MissingQsh", func(t *testing.T) {
		claims := baseClaims(s, "GET", "/v1/status")
		delete(claims, "qsh")
		tok := mintToken(t, s.priv, Header{Alg: "RS256", JKU: s.jku, KID: s.kid}, claims)
		_, err := s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestVerify_KeyCache(t *testing.T) {
	s := newTestSetup(t)

	for i := 0; i < 5; i++ {
		tok, err := s.signer.Sign("GET", "/v1/status", "", nil)
		require.NoError(t, err)
		_, err = s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, s.fetches.Load(), "key set should be fetched once and cached")
}

func TestVerify_UnknownKeyID(t *testing.T) {
	s := newTestSetup(t)

	tok := mintToken(t, s.priv, Header{Alg: "RS256", JKU: s.jku, KID: "no-such-kid"},
		baseClaims(s, "GET", "/v1/status"))

	_, err := s.verifier.Verify(context.Background(), tok, "GET", "/v1/status", "", nil)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_Garbage(t *testing.T) {
	s := newTestSetup(t)

	for _, raw := range []string{"", "a.b", "a.b.c.d", "!!!.???.###"} {
		_, err := s.verifier.Verify(context.Background(), raw, "GET", "/v1/status", "", nil)
		require.ErrorIs(t, err, ErrMalformedToken, "token %q", raw)
	}
}
