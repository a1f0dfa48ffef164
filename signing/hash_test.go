package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryHash(t *testing.T) {
	base := QueryHash("nonce-1", "post", "/v1/internal/prune?limit=5", "")

	// Method is uppercased before hashing.
	assert.Equal(t, base, QueryHash("nonce-1", "POST", "/v1/internal/prune?limit=5", ""))

	// Every bound field changes the digest.
	assert.NotEqual(t, base, QueryHash("nonce-2", "POST", "/v1/internal/prune?limit=5", ""))
	assert.NotEqual(t, base, QueryHash("nonce-1", "GET", "/v1/internal/prune?limit=5", ""))
	assert.NotEqual(t, base, QueryHash("nonce-1", "POST", "/v1/internal/prune?limit=6", ""))
	assert.NotEqual(t, base, QueryHash("nonce-1", "POST", "/v1/internal/prune?limit=5", "psh"))

	// The path is hashed exactly as received, without normalization.
	assert.NotEqual(t,
		QueryHash("n", "GET", "/a/b", ""),
		QueryHash("n", "GET", "/a//b", ""))
}

func TestPayloadHash(t *testing.T) {
	base := PayloadHash("application/json", []byte(`{"a":1}`))

	// Content-type parameters are dropped and case is folded.
	assert.Equal(t, base, PayloadHash("Application/JSON; charset=utf-8", []byte(`{"a":1}`)))

	assert.NotEqual(t, base, PayloadHash("text/plain", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, PayloadHash("application/json", []byte(`{"a":2}`)))
}
