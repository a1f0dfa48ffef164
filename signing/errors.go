package signing

import "errors"

// Verification failures are all surfaced to external callers as a
// generic 401; the distinctions below exist for server-side logs and
// tests.
var (
	// ErrMalformedToken covers undecodable tokens and unsigned (alg=none)
	// tokens, which are rejected outright.
	ErrMalformedToken = errors.New("malformed service token")
	// ErrUntrustedKeySet indicates a jku outside the configured allow-list.
	// Rejected before any network fetch.
	ErrUntrustedKeySet = errors.New("untrusted key set URL")
	// ErrInvalidSignature covers signature failures, unresolvable key ids,
	// and query/payload hash mismatches.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidTimestamp covers missing or expired exp and inconsistent iat.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrInvalidNonce indicates a missing nonce claim.
	ErrInvalidNonce = errors.New("invalid nonce")
	// ErrUnverifiableAudience indicates an aud claim that does not match
	// this server's public domain.
	ErrUnverifiableAudience = errors.New("unverifiable audience")
)
