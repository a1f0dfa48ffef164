package token

import "errors"

var (
	// ErrDerivation indicates malformed key-derivation input. Not retryable.
	ErrDerivation = errors.New("key derivation failed")
	// ErrBundleAuth indicates a bundle MAC mismatch or truncated ciphertext.
	// Unbundling never yields partial plaintext.
	ErrBundleAuth = errors.New("bundle authentication failed")
	// ErrInvalidToken is the unified error for unknown, expired, consumed,
	// deleted and revoked tokens. External callers must not be able to tell
	// these apart; the specific cause goes to server logs only.
	ErrInvalidToken = errors.New("invalid token")
	// ErrServerBusy is the backpressure rejection from the derivation
	// concurrency bound. Callers may retry later.
	ErrServerBusy = errors.New("server busy")
)
