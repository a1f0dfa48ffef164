package token

// Kind-specific token metadata. Each kind carries its own variant; the
// storage layer persists whichever variant matches the row's kind as an
// opaque JSON document.

// SessionMeta holds session-token metadata.
type SessionMeta struct {
	UserAgent    string `json:"ua,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
	LastAccessAt int64  `json:"last_access_at,omitempty"`
}

// KeyFetchMeta holds the account key material served (bundled) to a
// client redeeming a key-fetch token.
type KeyFetchMeta struct {
	KA     []byte `json:"ka"`
	WrapKB []byte `json:"wrap_kb"`
}

// ForgotMeta holds password-forgot token state: the emailed pass code
// and the number of verification attempts remaining.
type ForgotMeta struct {
	Email     string `json:"email"`
	PassCode  string `json:"pass_code"`
	TriesLeft int    `json:"tries_left"`
}

// RevokeMeta chains a session-revoke token to the session it can
// invalidate and, optionally, that session's key-fetch token.
type RevokeMeta struct {
	SessionID  string `json:"session_id"`
	KeyFetchID string `json:"key_fetch_id,omitempty"`
}
