package api

// AccountCredentials is the request body for account creation and login.
// AuthPW is the client-side-stretched password as lowercase hex; the
// raw password never reaches this server.
type AccountCredentials struct {
	Email  string `json:"email"`
	AuthPW string `json:"authPW"`
}

// TokenBundleResponse returns the credentials issued by a successful
// create or login: opaque hex token strings of tokenID || authKey.
type TokenBundleResponse struct {
	UID           string `json:"uid"`
	SessionToken  string `json:"sessionToken"`
	KeyFetchToken string `json:"keyFetchToken"`
	RevokeToken   string `json:"revokeToken"`
}

// AccountKeysResponse carries the bundled account key material, opened
// with the key-fetch token's bundle key.
type AccountKeysResponse struct {
	Bundle string `json:"bundle"`
}

// ForgotSendRequest asks for a password-forgot token for an email.
type ForgotSendRequest struct {
	Email string `json:"email"`
}

// ForgotSendResponse returns the forgot token and its attempt budget.
// Code is populated only outside production, where no mailer runs.
type ForgotSendResponse struct {
	PasswordForgotToken string `json:"passwordForgotToken"`
	TTL                 int64  `json:"ttl"`
	CodeLength          int    `json:"codeLength"`
	Tries               int    `json:"tries"`
	Code                string `json:"code,omitempty"`
}

// ForgotVerifyRequest submits a pass code against a forgot token.
type ForgotVerifyRequest struct {
	Code string `json:"code"`
}

// ForgotVerifyResponse returns the account-reset token minted by a
// correct pass code.
type ForgotVerifyResponse struct {
	AccountResetToken string `json:"accountResetToken"`
}

// PruneResponse reports how many expired rows a prune pass removed.
type PruneResponse struct {
	Pruned int `json:"pruned"`
}
