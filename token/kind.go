package token

// Kind identifies a token type. Its string value is the key-derivation
// info suffix, so renaming a kind invalidates every issued token of that
// kind.
type Kind string

const (
	KindSession        Kind = "sessionToken"
	KindKeyFetch       Kind = "keyFetchToken"
	KindAccountReset   Kind = "accountResetToken"
	KindPasswordForgot Kind = "passwordForgotToken"
	KindPasswordChange Kind = "passwordChangeToken"
	KindSessionRevoke  Kind = "sessionRevokeToken"
)

// Kinds returns all token kinds in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindSession,
		KindKeyFetch,
		KindAccountReset,
		KindPasswordForgot,
		KindPasswordChange,
		KindSessionRevoke,
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindSession, KindKeyFetch, KindAccountReset,
		KindPasswordForgot, KindPasswordChange, KindSessionRevoke:
		return true
	}
	return false
}
