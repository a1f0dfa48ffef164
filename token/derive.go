package token

import (
	"fmt"

	"github.com/jmcleod/bastion/internal/util"
)

// namespace prefixes every key-derivation info string so that derived
// keys can never collide with another protocol's use of the same seed.
const namespace = "bastion.org/auth/v1/"

const (
	// SeedLength is the size of a token's root seed.
	SeedLength = 32
	keyLength  = 32
	derivedLen = 3 * keyLength
)

// deriveKeys computes a token's (tokenID, authKey, bundleKey) triple from
// its seed. A single 96-byte HKDF expand is sliced into three disjoint
// 32-byte windows, so the three values are structurally distinct and
// deriving them costs one extract+expand.
func deriveKeys(kind Kind, seed []byte) (id, authKey, bundleKey []byte, err error) {
	if len(seed) != SeedLength {
		return nil, nil, nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrDerivation, SeedLength, len(seed))
	}
	if !kind.Valid() {
		return nil, nil, nil, fmt.Errorf("%w: unknown token kind %q", ErrDerivation, kind)
	}
	out, err := util.HKDF(seed, nil, []byte(namespace+string(kind)), derivedLen)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return out[0:keyLength], out[keyLength : 2*keyLength], out[2*keyLength : 3*keyLength], nil
}

// DeriveEmailKey derives length bytes bound to both a context string and
// an account email, for password-stretching derivations. The email is
// normalized before it enters the info string so that equivalent
// spellings derive the same key.
func DeriveEmailKey(input []byte, info, email string, length int) ([]byte, error) {
	out, err := util.HKDF(input, nil, []byte(namespace+info+":"+util.NormalizeEmail(email)), length)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return out, nil
}
