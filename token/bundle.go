package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/jmcleod/bastion/internal/util"
)

// Bundle seals payload under bundleKey for the given keyInfo context.
// One HKDF expand keyed by keyInfo yields a 32-byte HMAC key followed by
// a keystream the length of the payload; the ciphertext is the payload
// XORed with the keystream and the result is ciphertext || tag. Bundles
// created under different keyInfo strings are cryptographically
// independent even for the same bundleKey.
func Bundle(bundleKey []byte, keyInfo string, payload []byte) ([]byte, error) {
	hmacKey, stream, err := bundleKeys(bundleKey, keyInfo, len(payload))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(hmacKey)
	defer util.WipeBytes(stream)

	ciphertext, err := util.Xor(payload, stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(ciphertext)
	return mac.Sum(ciphertext), nil
}

// Unbundle opens a sealed bundle. The MAC is verified before any
// plaintext is produced; a mismatch or truncated input fails closed with
// ErrBundleAuth.
func Unbundle(bundleKey []byte, keyInfo string, blob []byte) ([]byte, error) {
	if len(blob) < sha256.Size {
		return nil, ErrBundleAuth
	}
	ciphertext, tag := blob[:len(blob)-sha256.Size], blob[len(blob)-sha256.Size:]

	hmacKey, stream, err := bundleKeys(bundleKey, keyInfo, len(ciphertext))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(hmacKey)
	defer util.WipeBytes(stream)

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(ciphertext)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, ErrBundleAuth
	}

	plaintext, err := util.Xor(ciphertext, stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return plaintext, nil
}

func bundleKeys(bundleKey []byte, keyInfo string, payloadLen int) (hmacKey, stream []byte, err error) {
	out, err := util.HKDF(bundleKey, nil, []byte(namespace+keyInfo), sha256.Size+payloadLen)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return out[:sha256.Size], out[sha256.Size:], nil
}
