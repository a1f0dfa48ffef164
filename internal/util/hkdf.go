package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const HKDFKeyLength = 32

// HKDF derives length bytes from seed using HKDF-SHA256 with the given
// salt and info. Output lengths beyond a single HMAC block are produced
// by the HKDF expand step.
func HKDF(seed, salt, info []byte, length int) ([]byte, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("hkdf: empty seed")
	}
	if length <= 0 {
		return nil, fmt.Errorf("hkdf: invalid output length %d", length)
	}
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, length)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
