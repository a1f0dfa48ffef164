package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// NormalizeEmail canonicalizes an email address for use as a lookup key
// and as key-derivation context: NFKD-normalized and lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(norm.NFKD.String(strings.TrimSpace(email)))
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
