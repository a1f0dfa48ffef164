package signing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Header identifies the key that signed a service token: the key-set URL
// it can be fetched from and the key id within that set.
type Header struct {
	Alg string `json:"alg"`
	JKU string `json:"jku"`
	KID string `json:"kid"`
}

// Claims is the signed claims block of a service token.
type Claims struct {
	Iss string `json:"iss"`
	Aud string `json:"aud"`
	Exp int64  `json:"exp"`
	Iat int64  `json:"iat,omitempty"`
	Nce string `json:"nce"`
	Qsh string `json:"qsh"`
	Psh string `json:"psh,omitempty"`
}

// decodeSegment decodes a token segment. The wire format mixes standard
// and URL-safe base64 across producers, so both alphabets are accepted,
// with or without padding.
func decodeSegment(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "+/") {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// splitToken breaks a compact token into its three raw segments.
func splitToken(raw string) (header, claims, signature string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}
	return parts[0], parts[1], parts[2], nil
}

func decodeHeader(segment string) (*Header, error) {
	data, err := decodeSegment(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding header: %v", ErrMalformedToken, err)
	}
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: parsing header: %v", ErrMalformedToken, err)
	}
	return &h, nil
}

func decodeClaims(segment string) (*Claims, error) {
	data, err := decodeSegment(segment)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %v", ErrMalformedToken, err)
	}
	var c Claims
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: parsing claims: %v", ErrMalformedToken, err)
	}
	return &c, nil
}
