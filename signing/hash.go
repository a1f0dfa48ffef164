package signing

import (
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"
)

// SchemeName is the Authorization scheme for service-to-service calls.
const SchemeName = "Bastion"

const (
	queryPrefix   = "bastion.1.query"
	payloadPrefix = "bastion.1.payload"
)

// QueryHash computes the qsh claim binding a request's nonce, method and
// path to the signed token: the base64 SHA-256 of the prefix literal,
// nonce, uppercased method, path+query exactly as received, and payload
// hash (empty string if none), each followed by a newline.
func QueryHash(nonce, method, pathAndQuery, payloadHash string) string {
	h := sha256.New()
	for _, part := range []string{queryPrefix, nonce, strings.ToUpper(method), pathAndQuery, payloadHash} {
		io.WriteString(h, part)
		io.WriteString(h, "\n")
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// PayloadHash computes the psh claim over a request body: the base64
// SHA-256 of the prefix literal, the lowercased content type without
// parameters, and the raw body, each followed by a newline.
func PayloadHash(contentType string, body []byte) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	h := sha256.New()
	io.WriteString(h, payloadPrefix)
	io.WriteString(h, "\n")
	io.WriteString(h, ct)
	io.WriteString(h, "\n")
	h.Write(body)
	io.WriteString(h, "\n")
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
