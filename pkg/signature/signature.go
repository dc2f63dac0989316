// Package signature verifies that webhook payloads genuinely originate
// from the platform. Meta signs the raw request body with HMAC-SHA256
// and carries the hex digest in the X-Hub-Signature-256 header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header is the request header carrying the payload signature.
const Header = "X-Hub-Signature-256"

const prefix = "sha256="

// Verify computes the keyed hash of rawBody under secret and compares
// it to the signature header in constant time. It returns false for a
// missing or malformed header and never panics; it must run before any
// parsing of the body.
func Verify(rawBody []byte, header, secret string) bool {
	if secret == "" {
		return false
	}
	if !strings.HasPrefix(header, prefix) {
		return false
	}

	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the header value Meta would send for rawBody. Used by
// tests and local tooling.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}
