package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// HMACVerifier checks detached SHA-256 signatures on webhook payloads from
// trusted integrations (carrier callbacks, internal services).
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier builds a verifier over the given shared secret.
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth: shared secret is required")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

// Verify validates a hex-encoded signature against the payload. An optional
// "sha256=" prefix on the signature is accepted. Comparison is constant-time.
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return errors.New("auth: signature is required")
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return errors.New("auth: signature is not valid hex")
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return errors.New("auth: signature mismatch")
	}
	return nil
}

// Sign computes the hex-encoded signature for a payload. Exposed so tests and
// outbound callers can produce valid signatures.
func (v *HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
