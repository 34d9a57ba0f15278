package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrAuthentication is returned for a missing, undecodable, or mismatched signature.
var ErrAuthentication = errors.New("signature: authentication failed")

// Verifier authenticates webhook bodies against a channel secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signature: secret must not be empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify checks signatureHeader against rawBody.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) error {
	if v == nil || len(v.secret) == 0 {
		return errors.New("signature: verifier not initialized")
	}
	return verify(rawBody, signatureHeader, v.secret)
}

// Verify computes base64(HMAC-SHA256(secret, rawBody)) and compares it to
// signatureHeader in constant time.
func Verify(rawBody []byte, signatureHeader, secret string) error {
	if secret == "" {
		return errors.New("signature: secret must not be empty")
	}
	return verify(rawBody, signatureHeader, []byte(secret))
}

// Sign returns the header value a sender would attach to rawBody.
func Sign(rawBody []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(digest(rawBody, []byte(secret)))
}

func verify(rawBody []byte, signatureHeader string, secret []byte) error {
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return fmt.Errorf("%w: missing signature header", ErrAuthentication)
	}
	got, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return fmt.Errorf("%w: decode signature header: %v", ErrAuthentication, err)
	}
	if !hmac.Equal(got, digest(rawBody, secret)) {
		return fmt.Errorf("%w: signature mismatch", ErrAuthentication)
	}
	return nil
}

func digest(body, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
