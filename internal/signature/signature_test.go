package signature

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSecret = "channel-secret"

var testBody = []byte(`{"destination":"U0","events":[{"type":"message"}]}`)

func TestVerify_AcceptsCorrectSignature(t *testing.T) {
	require.NoError(t, Verify(testBody, Sign(testBody, testSecret), testSecret))
}

func TestVerify_KnownVector(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	sig := "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg="
	require.NoError(t, Verify([]byte("The quick brown fox jumps over the lazy dog"), sig, "key"))
}

func TestVerify_RejectsAlteredBody(t *testing.T) {
	sig := Sign(testBody, testSecret)
	for i := range testBody {
		altered := append([]byte(nil), testBody...)
		altered[i] ^= 0x01
		err := Verify(altered, sig, testSecret)
		require.ErrorIs(t, err, ErrAuthentication, "byte %d", i)
	}
}

func TestVerify_RejectsAlteredSignature(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString(Sign(testBody, testSecret))
	require.NoError(t, err)
	for i := range raw {
		altered := append([]byte(nil), raw...)
		altered[i] ^= 0x80
		err := Verify(testBody, base64.StdEncoding.EncodeToString(altered), testSecret)
		require.ErrorIs(t, err, ErrAuthentication, "byte %d", i)
	}
}

func TestVerify_MissingHeader(t *testing.T) {
	err := Verify(testBody, " ", testSecret)
	require.ErrorIs(t, err, ErrAuthentication)
	require.Contains(t, err.Error(), "missing")
}

func TestVerify_UndecodableHeader(t *testing.T) {
	err := Verify(testBody, "not base64!!", testSecret)
	require.ErrorIs(t, err, ErrAuthentication)
	require.Contains(t, err.Error(), "decode")
}

func TestVerify_WrongSecret(t *testing.T) {
	err := Verify(testBody, Sign(testBody, "other-secret"), testSecret)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestVerify_EmptySecret(t *testing.T) {
	err := Verify(testBody, Sign(testBody, ""), "")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAuthentication)
}

func TestVerifier(t *testing.T) {
	_, err := NewVerifier(" ")
	require.Error(t, err)

	v, err := NewVerifier(testSecret)
	require.NoError(t, err)
	require.NoError(t, v.Verify(testBody, Sign(testBody, testSecret)))
	require.ErrorIs(t, v.Verify(testBody, Sign(testBody, "x")), ErrAuthentication)

	require.Error(t, (&Verifier{}).Verify(testBody, "sig"))
}
