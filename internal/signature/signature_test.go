// ABOUTME: Tests for HMAC signing, verification, hashing and secret generation
// ABOUTME: Uses known vectors so changes to the encoding are caught

package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
)

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2
	sig, err := Sign("what do ya want for nothing?", "Jefe")
	require.NoError(t, err)
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", sig)
}

func TestSign_EmptySecretFails(t *testing.T) {
	_, err := Sign("message", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidSignature))
}

func TestSignBytes_NilMessageFails(t *testing.T) {
	_, err := SignBytes(nil, "secret")
	require.Error(t, err)
}

func TestVerify_RoundTrip(t *testing.T) {
	messages := []string{"", "shop-id=S1&shop-url=https://shop.example&timestamp=1", `{"source":{"shopId":"S1"}}`}
	secrets := []string{"s", "a-much-longer-secret-0123456789abcdefghijklmnopqrstuvwxyz"}

	for _, msg := range messages {
		for _, secret := range secrets {
			sig, err := Sign(msg, secret)
			require.NoError(t, err)
			assert.True(t, Verify([]byte(msg), secret, sig), "msg=%q secret=%q", msg, secret)
			assert.False(t, Verify([]byte(msg), secret+"x", sig))
			assert.False(t, Verify([]byte(msg+"x"), secret, sig))
		}
	}
}

func TestVerify_NeverPanicsOnBadInput(t *testing.T) {
	sig, _ := Sign("m", "s")

	assert.False(t, Verify(nil, "s", sig))
	assert.False(t, Verify([]byte("m"), "", sig))
	assert.False(t, Verify([]byte("m"), "s", ""))
	assert.False(t, Verify([]byte("m"), "s", "not-hex"))
	assert.False(t, Verify([]byte("m"), "s", strings.ToUpper(sig)))
	assert.False(t, Verify([]byte("m"), "s", sig[:10]))
}

func TestHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(""))
	assert.Len(t, Hash("S1my-app"), 64)
}

func TestSignJSON(t *testing.T) {
	body, sig, err := SignJSON(map[string]string{"actionType": "reload"}, "secret")
	require.NoError(t, err)
	assert.JSONEq(t, `{"actionType":"reload"}`, string(body))
	assert.True(t, Verify(body, "secret", sig))

	_, _, err = SignJSON(nil, "secret")
	assert.Error(t, err)

	_, _, err = SignJSON(map[string]string{}, "")
	assert.Error(t, err)
}

func TestGenerateSecret(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		secret, err := GenerateSecret()
		require.NoError(t, err)
		require.Len(t, secret, SecretLength)
		for _, c := range secret {
			assert.True(t, strings.ContainsRune(secretAlphabet, c), "unexpected char %q", c)
		}
		assert.False(t, seen[secret], "secret repeated")
		seen[secret] = true
	}
}
