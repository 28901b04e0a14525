// ABOUTME: HMAC-SHA256 signing and verification plus SHA-256 hashing for shop and app secrets
// ABOUTME: Verification never fails loudly; any unusable input simply does not verify

package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/codebarista-de/shopware-app-server/internal/apperr"
)

// SecretLength is the length of generated shop secrets.
const SecretLength = 64

const secretAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var errEmptySecret = errors.New("secret is empty")

// Sign returns the hex encoded HMAC-SHA256 of message keyed with secret.
func Sign(message, secret string) (string, error) {
	return SignBytes([]byte(message), secret)
}

// SignBytes is Sign for raw bytes such as request bodies.
func SignBytes(message []byte, secret string) (string, error) {
	if secret == "" {
		return "", apperr.InvalidSignature("could not calculate signature", errEmptySecret)
	}
	if message == nil {
		return "", apperr.InvalidSignature("data to sign cannot be nil", nil)
	}
	return hex.EncodeToString(mac(message, secret)), nil
}

// Verify reports whether signature is the hex HMAC-SHA256 of message under secret.
// A nil message, an empty secret or an empty signature never verifies.
func Verify(message []byte, secret, signature string) bool {
	if message == nil || secret == "" || signature == "" {
		return false
	}
	expected := hex.EncodeToString(mac(message, secret))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Hash returns the hex encoded SHA-256 of data.
func Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// SignJSON serializes v and signs the resulting bytes. It returns the body
// that was signed so callers send exactly those bytes.
func SignJSON(v any, secret string) ([]byte, string, error) {
	if v == nil {
		return nil, "", apperr.InvalidSignature("data to sign cannot be nil", nil)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, "", apperr.InvalidSignature("could not serialize response", err)
	}
	sig, err := SignBytes(body, secret)
	if err != nil {
		return nil, "", err
	}
	return body, sig, nil
}

// GenerateSecret returns a fresh random shop secret of SecretLength characters
// drawn from [0-9a-zA-Z].
func GenerateSecret() (string, error) {
	max := big.NewInt(int64(len(secretAlphabet)))
	out := make([]byte, SecretLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = secretAlphabet[n.Int64()]
	}
	return string(out), nil
}

func mac(message []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(message)
	return h.Sum(nil)
}
