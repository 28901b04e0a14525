// ABOUTME: At-rest encryption for shop secrets and admin API credentials
// ABOUTME: XChaCha20-Poly1305 with a key derived from the configured master key via HKDF

package store

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MinMasterKeyLength is the minimum accepted master key size in bytes.
const MinMasterKeyLength = 32

const sealedPrefix = "enc:v1:"

var hkdfSalt = []byte("shopware-app-server")

// ErrUnsealable is returned when a sealed value cannot be decrypted.
var ErrUnsealable = errors.New("sealed value cannot be opened")

// Sealer encrypts secret columns before they are written.
// A nil *Sealer stores values as plain text.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the column key from masterKey.
func NewSealer(masterKey []byte) (*Sealer, error) {
	if len(masterKey) < MinMasterKeyLength {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", MinMasterKeyLength, len(masterKey))
	}

	reader := hkdf.New(sha256.New, masterKey, hkdfSalt, []byte("shop-secrets-v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromBase64 decodes a base64 master key and calls NewSealer.
func NewSealerFromBase64(encoded string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	return NewSealer(key)
}

// Seal encrypts plaintext. Empty values stay empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// are returned unchanged so plain-text rows keep working after a key is configured.
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s == nil {
		return "", fmt.Errorf("%w: no encryption key configured", ErrUnsealable)
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealable, err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("%w: value too short", ErrUnsealable)
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealable, err)
	}
	return string(plaintext), nil
}

// sealShop returns the sealed forms of the shop's secret columns.
func (s *Sealer) sealShop(shop *Shop) (secret, pending, clientSecret string, err error) {
	if secret, err = s.Seal(shop.ShopSecret); err != nil {
		return "", "", "", err
	}
	if pending, err = s.Seal(shop.PendingShopSecret); err != nil {
		return "", "", "", err
	}
	if clientSecret, err = s.Seal(shop.AdminAPIClientSecret); err != nil {
		return "", "", "", err
	}
	return secret, pending, clientSecret, nil
}

// openShop decrypts the shop's secret columns in place.
func (s *Sealer) openShop(shop *Shop) error {
	var err error
	if shop.ShopSecret, err = s.Open(shop.ShopSecret); err != nil {
		return fmt.Errorf("opening shop_secret: %w", err)
	}
	if shop.PendingShopSecret, err = s.Open(shop.PendingShopSecret); err != nil {
		return fmt.Errorf("opening pending_shop_secret: %w", err)
	}
	if shop.AdminAPIClientSecret, err = s.Open(shop.AdminAPIClientSecret); err != nil {
		return fmt.Errorf("opening admin_api_client_secret: %w", err)
	}
	return nil
}
