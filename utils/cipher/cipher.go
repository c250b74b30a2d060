// Package cipher protects token values at rest: AES-GCM for the stored value
// and a keyed HMAC for exact-match lookup without decryption.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrMalformedCiphertext is returned when a stored value cannot be decoded.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// EncryptedValue is the stored form of an encrypted token.
type EncryptedValue struct {
	Cipher string `json:"cipher"`
	IV     string `json:"iv"`
}

// AESCipher encrypts with AES-GCM and a random nonce per value.
type AESCipher struct {
	aead stdcipher.AEAD
}

// NewAESCipher accepts a 16, 24 or 32 byte key.
func NewAESCipher(key []byte) (*AESCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	aead, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESCipher{aead: aead}, nil
}

// Encrypt seals plain under a fresh nonce.
func (c *AESCipher) Encrypt(plain string) (EncryptedValue, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return EncryptedValue{}, err
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plain), nil)
	return EncryptedValue{
		Cipher: base64.StdEncoding.EncodeToString(sealed),
		IV:     base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens a value produced by Encrypt.
func (c *AESCipher) Decrypt(v EncryptedValue) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(v.Cipher)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	nonce, err := base64.StdEncoding.DecodeString(v.IV)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrMalformedCiphertext
	}
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	return string(plain), nil
}

// HMACHasher computes the deterministic lookup key of a token value.
type HMACHasher struct {
	key []byte
}

func NewHMACHasher(key []byte) *HMACHasher {
	return &HMACHasher{key: append([]byte(nil), key...)}
}

// Hash returns the hex HMAC-SHA256 of plain.
func (h *HMACHasher) Hash(plain string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(plain))
	return hex.EncodeToString(mac.Sum(nil))
}

// Protector bundles the cipher and hasher used by token stores.
type Protector struct {
	Cipher *AESCipher
	Hasher *HMACHasher
}

// NewProtector builds a Protector from explicit keys.
func NewProtector(encryptionKey, hmacKey []byte) (*Protector, error) {
	if len(hmacKey) == 0 {
		return nil, errors.New("hmac key is required")
	}
	c, err := NewAESCipher(encryptionKey)
	if err != nil {
		return nil, err
	}
	return &Protector{Cipher: c, Hasher: NewHMACHasher(hmacKey)}, nil
}

// NewProtectorFromSecret derives independent AES-256 and HMAC keys from one
// master secret with HKDF-SHA256.
func NewProtectorFromSecret(secret []byte) (*Protector, error) {
	if len(secret) < 16 {
		return nil, errors.New("master secret must be at least 16 bytes")
	}
	encKey, err := derive(secret, "token-encryption")
	if err != nil {
		return nil, err
	}
	macKey, err := derive(secret, "token-lookup-hmac")
	if err != nil {
		return nil, err
	}
	return NewProtector(encKey, macKey)
}

func derive(secret []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}
