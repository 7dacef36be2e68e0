// Package crypto provides the authenticated-encryption primitive behind the
// invitation token payload. The interface mirrors an external KMS envelope
// service: two opaque, fallible transforms.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyLen is the required symmetric key length in bytes.
const KeyLen = chacha20poly1305.KeySize

// Encryptor is the encryption-at-rest contract consumed by the token codec.
// Implementations must be safe for concurrent use.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// LocalEncryptor seals payloads with XChaCha20-Poly1305 under a static data
// key. The blob layout is nonce || ciphertext, nonce drawn fresh per call.
type LocalEncryptor struct {
	key []byte
}

// NewLocalEncryptor builds an encryptor from a raw 32-byte key.
func NewLocalEncryptor(key []byte) (*LocalEncryptor, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeyLen, len(key))
	}
	return &LocalEncryptor{key: key}, nil
}

// NewLocalEncryptorFromBase64 decodes a raw-URL-base64 key and builds an
// encryptor, for keys sourced from the environment.
func NewLocalEncryptorFromBase64(encoded string) (*LocalEncryptor, error) {
	key, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return NewLocalEncryptor(key)
}

func (e *LocalEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return out, nil
}

func (e *LocalEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("ciphertext too short")
	}
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	ct := ciphertext[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}
