package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidKey is returned when an encryption key has the wrong length
var ErrInvalidKey = errors.New("codec: invalid encryption key")

// XChaCha encrypts bodies with XChaCha20-Poly1305. The random nonce is
// prepended to the ciphertext.
type XChaCha struct {
	aead cipher.AEAD
}

// NewXChaCha creates a cipher from a 32-byte key
func NewXChaCha(key []byte) (*XChaCha, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, chacha20poly1305.KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &XChaCha{aead: aead}, nil
}

// Seal encrypts plaintext
func (x *XChaCha) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, x.aead.NonceSize(), x.aead.NonceSize()+len(plaintext)+x.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return x.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a Seal output
func (x *XChaCha) Open(ciphertext []byte) ([]byte, error) {
	ns := x.aead.NonceSize()
	if len(ciphertext) < ns+x.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCorruptFrame)
	}
	return x.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
}
