package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	AESKeySize   = 32
	GCMNonceSize = 12
	GCMTagSize   = 16
)

var (
	ErrInvalidAEADInput     = errors.New("invalid aead input")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// SealAESGCM encrypts plaintext and returns the ciphertext with the
// authentication tag split off.
func SealAESGCM(key, nonce, plaintext, aad []byte) ([]byte, []byte, error) {
	gcm, err := newGCM(key, nonce)
	if err != nil {
		return nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - GCMTagSize
	return sealed[:split], sealed[split:], nil
}

func OpenAESGCM(key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	if len(tag) != GCMTagSize {
		return nil, fmt.Errorf("%w: tag must be %d bytes", ErrInvalidAEADInput, GCMTagSize)
	}
	gcm, err := newGCM(key, nonce)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

func newGCM(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrInvalidAEADInput, AESKeySize)
	}
	if len(nonce) != GCMNonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrInvalidAEADInput, GCMNonceSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("construct aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("construct aes-gcm: %w", err)
	}
	return gcm, nil
}

func randomBytes(size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return out, nil
}
