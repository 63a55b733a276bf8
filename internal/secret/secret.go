// Package secret encrypts provider access tokens before they reach the
// database.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

// keySalt binds derived keys to this application. The passphrase carries
// the secrecy.
var keySalt = []byte("homeboard.tokens")

// Box seals short strings with AES-256-GCM under a key derived once from a
// passphrase with Argon2id.
type Box struct {
	aead cipher.AEAD
}

// NewBox derives the box key from passphrase.
func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	return newBox(DeriveKey(passphrase))
}

// NewEphemeralBox returns a box with a random key. Tokens sealed by it
// cannot be opened after a restart.
func NewEphemeralBox() (*Box, string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, "", fmt.Errorf("generate passphrase: %w", err)
	}
	passphrase := hex.EncodeToString(b)
	box, err := NewBox(passphrase)
	if err != nil {
		return nil, "", err
	}
	return box, passphrase, nil
}

func newBox(key []byte) (*Box, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Box{aead: gcm}, nil
}

// DeriveKey derives a 32-byte AES-256 key from a passphrase using Argon2id.
func DeriveKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), keySalt, argonTime, argonMem, argonPar, keySize)
}

// Seal encrypts plaintext.
// Output format: base64([12-byte nonce][AES-256-GCM ciphertext])
func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(data) < nonceSize {
		return "", errors.New("sealed value too small")
	}
	plaintext, err := b.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
