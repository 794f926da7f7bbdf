// Package crypto encrypts API credentials at rest with AES-256-GCM.
// Ciphertexts carry a key-version prefix (ENC[vN]:) so rows written
// under an older key keep decrypting after rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	ErrInvalidKey        = errors.New("encryption key must be 32 bytes")
	ErrInvalidCiphertext = errors.New("malformed ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Encryptor seals and opens strings under a single key version.
type Encryptor struct {
	aead    cipher.AEAD
	version int
	prefix  string
}

func NewEncryptor(key []byte, version int) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{
		aead:    aead,
		version: version,
		prefix:  fmt.Sprintf("ENC[v%d]:", version),
	}, nil
}

// Encrypt returns ENC[vN]:base64(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return e.prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. The version in the prefix is not checked
// here; KeyManager routes ciphertexts to the right version first.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	idx := strings.Index(ciphertext, "]:")
	if !strings.HasPrefix(ciphertext, "ENC[v") || idx < 0 {
		return "", ErrInvalidCiphertext
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext[idx+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	ns := e.aead.NonceSize()
	if len(raw) <= ns {
		return "", ErrInvalidCiphertext
	}
	plain, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// ParseVersion extracts N from an ENC[vN]: prefix, 0 when absent.
func ParseVersion(ciphertext string) int {
	var version int
	if _, err := fmt.Sscanf(ciphertext, "ENC[v%d]:", &version); err != nil {
		return 0
	}
	return version
}
