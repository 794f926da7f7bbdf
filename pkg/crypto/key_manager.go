package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

// maxKeyVersions bounds how many rotated keys are probed at startup.
const maxKeyVersions = 10

var ErrKeyNotFound = errors.New("MASTER_ENCRYPTION_KEY not set")

// KeyManager holds every loaded key version. New ciphertexts use the
// highest version; old ones decrypt with whichever version minted them.
type KeyManager struct {
	mu         sync.RWMutex
	current    int
	encryptors map[int]*Encryptor
}

// NewKeyManager reads base64 keys from MASTER_ENCRYPTION_KEY and, for
// rotation, MASTER_ENCRYPTION_KEY_V2 .. _V10. Version 1 is required.
func NewKeyManager() (*KeyManager, error) {
	km := &KeyManager{encryptors: make(map[int]*Encryptor)}

	if err := km.load(1, "MASTER_ENCRYPTION_KEY"); err != nil {
		return nil, err
	}
	km.current = 1

	for v := 2; v <= maxKeyVersions; v++ {
		name := fmt.Sprintf("MASTER_ENCRYPTION_KEY_V%d", v)
		if err := km.load(v, name); err == nil {
			km.current = v
		}
	}
	return km, nil
}

func (km *KeyManager) load(version int, envName string) error {
	encoded := os.Getenv(envName)
	if encoded == "" {
		return ErrKeyNotFound
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode %s: %w", envName, err)
	}
	enc, err := NewEncryptor(key, version)
	if err != nil {
		return fmt.Errorf("%s: %w", envName, err)
	}
	km.encryptors[version] = enc
	return nil
}

// Encrypt seals plaintext under the newest key version.
func (km *KeyManager) Encrypt(plaintext string) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.encryptors[km.current].Encrypt(plaintext)
}

// Decrypt routes the ciphertext to the key version that produced it.
func (km *KeyManager) Decrypt(ciphertext string) (string, error) {
	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}

	km.mu.RLock()
	enc, ok := km.encryptors[version]
	km.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("key version %d not loaded", version)
	}
	return enc.Decrypt(ciphertext)
}

// CurrentVersion reports which key version seals new credentials.
func (km *KeyManager) CurrentVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.current
}
