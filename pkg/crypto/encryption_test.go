package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(fill byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = fill
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey(7), 1)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"api key", "AKfz93kd02k3LJq8"},
		{"long secret", strings.Repeat("s3cret-", 20)},
		{"unicode", "clé privée 🔑"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if !strings.HasPrefix(sealed, "ENC[v1]:") {
				t.Fatalf("missing version prefix: %s", sealed)
			}
			got, err := enc.Decrypt(sealed)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if got != tt.plaintext {
				t.Fatalf("round trip = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc, _ := NewEncryptor(testKey(0), 1)
	a, _ := enc.Encrypt("same-input")
	b, _ := enc.Encrypt("same-input")
	if a == b {
		t.Fatal("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestNewEncryptorRejectsShortKey(t *testing.T) {
	if _, err := NewEncryptor([]byte("short"), 1); err != ErrInvalidKey {
		t.Fatalf("err = %v, want ErrInvalidKey", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, _ := NewEncryptor(testKey(1), 1)
	for _, bad := range []string{"", "plaintext-row", "ENC[v1]:", "ENC[v1]:%%%"} {
		if _, err := enc.Decrypt(bad); err == nil {
			t.Errorf("Decrypt(%q) accepted garbage", bad)
		}
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc, _ := NewEncryptor(testKey(1), 1)
	other, _ := NewEncryptor(testKey(2), 1)
	sealed, _ := enc.Encrypt("secret")
	if _, err := other.Decrypt(sealed); err != ErrDecryptionFailed {
		t.Fatalf("err = %v, want ErrDecryptionFailed", err)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"ENC[v1]:data", 1},
		{"ENC[v10]:data", 10},
		{"plaintext", 0},
		{"ENC[vX]:data", 0},
	}
	for _, tt := range tests {
		if got := ParseVersion(tt.in); got != tt.want {
			t.Errorf("ParseVersion(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestKeyManagerRotation(t *testing.T) {
	v1 := base64.StdEncoding.EncodeToString(testKey(1))
	v2 := base64.StdEncoding.EncodeToString(testKey(2))
	t.Setenv("MASTER_ENCRYPTION_KEY", v1)

	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager: %v", err)
	}
	oldSealed, err := km.Encrypt("rotate-me")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	t.Setenv("MASTER_ENCRYPTION_KEY_V2", v2)
	km, err = NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager after rotation: %v", err)
	}
	if km.CurrentVersion() != 2 {
		t.Fatalf("CurrentVersion = %d, want 2", km.CurrentVersion())
	}

	// Old rows still decrypt, new rows seal under v2.
	if got, err := km.Decrypt(oldSealed); err != nil || got != "rotate-me" {
		t.Fatalf("Decrypt old row = %q, %v", got, err)
	}
	newSealed, _ := km.Encrypt("fresh")
	if !strings.HasPrefix(newSealed, "ENC[v2]:") {
		t.Fatalf("new ciphertext prefix = %s, want ENC[v2]:", newSealed)
	}
}

func TestKeyManagerRequiresPrimaryKey(t *testing.T) {
	t.Setenv("MASTER_ENCRYPTION_KEY", "")
	if _, err := NewKeyManager(); err != ErrKeyNotFound {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}
