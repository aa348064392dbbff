package shared

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestAESEncryptor(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		enc, err := NewAESEncryptor(testKey(t))
		if err != nil {
			t.Fatalf("failed to create encryptor: %v", err)
		}

		sealed, err := enc.EncryptString("access-token")
		if err != nil {
			t.Fatalf("failed to encrypt: %v", err)
		}
		if sealed == "access-token" {
			t.Fatal("ciphertext should differ from plaintext")
		}

		plain, err := enc.DecryptString(sealed)
		if err != nil {
			t.Fatalf("failed to decrypt: %v", err)
		}
		if plain != "access-token" {
			t.Errorf("expected access-token, got %s", plain)
		}
	})

	t.Run("empty values stay empty", func(t *testing.T) {
		enc, _ := NewAESEncryptor(testKey(t))
		if got, _ := enc.EncryptString(""); got != "" {
			t.Errorf("expected empty ciphertext, got %q", got)
		}
		if got, _ := enc.DecryptString(""); got != "" {
			t.Errorf("expected empty plaintext, got %q", got)
		}
	})

	t.Run("wrong key fails", func(t *testing.T) {
		a, _ := NewAESEncryptor(testKey(t))
		b, _ := NewAESEncryptor(testKey(t))

		sealed, _ := a.EncryptString("secret")
		if _, err := b.DecryptString(sealed); err == nil {
			t.Error("expected decryption with another key to fail")
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		for _, key := range []string{"", "not base64!", base64.StdEncoding.EncodeToString([]byte("short"))} {
			if _, err := NewAESEncryptor(key); err == nil {
				t.Errorf("expected error for key %q", key)
			}
		}
	})
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("failed to generate state: %v", err)
	}
	b, _ := GenerateState()
	if a == "" || a == b {
		t.Errorf("expected distinct non-empty states, got %q and %q", a, b)
	}
}
