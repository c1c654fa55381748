package audit

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateSalt(t *testing.T) {
	salt1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	if len(salt1) != saltSize {
		t.Errorf("salt length = %d, want %d", len(salt1), saltSize)
	}
	salt2, _ := GenerateSalt()
	if bytes.Equal(salt1, salt2) {
		t.Error("two salts should not be equal")
	}
}

func TestDeriveKey(t *testing.T) {
	salt := []byte("1234567890abcdef")
	key1 := DeriveKey("mypassphrase", salt)
	key2 := DeriveKey("mypassphrase", salt)
	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase+salt should produce same key")
	}
	if len(key1) != keySize {
		t.Errorf("key length = %d, want %d", len(key1), keySize)
	}
	if bytes.Equal(key1, DeriveKey("other", salt)) {
		t.Error("different passphrases should produce different keys")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	plain := []byte(`{"id":1,"event_type":"delivery"}` + "\n")
	sealed, err := Seal(plain, "correct horse")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("delivery")) {
		t.Error("ciphertext contains plaintext")
	}
	if len(sealed) < saltSize+nonceSize+len(plain) {
		t.Errorf("sealed length = %d, too short", len(sealed))
	}

	got, err := Open(sealed, "correct horse")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("open = %q, want %q", got, plain)
	}
}

func TestOpenRejects(t *testing.T) {
	sealed, _ := Seal([]byte("audit"), "pass")

	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name string
		data []byte
		pass string
	}{
		{"wrong passphrase", sealed, "nope"},
		{"tampered", tampered, "pass"},
		{"too short", []byte("short"), "pass"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.data, tt.pass); !errors.Is(err, ErrCiphertext) {
				t.Errorf("err = %v, want ErrCiphertext", err)
			}
		})
	}
}
