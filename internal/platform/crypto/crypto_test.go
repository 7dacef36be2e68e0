package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func newTestEncryptor(t *testing.T) *LocalEncryptor {
	t.Helper()
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	enc, err := NewLocalEncryptor(key)
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	return enc
}

func TestRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)
	plaintext := []byte(`{"case_id":"c-1","letter_id":"l-1"}`)

	blob, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(blob, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}

	got, err := enc.Decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc := newTestEncryptor(t)
	blob, err := enc.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	for i := range blob {
		tampered := bytes.Clone(blob)
		tampered[i] ^= 0x01
		if _, err := enc.Decrypt(tampered); err == nil {
			t.Fatalf("tampered byte %d accepted", i)
		}
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	enc := newTestEncryptor(t)
	if _, err := enc.Decrypt([]byte("short")); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}

func TestNewLocalEncryptorRejectsBadKey(t *testing.T) {
	if _, err := NewLocalEncryptor(make([]byte, 16)); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := NewLocalEncryptorFromBase64("!!!not-base64!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}
