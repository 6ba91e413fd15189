package security

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealer_SealOpen(t *testing.T) {
	s, err := NewSealer("test-passphrase-1234")
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`[{"name":"_pinterest_sess","value":"TWc9PSZ"}]`)
	sealed, err := s.Seal(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("sealed value missing prefix: %q", sealed)
	}
	if bytes.Contains([]byte(sealed), []byte("_pinterest_sess")) {
		t.Fatal("sealed value leaks plaintext")
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("Open = %q, want %q", opened, plaintext)
	}
}

func TestSealer_ShortPassphrase(t *testing.T) {
	if _, err := NewSealer("short"); err == nil {
		t.Fatal("expected error for short passphrase")
	}
}

func TestSealer_DifferentNonces(t *testing.T) {
	s, _ := NewSealer("test-passphrase-1234")
	a, _ := s.Seal([]byte("same"))
	b, _ := s.Seal([]byte("same"))
	if a == b {
		t.Fatal("two seals of the same value should differ")
	}
}

func TestSealer_WrongPassphrase(t *testing.T) {
	s1, _ := NewSealer("passphrase-one-1234")
	s2, _ := NewSealer("passphrase-two-5678")

	sealed, _ := s1.Seal([]byte("secret"))
	if _, err := s2.Open(sealed); err == nil {
		t.Fatal("should fail with wrong passphrase")
	}
}

func TestSealer_OpenNotSealed(t *testing.T) {
	s, _ := NewSealer("test-passphrase-1234")
	if _, err := s.Open("[]"); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("err = %v, want ErrNotSealed", err)
	}
}

func TestSealer_OpenTruncated(t *testing.T) {
	s, _ := NewSealer("test-passphrase-1234")
	if _, err := s.Open(SealedPrefix + "AAAA"); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
	if _, err := s.Open(SealedPrefix + "%%%"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		value     string
		showChars int
		want      string
	}{
		{"abcdefghij", 2, "ab******ij"},
		{"abcd", 2, "****"},
		{"", 2, ""},
		{"TWc9PSZzZXNzaW9u", 4, "TWc9********aW9u"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.value, tt.showChars); got != tt.want {
			t.Errorf("MaskSecret(%q, %d) = %q, want %q", tt.value, tt.showChars, got, tt.want)
		}
	}
}
