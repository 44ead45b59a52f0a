package secrets_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/agentoven/agentdock/internal/secrets"
)

func testKey() []byte {
	return bytes.Repeat([]byte{7}, 32)
}

func TestSealOpen(t *testing.T) {
	s, err := secrets.NewSealer(testKey())
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}

	sealed, err := s.Seal([]byte(`{"botToken":"T"}`), "dep-1")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !strings.HasPrefix(sealed, "v1:") || strings.Contains(sealed, "botToken") {
		t.Fatalf("Seal() = %q, want opaque v1 value", sealed)
	}

	plain, err := s.Open(sealed, "dep-1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(plain) != `{"botToken":"T"}` {
		t.Errorf("Open() = %q", plain)
	}

	if _, err := s.Open(sealed, "dep-2"); err == nil {
		t.Error("Open() with different additional data should fail")
	}
}

func TestOpenPassesThroughLegacy(t *testing.T) {
	s, _ := secrets.NewSealer(testKey())
	plain, err := s.Open(`{"a":1}`, "x")
	if err != nil || string(plain) != `{"a":1}` {
		t.Errorf("Open(legacy) = %q, %v", plain, err)
	}
}

func TestNilSealer(t *testing.T) {
	var s *secrets.Sealer
	out, err := s.Seal([]byte("raw"), "")
	if err != nil || out != "raw" {
		t.Errorf("nil Seal() = %q, %v", out, err)
	}

	sealer, _ := secrets.NewSealer(testKey())
	sealed, _ := sealer.Seal([]byte("raw"), "")
	if _, err := s.Open(sealed, ""); err == nil {
		t.Error("nil sealer should refuse sealed values")
	}
}

func TestNewSealerKeySize(t *testing.T) {
	if _, err := secrets.NewSealer([]byte("short")); err != secrets.ErrKeySize {
		t.Errorf("NewSealer(short) error = %v, want ErrKeySize", err)
	}
}
