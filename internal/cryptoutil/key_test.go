package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestParseKeyBase64(t *testing.T) {
	key := make([]byte, 32)
	encoded := base64.StdEncoding.EncodeToString(key)
	parsed, err := ParseKey(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed) != 32 {
		t.Fatalf("unexpected key length: %d", len(parsed))
	}
}

func TestParseKeyHexPrefix(t *testing.T) {
	key := make([]byte, 32)
	key[0] = 0xab
	parsed, err := ParseKey("hex:" + hex.EncodeToString(key))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed[0] != 0xab {
		t.Fatalf("unexpected first byte: %x", parsed[0])
	}
}

func TestParseKeyWrongLength(t *testing.T) {
	if _, err := ParseKey("base64:" + base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	plain := []byte("global:\n  log_level: info\n")
	sealed, err := EncryptConfig(plain, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := DecryptConfig(sealed, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := DecryptConfig(sealed, key); err == nil {
		t.Fatal("expected tamper detection")
	}
}

func TestParseKeyBareHex(t *testing.T) {
	key := make([]byte, 32)
	key[31] = 0x7f
	parsed, err := ParseKey(hex.EncodeToString(key))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed[31] != 0x7f {
		t.Fatalf("unexpected last byte: %x", parsed[31])
	}
}
