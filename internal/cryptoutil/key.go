package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the length of raw DARE and config encryption keys.
const KeySize = 32

// ParseKey decodes a raw key given as base64 or hex. An explicit "base64:" or
// "hex:" prefix selects the encoding; without one the first encoding that
// yields KeySize bytes wins, base64 before hex.
func ParseKey(key string) ([]byte, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, errors.New("encryption key is empty")
	}

	decoders := []func(string) ([]byte, error){base64.StdEncoding.DecodeString, hex.DecodeString}
	if rest, ok := strings.CutPrefix(trimmed, "base64:"); ok {
		trimmed, decoders = rest, decoders[:1]
	} else if rest, ok := strings.CutPrefix(trimmed, "hex:"); ok {
		trimmed, decoders = rest, decoders[1:]
	}

	var lastErr error
	for _, decode := range decoders {
		data, err := decode(trimmed)
		if err != nil {
			lastErr = err
			continue
		}
		if len(data) != KeySize {
			lastErr = fmt.Errorf("invalid key length: %d (expected %d bytes)", len(data), KeySize)
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("decode key: %w", lastErr)
}
