package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseAddress decodes a 20-byte address from its hex representation, with or
// without a 0x prefix.
func ParseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("invalid address %q: expected 20 bytes, got %d", s, len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

// FormatAddress renders a 20-byte address as 0x-prefixed hex.
func FormatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}
