package bt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID returns the 128-bit lower-case form of a GATT UUID.
// 16 and 32 bit short forms ("2ACD", "0x2acd", "0000fe00") are expanded
// onto the Bluetooth base UUID.
func NormalizeUUID(s string) (string, error) {
	short := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	switch len(short) {
	case 4:
		short = "0000" + short
		fallthrough
	case 8:
		s = short + baseUUIDSuffix
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}

// MustNormalizeUUID is NormalizeUUID for constants known to be valid
func MustNormalizeUUID(s string) string {
	n, err := NormalizeUUID(s)
	if err != nil {
		panic(err)
	}
	return n
}

// SameUUID compares two UUIDs in any accepted form
func SameUUID(a, b string) bool {
	na, err := NormalizeUUID(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeUUID(b)
	if err != nil {
		return false
	}
	return na == nb
}
