package util

import (
	"crypto/sha256"
	"fmt"
)

// EntryKey returns a fixed-length storage key for a cache-key identity
// string: prefix + ":" + first 16 hex chars of its sha256.
func EntryKey(prefix, identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return fmt.Sprintf("%s:%x", prefix, sum)[:len(prefix)+1+16]
}
