// Package wire frames cached cardinality entries. Framing is strict:
// anything that does not decode exactly is reported as corrupt so the
// cache can self-heal by dropping the entry.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindCount byte = 1

	// magic(4) | ver(1) | kind(1) | count(u64 be)
	frameLen = 4 + 1 + 1 + 8
)

var (
	ErrCorrupt = errors.New("cardcache: corrupt entry")
	magic4     = [...]byte{'C', 'A', 'R', 'D'}
)

// EncodeCount frames a non-negative cardinality.
func EncodeCount(count int64) []byte {
	b := make([]byte, frameLen)
	copy(b, magic4[:])
	b[4] = version
	b[5] = kindCount
	binary.BigEndian.PutUint64(b[6:], uint64(count))
	return b
}

// DecodeCount unframes a cardinality. Trailing bytes, wrong magic,
// version, kind, or a negative count are all corrupt.
func DecodeCount(b []byte) (int64, error) {
	if len(b) != frameLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kindCount {
		return 0, ErrCorrupt
	}
	count := int64(binary.BigEndian.Uint64(b[6:]))
	if count < 0 {
		return 0, ErrCorrupt
	}
	return count, nil
}
