// Package checksum fingerprints source payloads for the sync run log.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumParts digests several named parts independent of their order.
func SumParts(parts map[string][]byte) string {
	names := make([]string, 0, len(parts))
	for n := range parts {
		names = append(names, n)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
		h.Write(parts[n])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
