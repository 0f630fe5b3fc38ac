// Package hash provides hashing utilities.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256String computes the SHA256 hash of a string.
func SHA256String(s string) string {
	return SHA256([]byte(s))
}

// SHA256Short returns the first n characters of a SHA256 hash.
func SHA256Short(data []byte, n int) string {
	h := SHA256(data)
	if n > len(h) {
		return h
	}
	return h[:n]
}

// SessionKey derives a deterministic cache key for a ranked list seen under a
// query. Parts are joined with a separator that cannot occur in the
// whitespace-free query and document identifiers of the session log.
func SessionKey(model, query string, docs []string, clicks []bool) string {
	var b strings.Builder
	b.WriteString(model)
	b.WriteByte(0)
	b.WriteString(query)
	for i, d := range docs {
		b.WriteByte(0)
		b.WriteString(d)
		if i < len(clicks) && clicks[i] {
			b.WriteString("\x01")
		}
	}
	return SHA256Short([]byte(b.String()), 32)
}
