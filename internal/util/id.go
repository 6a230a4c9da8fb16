package util

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// ShortFragment returns the first n characters of an id, skipping any
// prefix separator. Used for human-facing labels derived from ids.
func ShortFragment(id string, n int) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '_' {
			id = id[i+1:]
			break
		}
	}
	if len(id) <= n {
		return id
	}
	return id[:n]
}
