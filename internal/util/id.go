// Package util holds the identifier helpers shared across KeyTao services.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a fresh identifier like "batch_3f2a…": a type prefix over
// 16 random bytes. The prefixes in use are user, batch, edit, phrase,
// issue, cmt, sync, jti and rft.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewToken returns an opaque bearer secret under the given prefix. It
// carries twice the entropy of NewID because tokens, unlike record IDs,
// must stay unguessable.
func NewToken(prefix string) string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
