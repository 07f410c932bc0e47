// Package assets derives stable identifiers for asset paths referenced by
// scripts and provides a byte-budgeted LRU cache hosts use for prefetch.
package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// ID is the FNV-1a 64-bit hash of an asset path.
type ID uint64

// IDOf hashes path.
func IDOf(path string) ID {
	h := fnv.New64a()
	h.Write([]byte(path))
	return ID(h.Sum64())
}

func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ID128 is the first 16 bytes of SHA-256 over an asset path. It exists for
// hosts migrating asset tables to a wider key.
type ID128 [16]byte

// ID128Of hashes path.
func ID128Of(path string) ID128 {
	sum := sha256.Sum256([]byte(path))
	var id ID128
	copy(id[:], sum[:16])
	return id
}

func (id ID128) String() string {
	return hex.EncodeToString(id[:])
}
