package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeSHA256FromBytes computes the SHA256 hash of a byte slice.
// Used to stamp generated artifacts with a content checksum.
//
// Returns the lowercase hexadecimal digest (64 characters).
func ComputeSHA256FromBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
