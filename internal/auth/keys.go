// Package auth holds the token digests used to authenticate API callers.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashToken returns the hex SHA-256 digest of a trimmed token.
func HashToken(token string) string {
	token = strings.TrimSpace(token)

	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Verify reports whether presented hashes to digest.
func Verify(presented, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(HashToken(presented)), []byte(digest)) == 1
}
