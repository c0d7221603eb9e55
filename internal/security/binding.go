package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// RefreshBindingHash returns the hex SHA-256 of the raw refresh token. The
// session row stores this hash, never the token itself, so a database leak
// does not leak usable refresh tokens.
func RefreshBindingHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshBindingEqual compares the presented token's hash against the stored
// hash in constant time.
func RefreshBindingEqual(presented, storedHash string) bool {
	got := RefreshBindingHash(presented)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}
