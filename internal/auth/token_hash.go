package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashToken derives the storage key for a bearer token so shared backends
// never hold the raw credential.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
