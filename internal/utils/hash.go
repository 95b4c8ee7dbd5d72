package utils

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashToken returns the digest under which a raw token is persisted and
// looked up. Raw token strings are never written to the database.
func HashToken(raw string) string {
	hasher := sha256.New()
	hasher.Write([]byte(raw))
	return base64.URLEncoding.EncodeToString(hasher.Sum(nil))
}
