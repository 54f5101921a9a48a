package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const hashIterations = 100000

// HashIP derives a one-way token from a client IP using PBKDF2-SHA256.
// The same salt and IP always produce the same token, so hashed IPs stay
// comparable without storing the address itself.
func HashIP(salt, clientIP string) []byte {
	return pbkdf2.Key([]byte(clientIP), []byte(salt), hashIterations, sha256.Size, sha256.New)
}
