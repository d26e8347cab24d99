package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 120_000
	saltLen          = 16
	digestLen        = sha256.Size
)

// HashPassword derives a PBKDF2-HMAC-SHA256 digest with a random salt
// and returns base64(salt || digest).
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, digestLen, sha256.New)
	return base64.StdEncoding.EncodeToString(append(salt, digest...)), nil
}

// VerifyPassword checks a candidate password against a stored hash in
// constant time. Malformed stored hashes verify as false.
func VerifyPassword(password, storedHash string) bool {
	raw, err := base64.StdEncoding.DecodeString(storedHash)
	if err != nil || len(raw) != saltLen+digestLen {
		return false
	}
	salt, digest := raw[:saltLen], raw[saltLen:]
	candidate := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, digestLen, sha256.New)
	return hmac.Equal(candidate, digest)
}
