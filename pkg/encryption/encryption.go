package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IsHashed reports whether value already looks like a bcrypt hash.
func IsHashed(value string) bool {
	if _, err := bcrypt.Cost([]byte(value)); err != nil {
		return false
	}
	return strings.HasPrefix(value, "$2")
}

// GenerateRandomString returns n random bytes as unpadded URL-safe base64,
// usable in URLs, forms and headers without escaping.
func GenerateRandomString(n int) string {
	buf := make([]byte, n)
	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
