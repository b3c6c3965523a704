package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// keyLen is the derived key length.
	keyLen = 32
	// hashPrefix tags the encoded format so it can be versioned later.
	hashPrefix = "pbkdf2"
)

// HashAPIKey derives a PBKDF2-HMAC-SHA256 hash of an API key suitable for
// storing in configuration instead of the plaintext key. The encoded form is
// "pbkdf2$<base64 salt>$<base64 hash>".
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("crypto: api key must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}

	derived := pbkdf2.Key([]byte(key), salt, pbkdf2Iterations, keyLen, sha256.New)

	return strings.Join([]string{
		hashPrefix,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(derived),
	}, "$"), nil
}

// VerifyAPIKey reports whether key matches an encoded hash produced by
// HashAPIKey. Comparison is constant-time in the derived output.
func VerifyAPIKey(key, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != hashPrefix {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}

	derived := pbkdf2.Key([]byte(key), salt, pbkdf2Iterations, len(want), sha256.New)
	return hmac.Equal(derived, want)
}
