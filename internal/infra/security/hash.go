package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonSaltLen         = 16
	argonTime     uint32 = 1
	argonMemory   uint32 = 64 * 1024
	argonThreads  uint8  = 4
	argonKeyLen   uint32 = 32
	hashSeparator        = ":"
)

// HashPassword derives an Argon2id key from the password under a fresh
// random salt. The stored form is "<salt>:<key>", both parts standard base64.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return base64.StdEncoding.EncodeToString(salt) + hashSeparator + base64.StdEncoding.EncodeToString(key), nil
}

// VerifyPassword reports whether the password matches the stored credential.
// The comparison is constant-time; an empty password never matches.
func VerifyPassword(password, encoded string) (bool, error) {
	if password == "" || encoded == "" {
		return false, nil
	}

	saltPart, keyPart, found := strings.Cut(encoded, hashSeparator)
	if !found {
		return false, fmt.Errorf("malformed credential hash")
	}

	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	stored, err := base64.StdEncoding.DecodeString(keyPart)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	derived := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, uint32(len(stored)))

	return subtle.ConstantTimeCompare(derived, stored) == 1, nil
}
