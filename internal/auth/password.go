package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordHashIterations = 1000
	passwordHashKeyLength  = 64
	passwordSaltLength     = 16
)

// NewSalt returns a fresh random password salt, hex encoded. A new salt is
// generated at account creation and at every password rotation.
func NewSalt() (string, error) {
	salt := make([]byte, passwordSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(salt), nil
}

// DeriveHash derives the stored password key from a password and a hex salt
// using PBKDF2-SHA512. The derivation is deterministic so the same inputs
// always produce the same hex-encoded key.
func DeriveHash(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), passwordHashIterations, passwordHashKeyLength, sha512.New)
	return hex.EncodeToString(key)
}

// VerifyPassword reports whether the candidate password derives to the stored
// hash under the stored salt. It never fails; any malformed input simply does
// not match.
func VerifyPassword(password, salt, expectedHash string) bool {
	derived := DeriveHash(password, salt)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(expectedHash)) == 1
}
