package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const trackIDBytes = 12

func generateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// NewTrackID returns a fresh object identifier: 12 random bytes rendered as
// 24 hex characters.
func NewTrackID() (string, error) {
	bytes := make([]byte, trackIDBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate track id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// ValidateTrackID rejects identifiers that are not the hex encoding of a
// 12-byte object ID.
func ValidateTrackID(id string) error {
	if len(id) != trackIDBytes*2 {
		return ErrInvalidTrackID
	}
	if _, err := hex.DecodeString(id); err != nil {
		return ErrInvalidTrackID
	}
	return nil
}
