package models

import "time"

// User is a registered SoundFlow account. The password is never stored in the
// clear; only the PBKDF2 salt and derived key are persisted.
type User struct {
	ID           string
	Username     string
	FirstName    string
	LastName     string
	PasswordSalt string
	PasswordHash string
	CreatedAt    time.Time
}

// AuthToken binds a signed bearer token to a username. Exactly one token is
// issued per user, at registration time.
type AuthToken struct {
	Username string
	Token    string
	IssuedAt time.Time
}

// Track describes a stored audio object. The payload itself lives in the
// chunk store and is addressed by ID.
type Track struct {
	ID          string
	Name        string
	SizeBytes   int64
	ContentType string
	ChunkSize   int
	CreatedAt   time.Time
}
