package storage

import "errors"

// ChunkSize is the payload size of a single stored track chunk. Uploads are
// segmented at this boundary so downloads can stream without buffering the
// whole object.
const ChunkSize = 255 * 1024

var (
	// ErrUsernameTaken is returned when registering a username that already
	// has a user record. The storage layer enforces uniqueness, so concurrent
	// registrations of the same username cannot both succeed.
	ErrUsernameTaken = errors.New("username already exists")

	// ErrUserNotFound is returned when a username has no user record.
	ErrUserNotFound = errors.New("user does not exist")

	// ErrTrackNotFound is returned when a track ID has no stored object.
	ErrTrackNotFound = errors.New("track not found")

	// ErrInvalidTrackID is returned for identifiers that are not 24 hex
	// characters. Validation happens before any store access.
	ErrInvalidTrackID = errors.New("malformed track id")
)

// CreateUserParams carries everything persisted during registration. The
// token is issued by the caller and stored in the same transaction as the
// user record.
type CreateUserParams struct {
	Username     string
	FirstName    string
	LastName     string
	PasswordSalt string
	PasswordHash string
	Token        string
}
