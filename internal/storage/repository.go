package storage

import (
	"context"
	"io"

	"soundflow/internal/models"
)

// Repository exposes the datastore operations required by the API handlers:
// credential records, auth tokens, and the chunked track store.
type Repository interface {
	Ping(ctx context.Context) error

	// IsUsernameAvailable reports true when no user record exists for the
	// username, i.e. it is free to register.
	IsUsernameAvailable(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)
	GetUser(ctx context.Context, username string) (models.User, bool, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdatePassword(ctx context.Context, username, newSalt, newHash string) error
	DeleteAllUsers(ctx context.Context) error

	GetAuthToken(ctx context.Context, username string) (models.AuthToken, bool, error)
	DeleteAllAuthTokens(ctx context.Context) error

	// CreateTrack streams the payload into the chunk store under a freshly
	// generated track ID and records the object metadata.
	CreateTrack(ctx context.Context, name, contentType string, payload io.Reader) (models.Track, error)
	// OpenTrack returns the track metadata and a reader that yields the
	// stored chunks in order. The caller must close the reader.
	OpenTrack(ctx context.Context, id string) (models.Track, io.ReadCloser, error)
	ListTracks(ctx context.Context) ([]models.Track, error)
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*postgresRepository)(nil)
)
