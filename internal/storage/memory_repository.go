package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"soundflow/internal/models"
)

// MemoryRepository keeps all records in process memory. It backs development
// runs and tests; production deployments use the Postgres repository.
type MemoryRepository struct {
	mu     sync.RWMutex
	users  map[string]models.User
	tokens map[string]models.AuthToken
	tracks map[string]*memoryTrack
}

type memoryTrack struct {
	meta   models.Track
	chunks [][]byte
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:  make(map[string]models.User),
		tokens: make(map[string]models.AuthToken),
		tracks: make(map[string]*memoryTrack),
	}
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) IsUsernameAvailable(ctx context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.users[username]
	return !exists, nil
}

func (r *MemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return models.User{}, fmt.Errorf("username is required")
	}
	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	now := time.Now().UTC()
	user := models.User{
		ID:           id,
		Username:     username,
		FirstName:    strings.TrimSpace(params.FirstName),
		LastName:     strings.TrimSpace(params.LastName),
		PasswordSalt: params.PasswordSalt,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[username]; exists {
		return models.User{}, ErrUsernameTaken
	}
	r.users[username] = user
	r.tokens[username] = models.AuthToken{Username: username, Token: params.Token, IssuedAt: now}
	return user, nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, username string) (models.User, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[username]
	return user, ok, nil
}

func (r *MemoryRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]models.User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (r *MemoryRepository) UpdatePassword(ctx context.Context, username, newSalt, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[username]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordSalt = newSalt
	user.PasswordHash = newHash
	r.users[username] = user
	return nil
}

func (r *MemoryRepository) DeleteAllUsers(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]models.User)
	return nil
}

func (r *MemoryRepository) GetAuthToken(ctx context.Context, username string) (models.AuthToken, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[username]
	return token, ok, nil
}

func (r *MemoryRepository) DeleteAllAuthTokens(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = make(map[string]models.AuthToken)
	return nil
}

func (r *MemoryRepository) CreateTrack(ctx context.Context, name, contentType string, payload io.Reader) (models.Track, error) {
	id, err := NewTrackID()
	if err != nil {
		return models.Track{}, err
	}

	var (
		chunks [][]byte
		size   int64
	)
	buf := make([]byte, ChunkSize)
	for {
		n, readErr := io.ReadFull(payload, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks = append(chunks, chunk)
			size += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return models.Track{}, fmt.Errorf("read track payload: %w", readErr)
		}
	}

	meta := models.Track{
		ID:          id,
		Name:        strings.TrimSpace(name),
		SizeBytes:   size,
		ContentType: contentType,
		ChunkSize:   ChunkSize,
		CreatedAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks[id] = &memoryTrack{meta: meta, chunks: chunks}
	return meta, nil
}

func (r *MemoryRepository) OpenTrack(ctx context.Context, id string) (models.Track, io.ReadCloser, error) {
	if err := ValidateTrackID(id); err != nil {
		return models.Track{}, nil, err
	}
	r.mu.RLock()
	track, ok := r.tracks[id]
	r.mu.RUnlock()
	if !ok {
		return models.Track{}, nil, ErrTrackNotFound
	}
	return track.meta, &memoryTrackReader{chunks: track.chunks}, nil
}

func (r *MemoryRepository) ListTracks(ctx context.Context) ([]models.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tracks := make([]models.Track, 0, len(r.tracks))
	for _, track := range r.tracks {
		tracks = append(tracks, track.meta)
	}
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].CreatedAt.Before(tracks[j].CreatedAt) })
	return tracks, nil
}

type memoryTrackReader struct {
	chunks [][]byte
	index  int
	offset int
}

func (r *memoryTrackReader) Read(p []byte) (int, error) {
	for r.index < len(r.chunks) {
		chunk := r.chunks[r.index]
		if r.offset < len(chunk) {
			n := copy(p, chunk[r.offset:])
			r.offset += n
			return n, nil
		}
		r.index++
		r.offset = 0
	}
	return 0, io.EOF
}

func (r *memoryTrackReader) Close() error { return nil }
