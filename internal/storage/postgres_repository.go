package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"soundflow/internal/models"
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists. The unique index on usernames is what closes the
// concurrent-registration race.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			password_salt TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS auth_tokens (
			username TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			issued_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			chunk_size INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS track_chunks (
			track_id TEXT NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			data BYTEA NOT NULL,
			PRIMARY KEY (track_id, chunk_index)
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool, bounded by the provided context.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) IsUsernameAvailable(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return !exists, nil
}

func (r *postgresRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
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

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("begin registration: %w", err)
	}
	defer rollbackTx(ctx, tx)

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, username, first_name, last_name, password_salt, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Username, user.FirstName, user.LastName, user.PasswordSalt, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, fmt.Errorf("insert user %s: %w", username, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO auth_tokens (username, token, issued_at) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET token = EXCLUDED.token, issued_at = EXCLUDED.issued_at`,
		username, params.Token, now)
	if err != nil {
		return models.User{}, fmt.Errorf("insert auth token %s: %w", username, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.User{}, fmt.Errorf("commit registration: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, username string) (models.User, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, first_name, last_name, password_salt, password_hash, created_at
		 FROM users WHERE username = $1`, username)
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName, &user.PasswordSalt, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, false, nil
		}
		return models.User{}, false, fmt.Errorf("find user %s: %w", username, err)
	}
	return user, true, nil
}

func (r *postgresRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, first_name, last_name, password_salt, password_hash, created_at
		 FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.FirstName, &user.LastName, &user.PasswordSalt, &user.PasswordHash, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (r *postgresRepository) UpdatePassword(ctx context.Context, username, newSalt, newHash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_salt = $2, password_hash = $3 WHERE username = $1`,
		username, newSalt, newHash)
	if err != nil {
		return fmt.Errorf("update password %s: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *postgresRepository) DeleteAllUsers(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("delete users: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetAuthToken(ctx context.Context, username string) (models.AuthToken, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT username, token, issued_at FROM auth_tokens WHERE username = $1`, username)
	var token models.AuthToken
	if err := row.Scan(&token.Username, &token.Token, &token.IssuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AuthToken{}, false, nil
		}
		return models.AuthToken{}, false, fmt.Errorf("find auth token %s: %w", username, err)
	}
	return token, true, nil
}

func (r *postgresRepository) DeleteAllAuthTokens(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM auth_tokens`); err != nil {
		return fmt.Errorf("delete auth tokens: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
