package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"

	"github.com/dukerupert/cartsync/internal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgQuerier is the subset of pgxpool.Pool used by PostgresStorage.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStorage implements Storage on a single cart_blobs table.
type PostgresStorage struct {
	db   pgQuerier
	pool *pgxpool.Pool
}

// NewPostgresStorage runs pending migrations and opens a connection pool.
func NewPostgresStorage(ctx context.Context, databaseURL string) (*PostgresStorage, error) {
	if databaseURL == "" {
		return nil, ErrDatabaseURLRequired
	}

	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, wrapStorageError(err, "database connection failed")
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, wrapStorageError(err, "database ping failed")
	}
	if err := internal.RunMigrations(sqlDB); err != nil {
		return nil, wrapStorageError(err, "migration failed")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, wrapStorageError(err, "failed to create connection pool")
	}

	return &PostgresStorage{db: pool, pool: pool}, nil
}

func (s *PostgresStorage) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	if key == "" {
		return ErrEmptyKey
	}
	b, err := io.ReadAll(content)
	if err != nil {
		return wrapStorageError(err, "failed to read content")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO cart_blobs (key, content, content_type, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET content = EXCLUDED.content,
		    content_type = EXCLUDED.content_type,
		    updated_at = NOW()`,
		key, b, contentType,
	)
	if err != nil {
		return wrapStorageError(err, "failed to store value")
	}
	return nil
}

func (s *PostgresStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var b []byte
	err := s.db.QueryRow(ctx, `SELECT content FROM cart_blobs WHERE key = $1`, key).Scan(&b)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound(key)
		}
		return nil, wrapStorageError(err, "failed to load value")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *PostgresStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM cart_blobs WHERE key = $1`, key); err != nil {
		return wrapStorageError(err, "failed to delete value")
	}
	return nil
}

func (s *PostgresStorage) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cart_blobs WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, wrapStorageError(err, "failed to check existence")
	}
	return exists, nil
}

// Close releases the connection pool.
func (s *PostgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
