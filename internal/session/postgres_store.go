package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresClient is the slice of pgx needed by the session store. Both
// *pgx.Conn and *pgxpool.Pool satisfy it.
type PostgresClient interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists session documents in a Postgres table with a
// JSONB document column.
type PostgresStore struct {
	client PostgresClient
	table  string
	pool   *pgxpool.Pool
}

// PostgresStoreOption configures a PostgresStore.
type PostgresStoreOption func(*PostgresStore)

// WithTable overrides the table name (default "vigil_sessions").
func WithTable(table string) PostgresStoreOption {
	return func(s *PostgresStore) { s.table = table }
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(client PostgresClient, opts ...PostgresStoreOption) *PostgresStore {
	s := &PostgresStore{
		client: client,
		table:  "vigil_sessions",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConnectPostgres opens a connection pool and returns a store bound to
// it, ensuring the schema exists.
func ConnectPostgres(ctx context.Context, url string, opts ...PostgresStoreOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewPostgresStore(pool, opts...)
	s.pool = pool
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool, if the store owns one.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureSchema creates the sessions table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.client.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id       TEXT PRIMARY KEY,
			doc      JSONB NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("create %s table: %w", s.table, err)
	}
	return nil
}

// Save writes the full history and metadata for a session.
func (s *PostgresStore) Save(ctx context.Context, id string, history []Message, meta Metadata) error {
	doc := newDocument(id, history, meta)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", id, err)
	}

	_, err = s.client.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, doc, saved_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, saved_at = EXCLUDED.saved_at`, s.table),
		id, data, doc.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

// Load retrieves a session document, or nil if none exists. A row whose
// document no longer parses reads as absent.
func (s *PostgresStore) Load(ctx context.Context, id string) (*Document, error) {
	var data []byte
	err := s.client.QueryRow(ctx,
		fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, s.table), id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil
	}
	return &doc, nil
}

// Delete removes a session row, reporting whether one was removed.
func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.client.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id)
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns the IDs of all persisted sessions, sorted.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.client.Query(ctx,
		fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, s.table))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
