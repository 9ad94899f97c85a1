package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
)

// SQLiteStore keeps state in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path, table string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "sqlite state backend requires a path")
	}
	if !validIdentifier(table) {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid state table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open sqlite database").
			WithDetail("path", path)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		stream     TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`, table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to create state table").
			WithDetail("table", table)
	}

	return &SQLiteStore{
		db:     db,
		table:  table,
		logger: logger.With(zap.String("state_backend", BackendSQLite)),
	}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, stream string) (incremental.StreamState, error) {
	if err := validateStream(stream); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT state FROM %s WHERE stream = ?`, s.table), stream).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return incremental.StreamState{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to load state").
			WithDetail("stream", stream)
	}
	return decode([]byte(data))
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, stream string, state incremental.StreamState) error {
	if err := validateStream(stream); err != nil {
		return err
	}
	data, err := encode(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (stream, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(stream) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`, s.table),
		stream, string(data), time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to save state").
			WithDetail("stream", stream)
	}
	s.logger.Debug("saved state", zap.String("stream", stream))
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, stream string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE stream = ?`, s.table), stream)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to delete state").
			WithDetail("stream", stream)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
