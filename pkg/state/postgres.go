package state

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
)

// PostgresStore keeps state in a JSONB column keyed by stream name.
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// NewPostgresStore connects to dsn and creates the state table if needed.
func NewPostgresStore(ctx context.Context, dsn, table string, logger *zap.Logger) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "postgres state backend requires a dsn")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}
	// checkpoints are small and infrequent
	poolConfig.MaxConns = 2
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}

	s := &PostgresStore{
		pool:   pool,
		table:  pgx.Identifier{table}.Sanitize(),
		logger: logger.With(zap.String("state_backend", BackendPostgres)),
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		stream     TEXT PRIMARY KEY,
		state      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to create state table").
			WithDetail("table", table)
	}
	return s, nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, stream string) (incremental.StreamState, error) {
	if err := validateStream(stream); err != nil {
		return nil, err
	}
	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT state FROM %s WHERE stream = $1`, s.table), stream).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return incremental.StreamState{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to load state").
			WithDetail("stream", stream)
	}
	return decode(data)
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, stream string, state incremental.StreamState) error {
	if err := validateStream(stream); err != nil {
		return err
	}
	data, err := encode(state)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (stream, state, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (stream) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`, s.table),
		stream, string(data))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to save state").
			WithDetail("stream", stream)
	}
	s.logger.Debug("saved state", zap.String("stream", stream))
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, stream string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE stream = $1`, s.table), stream)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to delete state").
			WithDetail("stream", stream)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
