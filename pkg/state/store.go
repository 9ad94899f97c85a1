// Package state persists stream checkpoints between syncs. A checkpoint is the
// opaque {cursor_field: cursor_value} map produced by the incremental cursor.
package state

import (
	"context"
	"strings"
	"sync"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// DefaultTable is the table used by the SQL backends.
const DefaultTable = "nebula_stream_state"

// Store loads and saves stream checkpoints.
type Store interface {
	// Load returns the saved state for stream, or an empty state if none exists.
	Load(ctx context.Context, stream string) (incremental.StreamState, error)
	Save(ctx context.Context, stream string, state incremental.StreamState) error
	Delete(ctx context.Context, stream string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path is the directory for the file backend or the database file for sqlite.
	Path  string `mapstructure:"path" yaml:"path,omitempty"`
	DSN   string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Table string `mapstructure:"table" yaml:"table,omitempty"`
}

// Open creates the store described by cfg.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}

	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.Path, logger)
	case BackendPostgres:
		return NewPostgresStore(ctx, cfg.DSN, table, logger)
	case BackendSQLite:
		return NewSQLiteStore(ctx, cfg.Path, table, logger)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown state backend %q", cfg.Backend)
	}
}

func validateStream(stream string) error {
	if stream == "" {
		return errors.New(errors.ErrorTypeValidation, "stream name is required")
	}
	if strings.ContainsAny(stream, `/\`) || stream == "." || stream == ".." {
		return errors.Newf(errors.ErrorTypeValidation, "invalid stream name %q", stream)
	}
	return nil
}

func encode(state incremental.StreamState) ([]byte, error) {
	if state == nil {
		state = incremental.StreamState{}
	}
	data, err := gojson.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
	}
	return data, nil
}

func decode(data []byte) (incremental.StreamState, error) {
	st := incremental.StreamState{}
	if len(data) == 0 {
		return st, nil
	}
	if err := gojson.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to decode state")
	}
	return st, nil
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, stream string) (incremental.StreamState, error) {
	if err := validateStream(stream); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data := m.states[stream]
	m.mu.RUnlock()
	return decode(data)
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, stream string, state incremental.StreamState) error {
	if err := validateStream(stream); err != nil {
		return err
	}
	data, err := encode(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.states[stream] = data
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, stream string) error {
	m.mu.Lock()
	delete(m.states, stream)
	m.mu.Unlock()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
