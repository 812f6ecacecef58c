package postgres

import (
	"context"
	"sync"

	"github.com/jkaninda/uamuzi/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL. It wraps the
// existing DB and lazily creates the run repository.
type Store struct {
	pgDB *DB

	mu   sync.Mutex
	runs storage.RunStore
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Runs() storage.RunStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = NewRunRepository(s.pgDB.GormDB())
	}
	return s.runs
}

func (s *Store) Migrate(_ context.Context) error {
	// PostgreSQL migration is done in Open() via autoMigrate.
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB returns the underlying DB wrapper for direct access when needed.
func (s *Store) GormDB() *DB {
	return s.pgDB
}
