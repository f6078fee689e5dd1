package persistence

import (
	"database/sql"

	"clarity/pkg/logx"
)

// Store wraps the database connection for all pipeline persistence. It is
// safe for concurrent use; SQLite serializes writes behind the single-writer
// connection configured by Open.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// NewStore wraps an already-open database. Open is the usual entry point;
// tests use NewStore with an in-memory database.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: logx.NewLogger("persistence"),
	}
}

// DB exposes the underlying connection for schema inspection in tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return logx.Wrap(err, "failed to close database")
	}
	return nil
}
