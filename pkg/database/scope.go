package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Scope wraps one pooled connection for the lifetime of a request or cycle phase.
// The connection is safe for use by one goroutine at a time.
type Scope struct {
	Conn *pgxpool.Conn
}

// Close releases the connection to the pool. Safe to call more than once.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
	s.Conn = nil
}

// Acquire takes a connection from the pool.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Scope{Conn: conn}, nil
}
