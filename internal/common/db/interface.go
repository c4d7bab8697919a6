package db

import "context"

// Database is the relational store abstraction used by repositories.
// Queries use '?' placeholders; drivers that need another bind style rewrite them.
type Database interface {
	Querier

	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close releases the connection pool
	Close() error

	// Driver returns the driver name ("mysql" or "postgres").
	Driver() string
}

// Querier runs statements against the pool.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Rows is the result set of a query.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is a single-row query result.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
