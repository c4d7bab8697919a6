package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PoolConfig holds connection pool settings shared by all drivers.
type PoolConfig struct {
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
}

func (p *PoolConfig) applyDefaults() {
	if p.MaxOpenConnections == 0 {
		p.MaxOpenConnections = 25
	}
	if p.MaxIdleConnections == 0 {
		p.MaxIdleConnections = 5
	}
	if p.ConnMaxLifetime == 0 {
		p.ConnMaxLifetime = 5 * time.Minute
	}
	if p.ConnMaxIdleTime == 0 {
		p.ConnMaxIdleTime = 10 * time.Minute
	}
}

// SQLDatabase implements Database over database/sql.
type SQLDatabase struct {
	db     *sql.DB
	driver string
	rebind func(string) string
}

func openPool(driver, dsn string, pool PoolConfig, rebind func(string) string) (*SQLDatabase, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	pool.applyDefaults()

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	conn.SetMaxOpenConns(pool.MaxOpenConnections)
	conn.SetMaxIdleConns(pool.MaxIdleConnections)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newSQLDatabase(conn, driver, rebind), nil
}

func newSQLDatabase(conn *sql.DB, driver string, rebind func(string) string) *SQLDatabase {
	if rebind == nil {
		rebind = func(q string) string { return q }
	}
	return &SQLDatabase{db: conn, driver: driver, rebind: rebind}
}

func (d *SQLDatabase) Driver() string {
	return d.driver
}

func (d *SQLDatabase) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return d.db.QueryContext(ctx, d.rebind(query), args...)
}

func (d *SQLDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return d.db.QueryRowContext(ctx, d.rebind(query), args...)
}

func (d *SQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

func (d *SQLDatabase) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *SQLDatabase) Close() error {
	return d.db.Close()
}

var _ Database = (*SQLDatabase)(nil)
