package db

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var errNilConfig = errors.New("config cannot be nil")

// PostgreSQLConfig holds the configuration for PostgreSQL connection pool
type PostgreSQLConfig struct {
	// DSN is the data source name
	// Format: "user=postgres password=password host=localhost port=5432 dbname=dbname sslmode=disable"
	DSN string `yaml:"dsn"`

	PoolConfig `yaml:",inline"`
}

// NewPostgreSQLWithConfig opens a pooled PostgreSQL connection.
// Queries written with '?' placeholders are rebound to $n.
func NewPostgreSQLWithConfig(config *PostgreSQLConfig) (*SQLDatabase, error) {
	if config == nil {
		return nil, errNilConfig
	}
	return openPool("postgres", config.DSN, config.PoolConfig, rebindDollar)
}

// NewPostgreSQLWithDB wraps an existing PostgreSQL handle.
func NewPostgreSQLWithDB(conn *sql.DB) *SQLDatabase {
	return newSQLDatabase(conn, "postgres", rebindDollar)
}

func rebindDollar(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}
