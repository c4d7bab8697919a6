package db

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig holds the configuration for MySQL connection pool
type MySQLConfig struct {
	// DSN is the data source name
	// Format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=Local"
	DSN string `yaml:"dsn"`

	PoolConfig `yaml:",inline"`
}

// NewMySQLWithConfig opens a pooled MySQL connection and verifies it with a ping.
func NewMySQLWithConfig(config *MySQLConfig) (*SQLDatabase, error) {
	if config == nil {
		return nil, errNilConfig
	}
	return openPool("mysql", config.DSN, config.PoolConfig, nil)
}

// NewMySQLWithDB wraps an existing MySQL handle.
func NewMySQLWithDB(conn *sql.DB) *SQLDatabase {
	return newSQLDatabase(conn, "mysql", nil)
}
