package db

import "fmt"

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config selects one of the supported drivers.
type Config struct {
	Driver   string           `yaml:"driver"`
	MySQL    MySQLConfig      `yaml:"mysql"`
	Postgres PostgreSQLConfig `yaml:"postgres"`
}

// Open connects using the configured driver. An empty driver means MySQL.
func Open(cfg Config) (*SQLDatabase, error) {
	switch cfg.Driver {
	case "", DriverMySQL:
		return NewMySQLWithConfig(&cfg.MySQL)
	case DriverPostgres, "postgresql":
		return NewPostgreSQLWithConfig(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
