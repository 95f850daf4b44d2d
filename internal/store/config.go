package store

import (
	"fmt"
	"time"
)

// Dialect selects the SQL flavour of the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config describes how to reach the outcome database.
type Config struct {
	Driver Dialect `yaml:"driver" validate:"omitempty,oneof=sqlite postgres"`
	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// DefaultConfig stores outcomes in ./data/outcomes.db.
func DefaultConfig() Config {
	return Config{Driver: DialectSQLite, DSN: "data/outcomes.db", MaxOpenConns: 10}
}

// Lifetime returns the connection max lifetime as a duration.
func (c Config) Lifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

func (c Config) dialect() (Dialect, error) {
	switch c.Driver {
	case "", DialectSQLite:
		return DialectSQLite, nil
	case DialectPostgres:
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported store driver %q", c.Driver)
}
