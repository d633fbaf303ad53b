package database

import (
	"strconv"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresSource streams export rows from PostgreSQL
type PostgresSource struct {
	*sqlSource
}

// NewPostgresSource creates a PostgreSQL row source using $n placeholders
func NewPostgresSource(config DatabaseConfig, opts ...Option) *PostgresSource {
	return &PostgresSource{
		sqlSource: newSQLSource(config, func(n int) string { return "$" + strconv.Itoa(n) }, opts),
	}
}
