package database

import (
	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLSource streams export rows from MySQL
type MySQLSource struct {
	*sqlSource
}

// NewMySQLSource creates a MySQL row source. The DSN enables parseTime so
// DATETIME columns arrive as time.Time.
func NewMySQLSource(config DatabaseConfig, opts ...Option) *MySQLSource {
	return &MySQLSource{
		sqlSource: newSQLSource(config, func(int) string { return "?" }, opts),
	}
}
