package database

import (
	"strings"

	"db-backup/internal/errors"
)

// NewRowSource returns the backend for config.Type
func NewRowSource(config DatabaseConfig, opts ...Option) (RowSource, error) {
	switch strings.ToLower(config.Type) {
	case TypeMySQL:
		return NewMySQLSource(config, opts...), nil
	case TypePostgreSQL, TypePostgres:
		return NewPostgresSource(config, opts...), nil
	default:
		return nil, errors.NewUnsupportedBackendError(config.Type, SupportedTypes)
	}
}
