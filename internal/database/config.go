package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Supported database types
const (
	TypeMySQL      = "mysql"
	TypePostgreSQL = "postgresql"
	TypePostgres   = "postgres"
)

// SupportedTypes lists the accepted values of DatabaseConfig.Type
var SupportedTypes = []string{TypePostgreSQL, TypeMySQL}

// DefaultSSLMode is the PostgreSQL sslmode used when none is configured
const DefaultSSLMode = "require"

// SupportedSSLModes lists the sslmode values lib/pq accepts
var SupportedSSLModes = []string{"disable", "require", "verify-ca", "verify-full"}

// DatabaseConfig holds the configuration parameters for database connection
type DatabaseConfig struct {
	Type     string        `mapstructure:"type" yaml:"type"`
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Database string        `mapstructure:"database" yaml:"database"`
	SSLMode  string        `mapstructure:"sslmode" yaml:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// IsPostgres reports whether the configured type selects the PostgreSQL backend
func (dc *DatabaseConfig) IsPostgres() bool {
	t := strings.ToLower(dc.Type)
	return t == TypePostgreSQL || t == TypePostgres
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	switch strings.ToLower(dc.Type) {
	case TypeMySQL, TypePostgreSQL, TypePostgres:
	case "":
		errs = append(errs, errors.New("database type is required"))
	default:
		errs = append(errs, fmt.Errorf("unsupported database type %q", dc.Type))
	}

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if dc.IsPostgres() && dc.SSLMode != "" && !isSupportedSSLMode(dc.SSLMode) {
		errs = append(errs, fmt.Errorf("unsupported sslmode %q (supported: %s)",
			dc.SSLMode, strings.Join(SupportedSSLModes, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %v", errs)
	}

	return nil
}

// SetDefaults fills the port, timeout and sslmode for the configured type
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Type == "" {
		dc.Type = TypePostgreSQL
	}
	if dc.Host == "" {
		dc.Host = "localhost"
	}
	if dc.Port == 0 {
		if dc.IsPostgres() {
			dc.Port = 5432
		} else {
			dc.Port = 3306
		}
	}
	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}
	if dc.SSLMode == "" && dc.IsPostgres() {
		dc.SSLMode = DefaultSSLMode
	}
}

func isSupportedSSLMode(mode string) bool {
	for _, m := range SupportedSSLModes {
		if m == mode {
			return true
		}
	}
	return false
}

// DriverName returns the database/sql driver registered for the type
func (dc *DatabaseConfig) DriverName() string {
	if dc.IsPostgres() {
		return "postgres"
	}
	return "mysql"
}

// DSN returns the Data Source Name for the configured driver
func (dc *DatabaseConfig) DSN() string {
	if dc.IsPostgres() {
		return dc.postgresDSN()
	}
	return dc.mysqlDSN()
}

func (dc *DatabaseConfig) mysqlDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = dc.Username
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
	cfg.DBName = dc.Database
	cfg.ParseTime = true
	cfg.Loc = time.Local
	if dc.Timeout > 0 {
		cfg.Timeout = dc.Timeout
	}
	return cfg.FormatDSN()
}

func (dc *DatabaseConfig) postgresDSN() string {
	parts := []string{
		"host=" + pqQuote(dc.Host),
		"port=" + strconv.Itoa(dc.Port),
		"user=" + pqQuote(dc.Username),
		"dbname=" + pqQuote(dc.Database),
	}
	if dc.Password != "" {
		parts = append(parts, "password="+pqQuote(dc.Password))
	}
	if dc.SSLMode != "" {
		parts = append(parts, "sslmode="+dc.SSLMode)
	}
	if dc.Timeout > 0 {
		secs := int(dc.Timeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, "connect_timeout="+strconv.Itoa(secs))
	}
	return strings.Join(parts, " ")
}

// pqQuote quotes a keyword/value connection parameter when needed
func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
