package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
)

// ExportSpec describes one time-bounded slice of a table
type ExportSpec struct {
	Table       string
	DateColumn  string
	Start       time.Time // inclusive
	End         time.Time // exclusive
	ExtraFilter string
	BatchSize   int
}

// Validate rejects an empty table or column, a reversed range and a non-positive batch size
func (s ExportSpec) Validate() error {
	var errs []error
	if s.Table == "" {
		errs = append(errs, stderrors.New("table is required"))
	}
	if s.DateColumn == "" {
		errs = append(errs, stderrors.New("date column is required"))
	}
	if s.Start.After(s.End) {
		errs = append(errs, fmt.Errorf("start %s is after end %s",
			s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339)))
	}
	if s.BatchSize <= 0 {
		errs = append(errs, stderrors.New("batch size must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("export spec validation failed: %v", errs)
	}
	return nil
}

// ColumnSchema is the ordered list of result column names
type ColumnSchema []string

// RowBatch holds at most BatchSize rows. Field order matches the ColumnSchema.
type RowBatch [][]any

// RowSource is a database backend that can run one export query and stream its rows
type RowSource interface {
	Connect(ctx context.Context) error
	Disconnect() error
	BuildExportQuery(spec ExportSpec) (string, []any)
	Execute(ctx context.Context, query string, args []any) error
	Schema() ColumnSchema
	// NextBatch returns up to size rows, or io.EOF once the result is exhausted
	NextBatch(ctx context.Context, size int) (RowBatch, error)
}

// Opener opens a database handle; sql.Open by default
type Opener func(driverName, dsn string) (*sql.DB, error)

// Option configures a SQL row source
type Option func(*sqlSource)

// WithOpener replaces sql.Open, typically with one returning a mock handle
func WithOpener(open Opener) Option {
	return func(s *sqlSource) {
		s.open = open
	}
}

// WithLogger sets the logger used for connection and query logging
func WithLogger(logger *logging.Logger) Option {
	return func(s *sqlSource) {
		s.logger = logger
	}
}

// sqlSource implements RowSource on database/sql. Backends differ only in
// driver, DSN and placeholder syntax.
type sqlSource struct {
	config      DatabaseConfig
	open        Opener
	placeholder func(n int) string
	logger      *logging.Logger

	db      *sql.DB
	rows    *sql.Rows
	columns ColumnSchema
	done    bool
}

func newSQLSource(config DatabaseConfig, placeholder func(int) string, opts []Option) *sqlSource {
	s := &sqlSource{
		config:      config,
		open:        sql.Open,
		placeholder: placeholder,
		logger:      logging.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens the handle and verifies it with a ping
func (s *sqlSource) Connect(ctx context.Context) error {
	startTime := time.Now()

	s.logger.WithFields(map[string]interface{}{
		"type":     s.config.Type,
		"host":     s.config.Host,
		"port":     s.config.Port,
		"database": s.config.Database,
		"dsn":      logging.MaskDSN(s.config.DSN()),
	}).Debug("Connecting to database")

	err := s.connect(ctx)
	s.logger.LogDatabaseConnection(s.config.Host, s.config.Database, err == nil, time.Since(startTime), err)
	return err
}

func (s *sqlSource) connect(ctx context.Context) error {
	db, err := s.open(s.config.DriverName(), s.config.DSN())
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeConnection, "failed to open database connection")
	}

	// One query per run; a single connection keeps the cursor on one session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.WrapError(err, errors.ErrorTypeConnection, "failed to connect to database")
	}

	s.db = db
	return nil
}

// Disconnect closes any open cursor and the handle. Safe to call without Connect.
func (s *sqlSource) Disconnect() error {
	var errs []error
	if s.rows != nil {
		if err := s.rows.Close(); err != nil {
			errs = append(errs, err)
		}
		s.rows = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
		s.db = nil
		s.logger.Debug("Database connection closed")
	}
	if len(errs) > 0 {
		return errors.NewConnectionError("failed to close database connection", stderrors.Join(errs...))
	}
	return nil
}

// BuildExportQuery renders the range query. The bounds are always bound
// parameters; table, column and extra filter come from trusted configuration.
func (s *sqlSource) BuildExportQuery(spec ExportSpec) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s WHERE %s >= %s AND %s < %s",
		spec.Table, spec.DateColumn, s.placeholder(1), spec.DateColumn, s.placeholder(2))
	if extra := strings.TrimSpace(spec.ExtraFilter); extra != "" {
		fmt.Fprintf(&b, " AND (%s)", extra)
	}
	fmt.Fprintf(&b, " ORDER BY %s", spec.DateColumn)
	return b.String(), []any{spec.Start, spec.End}
}

// Execute runs the export query and captures the result columns
func (s *sqlSource) Execute(ctx context.Context, query string, args []any) error {
	if s.db == nil {
		return errors.NewQueryError("database is not connected", nil)
	}

	startTime := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.logger.LogSQLExecution(query, args, time.Since(startTime), err)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeQuery, "export query failed")
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return errors.WrapError(err, errors.ErrorTypeQuery, "failed to read result columns")
	}

	s.rows = rows
	s.columns = columns
	s.done = false
	return nil
}

// Schema returns the column names of the executed query
func (s *sqlSource) Schema() ColumnSchema {
	return s.columns
}

// NextBatch reads at most size rows from the open cursor
func (s *sqlSource) NextBatch(ctx context.Context, size int) (RowBatch, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.rows == nil {
		return nil, errors.NewQueryError("no query has been executed", nil)
	}
	if size <= 0 {
		return nil, errors.NewQueryError(fmt.Sprintf("invalid batch size %d", size), nil)
	}

	batch := make(RowBatch, 0, size)
	for len(batch) < size {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeQuery, "row fetch interrupted")
		}
		if !s.rows.Next() {
			if err := s.finish(); err != nil {
				return nil, err
			}
			break
		}

		values := make([]any, len(s.columns))
		dest := make([]any, len(s.columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := s.rows.Scan(dest...); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeQuery, "failed to scan row")
		}
		batch = append(batch, values)
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

func (s *sqlSource) finish() error {
	s.done = true
	err := s.rows.Err()
	s.rows.Close()
	s.rows = nil
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeQuery, "row iteration failed")
	}
	return nil
}
