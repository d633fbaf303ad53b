package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// ErrorType represents the stage-local failure kinds of a backup run
type ErrorType string

const (
	// ErrorTypeConnection represents database connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeQuery represents export query errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeNoColumns means the executed query has no describable result
	ErrorTypeNoColumns ErrorType = "no_columns"
	// ErrorTypeWrite represents local export file write errors
	ErrorTypeWrite ErrorType = "write"
	// ErrorTypeInputNotFound means the file to encrypt or decrypt is missing
	ErrorTypeInputNotFound ErrorType = "input_not_found"
	// ErrorTypeEncryption represents encryption engine failures
	ErrorTypeEncryption ErrorType = "encryption"
	// ErrorTypeDecryption represents decryption and integrity failures
	ErrorTypeDecryption ErrorType = "decryption"
	// ErrorTypeWrongPassphrase means the passphrase does not open the file
	ErrorTypeWrongPassphrase ErrorType = "wrong_passphrase"
	// ErrorTypeLocalFileMissing means the file to upload is missing
	ErrorTypeLocalFileMissing ErrorType = "local_file_missing"
	// ErrorTypeUpload represents object store transfer errors
	ErrorTypeUpload ErrorType = "upload"
	// ErrorTypeContainerCreate represents bucket/container probe or create errors
	ErrorTypeContainerCreate ErrorType = "container_create"
	// ErrorTypeStorage represents other object store errors (list, download, delete)
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeConfiguration represents invalid or incomplete configuration
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeUnsupportedBackend means no RowSource exists for the database type
	ErrorTypeUnsupportedBackend ErrorType = "unsupported_backend"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type. It lets callers
// write errors.Is(err, &AppError{Type: ErrorTypeQuery}).
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && t.Message == ""
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether re-running the backup may succeed
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the message shown to operators
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// Stage error constructors

func NewConnectionError(message string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeConnection, message, cause)
}

func NewQueryError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeQuery, message, cause)
}

func NewNoColumnsError(message string) *AppError {
	return NewAppError(ErrorTypeNoColumns, message, nil)
}

func NewWriteError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeWrite, message, cause)
}

func NewInputNotFoundError(path string) *AppError {
	return NewAppError(ErrorTypeInputNotFound, fmt.Sprintf("input file not found: %s", path), nil).
		WithContext("path", path)
}

func NewEncryptionError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeEncryption, message, cause)
}

func NewDecryptionError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeDecryption, message, cause)
}

func NewWrongPassphraseError(cause error) *AppError {
	return NewAppError(ErrorTypeWrongPassphrase, "passphrase does not decrypt the file", cause)
}

func NewLocalFileMissingError(path string) *AppError {
	return NewAppError(ErrorTypeLocalFileMissing, fmt.Sprintf("local file not found: %s", path), nil).
		WithContext("path", path)
}

func NewUploadError(message string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeUpload, message, cause)
}

func NewContainerCreateError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeContainerCreate, message, cause)
}

func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeStorage, message, cause)
}

func NewConfigurationError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, cause)
}

func NewUnsupportedBackendError(backend string, supported []string) *AppError {
	return NewAppError(ErrorTypeUnsupportedBackend,
		fmt.Sprintf("unsupported database type: %s (supported: %s)", backend, strings.Join(supported, ", ")), nil).
		WithContext("backend", backend)
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	// Check if it's already an AppError
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}

	if pqErr := ec.classifyPostgresError(err); pqErr != nil {
		return pqErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	// Default to unknown error
	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyMySQLError classifies MySQL-specific errors
func (ec *ErrorClassifier) classifyMySQLError(err error) *AppError {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return nil
	}

	switch mysqlErr.Number {
	case 1045: // Access denied
		return NewAppError(ErrorTypePermission,
			"Database access denied - check username and password", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	case 1049: // Unknown database
		return NewAppError(ErrorTypeConnection,
			"Database does not exist", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	case 1142: // SELECT command denied
		return NewAppError(ErrorTypePermission,
			"SELECT permission denied on the export table", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	case 1146: // Table doesn't exist
		return NewAppError(ErrorTypeQuery,
			"Table does not exist", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	case 1054: // Unknown column
		return NewAppError(ErrorTypeQuery,
			"Column does not exist", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	case 1064: // SQL syntax error
		return NewAppError(ErrorTypeQuery,
			"SQL syntax error - check the extra filter expression", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	case 2003: // Can't connect to MySQL server
		return NewRecoverableError(ErrorTypeConnection,
			"Cannot connect to MySQL server - server may be down or unreachable", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	case 2006, 2013: // Server has gone away, lost connection during query
		return NewRecoverableError(ErrorTypeConnection,
			"MySQL server connection lost", err).
			WithContext("mysql_error_code", mysqlErr.Number)
	default:
		return NewAppError(ErrorTypeQuery,
			fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
			WithContext("mysql_error_code", mysqlErr.Number)
	}
}

// classifyPostgresError classifies PostgreSQL errors by SQLSTATE class
func (ec *ErrorClassifier) classifyPostgresError(err error) *AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	code := string(pqErr.Code)
	switch {
	case code == "28P01" || code == "28000": // invalid password / authorization
		return NewAppError(ErrorTypePermission,
			"Database access denied - check username and password", err).
			WithContext("pg_error_code", code)
	case code == "3D000": // invalid catalog name
		return NewAppError(ErrorTypeConnection,
			"Database does not exist", err).
			WithContext("pg_error_code", code)
	case code == "42501": // insufficient privilege
		return NewAppError(ErrorTypePermission,
			"SELECT permission denied on the export table", err).
			WithContext("pg_error_code", code)
	case code == "42P01":
		return NewAppError(ErrorTypeQuery,
			"Table does not exist", err).
			WithContext("pg_error_code", code)
	case code == "42703":
		return NewAppError(ErrorTypeQuery,
			"Column does not exist", err).
			WithContext("pg_error_code", code)
	case code == "42601":
		return NewAppError(ErrorTypeQuery,
			"SQL syntax error - check the extra filter expression", err).
			WithContext("pg_error_code", code)
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"):
		return NewRecoverableError(ErrorTypeConnection,
			"PostgreSQL connection failure", err).
			WithContext("pg_error_code", code)
	default:
		return NewAppError(ErrorTypeQuery,
			fmt.Sprintf("PostgreSQL error: %s", pqErr.Message), err).
			WithContext("pg_error_code", code)
	}
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout,
			"Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection,
				"Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection,
				"Network I/O error", err)
		}
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout,
			"Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption,
			"Operation was canceled", err)
	}

	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.ENOENT:
			return NewAppError(ErrorTypeWrite,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case syscall.EACCES:
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return NewAppError(ErrorTypeWrite,
				"No space left on device", err)
		}
	}

	return nil
}

// IsType reports whether err carries an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Type == errorType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IsRecoverable()
	}
	return false
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	return "An unexpected error occurred. Please check the logs for more details."
}

// WrapError wraps an existing error as the given stage type. The driver-level
// classification is kept as the user message so operators see the real cause.
func WrapError(err error, errorType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}

	classified := NewErrorClassifier().ClassifyError(err)
	wrapped := NewAppError(errorType, message, err)
	wrapped.Recoverable = classified.Recoverable
	if classified.Type != ErrorTypeUnknown {
		wrapped.UserMessage = fmt.Sprintf("%s: %s", message, classified.GetUserMessage())
	}
	for k, v := range classified.Context {
		wrapped.Context[k] = v
	}
	return wrapped
}

// TroubleshootingHints returns operator hints for an error type
func TroubleshootingHints(errorType ErrorType) []string {
	switch errorType {
	case ErrorTypeConnection:
		return []string{
			"Check that the database server is running",
			"Verify the host and port are correct",
			"Ensure network connectivity to the database server",
		}
	case ErrorTypePermission:
		return []string{
			"Verify the username and password are correct",
			"Check that the user has SELECT permission on the export table",
		}
	case ErrorTypeQuery, ErrorTypeNoColumns:
		return []string{
			"Verify the table and date column names",
			"Check the syntax of the extra filter expression",
		}
	case ErrorTypeWrite:
		return []string{
			"Check free disk space in the temp directory",
			"Check write permission on the temp directory",
		}
	case ErrorTypeContainerCreate, ErrorTypeUpload:
		return []string{
			"Verify the object store endpoint and credentials",
			"Check that the region matches the bucket's region",
		}
	case ErrorTypeWrongPassphrase, ErrorTypeDecryption:
		return []string{
			"Verify the passphrase used for the backup",
		}
	default:
		return nil
	}
}
