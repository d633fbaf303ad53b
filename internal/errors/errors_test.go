package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeQuery, "query failed", cause)

	if appErr.Type != ErrorTypeQuery {
		t.Errorf("Expected type %v, got %v", ErrorTypeQuery, appErr.Type)
	}

	if appErr.Cause != cause {
		t.Errorf("Expected cause %v, got %v", cause, appErr.Cause)
	}

	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error")
	}

	expectedError := "query: query failed (caused by: underlying error)"
	if appErr.Error() != expectedError {
		t.Errorf("Expected error string %v, got %v", expectedError, appErr.Error())
	}

	if !errors.Is(appErr, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
}

func TestAppErrorWithContext(t *testing.T) {
	appErr := NewAppError(ErrorTypeUpload, "upload failed", nil)
	appErr.WithContext("bucket", "db-backups").WithContext("attempt", 1)

	if appErr.Context["bucket"] != "db-backups" {
		t.Errorf("Expected context bucket=db-backups, got %v", appErr.Context["bucket"])
	}

	if appErr.Context["attempt"] != 1 {
		t.Errorf("Expected context attempt=1, got %v", appErr.Context["attempt"])
	}
}

func TestStageConstructors(t *testing.T) {
	tests := []struct {
		name         string
		err          *AppError
		expectedType ErrorType
	}{
		{"connection", NewConnectionError("connect", nil), ErrorTypeConnection},
		{"query", NewQueryError("execute", nil), ErrorTypeQuery},
		{"no columns", NewNoColumnsError("no columns"), ErrorTypeNoColumns},
		{"write", NewWriteError("write", nil), ErrorTypeWrite},
		{"input not found", NewInputNotFoundError("/tmp/x.csv"), ErrorTypeInputNotFound},
		{"encryption", NewEncryptionError("encrypt", nil), ErrorTypeEncryption},
		{"decryption", NewDecryptionError("decrypt", nil), ErrorTypeDecryption},
		{"wrong passphrase", NewWrongPassphraseError(nil), ErrorTypeWrongPassphrase},
		{"local file missing", NewLocalFileMissingError("/tmp/x.gpg"), ErrorTypeLocalFileMissing},
		{"upload", NewUploadError("upload", nil), ErrorTypeUpload},
		{"container", NewContainerCreateError("create", nil), ErrorTypeContainerCreate},
		{"unsupported backend", NewUnsupportedBackendError("oracle", []string{"mysql"}), ErrorTypeUnsupportedBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, tt.err.Type)
			}
			if !IsType(tt.err, tt.expectedType) {
				t.Errorf("IsType(%v) = false", tt.expectedType)
			}
			if !errors.Is(tt.err, &AppError{Type: tt.expectedType}) {
				t.Errorf("errors.Is against a %v sentinel = false", tt.expectedType)
			}
		})
	}
}

func TestIsType_Wrapped(t *testing.T) {
	inner := NewWrongPassphraseError(nil)
	outer := fmt.Errorf("decrypt stage: %w", inner)

	if !IsType(outer, ErrorTypeWrongPassphrase) {
		t.Error("Expected IsType to see through fmt wrapping")
	}
	if IsType(outer, ErrorTypeDecryption) {
		t.Error("Expected IsType to reject a different type")
	}
	if IsType(errors.New("plain"), ErrorTypeQuery) {
		t.Error("Expected IsType to reject a plain error")
	}
}

func TestErrorClassifier_ClassifyMySQLError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		mysqlErr     *mysql.MySQLError
		expectedType ErrorType
		recoverable  bool
	}{
		{
			name:         "access denied",
			mysqlErr:     &mysql.MySQLError{Number: 1045, Message: "Access denied"},
			expectedType: ErrorTypePermission,
			recoverable:  false,
		},
		{
			name:         "table doesn't exist",
			mysqlErr:     &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"},
			expectedType: ErrorTypeQuery,
			recoverable:  false,
		},
		{
			name:         "syntax error",
			mysqlErr:     &mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"},
			expectedType: ErrorTypeQuery,
			recoverable:  false,
		},
		{
			name:         "can't connect to server",
			mysqlErr:     &mysql.MySQLError{Number: 2003, Message: "Can't connect to MySQL server"},
			expectedType: ErrorTypeConnection,
			recoverable:  true,
		},
		{
			name:         "lost connection during query",
			mysqlErr:     &mysql.MySQLError{Number: 2013, Message: "Lost connection"},
			expectedType: ErrorTypeConnection,
			recoverable:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.mysqlErr)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}

			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}

			if appErr.Context["mysql_error_code"] != tt.mysqlErr.Number {
				t.Errorf("Expected mysql_error_code=%v, got %v", tt.mysqlErr.Number, appErr.Context["mysql_error_code"])
			}
		})
	}
}

func TestErrorClassifier_ClassifyPostgresError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		code         pq.ErrorCode
		expectedType ErrorType
		recoverable  bool
	}{
		{"invalid password", "28P01", ErrorTypePermission, false},
		{"undefined table", "42P01", ErrorTypeQuery, false},
		{"undefined column", "42703", ErrorTypeQuery, false},
		{"connection failure", "08006", ErrorTypeConnection, true},
		{"admin shutdown", "57P01", ErrorTypeConnection, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(&pq.Error{Code: tt.code, Message: tt.name})

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}
			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
			if appErr.Context["pg_error_code"] != string(tt.code) {
				t.Errorf("Expected pg_error_code=%v, got %v", tt.code, appErr.Context["pg_error_code"])
			}
		})
	}
}

func TestErrorClassifier_ClassifyContextError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
		recoverable  bool
	}{
		{
			name:         "deadline exceeded",
			err:          context.DeadlineExceeded,
			expectedType: ErrorTypeTimeout,
			recoverable:  true,
		},
		{
			name:         "context canceled",
			err:          context.Canceled,
			expectedType: ErrorTypeInterruption,
			recoverable:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}

			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
		})
	}
}

func TestErrorClassifier_ClassifyFileSystemError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
	}{
		{
			name:         "file not found",
			err:          &os.PathError{Op: "open", Path: "/nonexistent", Err: syscall.ENOENT},
			expectedType: ErrorTypeWrite,
		},
		{
			name:         "permission denied",
			err:          &os.PathError{Op: "open", Path: "/restricted", Err: syscall.EACCES},
			expectedType: ErrorTypePermission,
		},
		{
			name:         "no space left",
			err:          &os.PathError{Op: "write", Path: "/full", Err: syscall.ENOSPC},
			expectedType: ErrorTypeWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}
		})
	}
}

func TestErrorClassifier_ClassifyNetworkError(t *testing.T) {
	classifier := NewErrorClassifier()

	appErr := classifier.ClassifyError(&mockNetError{timeout: true})
	if appErr.Type != ErrorTypeTimeout {
		t.Errorf("Expected type %v, got %v", ErrorTypeTimeout, appErr.Type)
	}
	if !appErr.IsRecoverable() {
		t.Error("Expected recoverable error for timeout")
	}
}

func TestErrorClassifier_Unknown(t *testing.T) {
	appErr := NewErrorClassifier().ClassifyError(errors.New("boom"))
	if appErr.Type != ErrorTypeUnknown {
		t.Errorf("Expected type %v, got %v", ErrorTypeUnknown, appErr.Type)
	}
	if NewErrorClassifier().ClassifyError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, ErrorTypeQuery, "x") != nil {
		t.Error("Expected nil for nil error")
	}

	cause := &mysql.MySQLError{Number: 1146, Message: "Table 'shop.orders' doesn't exist"}
	wrapped := WrapError(cause, ErrorTypeQuery, "export query failed")

	if wrapped.Type != ErrorTypeQuery {
		t.Errorf("Expected type %v, got %v", ErrorTypeQuery, wrapped.Type)
	}
	if wrapped.GetUserMessage() != "export query failed: Table does not exist" {
		t.Errorf("Unexpected user message: %q", wrapped.GetUserMessage())
	}
	if wrapped.Context["mysql_error_code"] != uint16(1146) {
		t.Errorf("Expected classified context to be carried, got %v", wrapped.Context)
	}

	connErr := WrapError(&mysql.MySQLError{Number: 2003}, ErrorTypeConnection, "connect failed")
	if !connErr.IsRecoverable() {
		t.Error("Expected recoverability to follow the classified cause")
	}
}

func TestFormatUserError(t *testing.T) {
	if FormatUserError(nil) != "" {
		t.Error("Expected empty string for nil error")
	}

	appErr := NewAppError(ErrorTypeUpload, "technical", nil).WithUserMessage("friendly")
	if FormatUserError(appErr) != "friendly" {
		t.Errorf("Expected user message, got %q", FormatUserError(appErr))
	}

	generic := FormatUserError(errors.New("plain"))
	if generic != "An unexpected error occurred. Please check the logs for more details." {
		t.Errorf("Unexpected generic message: %q", generic)
	}
}

func TestGetErrorType(t *testing.T) {
	if GetErrorType(NewWriteError("x", nil)) != ErrorTypeWrite {
		t.Error("Expected write type")
	}
	if GetErrorType(errors.New("plain")) != ErrorTypeUnknown {
		t.Error("Expected unknown type for plain error")
	}
	if !IsRecoverableError(NewUploadError("x", nil)) {
		t.Error("Expected upload errors to be recoverable")
	}
	if IsRecoverableError(errors.New("plain")) {
		t.Error("Expected plain errors to be non-recoverable")
	}
}

func TestTroubleshootingHints(t *testing.T) {
	if len(TroubleshootingHints(ErrorTypeConnection)) == 0 {
		t.Error("Expected connection hints")
	}
	if TroubleshootingHints(ErrorTypeUnknown) != nil {
		t.Error("Expected no hints for unknown errors")
	}
}

// mockNetError implements net.Error for testing
type mockNetError struct {
	timeout   bool
	temporary bool
}

func (e *mockNetError) Error() string   { return "mock network error" }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return e.temporary }
