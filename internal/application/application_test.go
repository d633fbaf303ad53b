package application

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"db-backup/internal/config"
	"db-backup/internal/database"
	"db-backup/internal/encryption"
	appErrors "db-backup/internal/errors"
	"db-backup/internal/logging"
	"db-backup/internal/storage"
)

type stubSource struct {
	rows         database.RowBatch
	pos          int
	disconnected int
}

func (s *stubSource) Connect(ctx context.Context) error { return nil }

func (s *stubSource) Disconnect() error {
	s.disconnected++
	return nil
}

func (s *stubSource) BuildExportQuery(spec database.ExportSpec) (string, []any) {
	return "SELECT * FROM " + spec.Table, []any{spec.Start, spec.End}
}

func (s *stubSource) Execute(ctx context.Context, query string, args []any) error { return nil }

func (s *stubSource) Schema() database.ColumnSchema {
	return database.ColumnSchema{"id", "created_at"}
}

func (s *stubSource) NextBatch(ctx context.Context, size int) (database.RowBatch, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	end := s.pos + size
	if end > len(s.rows) {
		end = len(s.rows)
	}
	batch := s.rows[s.pos:end]
	s.pos = end
	return batch, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Database.Username = "backup"
	cfg.Database.Database = "shop"
	cfg.Query.Table = "orders"
	cfg.Encryption.Passphrase = "s3cret"
	cfg.Output.TempDir = t.TempDir()
	cfg.Storage.Provider = storage.ProviderLocal
	cfg.Storage.Local.BasePath = t.TempDir()
	cfg.Logging.Level = "quiet"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*Application, *bytes.Buffer) {
	t.Helper()
	return newTestAppWithInput(t, cfg, "")
}

func newTestAppWithInput(t *testing.T, cfg *config.Config, input string) (*Application, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	app, err := NewApplication(cfg, Options{In: strings.NewReader(input), Out: &out, Theme: "plain"})
	if err != nil {
		t.Fatalf("NewApplication() error = %v", err)
	}
	return app, &out
}

func TestNewApplication(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t))

	if app.logger == nil {
		t.Error("Expected logger to be initialized")
	}
	if app.reporter == nil {
		t.Error("Expected reporter to be initialized")
	}
	if app.GetLogger().GetLevel() != logging.LogLevelQuiet {
		t.Errorf("Expected quiet log level, got %s", app.GetLogger().GetLevel())
	}
}

func TestNewApplication_BadLogFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.File = filepath.Join(t.TempDir(), "missing", "dir", "backup.log")

	if _, err := NewApplication(cfg, Options{Out: io.Discard}); err == nil {
		t.Error("Expected error for an unwritable log file")
	}
}

func TestRun_Success(t *testing.T) {
	cfg := testConfig(t)
	cfg.Query.Start = "2025-01-01"
	cfg.Query.End = "2025-01-02"
	app, out := newTestApp(t, cfg)

	source := &stubSource{rows: database.RowBatch{
		{int64(1), time.Date(2025, 1, 1, 1, 0, 0, 0, time.Local)},
	}}
	app.newSource = func(database.DatabaseConfig, ...database.Option) (database.RowSource, error) {
		return source, nil
	}

	result, err := app.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Success {
		t.Fatal("Expected a successful run")
	}
	if source.disconnected != 1 {
		t.Errorf("Expected one disconnect, got %d", source.disconnected)
	}
	if result.Rows != 1 {
		t.Errorf("Expected 1 row, got %d", result.Rows)
	}

	text := out.String()
	for _, want := range []string{
		"DATABASE BACKUP STARTED",
		"[Step 1/5] Connecting to database...",
		"[Step 5/5] Uploading to object storage...",
		"Cleaning up local files...",
		"BACKUP COMPLETED SUCCESSFULLY",
		"Location: file://",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}

	objects, err := app.List(context.Background(), "backups/orders/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 1 || !strings.HasSuffix(objects[0].Key, ".csv.gpg") {
		t.Errorf("Expected one uploaded .csv.gpg object, got %+v", objects)
	}
}

func TestRun_InvalidConfiguration(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption.Passphrase = ""
	app, _ := newTestApp(t, cfg)

	called := false
	app.newSource = func(database.DatabaseConfig, ...database.Option) (database.RowSource, error) {
		called = true
		return &stubSource{}, nil
	}

	result, err := app.Run(context.Background())
	if err == nil {
		t.Fatal("Expected configuration error")
	}
	if !appErrors.IsType(err, appErrors.ErrorTypeConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
	if result != nil {
		t.Error("Expected no run result")
	}
	if called {
		t.Error("Expected no row source to be created")
	}
}

func TestRun_UnsupportedBackend(t *testing.T) {
	cfg := testConfig(t)
	app, _ := newTestApp(t, cfg)
	app.newSource = func(c database.DatabaseConfig, opts ...database.Option) (database.RowSource, error) {
		c.Type = "oracle"
		return database.NewRowSource(c, opts...)
	}

	_, err := app.Run(context.Background())
	if !appErrors.IsType(err, appErrors.ErrorTypeUnsupportedBackend) {
		t.Errorf("Expected unsupported backend error, got %v", err)
	}
}

func TestStoreCommands(t *testing.T) {
	cfg := testConfig(t)
	app, out := newTestApp(t, cfg)
	ctx := context.Background()

	store, err := storage.NewLocalStore(cfg.Storage, logging.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "orders.csv.gpg")
	if err := os.WriteFile(src, []byte("ciphertext"), 0o600); err != nil {
		t.Fatal(err)
	}
	key := "backups/orders/2025-01-02/orders.csv.gpg"
	if err := store.Upload(ctx, src, key, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := app.List(ctx, "backups/"); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !strings.Contains(out.String(), key) || !strings.Contains(out.String(), "1 object(s)") {
		t.Errorf("Expected listing to show %s, got:\n%s", key, out.String())
	}

	dest := filepath.Join(t.TempDir(), "copy.gpg")
	path, err := app.Download(ctx, key, dest)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "ciphertext" {
		t.Errorf("Downloaded content = %q", data)
	}

	if err := app.Delete(ctx, key, true); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	out.Reset()
	objects, err := app.List(ctx, "backups/")
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 0 || !strings.Contains(out.String(), "No backups found") {
		t.Errorf("Expected empty listing after delete, got %+v", objects)
	}
}

func TestDecrypt(t *testing.T) {
	cfg := testConfig(t)
	app, _ := newTestApp(t, cfg)

	plain := filepath.Join(t.TempDir(), "orders.csv")
	if err := os.WriteFile(plain, []byte("id\n1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	encrypted, err := encryption.NewEncryptor(logging.NewNopLogger()).
		Encrypt(plain, "s3cret", encryption.DefaultCipher, "")
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(plain)

	path, err := app.Decrypt(encrypted, "")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "id\n1\n" {
		t.Errorf("Decrypted content = %q", data)
	}

	cfg.Encryption.Passphrase = ""
	if _, err := app.Decrypt(encrypted, ""); !appErrors.IsType(err, appErrors.ErrorTypeConfiguration) {
		t.Errorf("Expected configuration error without passphrase, got %v", err)
	}
}

func TestDelete_Declined(t *testing.T) {
	cfg := testConfig(t)
	app, out := newTestAppWithInput(t, cfg, "n\n")
	ctx := context.Background()

	store, err := storage.NewLocalStore(cfg.Storage, logging.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	seedBackups(t, store, cfg, 1)

	if err := app.Delete(ctx, backupKey(0), false); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !strings.Contains(out.String(), "Aborted") {
		t.Errorf("Expected abort message, got:\n%s", out.String())
	}
	objects, _ := store.List(ctx, "backups/")
	if len(objects) != 1 {
		t.Errorf("Expected backup to survive a declined delete, got %d objects", len(objects))
	}
}

var pruneNow = time.Now().Truncate(time.Second)

func backupKey(day int) string {
	return "backups/orders/" + pruneNow.AddDate(0, 0, -day).Format("2006-01-02") + "/orders.csv.gpg"
}

// seedBackups uploads one backup per day, newest first
func seedBackups(t *testing.T, store storage.ObjectStore, cfg *config.Config, days int) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(src, make([]byte, 1024), 0o600); err != nil {
		t.Fatal(err)
	}
	for day := 0; day < days; day++ {
		key := backupKey(day)
		if err := store.Upload(context.Background(), src, key, nil); err != nil {
			t.Fatal(err)
		}
		at := pruneNow.AddDate(0, 0, -day)
		path := filepath.Join(cfg.Storage.Local.BasePath, cfg.Storage.Bucket, filepath.FromSlash(key))
		if err := os.Chtimes(path, at, at); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPrune(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		dryRun      bool
		autoApprove bool
		wantLeft    int
		wantOutput  string
	}{
		{"dry run", "", true, false, 5, "Would delete 3 backup(s)"},
		{"declined", "no\n", false, false, 5, "Aborted"},
		{"confirmed", "y\n", false, false, 2, "Deleted 3 backup(s)"},
		{"auto approved", "", false, true, 2, "Deleted 3 backup(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Retention.MaxBackups = 2
			app, out := newTestAppWithInput(t, cfg, tt.input)
			ctx := context.Background()

			store, err := storage.NewLocalStore(cfg.Storage, logging.NewNopLogger())
			if err != nil {
				t.Fatal(err)
			}
			seedBackups(t, store, cfg, 5)

			if _, err := app.Prune(ctx, "backups/", tt.dryRun, tt.autoApprove); err != nil {
				t.Fatalf("Prune() error = %v", err)
			}
			if !strings.Contains(out.String(), tt.wantOutput) {
				t.Errorf("Expected output to contain %q, got:\n%s", tt.wantOutput, out.String())
			}

			objects, err := store.List(ctx, "backups/")
			if err != nil {
				t.Fatal(err)
			}
			if len(objects) != tt.wantLeft {
				t.Errorf("Expected %d backups left, got %d", tt.wantLeft, len(objects))
			}
			for _, obj := range objects {
				if obj.Key == backupKey(0) {
					return
				}
			}
			t.Errorf("Expected newest backup %s to be kept", backupKey(0))
		})
	}
}

func TestPrune_RequiresPolicy(t *testing.T) {
	cfg := testConfig(t)
	app, _ := newTestApp(t, cfg)

	_, err := app.Prune(context.Background(), "backups/", false, true)
	if !appErrors.IsType(err, appErrors.ErrorTypeConfiguration) {
		t.Errorf("Expected configuration error without retention rules, got %v", err)
	}

	cfg.Retention.KeepDaily = -1
	_, err = app.Prune(context.Background(), "backups/", false, true)
	if !appErrors.IsType(err, appErrors.ErrorTypeConfiguration) {
		t.Errorf("Expected configuration error for negative values, got %v", err)
	}
}
