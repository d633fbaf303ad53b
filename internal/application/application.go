package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"db-backup/internal/config"
	"db-backup/internal/confirmation"
	"db-backup/internal/database"
	"db-backup/internal/display"
	"db-backup/internal/encryption"
	appErrors "db-backup/internal/errors"
	"db-backup/internal/export"
	"db-backup/internal/logging"
	"db-backup/internal/metrics"
	"db-backup/internal/pipeline"
	"db-backup/internal/retention"
	"db-backup/internal/storage"
)

// Options controls terminal input and output
type Options struct {
	In    io.Reader
	Out   io.Writer
	Theme string
	Quiet bool
}

// Application wires the resolved configuration to the backup pipeline and
// the operational commands
type Application struct {
	config   *config.Config
	logger   *logging.Logger
	reporter *display.Reporter
	confirm  confirmation.ConfirmationService
	out      io.Writer

	// overridable in tests
	newSource func(database.DatabaseConfig, ...database.Option) (database.RowSource, error)
	newStore  func(context.Context, storage.Config, *logging.Logger) (storage.ObjectStore, error)
}

// NewApplication creates the logger and reporter for cfg. The configuration
// is validated by each command for the sections it needs.
func NewApplication(cfg *config.Config, opts Options) (*Application, error) {
	logger, err := logging.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	reporter := display.NewReporter(out, display.GetThemeByName(opts.Theme), opts.Quiet)

	return &Application{
		config:    cfg,
		logger:    logger,
		reporter:  reporter,
		confirm:   confirmation.NewConfirmationService(in, out, reporter.Colors()),
		out:       out,
		newSource: database.NewRowSource,
		newStore:  storage.NewObjectStore,
	}, nil
}

// Run executes one backup and prints its progress and summary. The returned
// error is non-nil whenever the run did not complete.
func (app *Application) Run(ctx context.Context) (*pipeline.RunResult, error) {
	if err := app.config.Validate(); err != nil {
		app.handleError(err)
		return nil, err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := app.newSource(app.config.Database, database.WithLogger(app.logger))
	if err != nil {
		app.handleError(err)
		return nil, err
	}
	store, err := app.newStore(ctx, app.config.Storage, app.logger)
	if err != nil {
		app.handleError(err)
		return nil, err
	}

	var recorder *metrics.Recorder
	if app.config.Metrics.Enabled() {
		recorder = metrics.NewRecorder(app.config.Metrics, app.config.Query.Table, app.logger)
	}

	p := pipeline.New(app.config, pipeline.Dependencies{
		Source:    source,
		Exporter:  export.NewStreamExporter(app.config.Query.ChunkSize, app.config.CompressionKind(), app.logger),
		Encryptor: encryption.NewEncryptor(app.logger),
		Store:     store,
		Metrics:   recorder,
		Logger:    app.logger,
		Observer:  ReporterObserver(app.reporter, app.config.Database.Type, app.config.Query.DateColumn),
	})

	result := p.Run(ctx)
	app.reporter.Summary(display.RunSummary{
		Success:        result.Success,
		Location:       result.Location,
		FailedStage:    string(result.FailedStage),
		Err:            result.Err,
		Rows:           result.Rows,
		CSVBytes:       result.CSVBytes,
		EncryptedBytes: result.EncryptedBytes,
		Duration:       result.Duration,
		KeptFiles:      result.KeptFiles,
	})

	if result.Err != nil {
		app.logError(result.Err)
		return result, result.Err
	}
	return result, nil
}

// ReporterObserver forwards pipeline events to the terminal reporter
func ReporterObserver(r *display.Reporter, databaseType, dateColumn string) pipeline.Observer {
	return func(e pipeline.Event) {
		switch e.Kind {
		case pipeline.EventRunStarted:
			r.Header(display.RunHeader{
				RunID:        e.RunID,
				DatabaseType: databaseType,
				Table:        e.Spec.Table,
				DateColumn:   dateColumn,
				Start:        e.Spec.Start,
				End:          e.Spec.End,
			})
		case pipeline.EventStepStarted:
			r.StepStarted(e.Step, e.Total, e.Title)
		case pipeline.EventStepCompleted:
			r.StepCompleted(e.Step, e.Total, e.Detail)
		case pipeline.EventStepFailed:
			r.StepFailed(e.Step, e.Total, e.Err)
		case pipeline.EventCleanup:
			r.Cleanup(e.Deleted, e.Err)
		}
	}
}

// Store opens the configured object store for the operational commands
func (app *Application) Store(ctx context.Context) (storage.ObjectStore, error) {
	store, err := app.newStore(ctx, app.config.Storage, app.logger)
	if err != nil {
		app.handleError(err)
		return nil, err
	}
	return store, nil
}

// List prints the objects under prefix as a table
func (app *Application) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	store, err := app.Store(ctx)
	if err != nil {
		return nil, err
	}

	objects, err := store.List(ctx, prefix)
	if err != nil {
		app.handleError(err)
		return nil, err
	}

	if len(objects) == 0 {
		fmt.Fprintf(app.out, "No backups found under %s\n", store.Location(prefix))
		return objects, nil
	}

	table := display.NewTable(app.reporter.Colors(), "KEY", "SIZE", "LAST MODIFIED")
	table.SetAlignment(1, display.AlignRight)
	var total int64
	for _, obj := range objects {
		table.AddRow(obj.Key, display.FormatBytes(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
		total += obj.Size
	}
	table.RenderTo(app.out)
	fmt.Fprintf(app.out, "%d object(s), %s total\n", len(objects), display.FormatBytes(total))
	return objects, nil
}

// Delete removes one object after confirmation
func (app *Application) Delete(ctx context.Context, key string, autoApprove bool) error {
	store, err := app.Store(ctx)
	if err != nil {
		return err
	}

	ok, err := app.confirm.Confirm(ctx, "Delete this backup?", []string{store.Location(key)}, autoApprove)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(app.out, "Aborted")
		return nil
	}

	if err := store.Delete(ctx, key); err != nil {
		app.handleError(err)
		return err
	}
	fmt.Fprintf(app.out, "Deleted %s\n", store.Location(key))
	return nil
}

// Prune applies the retention policy to the objects under prefix. With
// dryRun the candidates are only listed.
func (app *Application) Prune(ctx context.Context, prefix string, dryRun, autoApprove bool) (*retention.Result, error) {
	policy := app.config.Retention
	if err := policy.Validate(); err != nil {
		cfgErr := appErrors.NewConfigurationError("invalid retention policy", err)
		app.handleError(cfgErr)
		return nil, cfgErr
	}
	if !policy.Enabled() {
		cfgErr := appErrors.NewConfigurationError("no retention rule configured", nil).
			WithUserMessage("Set at least one of retention.max_backups, max_age, keep_daily, keep_weekly or keep_monthly")
		app.handleError(cfgErr)
		return nil, cfgErr
	}

	store, err := app.Store(ctx)
	if err != nil {
		return nil, err
	}
	pruner := retention.NewPruner(store, policy, app.logger)

	planned, err := pruner.Candidates(ctx, prefix)
	if err != nil {
		app.handleError(err)
		return nil, err
	}
	if len(planned.Deleted) == 0 {
		fmt.Fprintf(app.out, "Nothing to prune under %s (%d kept)\n", store.Location(prefix), len(planned.Kept))
		return planned, nil
	}

	candidates := make([]string, len(planned.Deleted))
	for i, obj := range planned.Deleted {
		candidates[i] = obj.Key
	}
	question := fmt.Sprintf("Delete %d backup(s), freeing %s?", len(candidates), display.FormatBytes(planned.FreedBytes))
	if dryRun {
		fmt.Fprintf(app.out, "Would delete %d backup(s), freeing %s:\n", len(candidates), display.FormatBytes(planned.FreedBytes))
		for _, key := range candidates {
			fmt.Fprintf(app.out, "  - %s\n", key)
		}
		return planned, nil
	}

	ok, err := app.confirm.Confirm(ctx, question, candidates, autoApprove)
	if err != nil {
		return nil, err
	}
	if !ok {
		fmt.Fprintln(app.out, "Aborted")
		return &retention.Result{Kept: append(planned.Kept, planned.Deleted...)}, nil
	}

	result, err := pruner.Prune(ctx, prefix, false)
	if err != nil {
		app.handleError(err)
		return result, err
	}
	fmt.Fprintf(app.out, "Deleted %d backup(s), freed %s, kept %d\n",
		len(result.Deleted), display.FormatBytes(result.FreedBytes), len(result.Kept))
	return result, nil
}

// Download fetches one object into localPath; an empty path uses the key's
// base name in the current directory
func (app *Application) Download(ctx context.Context, key, localPath string) (string, error) {
	store, err := app.Store(ctx)
	if err != nil {
		return "", err
	}
	if localPath == "" {
		localPath = filepath.Base(key)
	}

	n, err := store.Download(ctx, key, localPath)
	if err != nil {
		app.handleError(err)
		return "", err
	}
	fmt.Fprintf(app.out, "Downloaded %s to %s (%s)\n", store.Location(key), localPath, display.FormatBytes(n))
	return localPath, nil
}

// Decrypt decrypts a local .gpg file with the configured passphrase
func (app *Application) Decrypt(inputPath, outputPath string) (string, error) {
	if app.config.Encryption.Passphrase == "" {
		err := appErrors.NewConfigurationError("passphrase is required", nil).
			WithUserMessage("Set encryption.passphrase or DB_BACKUP_ENCRYPTION_PASSPHRASE")
		app.handleError(err)
		return "", err
	}

	path, err := encryption.NewEncryptor(app.logger).Decrypt(inputPath, app.config.Encryption.Passphrase, outputPath)
	if err != nil {
		app.handleError(err)
		return "", err
	}
	fmt.Fprintf(app.out, "Decrypted %s to %s\n", inputPath, path)
	return path, nil
}

// handleError prints a user-facing message with hints for failures outside
// the pipeline, which reports its own
func (app *Application) handleError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", appErrors.FormatUserError(err))
	app.logError(err)

	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		if hints := appErrors.TroubleshootingHints(appErr.Type); len(hints) > 0 {
			fmt.Fprintf(os.Stderr, "\nTroubleshooting hints:\n")
			for _, hint := range hints {
				fmt.Fprintf(os.Stderr, "- %s\n", hint)
			}
		}
	}
}

func (app *Application) logError(err error) {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		app.logger.WithFields(map[string]interface{}{
			"error_type":  string(appErr.Type),
			"recoverable": appErr.IsRecoverable(),
			"context":     appErr.Context,
		}).Error("Execution failed")
		return
	}
	app.logger.WithField("error", err.Error()).Error("Execution failed")
}

// Config returns the resolved configuration
func (app *Application) Config() *config.Config {
	return app.config
}

// GetLogger returns the application logger
func (app *Application) GetLogger() *logging.Logger {
	return app.logger
}
