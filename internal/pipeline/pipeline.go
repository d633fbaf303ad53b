// Package pipeline runs one backup: connect, query, export to CSV, encrypt
// and upload, with a hard gate between every stage.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"db-backup/internal/config"
	"db-backup/internal/database"
	"db-backup/internal/encryption"
	"db-backup/internal/errors"
	"db-backup/internal/export"
	"db-backup/internal/logging"
	"db-backup/internal/metrics"
	"db-backup/internal/storage"
)

// TotalSteps is the number of numbered stages shown to the operator
const TotalSteps = 5

// Exporter streams a row source into a local file
type Exporter interface {
	OutputPath(dir, baseName string) string
	Export(ctx context.Context, source export.BatchReader, outputPath string) (*export.ExportResult, error)
}

// Encryptor encrypts a local file with a passphrase
type Encryptor interface {
	Encrypt(inputPath, passphrase string, cipher encryption.CipherAlgorithm, outputPath string) (string, error)
}

// Dependencies are the collaborators of a run. Metrics and Observer may be nil.
type Dependencies struct {
	Source    database.RowSource
	Exporter  Exporter
	Encryptor Encryptor
	Store     storage.ObjectStore
	Metrics   *metrics.Recorder
	Logger    *logging.Logger
	Observer  Observer
	Clock     func() time.Time
}

// Pipeline drives a single backup run. A Pipeline is not reusable: the row
// source cursor can only be consumed once.
type Pipeline struct {
	cfg       *config.Config
	source    database.RowSource
	exporter  Exporter
	encryptor Encryptor
	store     storage.ObjectStore
	metrics   *metrics.Recorder
	logger    *logging.Logger
	observer  Observer
	clock     func() time.Time

	state State
}

// New creates a pipeline for cfg
func New(cfg *config.Config, deps Dependencies) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		source:    deps.Source,
		exporter:  deps.Exporter,
		encryptor: deps.Encryptor,
		store:     deps.Store,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		observer:  deps.Observer,
		clock:     deps.Clock,
		state:     StateIdle,
	}
	if p.logger == nil {
		p.logger = logging.NewDefaultLogger()
	}
	if p.clock == nil {
		p.clock = time.Now
	}
	return p
}

// State returns the state reached so far
func (p *Pipeline) State() State {
	return p.state
}

// plan is everything resolved from configuration before the first stage
type plan struct {
	spec      database.ExportSpec
	csvPath   string
	objectKey string
}

// run carries the per-run values shared by the stages
type run struct {
	ctx    context.Context
	logger *logging.Logger
	plan   plan
	result *RunResult
}

// Run executes the backup. The returned result is never nil; when the run
// fails, result.Err holds the cause and result.FailedStage names the stage.
func (p *Pipeline) Run(ctx context.Context) *RunResult {
	now := p.clock()
	runID := uuid.NewString()
	logger := p.logger.WithRunID(runID)
	ctx = logging.ContextWithRunID(ctx, runID)

	result := &RunResult{RunID: runID, StartedAt: now}
	r := &run{ctx: ctx, logger: logger, result: result}

	logger.WithFields(map[string]interface{}{
		"table":    p.cfg.Query.Table,
		"provider": string(p.cfg.Storage.Provider),
		"bucket":   p.cfg.Storage.Bucket,
	}).Info("Backup run started")
	p.metrics.RunStarted(now)

	p.execute(r)

	// the source is closed exactly once, whatever stage was reached
	if err := p.source.Disconnect(); err != nil {
		logger.WithField("error", err.Error()).Warn("Failed to disconnect from database")
	}

	result.Success = result.Err == nil
	result.Duration = p.clock().Sub(now)
	p.finish(r)
	return result
}

func (p *Pipeline) execute(r *run) {
	pl, err := p.prepare(r.result.StartedAt)
	if err != nil {
		p.fail(r, StagePrepare, err)
		return
	}
	r.plan = pl
	r.result.Spec = pl.spec
	p.notify(Event{Kind: EventRunStarted, RunID: r.result.RunID, Spec: pl.spec})

	stages := []struct {
		stage Stage
		title string
		fn    func(*run) (string, error)
		next  State
	}{
		{StageConnect, "Connecting to database", p.connect, StateConnected},
		{StageQuery, "Executing export query", p.query, StateQueried},
		{StageExport, "Exporting to CSV", p.export, StateExported},
		{StageEncrypt, "Encrypting CSV file", p.encrypt, StateEncrypted},
		{StageUpload, "Uploading to object storage", p.upload, StateUploaded},
	}

	for i, s := range stages {
		step := i + 1
		p.notify(Event{Kind: EventStepStarted, Step: step, Total: TotalSteps, Stage: s.stage, Title: s.title})

		start := time.Now()
		detail, err := s.fn(r)
		elapsed := time.Since(start)

		r.logger.LogStage(string(s.stage), elapsed, map[string]interface{}{"step": step}, err)
		p.metrics.ObserveStage(string(s.stage), elapsed)

		if err != nil {
			p.notify(Event{Kind: EventStepFailed, Step: step, Total: TotalSteps, Stage: s.stage, Err: err})
			p.fail(r, s.stage, err)
			return
		}
		p.state = s.next
		p.notify(Event{Kind: EventStepCompleted, Step: step, Total: TotalSteps, Stage: s.stage, Detail: detail})
	}

	p.cleanup(r)
}

// prepare resolves the export spec, the local CSV path and the object key
// from the run timestamp
func (p *Pipeline) prepare(now time.Time) (plan, error) {
	spec, err := p.cfg.ExportSpec(now)
	if err != nil {
		return plan{}, err
	}

	base, err := config.FormatFilename(p.cfg.Output.FilenamePattern, spec.Table, spec.Start, spec.End, now)
	if err != nil {
		return plan{}, errors.NewConfigurationError("invalid filename pattern", err)
	}
	prefix, err := config.FormatKeyPrefix(p.cfg.Storage.Prefix, spec.Table, now)
	if err != nil {
		return plan{}, errors.NewConfigurationError("invalid key prefix", err)
	}

	csvPath := p.exporter.OutputPath(p.cfg.Output.TempDir, base)
	encryptedName := filepath.Base(csvPath) + encryption.EncryptedSuffix

	return plan{
		spec:      spec,
		csvPath:   csvPath,
		objectKey: config.ObjectKey(prefix, encryptedName),
	}, nil
}

func (p *Pipeline) connect(r *run) (string, error) {
	if err := p.source.Connect(r.ctx); err != nil {
		return "", stageError(err, errors.ErrorTypeConnection, "failed to connect to database")
	}
	db := p.cfg.Database
	return fmt.Sprintf("Connected to %s at %s:%d/%s", db.Type, db.Host, db.Port, db.Database), nil
}

func (p *Pipeline) query(r *run) (string, error) {
	query, args := p.source.BuildExportQuery(r.plan.spec)
	r.logger.WithFields(map[string]interface{}{
		"query": query,
		"start": r.plan.spec.Start.Format(time.RFC3339),
		"end":   r.plan.spec.End.Format(time.RFC3339),
	}).Debug("Export query built")

	if err := p.source.Execute(r.ctx, query, args); err != nil {
		return "", stageError(err, errors.ErrorTypeQuery, "export query failed")
	}
	return fmt.Sprintf("Query returned %d columns", len(p.source.Schema())), nil
}

func (p *Pipeline) export(r *run) (string, error) {
	res, err := p.exporter.Export(r.ctx, p.source, r.plan.csvPath)
	if err != nil {
		// a partial CSV stays on disk for inspection and is never uploaded
		return "", err
	}
	r.result.CSVPath = res.Path
	r.result.Rows = res.Rows
	r.result.CSVBytes = res.Bytes
	p.metrics.SetRows(res.Rows)
	p.metrics.SetArtifactBytes("csv", res.Bytes)

	if res.Rows == 0 {
		r.logger.WithField("table", r.plan.spec.Table).Warn("No rows matched the export range, exporting header only")
	}
	return fmt.Sprintf("Exported %d rows to %s", res.Rows, res.Path), nil
}

func (p *Pipeline) encrypt(r *run) (string, error) {
	encrypted, err := p.encryptor.Encrypt(r.result.CSVPath, p.cfg.Encryption.Passphrase, p.cfg.CipherAlgorithm(), "")
	if err != nil {
		return "", err
	}
	r.result.EncryptedPath = encrypted

	if info, err := os.Stat(encrypted); err == nil {
		r.result.EncryptedBytes = info.Size()
		p.metrics.SetArtifactBytes("encrypted", info.Size())
	}
	return fmt.Sprintf("Encrypted to %s", encrypted), nil
}

func (p *Pipeline) upload(r *run) (string, error) {
	if err := p.store.EnsureContainer(r.ctx, p.cfg.Storage.Bucket, p.cfg.Storage.Region); err != nil {
		return "", err
	}

	key := r.plan.objectKey
	progress := storage.LogProgress(r.logger, filepath.Base(r.result.EncryptedPath))
	if err := p.store.Upload(r.ctx, r.result.EncryptedPath, key, progress); err != nil {
		return "", err
	}

	r.result.Location = p.store.Location(key)
	r.result.ObjectKey = key
	return fmt.Sprintf("Uploaded to %s", r.result.Location), nil
}

// cleanup removes the local artifacts after a successful upload. Failures are
// reported but do not fail the run.
func (p *Pipeline) cleanup(r *run) {
	paths := []string{r.result.CSVPath, r.result.EncryptedPath}
	if p.cfg.Output.KeepLocal {
		r.result.KeptFiles = paths
		r.logger.WithField("files", paths).Info("Keeping local files")
		p.state = StateCleaned
		return
	}

	var (
		deleted []string
		errs    *multierror.Error
	)
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = multierror.Append(errs, err)
			continue
		}
		deleted = append(deleted, path)
	}

	cleanupErr := errs.ErrorOrNil()
	if cleanupErr != nil {
		r.logger.WithField("error", cleanupErr.Error()).Warn("Failed to remove local files")
	}
	r.result.CleanupErr = cleanupErr
	r.result.Deleted = deleted
	p.state = StateCleaned
	p.notify(Event{Kind: EventCleanup, Deleted: deleted, Err: cleanupErr})
}

func (p *Pipeline) fail(r *run, stage Stage, err error) {
	p.state = StateFailed
	r.result.FailedStage = stage
	r.result.Err = err

	fields := map[string]interface{}{
		"stage":      string(stage),
		"error_type": string(errors.GetErrorType(err)),
	}
	if r.result.CSVPath != "" {
		fields["csv_path"] = r.result.CSVPath
	}
	r.logger.WithFields(fields).Error("Backup run failed")
}

func (p *Pipeline) finish(r *run) {
	res := r.result
	p.metrics.RunFinished(res.Success, string(res.FailedStage), res.Duration, p.clock())
	if err := p.metrics.Publish(r.ctx); err != nil {
		r.logger.WithField("error", err.Error()).Warn("Failed to publish metrics")
	}

	if res.Success {
		r.logger.WithFields(map[string]interface{}{
			"location": res.Location,
			"rows":     res.Rows,
			"duration": res.Duration.String(),
		}).Info("Backup completed successfully")
	}
}

// stageError keeps typed errors from the backends and classifies the rest
func stageError(err error, errorType errors.ErrorType, message string) error {
	if errors.GetErrorType(err) != errors.ErrorTypeUnknown {
		return err
	}
	return errors.WrapError(err, errorType, message)
}

func (p *Pipeline) notify(e Event) {
	if p.observer != nil {
		p.observer(e)
	}
}
