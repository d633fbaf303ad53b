// Package export streams query results to a local CSV file one batch at a
// time, so memory use is bounded by the batch size rather than the result size.
package export

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"time"

	"db-backup/internal/database"
	"db-backup/internal/errors"
	"db-backup/internal/logging"
)

// CSVSuffix is the extension of the plaintext export
const CSVSuffix = ".csv"

// BatchReader is the part of a RowSource the exporter consumes
type BatchReader interface {
	Schema() database.ColumnSchema
	NextBatch(ctx context.Context, size int) (database.RowBatch, error)
}

// ExportResult describes a finished export
type ExportResult struct {
	Path     string
	Rows     int64
	Bytes    int64
	Batches  int
	Columns  database.ColumnSchema
	Duration time.Duration
}

// StreamExporter writes a header row and then every batch pulled from a source
type StreamExporter struct {
	batchSize   int
	compression Compression
	logger      *logging.Logger
}

// NewStreamExporter creates an exporter that pulls batchSize rows at a time
func NewStreamExporter(batchSize int, compression Compression, logger *logging.Logger) *StreamExporter {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if compression == "" {
		compression = CompressionNone
	}
	return &StreamExporter{
		batchSize:   batchSize,
		compression: compression,
		logger:      logger,
	}
}

// OutputPath returns the file Export writes for a base name without extension
func (e *StreamExporter) OutputPath(dir, baseName string) string {
	return filepath.Join(dir, baseName+CSVSuffix+e.compression.Suffix())
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Export writes the source's result to outputPath. A source without columns
// is a no_columns error; any filesystem failure is a write error and the
// partial file is left in place.
func (e *StreamExporter) Export(ctx context.Context, source BatchReader, outputPath string) (*ExportResult, error) {
	if e.batchSize <= 0 {
		return nil, errors.NewWriteError("batch size must be positive", nil)
	}

	columns := source.Schema()
	if len(columns) == 0 {
		return nil, errors.NewNoColumnsError("query result has no columns")
	}

	startTime := time.Now()
	e.logger.WithFields(map[string]interface{}{
		"path":        outputPath,
		"columns":     len(columns),
		"batch_size":  e.batchSize,
		"compression": string(e.compression),
	}).Info("Exporting rows to CSV")

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeWrite, "failed to create output directory")
	}

	file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeWrite, "failed to create export file")
	}

	result := &ExportResult{Path: outputPath, Columns: columns}
	counter := &countingWriter{w: file}

	err = e.write(ctx, source, columns, counter, result)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = errors.WrapError(closeErr, errors.ErrorTypeWrite, "failed to close export file")
	}
	if err != nil {
		return nil, err
	}

	result.Bytes = counter.n
	result.Duration = time.Since(startTime)

	e.logger.WithFields(map[string]interface{}{
		"path":    result.Path,
		"rows":    result.Rows,
		"batches": result.Batches,
		"bytes":   result.Bytes,
	}).Info("CSV export completed")

	return result, nil
}

func (e *StreamExporter) write(ctx context.Context, source BatchReader, columns database.ColumnSchema, out io.Writer, result *ExportResult) error {
	compressed, err := NewWriter(out, e.compression)
	if err != nil {
		return errors.NewWriteError("failed to create compressor", err)
	}

	w := csv.NewWriter(compressed)
	if err := w.Write(columns); err != nil {
		return errors.WrapError(err, errors.ErrorTypeWrite, "failed to write CSV header")
	}

	record := make([]string, 0, len(columns))
	for {
		batch, err := source.NextBatch(ctx, e.batchSize)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		for _, row := range batch {
			record = renderRow(row, record)
			if err := w.Write(record); err != nil {
				return errors.WrapError(err, errors.ErrorTypeWrite, "failed to write CSV row")
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return errors.WrapError(err, errors.ErrorTypeWrite, "failed to flush CSV batch")
		}

		result.Rows += int64(len(batch))
		result.Batches++
		e.logger.WithFields(map[string]interface{}{
			"batch":      result.Batches,
			"batch_rows": len(batch),
			"total_rows": result.Rows,
		}).Debug("Wrote batch")
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeWrite, "failed to flush CSV writer")
	}
	if err := compressed.Close(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeWrite, "failed to finish compressed stream")
	}
	return nil
}
