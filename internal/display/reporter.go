// Package display renders backup progress and results for a terminal
package display

import (
	"fmt"
	"io"
	"strings"
	"time"

	"db-backup/internal/errors"
)

const rule = "============================================================"

// RunHeader describes a run before it starts
type RunHeader struct {
	RunID        string
	DatabaseType string
	Table        string
	DateColumn   string
	Start        time.Time
	End          time.Time
}

// RunSummary is the final outcome shown to the operator
type RunSummary struct {
	Success        bool
	Location       string
	FailedStage    string
	Err            error
	Rows           int64
	CSVBytes       int64
	EncryptedBytes int64
	Duration       time.Duration
	KeptFiles      []string
}

// Reporter prints "[Step n/total]" progress lines and a final summary. In
// quiet mode only failures and the summary are printed.
type Reporter struct {
	out    io.Writer
	colors ColorSystem
	quiet  bool
}

// NewReporter creates a reporter writing to out
func NewReporter(out io.Writer, theme ColorTheme, quiet bool) *Reporter {
	return &Reporter{
		out:    out,
		colors: NewColorSystem(out, theme),
		quiet:  quiet,
	}
}

// Colors exposes the reporter's color system for tables
func (r *Reporter) Colors() ColorSystem {
	return r.colors
}

func (r *Reporter) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

// Header prints the run banner
func (r *Reporter) Header(h RunHeader) {
	if r.quiet {
		return
	}
	theme := r.colors.Theme()
	r.printf("%s\n", r.colors.Sprint(theme.Primary, rule))
	r.printf("%s\n", r.colors.Sprint(theme.Primary, "DATABASE BACKUP STARTED"))
	r.printf("%s\n", r.colors.Sprint(theme.Primary, rule))
	r.printf("Run ID:        %s\n", h.RunID)
	r.printf("Database Type: %s\n", h.DatabaseType)
	r.printf("Table:         %s\n", h.Table)
	r.printf("Date Column:   %s\n", h.DateColumn)
	r.printf("Date Range:    %s to %s\n", h.Start.Format("2006-01-02 15:04:05"), h.End.Format("2006-01-02 15:04:05"))
	r.printf("%s\n", r.colors.Sprint(theme.Primary, rule))
}

// StepStarted prints "[Step n/total] title..."
func (r *Reporter) StepStarted(n, total int, title string) {
	if r.quiet {
		return
	}
	label := r.colors.Sprintf(r.colors.Theme().Info, "[Step %d/%d]", n, total)
	r.printf("\n%s %s...\n", label, title)
}

// StepCompleted prints a detail line under the current step
func (r *Reporter) StepCompleted(n, total int, detail string) {
	if r.quiet || detail == "" {
		return
	}
	r.printf("  %s %s\n", r.colors.Sprint(r.colors.Theme().Success, "OK"), detail)
}

// StepFailed prints the failure of a step; it is shown even in quiet mode
func (r *Reporter) StepFailed(n, total int, err error) {
	r.printf("  %s %s\n", r.colors.Sprint(r.colors.Theme().Error, "FAILED"), errors.FormatUserError(err))
}

// Cleanup lists the local files removed after a successful upload
func (r *Reporter) Cleanup(deleted []string, err error) {
	if !r.quiet && len(deleted) > 0 {
		r.printf("\nCleaning up local files...\n")
		for _, path := range deleted {
			r.printf("  Deleted: %s\n", path)
		}
	}
	if err != nil {
		r.printf("  %s %v\n", r.colors.Sprint(r.colors.Theme().Warning, "WARNING"), err)
	}
}

// Summary prints the final banner naming the remote location or the stage
// that failed
func (r *Reporter) Summary(s RunSummary) {
	theme := r.colors.Theme()
	if s.Success {
		r.printf("\n%s\n", r.colors.Sprint(theme.Success, rule))
		r.printf("%s\n", r.colors.Sprint(theme.Success, "BACKUP COMPLETED SUCCESSFULLY"))
		r.printf("Location: %s\n", s.Location)
		r.printf("Rows:     %d\n", s.Rows)
		r.printf("Size:     %s (encrypted %s)\n", FormatBytes(s.CSVBytes), FormatBytes(s.EncryptedBytes))
		r.printf("Duration: %s\n", FormatDuration(s.Duration))
		if len(s.KeptFiles) > 0 {
			r.printf("Local files kept: %s\n", strings.Join(s.KeptFiles, ", "))
		}
		r.printf("%s\n", r.colors.Sprint(theme.Success, rule))
		return
	}

	r.printf("\n%s\n", r.colors.Sprint(theme.Error, rule))
	r.printf("%s\n", r.colors.Sprint(theme.Error, "BACKUP FAILED"))
	if s.FailedStage != "" {
		r.printf("Stage:    %s\n", s.FailedStage)
	}
	if s.Err != nil {
		message := errors.FormatUserError(s.Err)
		r.printf("Error:    %s\n", message)
		if detail := s.Err.Error(); detail != message {
			r.printf("Detail:   %s\n", detail)
		}
		if hints := errors.TroubleshootingHints(errors.GetErrorType(s.Err)); len(hints) > 0 {
			r.printf("Hints:\n")
			for _, hint := range hints {
				r.printf("  - %s\n", hint)
			}
		}
	}
	r.printf("Duration: %s\n", FormatDuration(s.Duration))
	r.printf("%s\n", r.colors.Sprint(theme.Error, rule))
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration rounds to milliseconds below a minute and seconds above
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
