// Package retention decides which uploaded backups to prune and deletes them
package retention

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
	"db-backup/internal/storage"
)

// Policy controls which backups survive a prune. A zero field disables
// that rule; a zero policy keeps everything.
type Policy struct {
	MaxBackups  int           `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      time.Duration `mapstructure:"max_age" yaml:"max_age"`
	KeepDaily   int           `mapstructure:"keep_daily" yaml:"keep_daily"`
	KeepWeekly  int           `mapstructure:"keep_weekly" yaml:"keep_weekly"`
	KeepMonthly int           `mapstructure:"keep_monthly" yaml:"keep_monthly"`
}

// Enabled reports whether any rule is set
func (p Policy) Enabled() bool {
	return p.MaxBackups > 0 || p.MaxAge > 0 || p.KeepDaily > 0 || p.KeepWeekly > 0 || p.KeepMonthly > 0
}

// Validate rejects negative values
func (p Policy) Validate() error {
	if p.MaxBackups < 0 || p.MaxAge < 0 || p.KeepDaily < 0 || p.KeepWeekly < 0 || p.KeepMonthly < 0 {
		return fmt.Errorf("retention values must not be negative")
	}
	return nil
}

// Plan splits objects into those to delete and those to keep. The newest
// object is always kept.
func (p Policy) Plan(objects []storage.ObjectInfo, now time.Time) (toDelete, toKeep []storage.ObjectInfo) {
	if len(objects) == 0 || !p.Enabled() {
		return nil, objects
	}

	sorted := append([]storage.ObjectInfo(nil), objects...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastModified.After(sorted[j].LastModified)
	})

	keep := make(map[string]bool)
	keep[sorted[0].Key] = true

	if p.MaxBackups > 0 {
		for i := 0; i < len(sorted) && i < p.MaxBackups; i++ {
			keep[sorted[i].Key] = true
		}
	}
	if p.MaxAge > 0 {
		cutoff := now.Add(-p.MaxAge)
		for _, obj := range sorted {
			if obj.LastModified.After(cutoff) {
				keep[obj.Key] = true
			}
		}
	}
	keepPeriodic(sorted, keep, p.KeepDaily, 24*time.Hour, now)
	keepPeriodic(sorted, keep, p.KeepWeekly, 7*24*time.Hour, now)
	keepPeriodic(sorted, keep, p.KeepMonthly, 30*24*time.Hour, now)

	for _, obj := range sorted {
		if keep[obj.Key] {
			toKeep = append(toKeep, obj)
		} else {
			toDelete = append(toDelete, obj)
		}
	}
	return toDelete, toKeep
}

// keepPeriodic keeps the newest object of each of the most recent count periods.
// sorted must be newest first.
func keepPeriodic(sorted []storage.ObjectInfo, keep map[string]bool, count int, period time.Duration, now time.Time) {
	if count <= 0 {
		return
	}
	seen := make(map[int]bool)
	for _, obj := range sorted {
		if len(seen) >= count {
			return
		}
		bucket := int(now.Sub(obj.LastModified) / period)
		if seen[bucket] {
			continue
		}
		seen[bucket] = true
		keep[obj.Key] = true
	}
}

// Result summarizes a prune
type Result struct {
	Deleted    []storage.ObjectInfo
	Kept       []storage.ObjectInfo
	FreedBytes int64
	DryRun     bool
}

// Pruner applies a policy to the objects under a prefix
type Pruner struct {
	store  storage.ObjectStore
	policy Policy
	logger *logging.Logger
	now    func() time.Time
}

// NewPruner creates a pruner for store
func NewPruner(store storage.ObjectStore, policy Policy, logger *logging.Logger) *Pruner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Pruner{store: store, policy: policy, logger: logger, now: time.Now}
}

// Candidates lists the objects under prefix and plans the prune without deleting
func (p *Pruner) Candidates(ctx context.Context, prefix string) (*Result, error) {
	objects, err := p.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	toDelete, toKeep := p.policy.Plan(objects, p.now())

	result := &Result{Deleted: toDelete, Kept: toKeep, DryRun: true}
	for _, obj := range toDelete {
		result.FreedBytes += obj.Size
	}
	return result, nil
}

// Prune deletes the planned objects. Every deletion is attempted; failures
// are returned together and the result lists only what was removed.
func (p *Pruner) Prune(ctx context.Context, prefix string, dryRun bool) (*Result, error) {
	planned, err := p.Candidates(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if dryRun {
		return planned, nil
	}

	result := &Result{Kept: planned.Kept}
	var errs *multierror.Error
	for _, obj := range planned.Deleted {
		if err := p.store.Delete(ctx, obj.Key); err != nil {
			errs = multierror.Append(errs, err)
			result.Kept = append(result.Kept, obj)
			continue
		}
		p.logger.WithFields(map[string]interface{}{
			"key":           obj.Key,
			"size":          obj.Size,
			"last_modified": obj.LastModified.Format(time.RFC3339),
		}).Info("Pruned backup")
		result.Deleted = append(result.Deleted, obj)
		result.FreedBytes += obj.Size
	}

	if err := errs.ErrorOrNil(); err != nil {
		return result, errors.NewStorageError(fmt.Sprintf("failed to delete %d object(s)", errs.Len()), err)
	}
	return result, nil
}
