package retention

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-backup/internal/errors"
	"db-backup/internal/logging"
	"db-backup/internal/storage"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// daily returns one object per day, newest first, starting today
func daily(n int) []storage.ObjectInfo {
	objects := make([]storage.ObjectInfo, n)
	for i := range objects {
		at := now.Add(-time.Duration(i) * 24 * time.Hour)
		objects[i] = storage.ObjectInfo{
			Key:          "backups/orders/" + at.Format("2006-01-02") + "/orders.csv.gpg",
			Size:         100,
			LastModified: at,
		}
	}
	return objects
}

func keys(objects []storage.ObjectInfo) []string {
	out := make([]string, len(objects))
	for i, o := range objects {
		out[i] = o.Key
	}
	return out
}

func TestPolicy_Plan(t *testing.T) {
	tests := []struct {
		name       string
		policy     Policy
		objects    []storage.ObjectInfo
		wantDelete int
	}{
		{"disabled keeps all", Policy{}, daily(10), 0},
		{"max backups", Policy{MaxBackups: 3}, daily(10), 7},
		{"max age", Policy{MaxAge: 72 * time.Hour}, daily(10), 7},
		{"keep daily", Policy{KeepDaily: 5}, daily(10), 5},
		{"keep weekly", Policy{KeepWeekly: 2}, daily(30), 28},
		{"newest always kept", Policy{MaxAge: time.Nanosecond}, daily(3), 2},
		{"empty", Policy{MaxBackups: 1}, nil, 0},
		{"union of rules", Policy{MaxBackups: 2, KeepWeekly: 3}, daily(30), 26},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toDelete, toKeep := tt.policy.Plan(tt.objects, now)
			assert.Len(t, toDelete, tt.wantDelete)
			assert.Len(t, toKeep, len(tt.objects)-tt.wantDelete)
		})
	}
}

func TestPolicy_PlanKeepsNewest(t *testing.T) {
	objects := daily(5)
	// shuffle order; planning must not depend on listing order
	objects[0], objects[4] = objects[4], objects[0]

	toDelete, toKeep := Policy{MaxBackups: 2}.Plan(objects, now)
	assert.Equal(t, keys(daily(2)), keys(toKeep))
	assert.Len(t, toDelete, 3)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, Policy{}.Validate())
	assert.NoError(t, Policy{MaxBackups: 7, MaxAge: time.Hour}.Validate())
	assert.Error(t, Policy{KeepDaily: -1}.Validate())
	assert.Error(t, Policy{MaxAge: -time.Hour}.Validate())
}

func newLocalStore(t *testing.T, objects []storage.ObjectInfo) storage.ObjectStore {
	t.Helper()
	base := t.TempDir()
	store, err := storage.NewLocalStore(storage.Config{Bucket: "db-backups", Local: storage.LocalConfig{BasePath: base}}, logging.NewNopLogger())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(src, make([]byte, 100), 0o600))
	for _, obj := range objects {
		require.NoError(t, store.Upload(context.Background(), src, obj.Key, nil))
		path := filepath.Join(base, "db-backups", filepath.FromSlash(obj.Key))
		require.NoError(t, os.Chtimes(path, obj.LastModified, obj.LastModified))
	}
	return store
}

func TestPruner_Prune(t *testing.T) {
	objects := daily(6)
	store := newLocalStore(t, objects)

	pruner := NewPruner(store, Policy{MaxBackups: 2}, logging.NewNopLogger())
	pruner.now = func() time.Time { return now }

	result, err := pruner.Prune(context.Background(), "backups/", false)
	require.NoError(t, err)
	assert.False(t, result.DryRun)
	assert.Len(t, result.Deleted, 4)
	assert.Equal(t, int64(400), result.FreedBytes)

	remaining, err := store.List(context.Background(), "backups/")
	require.NoError(t, err)
	assert.ElementsMatch(t, keys(objects[:2]), keys(remaining))
}

func TestPruner_DryRunDeletesNothing(t *testing.T) {
	store := newLocalStore(t, daily(4))

	pruner := NewPruner(store, Policy{MaxBackups: 1}, logging.NewNopLogger())
	pruner.now = func() time.Time { return now }

	result, err := pruner.Prune(context.Background(), "backups/", true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Len(t, result.Deleted, 3)

	remaining, err := store.List(context.Background(), "backups/")
	require.NoError(t, err)
	assert.Len(t, remaining, 4)
}

type failingDeleteStore struct {
	storage.ObjectStore
	failKey string
}

func (s *failingDeleteStore) Delete(ctx context.Context, key string) error {
	if key == s.failKey {
		return stderrors.New("access denied")
	}
	return s.ObjectStore.Delete(ctx, key)
}

func TestPruner_CollectsDeleteErrors(t *testing.T) {
	objects := daily(4)
	store := &failingDeleteStore{ObjectStore: newLocalStore(t, objects), failKey: objects[3].Key}

	pruner := NewPruner(store, Policy{MaxBackups: 1}, logging.NewNopLogger())
	pruner.now = func() time.Time { return now }

	result, err := pruner.Prune(context.Background(), "backups/", false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
	assert.Contains(t, err.Error(), "access denied")
	assert.Len(t, result.Deleted, 2)
	assert.Contains(t, keys(result.Kept), objects[3].Key)
}
