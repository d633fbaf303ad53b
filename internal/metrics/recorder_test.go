package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-backup/internal/logging"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"pushgateway", Config{PushgatewayURL: "http://pushgateway:9091"}, false},
		{"bad scheme", Config{PushgatewayURL: "ftp://pushgateway"}, true},
		{"no host", Config{PushgatewayURL: "http://"}, true},
		{"textfile", Config{TextfilePath: "/var/lib/node_exporter/db_backup.prom"}, false},
		{"textfile suffix", Config{TextfilePath: "/tmp/metrics.txt"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, "db_backup", cfg.JobName)
	assert.False(t, cfg.Enabled())
}

func TestRecorder_SuccessfulRun(t *testing.T) {
	r := NewRecorder(Config{}, "orders", logging.NewNopLogger())
	start := time.Unix(1735780000, 0)

	r.RunStarted(start)
	r.ObserveStage("export", 2*time.Second)
	r.SetRows(2)
	r.SetArtifactBytes("csv", 120)
	r.RunFinished(true, "", 5*time.Second, start.Add(5*time.Second))

	assert.Equal(t, float64(1), testutil.ToFloat64(r.success))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.rows))
	assert.Equal(t, float64(5), testutil.ToFloat64(r.duration))
	assert.Equal(t, float64(1735780005), testutil.ToFloat64(r.successTimestamp))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.stageDuration.WithLabelValues("export")))
	assert.Equal(t, float64(120), testutil.ToFloat64(r.artifactBytes.WithLabelValues("csv")))
}

func TestRecorder_FailedRun(t *testing.T) {
	r := NewRecorder(Config{}, "orders", logging.NewNopLogger())
	r.RunFinished(false, "upload", time.Second, time.Now())

	assert.Equal(t, float64(0), testutil.ToFloat64(r.success))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.stageFailed.WithLabelValues("upload")))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.successTimestamp))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.RunStarted(time.Now())
	r.ObserveStage("export", time.Second)
	r.SetRows(1)
	r.SetArtifactBytes("csv", 1)
	r.RunFinished(true, "", time.Second, time.Now())
	assert.NoError(t, r.Publish(context.Background()))
	assert.Nil(t, r.Registry())
}

func TestRecorder_PublishTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db_backup.prom")
	r := NewRecorder(Config{TextfilePath: path}, "orders", logging.NewNopLogger())
	r.SetRows(42)
	r.SetArtifactBytes("csv", 7)

	require.NoError(t, r.Publish(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `db_backup_rows_exported{table="orders"} 42`)
	assert.Contains(t, string(data), `db_backup_artifact_bytes{artifact="csv",table="orders"} 7`)
}

func TestRecorder_PublishPushgateway(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := NewRecorder(Config{PushgatewayURL: server.URL}, "orders", logging.NewNopLogger())
	r.ObserveStage("upload", time.Second)
	r.RunFinished(true, "", time.Second, time.Now())

	// the table travels in the grouping key only; a metric label with the
	// same name makes the push client refuse the request
	families, err := r.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				assert.NotEqual(t, "table", l.GetName(), mf.GetName())
			}
		}
	}

	require.NoError(t, r.Publish(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/db_backup/table/orders", path)
	assert.NotEmpty(t, body)
}

func TestRecorder_PublishCombinesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewRecorder(Config{
		PushgatewayURL: server.URL,
		TextfilePath:   filepath.Join(t.TempDir(), "missing", "dir", "x.prom"),
	}, "orders", logging.NewNopLogger())

	err := r.Publish(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "2 errors occurred"), err.Error())
}
