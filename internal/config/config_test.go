package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vnykmshr/multiproc/internal/testutil"
	mperrors "github.com/vnykmshr/multiproc/pkg/common/errors"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "multiproc.yaml")
	testutil.AssertNoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	testutil.AssertNoError(t, err)
	testutil.AssertDeepEqual(t, cfg, Default())
}

func TestLoad(t *testing.T) {
	path := write(t, `
pool:
  workers: 6
  chunk_size: 25
  timeout: 250ms
admission:
  rate: 100
  burst: 20
metrics:
  enabled: true
  listen: 127.0.0.1:9100
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, cfg.Pool.Workers, 6)
	testutil.AssertEqual(t, cfg.Pool.ChunkSize, 25)
	testutil.AssertEqual(t, cfg.Pool.Timeout, 250*time.Millisecond)
	testutil.AssertEqual(t, cfg.Pool.Name, "multiproc")
	testutil.AssertEqual(t, cfg.Admission.Rate, 100.0)
	testutil.AssertEqual(t, cfg.Admission.Burst, 20)
	testutil.AssertEqual(t, cfg.Admission.RedisKey, "multiproc:admission")
	testutil.AssertEqual(t, cfg.Metrics.Enabled, true)
	testutil.AssertEqual(t, cfg.Metrics.Listen, "127.0.0.1:9100")
	testutil.AssertEqual(t, cfg.Log.Level, "debug")
	testutil.AssertEqual(t, cfg.Log.Format, "json")
	testutil.AssertEqual(t, cfg.Log.Output, "stderr")
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative workers", "pool:\n  workers: -2\n"},
		{"negative timeout", "pool:\n  timeout: -1s\n"},
		{"rate without burst", "admission:\n  rate: 5\n"},
		{"negative rate", "admission:\n  rate: -5\n  burst: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, tt.body))
			testutil.AssertErrorIs(t, err, mperrors.ErrInvalidConfiguration)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	testutil.AssertError(t, err)

	_, err = Load(write(t, "pool: [unclosed"))
	testutil.AssertError(t, err)
}
