package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("tmgr", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatPeriod)
	assert.Equal(t, "process", cfg.Mode)
	assert.Equal(t, 3, cfg.MaxConsecutiveSpawnFailures)
}

func TestLoadFlagOverride(t *testing.T) {
	fs := pflag.NewFlagSet("tmgr", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--max-workers=16", "--mode=container"}))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.MaxWorkers)
	assert.Equal(t, "container", cfg.Mode)
}

func TestLoadEnvOverride(t *testing.T) {
	fs := pflag.NewFlagSet("tmgr", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	t.Setenv("TMGR_MAX_WORKERS", "32")

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.MaxWorkers)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workers.yaml")
	yaml := `
apiVersion: tmgr/v1
kind: WorkerManifest
workers:
  fft:
    image: registry.example/fft-worker:latest
  raw-variant:
    command: ["/usr/local/bin/worker", "--mode=raw"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	specs, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "registry.example/fft-worker:latest", specs["fft"].Image)
	assert.Equal(t, []string{"/usr/local/bin/worker", "--mode=raw"}, specs["raw-variant"].Command)
}

func TestLoadManifestEmptyPath(t *testing.T) {
	specs, err := LoadManifest("")
	require.NoError(t, err)
	assert.Nil(t, specs)
}
