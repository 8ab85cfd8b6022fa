package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/kiln/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, []string{"{python}", "-m", "ipykernel_launcher", "-f", "{connection_file}"}, cfg.Launch.Argv)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 20*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_MissingFileIsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	content := `
ready_timeout: 5s
log_level: debug
launch:
  argv: ["{python}", "-m", "custom_kernel", "-f", "{connection_file}"]
  env:
    PYTHONUNBUFFERED: "1"
store:
  backend: redis
  addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "custom_kernel", cfg.Launch.Argv[2])
	assert.Equal(t, "1", cfg.Launch.Env["PYTHONUNBUFFERED"])
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Addr)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("launch: [not a map"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestApply_Overrides(t *testing.T) {
	cfg := config.Default()

	err := cfg.Apply(map[string]any{
		"ready_timeout": "2s",
		"ip":            "0.0.0.0",
		"launch": map[string]any{
			"dir": "/tmp/work",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "0.0.0.0", cfg.IP)
	assert.Equal(t, "/tmp/work", cfg.Launch.Dir)
	// Nested merge keeps sibling fields.
	assert.NotEmpty(t, cfg.Launch.Argv)
}

func TestApply_EmptyIsNoop(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Apply(nil))
	assert.Equal(t, config.Default(), cfg)
}

func TestExpandArgv(t *testing.T) {
	cfg := config.Default()
	argv := cfg.ExpandArgv("/usr/bin/python3", "/tmp/conn.json")

	assert.Equal(t, []string{"/usr/bin/python3", "-m", "ipykernel_launcher", "-f", "/tmp/conn.json"}, argv)
	// The template itself is untouched.
	assert.Equal(t, "{python}", cfg.Launch.Argv[0])
}
