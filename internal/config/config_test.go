package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesSections(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
database:
  host: db.internal
  port: 6543
  user: forge
  password: secret
  database: orders
rabbitmq:
  host: mq.internal
  port: 5673
storage:
  bucket: forge-models
  sign_ttl: 5m
slicer:
  path: /usr/bin/prusa-slicer
  timeout: 90s
  pool_size: 4
upload:
  max_model_bytes: 2048
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "orders", cfg.Database.Database)
	assert.Equal(t, 5673, cfg.RabbitMQ.Port)
	assert.Equal(t, "forge-models", cfg.Storage.Bucket)
	assert.Equal(t, 5*time.Minute, cfg.Storage.SignTTL)
	assert.Equal(t, 90*time.Second, cfg.Slicer.Timeout)
	assert.Equal(t, 4, cfg.Slicer.PoolSize)
	assert.Equal(t, int64(2048), cfg.Upload.MaxModelBytes)
	assert.Equal(t, int64(50<<20), cfg.Upload.MaxGcodeBytes)
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "3d-files", cfg.Storage.ModelFolder)
	assert.Equal(t, "gcode-files", cfg.Storage.GcodeFolder)
	assert.Equal(t, int64(10<<20), cfg.Upload.MaxModelBytes)
	assert.Equal(t, 2*time.Minute, cfg.Slicer.Timeout)
	assert.Equal(t, 3000, cfg.HTTP.Port)
	assert.Empty(t, cfg.Slicer.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRINTFORGE_DB_PASSWORD", "from-env")
	t.Setenv("PRINTFORGE_SLICER_PATH", "/opt/slicer")
	t.Setenv("PRINTFORGE_SLICER_POOL_SIZE", "3")
	t.Setenv("PRINTFORGE_SLICER_TIMEOUT", "45s")
	path := writeConfig(t, "database:\n  password: from-file\n")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "/opt/slicer", cfg.Slicer.Path)
	assert.Equal(t, 3, cfg.Slicer.PoolSize)
	assert.Equal(t, 45*time.Second, cfg.Slicer.Timeout)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRINTFORGE_JWT_SECRET=dotenv-secret\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PRINTFORGE_JWT_SECRET") })

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "dotenv-secret", cfg.Auth.JWTSecret)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(writeConfig(t, "slicer:\n  pool_size: -1\n"))
	assert.Error(t, err)

	t.Setenv("PRINTFORGE_HTTP_PORT", "eighty")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
}
