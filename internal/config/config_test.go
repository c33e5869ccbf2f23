package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg := Load()
	assert.Equal(t, ":8090", cfg.Broker.ServerAddr)
	assert.Equal(t, "dev-secret", cfg.Broker.JWTSecret)
	assert.Equal(t, 30, cfg.Client.PageSize)
	assert.Equal(t, 0, cfg.Client.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Client.ReportInterval())
	assert.Equal(t, 30*time.Second, cfg.Client.RefreshInterval())
	assert.Equal(t, 15*time.Second, cfg.Client.SendTimeout())
	assert.Equal(t, 2*time.Second, cfg.Client.BackoffInitial())
	assert.Equal(t, 30*time.Second, cfg.Client.BackoffMax())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	yml := `
broker:
  server_addr: ":9999"
  late_fee_per_minute: 100
client:
  page_size: 50
  report_interval_sec: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()
	assert.Equal(t, ":9999", cfg.Broker.ServerAddr)
	assert.Equal(t, int64(100), cfg.Broker.LateFeePerMinute)
	assert.Equal(t, 50, cfg.Client.PageSize)
	assert.Equal(t, 5*time.Second, cfg.Client.ReportInterval())
	// Unset keys keep their defaults.
	assert.Equal(t, "*", cfg.Broker.CORSAllowedOrigins)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker:\n  server_addr: \":9999\"\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_ADDR", ":7777")
	t.Setenv("PAGE_SIZE", "10")

	cfg := Load()
	assert.Equal(t, ":7777", cfg.Broker.ServerAddr)
	assert.Equal(t, 10, cfg.Client.PageSize)
}

func TestEnvFileParsing(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := `
# comment
CHAT_TEST_PLAIN=value1
CHAT_TEST_QUOTED="value two"
CHAT_TEST_SINGLE='value three'
not-a-pair
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))
	for _, k := range []string{"CHAT_TEST_PLAIN", "CHAT_TEST_QUOTED", "CHAT_TEST_SINGLE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	f, err := os.Open(envFile)
	require.NoError(t, err)
	defer f.Close()
	loadEnvFrom(f)

	assert.Equal(t, "value1", os.Getenv("CHAT_TEST_PLAIN"))
	assert.Equal(t, "value two", os.Getenv("CHAT_TEST_QUOTED"))
	assert.Equal(t, "value three", os.Getenv("CHAT_TEST_SINGLE"))
}

func TestEnvFileDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CHAT_TEST_KEEP=from-file\n"), 0o644))
	t.Setenv("CHAT_TEST_KEEP", "from-env")

	f, err := os.Open(envFile)
	require.NoError(t, err)
	defer f.Close()
	loadEnvFrom(f)

	assert.Equal(t, "from-env", os.Getenv("CHAT_TEST_KEEP"))
}
