package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.UsedFile)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10000, cfg.RateLimit.DailyLimit)
	assert.Equal(t, 3, cfg.Enrich.Workers)
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  host: db.internal
  port: 6543
extract:
  page_size: 250
  page_delay: 250ms
ratelimit:
  daily_limit: 500
  timezone: America/Sao_Paulo
http:
  allowed_origins: ["https://ops.example.com"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("APIETL_DATABASE_PASSWORD", "from-env")
	t.Setenv("APIETL_ENRICH_WORKERS", "5")
	t.Setenv("APIETL_ENRICH_WAIT_FOR_QUOTA", "true")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.UsedFile)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, 250, cfg.Extract.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Extract.PageDelay)
	assert.Equal(t, 500, cfg.RateLimit.DailyLimit)
	assert.Equal(t, "America/Sao_Paulo", cfg.RateLimit.Location.String())
	assert.Equal(t, 5, cfg.Enrich.Workers)
	assert.True(t, cfg.Enrich.WaitForQuota)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.HTTP.AllowedOrigins)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("ratelimit:\n  timezone: Mars/Base\n"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}
