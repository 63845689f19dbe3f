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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 15*time.Minute, cfg.Quest.CacheTTL)
	assert.Equal(t, time.Second, cfg.Quest.SweepInterval)
	assert.Equal(t, time.Minute, cfg.Quest.StoreScanInterval)
	assert.Equal(t, 8, cfg.Quest.StoreWorkers)
	assert.Equal(t, 40, cfg.Quest.MaxNameLength)
	assert.Equal(t, 30*time.Second, cfg.Cache.LocalGCInterval)
	assert.Equal(t, 24*time.Hour, cfg.Security.JWTTTL)
	assert.Empty(t, cfg.Server.AdminIPs)
}

func TestLoad_AdminIPs(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  admin_ips: [\"10.0.0.1\", \"10.0.0.2\"]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Server.AdminIPs)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  mode: mysql
  mysql_dsn: "user:pw@tcp(localhost:3306)/quests"
quest:
  cache_ttl: 5m
  sweep_interval: 250ms
  store_workers: 2
cache:
  redis_addr: "localhost:6379"
`))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Mode)
	assert.Equal(t, time.Hour, cfg.Database.MySQLMaxLife)
	assert.Equal(t, 5*time.Minute, cfg.Quest.CacheTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Quest.SweepInterval)
	assert.Equal(t, 2, cfg.Quest.StoreWorkers)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
